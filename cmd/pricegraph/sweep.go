package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/ingest"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/models"
	"github.com/spf13/cobra"
)

func newSweepCmd(cfg *config.Config) *cobra.Command {
	var (
		local       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue one task per catalog page, or run every page here with --local",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			stopMetrics := startMetricsServer(metricsAddr, m)
			defer stopMetrics()

			if local {
				return runLocalSweep(ctx, cfg, m)
			}
			return runQueuedSweep(ctx, cfg, m)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Run page jobs in-process instead of enqueueing them")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	return cmd
}

func runLocalSweep(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	comps, err := openComponents(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer comps.Close()

	slog.Info("starting local sweep",
		slog.String("catalog", cfg.CatalogURL),
		slog.Int("workers", cfg.Parallelism),
	)
	result, err := ingest.SweepLocal(ctx, comps.scraper, comps.runner, cfg.Parallelism)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	printSummary(result, cfg.StoreDSN)
	return nil
}

func runQueuedSweep(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	comps, err := openComponents(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer comps.Close()

	q, client, err := openQueue(cfg, m)
	if err != nil {
		return fmt.Errorf("task queue: %w", err)
	}
	defer client.Close()

	result, err := ingest.NewSweeper(comps.scraper, q, cfg.PublicURL, m).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	printSummary(result, cfg.StoreDSN)
	return nil
}

func printSummary(result *models.SweepResult, storeDSN string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Sweep complete")

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	if result.Enqueued > 0 {
		fmt.Printf("  Enqueued:      %d\n", result.Enqueued)
	}
	if len(result.Pages) > 0 {
		totals := result.Totals()
		successRate := 0.0
		if totals.Attempted > 0 {
			successRate = float64(totals.Succeeded) / float64(totals.Attempted) * 100
		}
		itemsPerSec := 0.0
		if duration.Seconds() > 0 {
			itemsPerSec = float64(totals.Succeeded) / duration.Seconds()
		}
		fmt.Printf("  Items:         %d\n", totals.Succeeded)
		fmt.Printf("  Success rate:  %.2f%%\n", successRate)
		fmt.Printf("  Price changes: %d\n", totals.Changed)
		fmt.Printf("  Dropped rows:  %d\n", totals.Dropped)
		fmt.Printf("  Item errors:   %d\n", totals.Failed)
		fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	}
	fmt.Printf("  Failed pages:  %d\n", len(result.FailedPages))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Store:         %s\n", storeDSN)
	fmt.Println(separator)
}
