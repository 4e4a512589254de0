package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/export"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/store"
	"github.com/spf13/cobra"
)

func newExportCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored item to CSV, JSONL or both, or every price change to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := store.Open(ctx, cfg, metrics.New())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			sink, err := export.NewSink(cfg.OutputFormat, cfg.OutputFile)
			if err != nil {
				return fmt.Errorf("creating sink: %w", err)
			}

			start := time.Now()
			stats, runErr := export.NewExporter(s, cfg.ExportPageSize).Run(ctx, sink)
			if err := sink.Close(); err != nil {
				if runErr == nil {
					return fmt.Errorf("close output: %w", err)
				}
				slog.Error("close output", slog.Any("error", err))
			}
			if runErr != nil {
				return fmt.Errorf("export failed: %w", runErr)
			}

			fmt.Println("Export complete")
			fmt.Printf("  Scanned:       %d\n", stats.Scanned)
			fmt.Printf("  Written:       %d\n", stats.Written)
			fmt.Printf("  Price changes: %d\n", stats.Changes)
			if stats.Duplicates > 0 {
				fmt.Printf("  Duplicates:    %d\n", stats.Duplicates)
			}
			fmt.Printf("  Duration:      %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path")
	cmd.Flags().StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, changes, json, or dual")
	return cmd
}
