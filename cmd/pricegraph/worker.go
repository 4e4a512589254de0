package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/queue"
	"github.com/spf13/cobra"
)

func newWorkerCmd(cfg *config.Config) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued page tasks to the webhook endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			stopMetrics := startMetricsServer(metricsAddr, m)
			defer stopMetrics()

			q, client, err := openQueue(cfg, m)
			if err != nil {
				return fmt.Errorf("task queue: %w", err)
			}
			defer client.Close()

			slog.Info("worker started",
				slog.String("consumer", cfg.ConsumerID),
				slog.Int("loops", cfg.WorkerCount),
			)
			w := queue.NewWorker(q, &http.Client{Timeout: cfg.Timeout * 6}, cfg.WorkerPoll, cfg.WorkerCount, m)
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.ConsumerID, "consumer", cfg.ConsumerID, "Consumer id owning this worker's in-flight list")
	cmd.Flags().IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "Concurrent delivery loops")
	cmd.Flags().DurationVar(&cfg.WorkerPoll, "poll", cfg.WorkerPoll, "Idle poll interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	return cmd
}
