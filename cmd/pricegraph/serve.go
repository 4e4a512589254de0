package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-price-graph/api"
	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/ingest"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/queue"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhooks and item API, sweeping on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg, withWorker)
		},
	}
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	cmd.Flags().StringVar(&cfg.SweepSchedule, "schedule", cfg.SweepSchedule, "Cron schedule for sweeps; empty disables")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also consume the task queue in this process")
	cmd.Flags().IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "Task delivery loops when --with-worker is set")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, withWorker bool) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := validateSchedule(cfg.SweepSchedule); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	comps, err := openComponents(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer comps.Close()

	var sweeper api.Sweeper
	q, client, err := openQueue(cfg, m)
	if err != nil {
		slog.Warn("task queue unavailable, /webhooks/update disabled", slog.Any("error", err))
	} else {
		defer client.Close()
		sweeper = ingest.NewSweeper(comps.scraper, q, cfg.PublicURL, m)
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(comps.store, sweeper, comps.runner, m, api.Options{
		SeriesDays:    cfg.SeriesDays,
		MaxSeriesDays: cfg.MaxSeriesDays,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if sweeper != nil && cfg.SweepSchedule != "" {
		scheduler, err := startScheduler(ctx, cfg.SweepSchedule, sweeper)
		if err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	slog.Info("serving", slog.String("addr", cfg.ListenAddr), slog.String("catalog", cfg.CatalogURL))

	workerDone := make(chan struct{})
	if withWorker && q != nil {
		w := queue.NewWorker(q, &http.Client{Timeout: cfg.Timeout * 6}, cfg.WorkerPoll, cfg.WorkerCount, m)
		go func() {
			defer close(workerDone)
			if err := w.Run(ctx); err != nil {
				slog.Error("worker stopped", slog.Any("error", err))
			}
		}()
	} else {
		close(workerDone)
	}

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.Any("error", err))
	}
	stop()
	<-workerDone
	return nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validateSchedule rejects a malformed sweep schedule. Empty disables sweeps.
func validateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

func startScheduler(ctx context.Context, schedule string, sweeper api.Sweeper) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err := c.AddFunc(schedule, func() {
		result, err := sweeper.Sweep(ctx)
		if err != nil {
			slog.Error("scheduled sweep failed", slog.Any("error", err))
			return
		}
		slog.Info("scheduled sweep enqueued",
			slog.Int("pages", result.PageCount),
			slog.Int("enqueued", result.Enqueued),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	slog.Info("sweep scheduled", slog.String("schedule", schedule))
	return c, nil
}
