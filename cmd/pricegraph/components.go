package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/ingest"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/queue"
	"github.com/aluiziolira/go-price-graph/scraper"
	"github.com/aluiziolira/go-price-graph/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// components is everything a page job needs.
type components struct {
	metrics *metrics.Metrics
	store   store.Store
	scraper *scraper.Scraper
	runner  *ingest.PageRunner
}

func openComponents(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*components, error) {
	s, err := store.Open(ctx, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sc, err := scraper.NewScraper(cfg, m)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initialising scraper: %w", err)
	}
	return &components{
		metrics: m,
		store:   s,
		scraper: sc,
		runner:  ingest.NewPageRunner(sc, ingest.NewOrchestrator(s, m)),
	}, nil
}

func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		slog.Error("close store", slog.Any("error", err))
	}
}

func openQueue(cfg *config.Config, m *metrics.Metrics) (*queue.Queue, *redis.Client, error) {
	client, err := queue.NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return queue.New(client, queue.OptionsFromConfig(cfg), m), client, nil
}

// startMetricsServer exposes m on addr until the returned stop func runs.
func startMetricsServer(addr string, m *metrics.Metrics) func() {
	if addr == "" || m == nil {
		return func() {}
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}
