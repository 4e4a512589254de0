// Package api serves the webhooks that drive ingestion and the read-side
// item endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/models"
	"github.com/aluiziolira/go-price-graph/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sweeper starts a catalog sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*models.SweepResult, error)
}

// PageJob runs the ingestion job for one catalog page.
type PageJob interface {
	Run(ctx context.Context, n int) (models.PageResult, error)
}

// Options configure the read endpoints.
type Options struct {
	SeriesDays    int
	MaxSeriesDays int
}

// Handler holds the collaborators behind every route.
type Handler struct {
	store   store.Store
	sweeper Sweeper
	pages   PageJob
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

// NewHandler wires the routes to their collaborators. sweeper may be nil
// when no queue is configured; /webhooks/update then answers 503.
func NewHandler(s store.Store, sweeper Sweeper, pages PageJob, m *metrics.Metrics, opts Options) *Handler {
	if opts.SeriesDays <= 0 {
		opts.SeriesDays = 30
	}
	if opts.MaxSeriesDays < opts.SeriesDays {
		opts.MaxSeriesDays = opts.SeriesDays
	}
	return &Handler{
		store:   s,
		sweeper: sweeper,
		pages:   pages,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

// NewRouter builds the gin engine.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})))
	}

	webhooks := router.Group("/webhooks")
	webhooks.GET("/update", h.Update)
	webhooks.POST("/update", h.Update)
	webhooks.GET("/update_page", h.UpdatePage)
	webhooks.POST("/update_page", h.UpdatePage)

	items := router.Group("/items")
	items.GET("", h.ListItems)
	items.GET("/:id", h.GetItem)
	items.GET("/:id/history", h.GetHistory)
	items.GET("/:id/series", h.GetSeries)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		slog.Debug("http request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
