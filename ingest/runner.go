package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-price-graph/models"
)

// PageSource is the catalog paginator used by page jobs and sweeps.
type PageSource interface {
	PageCount(ctx context.Context) (int, error)
	PageRecords(ctx context.Context, n int) (*models.Page, error)
}

// PageRunner executes one page job: fetch and extract page n, then ingest.
type PageRunner struct {
	source       PageSource
	orchestrator *Orchestrator
	now          func() time.Time
}

// NewPageRunner wires a paginator to an orchestrator.
func NewPageRunner(source PageSource, o *Orchestrator) *PageRunner {
	return &PageRunner{source: source, orchestrator: o, now: time.Now}
}

// Run executes the job for page n. A fetch failure is returned as an error
// so the caller can ask for redelivery; item failures only show up in the
// result.
func (r *PageRunner) Run(ctx context.Context, n int) (models.PageResult, error) {
	page, err := r.source.PageRecords(ctx, n)
	if err != nil {
		return models.PageResult{Page: n}, err
	}

	result := r.orchestrator.IngestPage(ctx, page.Records, r.now().Unix())
	result.Page = n
	result.Extracted = len(page.Records)
	result.Dropped = page.Dropped

	slog.Info("page ingested",
		slog.Int("page", n),
		slog.Int("extracted", result.Extracted),
		slog.Int("dropped", result.Dropped),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("changed", result.Changed),
	)
	return result, nil
}
