// Package ingest turns extracted catalog pages into persisted price history.
//
// A page job is self-contained: it fetches one listing page, upserts every
// record it yields and reports a PageResult. Jobs share nothing but the store,
// so the queue may run them concurrently, repeatedly and out of order.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/models"
	"github.com/aluiziolira/go-price-graph/store"
)

// PersistenceError reports an item whose upsert failed.
type PersistenceError struct {
	ItemID string
	Err    error
}

func (e PersistenceError) Error() string {
	return fmt.Errorf("persist item %s: %w", e.ItemID, e.Err).Error()
}

func (e PersistenceError) Unwrap() error {
	return e.Err
}

// Orchestrator applies catalog records to the store.
type Orchestrator struct {
	store   store.Store
	metrics *metrics.Metrics
}

// NewOrchestrator returns an orchestrator writing to s.
func NewOrchestrator(s store.Store, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{store: s, metrics: m}
}

// IngestPage upserts every record, in order, as observed at observedAt.
// A failing item is logged and counted; the rest of the page still runs.
func (o *Orchestrator) IngestPage(ctx context.Context, records []models.CatalogRecord, observedAt int64) models.PageResult {
	var result models.PageResult
	for _, rec := range records {
		result.Attempted++

		changed, err := o.ingestRecord(ctx, rec, observedAt)
		if err != nil {
			perr := PersistenceError{ItemID: rec.ID, Err: err}
			result.Failed++
			result.Errors = append(result.Errors, perr.Error())
			o.metrics.IncItem("failed")
			slog.Error("item upsert failed",
				slog.String("item_id", rec.ID),
				slog.Any("error", err),
			)
			continue
		}

		result.Succeeded++
		o.metrics.IncItem("succeeded")
		if changed {
			result.Changed++
			o.metrics.IncPriceChange()
		}
	}
	return result
}

func (o *Orchestrator) ingestRecord(ctx context.Context, rec models.CatalogRecord, observedAt int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var changed bool
	_, err := o.store.Upsert(ctx, rec.ID, func(it *models.Item) error {
		if it.CreatedAt == 0 {
			it.CreatedAt = observedAt
		}
		it.Name = rec.Name
		if rec.URL != "" {
			it.URL = rec.URL
		}
		changed = it.History.Record(rec.Price, observedAt)
		if observedAt > it.UpdatedAt {
			it.UpdatedAt = observedAt
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		slog.Debug("price change recorded",
			slog.String("item_id", rec.ID),
			slog.String("price", rec.Price.String()),
		)
	}
	return changed, nil
}
