// Package export snapshots every stored item to CSV, JSONL or both.
package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-price-graph/store"
)

// Stats summarises one export run.
type Stats struct {
	Scanned    int
	Written    int
	Duplicates int
	Changes    int
}

// Exporter walks the whole store in name order and streams it to a Sink.
type Exporter struct {
	store    store.Store
	pageSize int
}

// NewExporter returns an exporter reading pageSize items per scan.
func NewExporter(s store.Store, pageSize int) *Exporter {
	return &Exporter{store: s, pageSize: pageSize}
}

// Run writes every item to sink once. A rename during the run can move an
// item past the scan cursor, so ids already written are skipped. Run does
// not close sink.
func (e *Exporter) Run(ctx context.Context, sink Sink) (Stats, error) {
	var stats Stats
	seen := make(map[string]struct{})
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		page, err := e.store.Scan(ctx, store.ScanOptions{
			Sort:   store.SortName,
			Cursor: cursor,
			Limit:  e.pageSize,
		})
		if err != nil {
			return stats, fmt.Errorf("scan items: %w", err)
		}

		for _, it := range page.Items {
			stats.Scanned++
			if _, dup := seen[it.ID]; dup {
				stats.Duplicates++
				continue
			}
			seen[it.ID] = struct{}{}
			if err := sink.WriteItem(it); err != nil {
				return stats, fmt.Errorf("write item %s: %w", it.ID, err)
			}
			stats.Written++
			stats.Changes += it.History.Len()
		}
		slog.Debug("exported page", slog.Int("items", len(page.Items)), slog.Int("written", stats.Written))

		if page.NextCursor == "" {
			return stats, nil
		}
		cursor = page.NextCursor
	}
}
