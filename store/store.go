// Package store persists catalog items and their price histories.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/models"
)

var (
	// ErrNotFound is returned when no item exists for an id.
	ErrNotFound = errors.New("store: item not found")
	// ErrInvalidCursor is returned for cursors this store did not issue.
	ErrInvalidCursor = errors.New("store: invalid cursor")
	// ErrHistoryRewritten is returned when an update altered existing entries.
	ErrHistoryRewritten = errors.New("store: history may only grow at the head")
)

// Sort selects the scan order.
type Sort string

const (
	// SortName orders items by name, ascending.
	SortName Sort = "name"
	// SortLastChanged orders items by most recent price change first.
	SortLastChanged Sort = "last_changed"
	// SortUpdated orders items by most recent ingest first.
	SortUpdated Sort = "updated"
)

// ParseSort validates a sort name; empty means SortName.
func ParseSort(s string) (Sort, error) {
	switch Sort(s) {
	case "", SortName:
		return SortName, nil
	case SortLastChanged, SortUpdated:
		return Sort(s), nil
	default:
		return "", fmt.Errorf("unknown sort %q", s)
	}
}

// DefaultScanLimit applies when ScanOptions.Limit is not positive.
const DefaultScanLimit = 100

// ScanOptions controls one page of a scan.
type ScanOptions struct {
	Sort   Sort
	Cursor string
	Limit  int
}

// ScanPage is one page of items plus the cursor for the next page.
// NextCursor is empty on the last page.
type ScanPage struct {
	Items      []*models.Item
	NextCursor string
}

// UpdateFunc mutates an item inside an atomic upsert. New items arrive with
// only their ID set.
type UpdateFunc func(item *models.Item) error

// Store is the item repository. Upsert is atomic per item and safe for
// concurrent callers working on different ids.
type Store interface {
	Get(ctx context.Context, id string) (*models.Item, error)
	Upsert(ctx context.Context, id string, fn UpdateFunc) (*models.Item, error)
	Scan(ctx context.Context, opts ScanOptions) (*ScanPage, error)
	Close() error
}

// Open connects the store selected by cfg, wrapped in the read cache when
// one is configured.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.StoreDriver {
	case "sqlite":
		s, err = OpenSQLite(ctx, cfg.StoreDSN)
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCached(s, cfg.CacheSize, cfg.CacheTTL, m), nil
	}
	return s, nil
}

// applyUpdate runs fn on item and returns how many history entries it
// prepended.
func applyUpdate(item *models.Item, fn UpdateFunc) (int, error) {
	id := item.ID
	before := item.History.Clone()

	if err := fn(item); err != nil {
		return 0, err
	}
	if item.ID != id {
		return 0, fmt.Errorf("update changed item id %q to %q", id, item.ID)
	}

	added := item.History.Len() - before.Len()
	if added < 0 {
		return 0, ErrHistoryRewritten
	}
	for i := 0; i < before.Len(); i++ {
		e, got := before.At(i), item.History.At(added+i)
		if got.ObservedAt != e.ObservedAt || !got.Price.Equal(e.Price) {
			return 0, ErrHistoryRewritten
		}
	}
	return added, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultScanLimit
	}
	return limit
}
