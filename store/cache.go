package store

import (
	"context"
	"time"

	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached serves Get from an expiring LRU and refreshes entries on Upsert.
// Items leave the cache as clones so callers cannot mutate cached state.
type Cached struct {
	Store
	items   *expirable.LRU[string, *models.Item]
	metrics *metrics.Metrics
}

// NewCached wraps inner with a cache of at most size items kept for ttl.
func NewCached(inner Store, size int, ttl time.Duration, m *metrics.Metrics) *Cached {
	return &Cached{
		Store:   inner,
		items:   expirable.NewLRU[string, *models.Item](size, nil, ttl),
		metrics: m,
	}
}

// Get returns a cached item or loads it from the wrapped store.
func (c *Cached) Get(ctx context.Context, id string) (*models.Item, error) {
	if it, ok := c.items.Get(id); ok {
		c.metrics.IncCacheLookup("hit")
		return it.Clone(), nil
	}
	c.metrics.IncCacheLookup("miss")

	it, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.items.Add(id, it.Clone())
	return it, nil
}

// Upsert writes through and replaces the cached copy. Failed updates evict.
func (c *Cached) Upsert(ctx context.Context, id string, fn UpdateFunc) (*models.Item, error) {
	it, err := c.Store.Upsert(ctx, id, fn)
	if err != nil {
		c.items.Remove(id)
		return nil, err
	}
	c.items.Add(id, it.Clone())
	return it, nil
}

// Purge drops every cached item.
func (c *Cached) Purge() {
	c.items.Purge()
}
