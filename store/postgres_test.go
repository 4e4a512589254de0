package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aluiziolira/go-price-graph/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live database only when PRICEGRAPH_TEST_POSTGRES_DSN is set.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("PRICEGRAPH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PRICEGRAPH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE price_changes, items`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestPostgres(t)

	_, err := s.Upsert(ctx, "10", observe("Half-Life", price("9.99"), 100))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "10", observe("Half-Life", models.Unknown(), 200))
	require.NoError(t, err)

	it, err := s.Get(ctx, "10")
	require.NoError(t, err)
	require.Equal(t, 2, it.History.Len())
	assert.False(t, it.History.At(0).Price.Known())
	assert.True(t, it.History.At(1).Price.Equal(price("9.99")))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresKeepsSubCentPrices(t *testing.T) {
	ctx := context.Background()
	s := openTestPostgres(t)

	_, err := s.Upsert(ctx, "11", observe("Portal", price("9.995"), 100))
	require.NoError(t, err)

	it, err := s.Get(ctx, "11")
	require.NoError(t, err)
	require.Equal(t, 1, it.History.Len())
	assert.True(t, it.CurrentPrice().Equal(price("9.995")), "got %s", it.CurrentPrice())
}

func TestPostgresScan(t *testing.T) {
	s := openTestPostgres(t)
	seedItems(t, s, 5)
	assert.Equal(t, []string{"004", "003", "002", "001", "000"}, collect(t, s, SortName, 2))
	assert.Equal(t, []string{"004", "003", "002", "001", "000"}, collect(t, s, SortLastChanged, 2))
}

func TestPostgresConcurrentSameItem(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := openTestPostgres(t)

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			_, err := s.Upsert(ctx, "same", observe("Same", price(fmt.Sprintf("%d.00", i+1)), int64(100+i)))
			done <- err
		}(i)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	it, err := s.Get(ctx, "same")
	require.NoError(t, err)
	for i := 1; i < it.History.Len(); i++ {
		assert.Greater(t, it.History.At(i-1).ObservedAt, it.History.At(i).ObservedAt)
	}
}
