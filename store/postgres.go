package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aluiziolira/go-price-graph/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	url             TEXT NOT NULL DEFAULT '',
	created_at      BIGINT NOT NULL,
	updated_at      BIGINT NOT NULL,
	last_changed_at BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_name ON items(name, id);
CREATE INDEX IF NOT EXISTS idx_items_last_changed ON items(last_changed_at, id);
CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated_at, id);

CREATE TABLE IF NOT EXISTS price_changes (
	item_id     TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	observed_at BIGINT NOT NULL,
	price       NUMERIC,
	PRIMARY KEY (item_id, observed_at)
);
ALTER TABLE price_changes ALTER COLUMN price TYPE NUMERIC;
`

// PostgresStore keeps items in PostgreSQL. Unknown prices are NULL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get loads one item with its full history.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Item, error) {
	return postgresLoad(ctx, s.pool, id, false)
}

// Upsert locks the item row for the duration of fn.
func (s *PostgresStore) Upsert(ctx context.Context, id string, fn UpdateFunc) (*models.Item, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := postgresLoad(ctx, tx, id, true)
	if errors.Is(err, ErrNotFound) {
		item = &models.Item{ID: id}
	} else if err != nil {
		return nil, err
	}

	added, err := applyUpdate(item, fn)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO items (id, name, url, created_at, updated_at, last_changed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	url = EXCLUDED.url,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at,
	last_changed_at = EXCLUDED.last_changed_at`,
		item.ID, item.Name, item.URL, item.CreatedAt, item.UpdatedAt, item.LastChangedAt())
	if err != nil {
		return nil, fmt.Errorf("write item %s: %w", id, err)
	}

	for _, e := range item.History.Head(added) {
		_, err := tx.Exec(ctx,
			`INSERT INTO price_changes (item_id, observed_at, price) VALUES ($1, $2, $3::numeric)`,
			item.ID, e.ObservedAt, numericOrNull(e.Price))
		if err != nil {
			return nil, fmt.Errorf("write price change %s@%d: %w", id, e.ObservedAt, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return item, nil
}

// Scan returns one keyset page of items in the requested order.
func (s *PostgresStore) Scan(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	sort, err := ParseSort(string(opts.Sort))
	if err != nil {
		return nil, err
	}
	cur, err := decodeCursor(sort, opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := limitOrDefault(opts.Limit)

	query := scanSQL(sort, cur != nil, func(n int) string { return "$" + strconv.Itoa(n) })
	var args []any
	if cur != nil {
		if sort == SortName {
			args = append(args, cur.Key, cur.Key, cur.ID)
		} else {
			args = append(args, cur.intKey(), cur.intKey(), cur.ID)
		}
	}
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	var items []*models.Item
	for rows.Next() {
		it := &models.Item{}
		if err := rows.Scan(&it.ID, &it.Name, &it.URL, &it.CreatedAt, &it.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}

	page := &ScanPage{}
	if len(items) > limit {
		items = items[:limit]
		page.NextCursor = encodeCursor(sort, items[limit-1])
	}
	if err := s.loadHistories(ctx, items); err != nil {
		return nil, err
	}
	page.Items = items
	return page, nil
}

func (s *PostgresStore) loadHistories(ctx context.Context, items []*models.Item) error {
	if len(items) == 0 {
		return nil
	}
	byID := make(map[string]*models.Item, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		byID[it.ID] = it
		ids = append(ids, it.ID)
	}

	rows, err := s.pool.Query(ctx, `
SELECT item_id, observed_at, price::text FROM price_changes
WHERE item_id = ANY($1) ORDER BY item_id, observed_at`, ids)
	if err != nil {
		return fmt.Errorf("load histories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			e   models.Entry
			raw *string
		)
		if err := rows.Scan(&id, &e.ObservedAt, &raw); err != nil {
			return fmt.Errorf("scan price change: %w", err)
		}
		if e.Price, err = priceFromNumeric(raw); err != nil {
			return fmt.Errorf("item %s: %w", id, err)
		}
		if it := byID[id]; it != nil {
			it.History.Restore(e)
		}
	}
	return rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func postgresLoad(ctx context.Context, q pgQuerier, id string, lock bool) (*models.Item, error) {
	query := `SELECT id, name, url, created_at, updated_at FROM items WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	it := &models.Item{}
	err := q.QueryRow(ctx, query, id).Scan(&it.ID, &it.Name, &it.URL, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", id, err)
	}

	rows, err := q.Query(ctx,
		`SELECT observed_at, price::text FROM price_changes WHERE item_id = $1 ORDER BY observed_at`, id)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e   models.Entry
			raw *string
		)
		if err := rows.Scan(&e.ObservedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan price change: %w", err)
		}
		if e.Price, err = priceFromNumeric(raw); err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		it.History.Restore(e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	return it, nil
}

func numericOrNull(p models.Price) *string {
	amount, ok := p.Amount()
	if !ok {
		return nil
	}
	s := amount.String()
	return &s
}

func priceFromNumeric(raw *string) (models.Price, error) {
	if raw == nil {
		return models.Unknown(), nil
	}
	return models.ParseSentinel(*raw)
}
