package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-price-graph/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	url             TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	last_changed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_name ON items(name, id);
CREATE INDEX IF NOT EXISTS idx_items_last_changed ON items(last_changed_at, id);
CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated_at, id);

CREATE TABLE IF NOT EXISTS price_changes (
	item_id     TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	observed_at INTEGER NOT NULL,
	price       TEXT NOT NULL,
	PRIMARY KEY (item_id, observed_at)
);
`

// SQLiteStore keeps items in a single SQLite database file. Unknown prices
// are stored as the -1 sentinel.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get loads one item with its full history.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Item, error) {
	return sqliteLoad(ctx, s.db, id)
}

// Upsert loads (or creates) the item, applies fn and writes the result in
// one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, id string, fn UpdateFunc) (*models.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	item, err := sqliteLoad(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		item = &models.Item{ID: id}
	} else if err != nil {
		return nil, err
	}

	added, err := applyUpdate(item, fn)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO items (id, name, url, created_at, updated_at, last_changed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	url = excluded.url,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	last_changed_at = excluded.last_changed_at`,
		item.ID, item.Name, item.URL, item.CreatedAt, item.UpdatedAt, item.LastChangedAt())
	if err != nil {
		return nil, fmt.Errorf("write item %s: %w", id, err)
	}

	for _, e := range item.History.Head(added) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO price_changes (item_id, observed_at, price) VALUES (?, ?, ?)`,
			item.ID, e.ObservedAt, e.Price.Sentinel().String())
		if err != nil {
			return nil, fmt.Errorf("write price change %s@%d: %w", id, e.ObservedAt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return item, nil
}

// Scan returns one keyset page of items in the requested order.
func (s *SQLiteStore) Scan(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	sort, err := ParseSort(string(opts.Sort))
	if err != nil {
		return nil, err
	}
	cur, err := decodeCursor(sort, opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := limitOrDefault(opts.Limit)

	query := scanSQL(sort, cur != nil, func(int) string { return "?" })
	var args []any
	if cur != nil {
		if sort == SortName {
			args = append(args, cur.Key, cur.Key, cur.ID)
		} else {
			args = append(args, cur.intKey(), cur.intKey(), cur.ID)
		}
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) loadHistories(ctx context.Context, items []*models.Item) error {
	if len(items) == 0 {
		return nil
	}
	byID := make(map[string]*models.Item, len(items))
	args := make([]any, 0, len(items))
	for _, it := range items {
		byID[it.ID] = it
		args = append(args, it.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(items)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, observed_at, price FROM price_changes
WHERE item_id IN (`+placeholders+`) ORDER BY item_id, observed_at`, args...)
	if err != nil {
		return fmt.Errorf("load histories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			e   models.Entry
			raw string
		)
		if err := rows.Scan(&id, &e.ObservedAt, &raw); err != nil {
			return fmt.Errorf("scan price change: %w", err)
		}
		if e.Price, err = models.ParseSentinel(raw); err != nil {
			return fmt.Errorf("item %s: %w", id, err)
		}
		if it := byID[id]; it != nil {
			it.History.Restore(e)
		}
	}
	return rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteLoad(ctx context.Context, q sqlQuerier, id string) (*models.Item, error) {
	it := &models.Item{}
	err := q.QueryRowContext(ctx,
		`SELECT id, name, url, created_at, updated_at FROM items WHERE id = ?`, id).
		Scan(&it.ID, &it.Name, &it.URL, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", id, err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT observed_at, price FROM price_changes WHERE item_id = ? ORDER BY observed_at`, id)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e   models.Entry
			raw string
		)
		if err := rows.Scan(&e.ObservedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan price change: %w", err)
		}
		if e.Price, err = models.ParseSentinel(raw); err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		it.History.Restore(e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	return it, nil
}
