package export

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/aluiziolira/go-price-graph/models"
	"github.com/aluiziolira/go-price-graph/store"
	"github.com/shopspring/decimal"
)

func testItem(id string) *models.Item {
	it := &models.Item{ID: id, Name: "Game " + id, CreatedAt: 100, UpdatedAt: 100}
	it.History.Record(models.NewPrice(decimal.RequireFromString("4.99")), 100)
	return it
}

type recordingSink struct {
	ids      []string
	writeErr error
}

func (r *recordingSink) WriteItem(it *models.Item) error {
	if r.writeErr != nil {
		return r.writeErr
	}
	r.ids = append(r.ids, it.ID)
	return nil
}

func (r *recordingSink) Close() error { return nil }

// pagedStore serves fixed scan pages; cursors are page indexes.
type pagedStore struct {
	store.Store
	pages [][]*models.Item
}

func (p *pagedStore) Scan(_ context.Context, opts store.ScanOptions) (*store.ScanPage, error) {
	i := 0
	if opts.Cursor != "" {
		i, _ = strconv.Atoi(opts.Cursor)
	}
	page := &store.ScanPage{Items: p.pages[i]}
	if i+1 < len(p.pages) {
		page.NextCursor = strconv.Itoa(i + 1)
	}
	return page, nil
}

func TestExporterRun(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	for i := 6; i >= 0; i-- {
		id := strconv.Itoa(i)
		_, err := s.Upsert(ctx, id, func(it *models.Item) error {
			*it = *testItem(id)
			return nil
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	sink := &recordingSink{}
	stats, err := NewExporter(s, 2).Run(ctx, sink)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := Stats{Scanned: 7, Written: 7, Changes: 7}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	for i, id := range sink.ids {
		if id != strconv.Itoa(i) {
			t.Fatalf("ids = %v, want name order", sink.ids)
		}
	}
}

func TestExporterSkipsRepeatedItems(t *testing.T) {
	renamed := testItem("b")
	s := &pagedStore{pages: [][]*models.Item{
		{testItem("a"), renamed},
		{testItem("c"), renamed},
	}}

	sink := &recordingSink{}
	stats, err := NewExporter(s, 2).Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if stats.Written != 3 || stats.Duplicates != 1 || stats.Scanned != 4 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(sink.ids) != 3 {
		t.Fatalf("ids = %v, want a b c", sink.ids)
	}
}

func TestExporterStopsOnWriteError(t *testing.T) {
	s := &pagedStore{pages: [][]*models.Item{{testItem("a")}, {testItem("b")}}}
	boom := errors.New("disk full")

	stats, err := NewExporter(s, 1).Run(context.Background(), &recordingSink{writeErr: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if stats.Written != 0 {
		t.Fatalf("written = %d, want 0", stats.Written)
	}
}

func TestExporterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &pagedStore{pages: [][]*models.Item{{testItem("a")}}}

	if _, err := NewExporter(s, 1).Run(ctx, &recordingSink{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
