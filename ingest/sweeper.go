package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/models"
	"github.com/aluiziolira/go-price-graph/scraper"
)

// PageTaskPath is the webhook a page task is delivered to.
const PageTaskPath = "/webhooks/update_page"

// Enqueuer is the external at-least-once task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, url, method string) (string, error)
}

// Sweeper fans a catalog sweep out into one task per page.
type Sweeper struct {
	source    PageSource
	queue     Enqueuer
	publicURL string
	metrics   *metrics.Metrics
}

// NewSweeper returns a sweeper that enqueues page tasks addressed to the
// service reachable at publicURL.
func NewSweeper(source PageSource, q Enqueuer, publicURL string, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		source:    source,
		queue:     q,
		publicURL: strings.TrimRight(publicURL, "/"),
		metrics:   m,
	}
}

// PageTaskURL is the delivery target for page n.
func (s *Sweeper) PageTaskURL(n int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(n))
	return s.publicURL + PageTaskPath + "?" + q.Encode()
}

// Sweep reads the page count and enqueues a task for each page. Pages whose
// enqueue fails are reported in the result; the sweep itself only fails when
// the page count cannot be read.
func (s *Sweeper) Sweep(ctx context.Context) (*models.SweepResult, error) {
	result := &models.SweepResult{
		StartTime:    time.Now(),
		FailedPages:  make(map[int]string),
		ErrorsByType: make(map[string]int),
	}

	count, err := s.source.PageCount(ctx)
	if err != nil {
		result.ErrorsByType[scraper.ErrorType(err)]++
		return result, fmt.Errorf("read page count: %w", err)
	}
	result.PageCount = count

	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			result.EndTime = time.Now()
			return result, err
		}
		if _, err := s.queue.Enqueue(ctx, s.PageTaskURL(n), http.MethodGet); err != nil {
			result.FailedPages[n] = err.Error()
			result.ErrorsByType["enqueue"]++
			slog.Error("enqueue page task failed", slog.Int("page", n), slog.Any("error", err))
			continue
		}
		result.Enqueued++
	}
	s.metrics.AddPagesEnqueued(result.Enqueued)
	result.EndTime = time.Now()

	slog.Info("sweep enqueued",
		slog.Int("pages", count),
		slog.Int("enqueued", result.Enqueued),
		slog.Int("failed", len(result.FailedPages)),
	)
	return result, nil
}

// SweepLocal runs every page job in-process, at most parallelism at a time.
// It stands in for the queue when none is available.
func SweepLocal(ctx context.Context, source PageSource, runner *PageRunner, parallelism int) (*models.SweepResult, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	result := &models.SweepResult{
		StartTime:    time.Now(),
		FailedPages:  make(map[int]string),
		ErrorsByType: make(map[string]int),
	}

	count, err := source.PageCount(ctx)
	if err != nil {
		result.ErrorsByType[scraper.ErrorType(err)]++
		return result, fmt.Errorf("read page count: %w", err)
	}
	result.PageCount = count

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, parallelism)
	)
	for n := 1; n <= count; n++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			result.EndTime = time.Now()
			return result, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			page, err := runner.Run(ctx, n)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedPages[n] = err.Error()
				result.ErrorsByType[scraper.ErrorType(err)]++
				return
			}
			result.Pages = append(result.Pages, page)
		}(n)
	}
	wg.Wait()
	sort.Slice(result.Pages, func(i, j int) bool { return result.Pages[i].Page < result.Pages[j].Page })
	result.EndTime = time.Now()
	return result, nil
}
