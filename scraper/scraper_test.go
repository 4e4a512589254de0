package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/jarcoal/httpmock"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.CatalogURL = "http://example.test/search/?sort_by=Name"
	cfg.Parallelism = 1
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config, transport http.RoundTripper) *Scraper {
	t.Helper()
	s, err := NewScraper(cfg, metrics.New())
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)
	return s
}

func TestPageURL(t *testing.T) {
	s := newTestScraper(t, testConfig(), httpmock.NewMockTransport())
	got := s.PageURL(3)
	want := "http://example.test/search/?page=3&sort_by=Name"
	if got != want {
		t.Fatalf("PageURL(3) = %q, want %q", got, want)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestPageRecordsStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusBadGateway, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			transport := httpmock.NewMockTransport()
			s := newTestScraper(t, cfg, transport)
			transport.RegisterResponder("GET", s.PageURL(2), httpmock.NewStringResponder(tt.status, ""))

			_, err := s.PageRecords(context.Background(), 2)
			var fetchErr FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if fetchErr.Page != 2 || fetchErr.StatusCode != tt.status {
				t.Fatalf("fetch error = %+v", fetchErr)
			}
			if got := ErrorType(err); got != tt.expected {
				t.Fatalf("error type = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPageRecords(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	s := newTestScraper(t, cfg, transport)
	transport.RegisterResponder("GET", s.PageURL(2), htmlResponder(buildCatalogPage(2, 20, 5)))

	page, err := s.PageRecords(context.Background(), 2)
	if err != nil {
		t.Fatalf("page records: %v", err)
	}
	if page.Number != 2 {
		t.Fatalf("page number = %d, want 2", page.Number)
	}
	if len(page.Records) != 20 {
		t.Fatalf("records = %d, want 20", len(page.Records))
	}

	first := page.Records[0]
	if first.ID != "21" || first.Name != "Game 21" {
		t.Fatalf("first record = %+v", first)
	}
	if got := first.Price.String(); got != "21.00" {
		t.Fatalf("price = %s, want 21.00", got)
	}
	if first.URL != "http://example.test/app/21/" {
		t.Fatalf("url = %q, want absolute link", first.URL)
	}
}

func TestPageRecordsDropsBadRows(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	s := newTestScraper(t, cfg, transport)

	body := `<html><body>
<a class="search_result_row" href="/app/1/"><h4>Good</h4><div class="search_price">$1.00</div></a>
<a class="search_result_row" href="/bundle/2/"><h4>No id</h4></a>
<a class="search_result_row" href="/app/3/"><h4>Bad price</h4><div class="search_price">tbd</div></a>
</body></html>`
	transport.RegisterResponder("GET", s.PageURL(1), htmlResponder(body))

	page, err := s.PageRecords(context.Background(), 1)
	if err != nil {
		t.Fatalf("page records: %v", err)
	}
	if len(page.Records) != 1 || page.Dropped != 2 {
		t.Fatalf("records=%d dropped=%d, want 1/2", len(page.Records), page.Dropped)
	}
}

func TestPageRecordsRejectsInvalidPage(t *testing.T) {
	s := newTestScraper(t, testConfig(), httpmock.NewMockTransport())
	if _, err := s.PageRecords(context.Background(), 0); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}

func TestPageCount(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	s := newTestScraper(t, cfg, transport)
	transport.RegisterResponder("GET", s.PageURL(1), htmlResponder(buildCatalogPage(1, 20, 57)))

	n, err := s.PageCount(context.Background())
	if err != nil {
		t.Fatalf("page count: %v", err)
	}
	if n != 57 {
		t.Fatalf("page count = %d, want 57", n)
	}
}

func TestPageCountCancelledContext(t *testing.T) {
	s := newTestScraper(t, testConfig(), httpmock.NewMockTransport())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.PageCount(ctx)
	var fetchErr FetchError
	if !errors.As(err, &fetchErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled FetchError, got %v", err)
	}
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildCatalogPage(page, perPage, lastPage int) string {
	var builder strings.Builder
	builder.WriteString("<html><body><div id=\"search_result_container\">")

	for i := 1; i <= perPage; i++ {
		id := (page-1)*perPage + i
		fmt.Fprintf(&builder, "<a class=\"search_result_row\" href=\"/app/%d/\">", id)
		fmt.Fprintf(&builder, "<h4>Game %d</h4>", id)
		fmt.Fprintf(&builder, "<div class=\"search_price\">$%0.2f</div>", float64(id))
		builder.WriteString("</a>")
	}

	builder.WriteString("</div><div class=\"search_pagination_right\">")
	for p := 1; p <= 3 && p <= lastPage; p++ {
		fmt.Fprintf(&builder, "<a href=\"?page=%d\">%d</a>", p, p)
	}
	if lastPage > 3 {
		fmt.Fprintf(&builder, " ... <a href=\"?page=%d\">%d</a>", lastPage, lastPage)
	}
	builder.WriteString("<a href=\"?page=2\">&gt;</a></div></body></html>")
	return builder.String()
}
