// Package scraper fetches catalog listing pages and hands them to the extractor.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/metrics"
	"github.com/aluiziolira/go-price-graph/models"
	"github.com/aluiziolira/go-price-graph/parser"
	"github.com/gocolly/colly/v2"
)

// Scraper paginates the catalog listing with a colly collector.
type Scraper struct {
	cfg       *config.Config
	catalog   *url.URL
	collector *colly.Collector
	extractor *parser.Extractor
	Metrics   *metrics.Metrics
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, m *metrics.Metrics) (*Scraper, error) {
	parsed, err := url.Parse(cfg.CatalogURL)
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("catalog url must include a host")
	}

	extractor, err := parser.NewExtractor(cfg.Selectors)
	if err != nil {
		return nil, fmt.Errorf("configure extractor: %w", err)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Scraper{
		cfg:       cfg,
		catalog:   parsed,
		collector: collector,
		extractor: extractor,
		Metrics:   m,
	}, nil
}

// PageURL returns the listing URL for page n.
func (s *Scraper) PageURL(n int) string {
	u := *s.catalog
	q := u.Query()
	q.Set(s.cfg.PageParam, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// PageCount reads the number of listing pages from the first page.
func (s *Scraper) PageCount(ctx context.Context) (int, error) {
	doc, _, err := s.fetch(ctx, 1)
	if err != nil {
		return 0, err
	}
	n, err := s.extractor.PageCount(doc)
	if err != nil {
		return 0, fmt.Errorf("read pagination: %w", err)
	}
	return n, nil
}

// PageRecords fetches page n and extracts its records. Rows that fail
// extraction are logged and counted, never fatal for the page.
func (s *Scraper) PageRecords(ctx context.Context, n int) (*models.Page, error) {
	if n < 1 {
		return nil, fmt.Errorf("page %d: %w", n, ErrInvalidPage)
	}

	doc, req, err := s.fetch(ctx, n)
	if err != nil {
		return nil, err
	}

	records, errs := s.extractor.Extract(doc)
	for i := range records {
		if records[i].URL != "" && req != nil {
			records[i].URL = req.AbsoluteURL(records[i].URL)
		}
	}
	for _, err := range errs {
		slog.Warn("dropping catalog row",
			slog.Int("page", n),
			slog.Any("error", err),
		)
	}
	s.Metrics.AddRecords("extracted", len(records))
	s.Metrics.AddRecords("dropped", len(errs))

	return &models.Page{
		Number:  n,
		URL:     s.PageURL(n),
		Records: records,
		Dropped: len(errs),
	}, nil
}

func (s *Scraper) fetch(ctx context.Context, n int) (*goquery.Selection, *colly.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	pageURL := s.PageURL(n)
	if err := ctx.Err(); err != nil {
		return nil, nil, FetchError{Page: n, URL: pageURL, Err: err}
	}

	c := s.collector.Clone()

	var (
		doc        *goquery.Selection
		docRequest *colly.Request
		status     int
		visitErr   error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		s.Metrics.IncRequest("started")
	})

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration(time.Since(start))
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		visitErr = err
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		doc = e.DOM
		docRequest = e.Request
	})

	if err := c.Visit(pageURL); err != nil && visitErr == nil {
		visitErr = err
	}
	if visitErr == nil && ctx.Err() != nil {
		visitErr = ctx.Err()
	}
	if visitErr == nil && status >= http.StatusBadRequest {
		visitErr = fmt.Errorf("http status %d", status)
	}

	if visitErr != nil {
		classified := classifyError(visitErr, status)
		category := ErrorType(classified)
		s.Metrics.IncFetchError(category)
		slog.Error("catalog request error",
			slog.String("url", pageURL),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", visitErr),
		)
		return nil, nil, FetchError{Page: n, URL: pageURL, StatusCode: status, Err: classified}
	}
	if doc == nil {
		s.Metrics.IncFetchError("other")
		return nil, nil, FetchError{Page: n, URL: pageURL, StatusCode: status, Err: ErrNoDocument}
	}
	return doc, docRequest, nil
}
