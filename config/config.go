package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// Selectors locate the parts of a catalog listing page.
type Selectors struct {
	Row        string
	Title      string
	Price      string
	Score      string
	Pagination string
	IDPattern  string
}

// Config holds service configuration.
type Config struct {
	CatalogURL      string
	PageParam       string
	Selectors       Selectors
	Parallelism     int
	Delay           time.Duration
	RandomDelay     time.Duration
	Timeout         time.Duration
	UserAgent       string
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	StoreDriver string // sqlite or postgres
	StoreDSN    string
	CacheSize   int
	CacheTTL    time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	QueuePrefix    string
	ConsumerID     string
	WorkerPoll     time.Duration
	WorkerCount    int
	PublicURL      string
	SweepSchedule  string
	ListenAddr     string
	SeriesDays     int
	MaxSeriesDays  int
	OutputFile     string
	OutputFormat   string // csv, changes, json, or dual
	ExportPageSize int
	Verbose        bool
}

// DefaultSelectors match the store search listing.
func DefaultSelectors() Selectors {
	return Selectors{
		Row:        "a.search_result_row",
		Title:      "h4",
		Price:      ".search_price",
		Score:      ".search_metascore",
		Pagination: "div.search_pagination_right a",
		IDPattern:  `/app/([^/?#]+)`,
	}
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		CatalogURL:      "https://store.steampowered.com/search/?sort_by=Name&sort_order=ASC&category1=998",
		PageParam:       "page",
		Selectors:       DefaultSelectors(),
		Parallelism:     4,
		Delay:           0,
		RandomDelay:     0,
		Timeout:         10 * time.Second,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MaxRetries:      5,
		RetryBackoff:    time.Second,
		RetryBackoffMax: 5 * time.Minute,
		StoreDriver:     "sqlite",
		StoreDSN:        "data/pricegraph.db",
		CacheSize:       1024,
		CacheTTL:        time.Minute,
		RedisAddr:       "localhost:6379",
		QueuePrefix:     "pricegraph",
		ConsumerID:      "worker-1",
		WorkerPoll:      time.Second,
		WorkerCount:     4,
		PublicURL:       "http://localhost:8080",
		SweepSchedule:   "0 */6 * * *",
		ListenAddr:      ":8080",
		SeriesDays:      30,
		MaxSeriesDays:   365,
		OutputFile:      "output/items.csv",
		OutputFormat:    "csv",
		ExportPageSize:  100,
		Verbose:         false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.CatalogURL == "" {
		return fmt.Errorf("catalog URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.CatalogURL)
	if err != nil {
		return fmt.Errorf("invalid catalog URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("catalog URL must include a host")
	}
	if c.PageParam == "" {
		return fmt.Errorf("page parameter cannot be empty")
	}
	if err := c.Selectors.Validate(); err != nil {
		return err
	}

	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}

	if c.StoreDriver != "sqlite" && c.StoreDriver != "postgres" {
		return fmt.Errorf("store driver must be sqlite or postgres")
	}
	if c.StoreDSN == "" {
		return fmt.Errorf("store DSN cannot be empty")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache TTL cannot be negative")
	}

	if c.QueuePrefix == "" {
		return fmt.Errorf("queue prefix cannot be empty")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.WorkerPoll <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	if c.PublicURL != "" {
		if u, err := url.Parse(c.PublicURL); err != nil || u.Host == "" {
			return fmt.Errorf("public URL must be an absolute URL")
		}
	}

	if c.SeriesDays <= 0 || c.MaxSeriesDays <= 0 {
		return fmt.Errorf("series days must be positive")
	}
	if c.SeriesDays > c.MaxSeriesDays {
		return fmt.Errorf("series days (%d) cannot exceed max series days (%d)", c.SeriesDays, c.MaxSeriesDays)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "changes", "json", "dual":
	default:
		return fmt.Errorf("output format must be csv, changes, json, or dual")
	}
	if c.ExportPageSize <= 0 {
		return fmt.Errorf("export page size must be positive")
	}

	return nil
}

// Validate checks that every selector is set and the id pattern captures.
func (s Selectors) Validate() error {
	for name, value := range map[string]string{
		"row":        s.Row,
		"title":      s.Title,
		"price":      s.Price,
		"score":      s.Score,
		"pagination": s.Pagination,
	} {
		if value == "" {
			return fmt.Errorf("%s selector cannot be empty", name)
		}
	}
	re, err := regexp.Compile(s.IDPattern)
	if err != nil {
		return fmt.Errorf("invalid id pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return fmt.Errorf("id pattern must contain a capture group")
	}
	return nil
}
