// Package models defines the catalog and price-history data structures.
package models

import "time"

// CatalogRecord is one catalog entry extracted from a listing page.
type CatalogRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url,omitempty"`
	Price        Price  `json:"price"`
	QualityScore *int   `json:"quality_score,omitempty"`
}

// Item is the persisted state for one catalog id.
type Item struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	URL       string       `json:"url,omitempty"`
	History   PriceHistory `json:"history"`
	CreatedAt int64        `json:"created_at"`
	UpdatedAt int64        `json:"updated_at"`
}

// CurrentPrice returns the head of the item's history.
func (it *Item) CurrentPrice() Price {
	return it.History.Current()
}

// LastChangedAt returns when the current price was first observed.
func (it *Item) LastChangedAt() int64 {
	return it.History.LastChangedAt()
}

// Clone returns a deep copy so callers can mutate without sharing entries.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	out := *it
	out.History = it.History.Clone()
	return &out
}

// Page holds the extraction outcome for a single catalog page.
type Page struct {
	Number  int
	URL     string
	Records []CatalogRecord
	Dropped int
}

// PageResult summarises one page-ingestion job.
type PageResult struct {
	Page      int      `json:"page"`
	Extracted int      `json:"extracted"`
	Dropped   int      `json:"dropped"`
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Changed   int      `json:"changed"`
	Errors    []string `json:"errors,omitempty"`
}

// SweepResult holds the overall result of one catalog sweep.
type SweepResult struct {
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	Enqueued     int
	Pages        []PageResult
	FailedPages  map[int]string
	ErrorsByType map[string]int
}

// Totals folds the page results into a single summary.
func (r *SweepResult) Totals() PageResult {
	var total PageResult
	for _, p := range r.Pages {
		total.Extracted += p.Extracted
		total.Dropped += p.Dropped
		total.Attempted += p.Attempted
		total.Succeeded += p.Succeeded
		total.Failed += p.Failed
		total.Changed += p.Changed
	}
	return total
}
