package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aluiziolira/go-price-graph/models"
	"github.com/aluiziolira/go-price-graph/scraper"
	"github.com/aluiziolira/go-price-graph/series"
	"github.com/aluiziolira/go-price-graph/store"
	"github.com/gin-gonic/gin"
)

const maxListLimit = 500

// ItemSummary is the list and detail representation of an item.
type ItemSummary struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	URL           string       `json:"url,omitempty"`
	CurrentPrice  models.Price `json:"current_price"`
	CreatedAt     int64        `json:"created_at"`
	UpdatedAt     int64        `json:"updated_at"`
	LastChangedAt int64        `json:"last_changed_at"`
}

// ItemDetail adds the full change list to a summary.
type ItemDetail struct {
	ItemSummary
	Changes []models.Entry `json:"changes"`
}

// ItemList is one page of the item index.
type ItemList struct {
	Items      []ItemSummary `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Series is a daily price series, oldest first. Values mirrors Prices as
// plain numbers with null for unknown.
type Series struct {
	ID       string         `json:"id"`
	Days     int            `json:"days"`
	Start    int64          `json:"start"`
	End      int64          `json:"end"`
	Interval int64          `json:"interval"`
	Prices   []models.Price `json:"prices"`
	Values   []*float64     `json:"values"`
}

// SweepSummary is returned by /webhooks/update.
type SweepSummary struct {
	PageCount   int            `json:"page_count"`
	Enqueued    int            `json:"enqueued"`
	FailedPages map[int]string `json:"failed_pages,omitempty"`
}

func summarize(it *models.Item) ItemSummary {
	return ItemSummary{
		ID:            it.ID,
		Name:          it.Name,
		URL:           it.URL,
		CurrentPrice:  it.CurrentPrice(),
		CreatedAt:     it.CreatedAt,
		UpdatedAt:     it.UpdatedAt,
		LastChangedAt: it.LastChangedAt(),
	}
}

// Update enqueues one task per catalog page.
func (h *Handler) Update(c *gin.Context) {
	if h.sweeper == nil {
		writeProblem(c, http.StatusServiceUnavailable, "no task queue configured")
		return
	}
	result, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		slog.Error("sweep failed", slog.Any("error", err))
		writeProblem(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, SweepSummary{
		PageCount:   result.PageCount,
		Enqueued:    result.Enqueued,
		FailedPages: result.FailedPages,
	})
}

// UpdatePage runs the ingestion job for ?page=N. A fetch failure answers 502
// so the queue redelivers; item-level failures still answer 200.
func (h *Handler) UpdatePage(c *gin.Context) {
	n, err := strconv.Atoi(c.Query("page"))
	if err != nil || n < 1 {
		writeProblem(c, http.StatusBadRequest, fmt.Sprintf("page must be a positive integer, got %q", c.Query("page")))
		return
	}

	result, err := h.pages.Run(c.Request.Context(), n)
	if err != nil {
		var fetchErr scraper.FetchError
		if errors.As(err, &fetchErr) {
			writeProblem(c, http.StatusBadGateway, err.Error())
			return
		}
		if errors.Is(err, scraper.ErrInvalidPage) {
			writeProblem(c, http.StatusBadRequest, err.Error())
			return
		}
		writeProblem(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListItems pages through the item index.
func (h *Handler) ListItems(c *gin.Context) {
	sort, err := store.ParseSort(c.Query("sort"))
	if err != nil {
		writeProblem(c, http.StatusBadRequest, err.Error())
		return
	}
	limit := store.DefaultScanLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			writeProblem(c, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
	}

	page, err := h.store.Scan(c.Request.Context(), store.ScanOptions{
		Sort:   sort,
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if errors.Is(err, store.ErrInvalidCursor) {
		writeProblem(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeProblem(c, http.StatusInternalServerError, err.Error())
		return
	}

	out := ItemList{Items: make([]ItemSummary, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, it := range page.Items {
		out.Items = append(out.Items, summarize(it))
	}
	c.JSON(http.StatusOK, out)
}

// GetItem returns one item with its change list.
func (h *Handler) GetItem(c *gin.Context) {
	it, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ItemDetail{ItemSummary: summarize(it), Changes: entries(it)})
}

// GetHistory returns the change list, newest first.
func (h *Handler) GetHistory(c *gin.Context) {
	it, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": it.ID, "changes": entries(it)})
}

// GetSeries returns the daily series ending now.
func (h *Handler) GetSeries(c *gin.Context) {
	days := h.opts.SeriesDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > h.opts.MaxSeriesDays {
			writeProblem(c, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", h.opts.MaxSeriesDays))
			return
		}
		days = n
	}

	it, ok := h.lookup(c)
	if !ok {
		return
	}
	end := h.now().Unix()
	prices := series.Resample(it.History, days, end)
	c.JSON(http.StatusOK, Series{
		ID:       it.ID,
		Days:     days,
		Start:    end - int64(days-1)*series.Day,
		End:      end,
		Interval: series.Day,
		Prices:   prices,
		Values:   series.Values(prices),
	})
}

func (h *Handler) lookup(c *gin.Context) (*models.Item, bool) {
	it, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(c, http.StatusNotFound, fmt.Sprintf("item %q not found", c.Param("id")))
		return nil, false
	}
	if err != nil {
		writeProblem(c, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return it, true
}

func entries(it *models.Item) []models.Entry {
	return it.History.Entries()
}
