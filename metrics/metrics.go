// Package metrics bundles the Prometheus collectors shared by every component.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for sweeps, ingestion and the queue.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	FetchErrorsTotal   *prometheus.CounterVec
	RecordsTotal       *prometheus.CounterVec
	ItemsTotal         *prometheus.CounterVec
	PriceChangesTotal  prometheus.Counter
	TasksTotal         *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	PagesEnqueuedTotal prometheus.Counter
	CacheLookupsTotal  *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricegraph_requests_total",
			Help: "Total catalog HTTP requests issued.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricegraph_request_duration_seconds",
			Help:    "Catalog HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricegraph_fetch_errors_total",
			Help: "Catalog page fetch failures by type.",
		},
		[]string{"error_type"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricegraph_records_total",
			Help: "Catalog records seen by the extractor.",
		},
		[]string{"outcome"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricegraph_items_ingested_total",
			Help: "Item upserts by outcome.",
		},
		[]string{"outcome"},
	)
	changes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricegraph_price_changes_total",
			Help: "Price history entries recorded.",
		},
	)
	tasks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricegraph_tasks_total",
			Help: "Queue task deliveries by outcome.",
		},
		[]string{"outcome"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricegraph_retries_total",
			Help: "Total number of task retries scheduled.",
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricegraph_pages_enqueued_total",
			Help: "Catalog pages enqueued by sweeps.",
		},
	)
	cache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricegraph_item_cache_lookups_total",
			Help: "Read cache lookups by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(requests, requestDuration, fetchErrors, records, items, changes, tasks, retries, pages, cache)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		FetchErrorsTotal:   fetchErrors,
		RecordsTotal:       records,
		ItemsTotal:         items,
		PriceChangesTotal:  changes,
		TasksTotal:         tasks,
		RetriesTotal:       retries,
		PagesEnqueuedTotal: pages,
		CacheLookupsTotal:  cache,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncFetchError increments the fetch error counter for a type label.
func (m *Metrics) IncFetchError(errorType string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddRecords counts extracted or dropped records.
func (m *Metrics) AddRecords(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Add(float64(n))
}

// IncItem counts one item upsert.
func (m *Metrics) IncItem(outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

// IncPriceChange counts one recorded history entry.
func (m *Metrics) IncPriceChange() {
	if m == nil {
		return
	}
	m.PriceChangesTotal.Inc()
}

// IncTask counts one task delivery.
func (m *Metrics) IncTask(outcome string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(outcome).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// AddPagesEnqueued counts pages handed to the queue.
func (m *Metrics) AddPagesEnqueued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PagesEnqueuedTotal.Add(float64(n))
}

// IncCacheLookup counts a read cache hit or miss.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}
