package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the discovery pipeline.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ListingsTotal   prometheus.Counter
	BlocksTotal     *prometheus.CounterVec
	SearchesTotal   *prometheus.CounterVec
	CacheEvents     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_requests_total",
			Help: "Total upstream HTTP requests issued, by pass.",
		},
		[]string{"pass"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discovery_request_duration_seconds",
			Help:    "Upstream request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	listings := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_listings_extracted_total",
			Help: "Total listings extracted before deduplication.",
		},
	)
	blocks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_block_signals_total",
			Help: "Block signals observed from the upstream, by reason.",
		},
		[]string{"reason"},
	)
	searches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_searches_total",
			Help: "Searches served, by kind.",
		},
		[]string{"kind"},
	)
	cacheEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_events_total",
			Help: "Result cache lookups, by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, listings, blocks, searches, cacheEvents)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ListingsTotal:   listings,
		BlocksTotal:     blocks,
		SearchesTotal:   searches,
		CacheEvents:     cacheEvents,
	}
}

// IncRequest increments the upstream request counter for a pass.
func (m *Metrics) IncRequest(pass string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(pass).Inc()
}

// ObserveDuration records an upstream request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddListings counts extracted listings before deduplication.
func (m *Metrics) AddListings(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsTotal.Add(float64(n))
}

// IncBlock counts a block signal by reason.
func (m *Metrics) IncBlock(reason string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(reason).Inc()
}

// IncSearch counts a served search by kind.
func (m *Metrics) IncSearch(kind string) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(kind).Inc()
}

// IncCache counts a cache lookup outcome.
func (m *Metrics) IncCache(outcome string) {
	if m == nil {
		return
	}
	m.CacheEvents.WithLabelValues(outcome).Inc()
}
