// Package metrics defines the Prometheus metric collectors used across the
// suggestion pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Per-provider suggest latency, labelled with the provider name and
	// whether the request accepted English.
	ProviderDuration *prometheus.HistogramVec
	// Number of suggestions returned per request.
	SuggestionsPerRequest prometheus.Histogram
	// Client variant tags seen on requests.
	ClientVariantsTotal *prometheus.CounterVec

	// Cache outcomes per tier (memory, redis).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	// Cache lookup latency in microseconds, labelled tier and resulting
	// cache status (hit, miss, error, none).
	CacheDuration *prometheus.HistogramVec
	// Single-flight waiters that gave up on the lock and queried upstream
	// directly.
	CacheLockTimeoutsTotal *prometheus.CounterVec
	// Memory cache two-level map sizes.
	MemoryCachePointers prometheus.Gauge
	MemoryCacheStorage  prometheus.Gauge

	// Keyword filter matches per rule id.
	KeywordFilterMatchesTotal *prometheus.CounterVec

	// Remote Settings sync outcomes.
	SyncDuration    *prometheus.HistogramVec
	EmptySyncsTotal prometheus.Counter

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics on reg. Passing a private
// registry keeps tests independent; production uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_duration_seconds",
				Help:    "Suggest latency per provider in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"provider", "accepts_english"},
		),
		SuggestionsPerRequest: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "suggestions_per_request",
				Help:    "Number of suggestions returned per request.",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 25},
			},
		),
		ClientVariantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "client_variants_total",
				Help: "Requests carrying each client variant tag.",
			},
			[]string{"variant"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total cache hits by tier.",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total cache misses by tier.",
			},
			[]string{"tier"},
		),
		CacheDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_duration_us",
				Help:    "Cache lookup latency in microseconds by tier and cache status.",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000},
			},
			[]string{"tier", "cache_status"},
		),
		CacheLockTimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lock_timeouts_total",
				Help: "Single-flight waiters that bypassed the cache after a lock timeout.",
			},
			[]string{"tier"},
		),
		MemoryCachePointers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_cache_pointers_len",
				Help: "Number of pointer entries in the memory cache.",
			},
		),
		MemoryCacheStorage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_cache_storage_len",
				Help: "Number of deduplicated storage entries in the memory cache.",
			},
		),
		KeywordFilterMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywordfilter_matches_total",
				Help: "Suggestions dropped by the keyword filter, by rule id.",
			},
			[]string{"rule"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remote_settings_sync_duration_seconds",
				Help:    "Remote Settings sync duration by outcome.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		EmptySyncsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "remote_settings_empty_syncs_total",
				Help: "Remote Settings syncs that returned zero suggestions.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ProviderDuration,
		m.SuggestionsPerRequest,
		m.ClientVariantsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheDuration,
		m.CacheLockTimeoutsTotal,
		m.MemoryCachePointers,
		m.MemoryCacheStorage,
		m.KeywordFilterMatchesTotal,
		m.SyncDuration,
		m.EmptySyncsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewForTest creates a Metrics backed by a throwaway registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
