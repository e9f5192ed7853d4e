package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the compound enrichment service.
// Metrics are grouped by subsystem: searches, upstream requests, the request
// governor, the result cache, mechanism lookups and background jobs.
//
// All Record methods are safe to call on a nil *Metrics so components can be
// constructed without metrics in tests.
type Metrics struct {
	// SearchesTotal counts assay searches by outcome (cache_hit, not_found, no_assays, fetched, failed).
	SearchesTotal *prometheus.CounterVec

	// SearchDuration observes end-to-end search duration in seconds.
	SearchDuration prometheus.Histogram

	// RecordsPerSearch observes the number of assay records returned per search.
	RecordsPerSearch prometheus.Histogram

	// UpstreamRequestsTotal counts upstream HTTP attempts by endpoint and status class.
	UpstreamRequestsTotal *prometheus.CounterVec

	// UpstreamRequestDuration observes upstream attempt duration by endpoint.
	UpstreamRequestDuration *prometheus.HistogramVec

	// UpstreamRetries counts retried upstream attempts by endpoint.
	UpstreamRetries *prometheus.CounterVec

	// UpstreamRateLimited counts 429 responses by endpoint.
	UpstreamRateLimited *prometheus.CounterVec

	// GovernorInFlight tracks requests currently holding a governor slot.
	GovernorInFlight prometheus.Gauge

	// GovernorWait observes time spent waiting for a governor slot.
	GovernorWait prometheus.Histogram

	// CacheOperations counts cache operations by operation and result.
	CacheOperations *prometheus.CounterVec

	// MechanismLookups counts mechanism lookups by outcome.
	MechanismLookups *prometheus.CounterVec

	// JobsConsumed counts background search jobs by outcome.
	JobsConsumed *prometheus.CounterVec

	// EventsPublished counts published events by type.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SearchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of assay searches by outcome",
		}, []string{"outcome"}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of assay searches in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RecordsPerSearch: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "records_per_search",
			Help:      "Number of assay records returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),

		UpstreamRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream HTTP attempts",
		}, []string{"endpoint", "status"}),
		UpstreamRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of upstream HTTP attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"endpoint"}),
		UpstreamRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Total number of retried upstream attempts",
		}, []string{"endpoint"}),
		UpstreamRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_rate_limited_total",
			Help:      "Total number of upstream 429 responses",
		}, []string{"endpoint"}),

		GovernorInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "governor_in_flight",
			Help:      "Upstream requests currently holding a governor slot",
		}),
		GovernorWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "governor_wait_seconds",
			Help:      "Time spent waiting for a governor slot",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}),

		CacheOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of result cache operations",
		}, []string{"operation", "result"}),

		MechanismLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mechanism_lookups_total",
			Help:      "Total number of mechanism-of-action lookups by outcome",
		}, []string{"outcome"}),

		JobsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_consumed_total",
			Help:      "Total number of background search jobs consumed",
		}, []string{"outcome"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published",
		}, []string{"event_type"}),
	}
}

// RecordSearch records a finished search with its outcome and record count.
func (m *Metrics) RecordSearch(outcome string, recordCount int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(outcome).Inc()
	m.SearchDuration.Observe(durationSeconds)
	m.RecordsPerSearch.Observe(float64(recordCount))
}

// RecordUpstreamRequest records one upstream attempt.
func (m *Metrics) RecordUpstreamRequest(endpoint, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordUpstreamRetry records that an upstream attempt will be retried.
func (m *Metrics) RecordUpstreamRetry(endpoint string) {
	if m == nil {
		return
	}
	m.UpstreamRetries.WithLabelValues(endpoint).Inc()
}

// RecordUpstreamRateLimited records a 429 from upstream.
func (m *Metrics) RecordUpstreamRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.UpstreamRateLimited.WithLabelValues(endpoint).Inc()
}

// RecordGovernorAcquired records a slot acquisition and the time spent waiting for it.
func (m *Metrics) RecordGovernorAcquired(waitSeconds float64) {
	if m == nil {
		return
	}
	m.GovernorInFlight.Inc()
	m.GovernorWait.Observe(waitSeconds)
}

// RecordGovernorReleased records a slot release.
func (m *Metrics) RecordGovernorReleased() {
	if m == nil {
		return
	}
	m.GovernorInFlight.Dec()
}

// RecordCacheOperation records a cache operation result (hit, miss, ok, error).
func (m *Metrics) RecordCacheOperation(operation, result string) {
	if m == nil {
		return
	}
	m.CacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordMechanismLookup records a mechanism lookup outcome.
func (m *Metrics) RecordMechanismLookup(outcome string) {
	if m == nil {
		return
	}
	m.MechanismLookups.WithLabelValues(outcome).Inc()
}

// RecordJobConsumed records a background job outcome.
func (m *Metrics) RecordJobConsumed(outcome string) {
	if m == nil {
		return
	}
	m.JobsConsumed.WithLabelValues(outcome).Inc()
}

// RecordEventPublished records a published event.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}
