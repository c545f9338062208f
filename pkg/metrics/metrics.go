package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	SamplesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_samples_ingested_total",
			Help: "Total number of telemetry samples committed to the store",
		},
		[]string{"battery_id"},
	)

	SamplesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_samples_rejected_total",
			Help: "Total number of telemetry samples rejected during ingestion",
		},
		[]string{"reason"},
	)

	IngestBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_ingest_batch_duration_seconds",
			Help:    "Time taken to validate and commit one ingest batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Alert metrics
	AlertsOpenTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alerts_open_total",
			Help: "Current number of open alerts by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	AlertsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total number of alerts opened by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	AlertsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_resolved_total",
			Help: "Total number of alerts resolved by kind",
		},
		[]string{"kind"},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluator_sample_duration_seconds",
			Help:    "Time taken to evaluate one telemetry sample against alert rules",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Hub metrics
	HubSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_subscribers_total",
			Help: "Current number of live subscriber sessions",
		},
	)

	HubEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_dropped_total",
			Help: "Total number of events dropped due to a full subscriber queue",
		},
		[]string{"event_type"},
	)

	HubEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_published_total",
			Help: "Total number of events published to the hub",
		},
		[]string{"event_type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Total number of requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)

	// RUL proxy / circuit breaker metrics
	RULBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rul_breaker_state",
			Help: "Current RUL circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	RULRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rul_requests_total",
			Help: "Total number of RUL proxy requests by outcome",
		},
		[]string{"outcome"},
	)

	// Retention / maintenance metrics
	RetentionSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_sweep_duration_seconds",
			Help:    "Time taken for a retention sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetentionRowsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "retention_rows_deleted_total",
			Help: "Total number of expired telemetry rows removed by retention sweeps",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SamplesIngestedTotal,
		SamplesRejectedTotal,
		IngestBatchDuration,
		AlertsOpenTotal,
		AlertsTriggeredTotal,
		AlertsResolvedTotal,
		EvaluationDuration,
		HubSubscribersTotal,
		HubEventsDroppedTotal,
		HubEventsPublishedTotal,
		APIRequestsTotal,
		APIRequestDuration,
		RateLimitedTotal,
		RULBreakerState,
		RULRequestsTotal,
		RetentionSweepDuration,
		RetentionRowsDeletedTotal,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
