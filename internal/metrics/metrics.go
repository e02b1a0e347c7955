// Package metrics defines the Prometheus collectors for chronicle.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesRecordedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_messages_recorded_total",
			Help: "Total number of chat events persisted as messages",
		},
	)

	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_events_dropped_total",
			Help: "Total number of chat events not persisted, by reason",
		},
		[]string{"reason"},
	)

	reconcilerRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_reconciler_runs_total",
			Help: "Total number of completed reconciliation sweeps",
		},
	)

	sessionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_sessions_completed_total",
			Help: "Total number of sessions marked completed, by source",
		},
		[]string{"source"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronicle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			messagesRecordedTotal,
			eventsDroppedTotal,
			reconcilerRunsTotal,
			sessionsCompletedTotal,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordMessage counts one persisted chat event.
func RecordMessage() {
	messagesRecordedTotal.Inc()
}

// RecordDrop counts one discarded chat event ("paused", "idle", "error").
func RecordDrop(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordReconcilerRun counts one completed sweep.
func RecordReconcilerRun() {
	reconcilerRunsTotal.Inc()
}

// RecordSessionCompleted counts one status flip to completed
// ("stop", "sweep", "repair", "interrupt").
func RecordSessionCompleted(source string) {
	sessionsCompletedTotal.WithLabelValues(source).Inc()
}

// RecordHTTPRequest records request metrics for the API middleware.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
