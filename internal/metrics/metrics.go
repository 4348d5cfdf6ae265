// Package metrics exposes Prometheus instrumentation for the storage
// engine, the pub/sub bus, and the frame transport.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage engine metrics.
	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modulo_hsdb_entities_total",
			Help: "Total number of entities held in the primary index, by model",
		},
		[]string{"model"},
	)

	EngineOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modulo_hsdb_operations_total",
			Help: "Total storage engine operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	EngineOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modulo_hsdb_operation_duration_seconds",
			Help:    "Storage engine operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	QueryResultSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modulo_hsdb_query_result_size",
			Help:    "Number of ids returned by a query execution",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		},
	)

	// Pub/sub bus metrics.
	BusMessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modulo_bus_messages_published_total",
			Help: "Total envelopes published by type and channel",
		},
		[]string{"type", "channel"},
	)

	BusHandlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modulo_bus_handler_errors_total",
			Help: "Total handler panics/errors swallowed by the bus processor",
		},
		[]string{"channel"},
	)

	BusDispatchTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modulo_bus_dispatch_timeouts_total",
			Help: "Total dispatches that resolved via a synthetic timeout response",
		},
	)

	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modulo_bus_subscribers",
			Help: "Current number of active broker subscribers",
		},
	)

	// Frame transport metrics.
	FrameACKDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modulo_transport_ack_duration_seconds",
			Help:    "Time from size-probe send to ACK receipt",
			Buckets: prometheus.DefBuckets,
		},
	)

	FrameACKFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modulo_transport_ack_failures_total",
			Help: "Total size-probes that did not receive a valid ACK in time",
		},
	)

	FramesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modulo_transport_frames_sent_total",
			Help: "Total frames sent by client workers, by outcome",
		},
		[]string{"outcome"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modulo_transport_sessions_active",
			Help: "Current number of active server-side sessions",
		},
	)

	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modulo_transport_reconnect_attempts_total",
			Help: "Total client reconnect attempts",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EntitiesTotal,
		EngineOperationsTotal,
		EngineOperationDuration,
		QueryResultSize,
		BusMessagesPublished,
		BusHandlerErrors,
		BusDispatchTimeouts,
		BusSubscribers,
		FrameACKDuration,
		FrameACKFailures,
		FramesSentTotal,
		SessionsActive,
		ReconnectAttempts,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time into a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
