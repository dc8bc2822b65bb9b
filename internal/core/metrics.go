package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder receives one observation per service operation. The nop
// recorder keeps tests and ephemeral setups free of a metrics backend.
type MetricsRecorder interface {
	Observe(op string, err error, elapsed time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) Observe(string, error, time.Duration) {}

// PrometheusMetrics records operation counts and latencies via promauto.
type PrometheusMetrics struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the service metrics on the given registerer
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		ops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "entitycore_operations_total",
			Help: "Service operations by name and outcome.",
		}, []string{"op", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitycore_operation_duration_seconds",
			Help:    "Service operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *PrometheusMetrics) Observe(op string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ops.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}
