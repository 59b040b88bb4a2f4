package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports supervisor metrics through its own registry,
// exposed by herald serve at /metrics.
type PrometheusCollector struct {
	attempts      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	readinessWait *prometheus.HistogramVec
	lines         *prometheus.CounterVec
	stopDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewPrometheusCollector creates a collector. The namespace defaults to
// "herald".
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "herald"
	}

	c := &PrometheusCollector{registry: prometheus.NewRegistry()}

	c.attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_attempts_total",
			Help:      "Launch attempts, successful or not",
		},
		[]string{"server"},
	)

	c.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_failures_total",
			Help:      "Failed launch attempts by failure kind",
		},
		[]string{"server", "kind"},
	)

	c.readinessWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time from bootstrap launch to readiness marker",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"server"},
	)

	c.lines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_lines_total",
			Help:      "Output lines captured across all attempts",
		},
		[]string{"server"},
	)

	c.stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stop_duration_seconds",
			Help:      "Duration of the full shutdown sequence",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	c.registry.MustRegister(c.attempts, c.failures, c.readinessWait, c.lines, c.stopDuration)
	return c
}

// AttemptStarted records one launch attempt.
func (c *PrometheusCollector) AttemptStarted(server string, attempt, port int) {
	c.attempts.WithLabelValues(server).Inc()
}

// AttemptFailed records a failed attempt by kind.
func (c *PrometheusCollector) AttemptFailed(server, kind string) {
	c.failures.WithLabelValues(server, kind).Inc()
}

// ServerReady records the readiness wait of the successful attempt.
func (c *PrometheusCollector) ServerReady(server string, attempt int, wait time.Duration) {
	c.readinessWait.WithLabelValues(server).Observe(wait.Seconds())
}

// LineCaptured records one captured output line.
func (c *PrometheusCollector) LineCaptured(server string) {
	c.lines.WithLabelValues(server).Inc()
}

// StopDuration records the duration of a terminal stop.
func (c *PrometheusCollector) StopDuration(server string, d time.Duration) {
	c.stopDuration.WithLabelValues(server).Observe(d.Seconds())
}

// Registry returns the registry for HTTP handler setup.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

var _ Collector = (*PrometheusCollector)(nil)
