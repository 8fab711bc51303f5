package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for lifecycle runs and task
// execution. All record methods are nil-safe so callers may run without a
// collector wired.
type Metrics struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	tasksExecuted *prometheus.CounterVec
	taskFailures  *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modulab",
			Name:      "runs_started_total",
			Help:      "Lifecycle runs started, by action.",
		}, []string{"action"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modulab",
			Name:      "runs_completed_total",
			Help:      "Lifecycle runs completed, by action and status.",
		}, []string{"action", "status"}),
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modulab",
			Name:      "tasks_executed_total",
			Help:      "Tasks executed, by operation key and whether state changed.",
		}, []string{"op", "changed"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modulab",
			Name:      "task_failures_total",
			Help:      "Fatal task failures, by operation key and error kind.",
		}, []string{"op", "kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modulab",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds, by operation key.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"op"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.tasksExecuted,
		m.taskFailures,
		m.taskDuration,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted records the start of a lifecycle run.
func (m *Metrics) RunStarted(action string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(action).Inc()
}

// RunCompleted records the completion of a lifecycle run.
func (m *Metrics) RunCompleted(action, status string) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(action, status).Inc()
}

// TaskExecuted records a completed task.
func (m *Metrics) TaskExecuted(op string, changed bool, seconds float64) {
	if m == nil {
		return
	}
	changedLabel := "false"
	if changed {
		changedLabel = "true"
	}
	m.tasksExecuted.WithLabelValues(op, changedLabel).Inc()
	m.taskDuration.WithLabelValues(op).Observe(seconds)
}

// TaskFailed records a fatal task failure.
func (m *Metrics) TaskFailed(op, kind string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(op, kind).Inc()
}
