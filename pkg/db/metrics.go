package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// queryMetrics holds per-manager statement collectors. They are not
// registered globally; callers register them via Manager.Collectors.
type queryMetrics struct {
	statements *prometheus.CounterVec
	errors     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newQueryMetrics() *queryMetrics {
	return &queryMetrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcore",
			Subsystem: "db",
			Name:      "statements_total",
			Help:      "Number of statements executed, by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcore",
			Subsystem: "db",
			Name:      "statement_errors_total",
			Help:      "Number of statements that returned an error, by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arcore",
			Subsystem: "db",
			Name:      "statement_duration_seconds",
			Help:      "Statement latency, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

func (q *queryMetrics) observe(kind string, elapsed time.Duration, err error) {
	if q == nil {
		return
	}
	q.statements.WithLabelValues(kind).Inc()
	q.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		q.errors.WithLabelValues(kind).Inc()
	}
}

// Collectors returns the manager's prometheus collectors for registration
func (m *Manager) Collectors() []prometheus.Collector {
	if m.metrics == nil {
		return nil
	}
	return []prometheus.Collector{m.metrics.statements, m.metrics.errors, m.metrics.duration}
}
