// Package metrics provides the Prometheus implementation of port.Metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

var _ port.Metrics = (*promMetrics)(nil)

type promMetrics struct {
	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	versionConflicts *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	publishFailures  prometheus.Counter
	outboxBacklog    prometheus.Gauge
}

func NewPrometheus(reg prometheus.Registerer) port.Metrics {
	m := &promMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_operations_total",
			Help: "Total number of registration operations by result",
		}, []string{"operation", "result"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registration_operation_duration_seconds",
			Help:    "Registration operation latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"operation"}),

		versionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_version_conflicts_total",
			Help: "Total number of writes rejected for a stale version",
		}, []string{"kind"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_events_published_total",
			Help: "Total number of events acknowledged by the bus",
		}, []string{"event"}),

		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registration_publish_failures_total",
			Help: "Total number of failed publish attempts",
		}),

		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registration_outbox_backlog",
			Help: "Committed events not yet acknowledged by the bus",
		}),
	}

	reg.MustRegister(
		m.operations,
		m.duration,
		m.versionConflicts,
		m.eventsPublished,
		m.publishFailures,
		m.outboxBacklog,
	)
	return m
}

func (m *promMetrics) ObserveOperation(operation string, err error, d time.Duration) {
	m.operations.WithLabelValues(operation, result(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *promMetrics) VersionConflict(operation string) {
	m.versionConflicts.WithLabelValues(operation).Inc()
}

func (m *promMetrics) EventPublished(eventName string) {
	m.eventsPublished.WithLabelValues(eventName).Inc()
}

func (m *promMetrics) PublishFailed() { m.publishFailures.Inc() }

func (m *promMetrics) OutboxBacklog(n int) { m.outboxBacklog.Set(float64(n)) }

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrAlreadyExists):
		return "invalid"
	}
	return "error"
}
