package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const _namespace = "refseller_notifier"

// Delivery outcomes recorded by the worker.
const (
	OutcomeSent      = "sent"
	OutcomeCancelled = "cancelled"
	OutcomeRetry     = "retry"
	OutcomeThrottled = "throttled"
	OutcomeBlocked   = "blocked"
	OutcomeNotFound  = "not_found"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics holds the notifier collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	created    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	sendTime   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications persisted and enqueued, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "notifications_dropped_total",
			Help:      "Events skipped before persistence, by type and reason.",
		}, []string{"type", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts, by type and outcome.",
		}, []string{"type", "outcome"}),
		sendTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: _namespace,
			Name:      "send_duration_seconds",
			Help:      "Transport send latency including rate limiter wait.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.created,
		m.dropped,
		m.deliveries,
		m.sendTime,
	)
	return m
}

func (m *Metrics) NotificationCreated(typ string) {
	m.created.WithLabelValues(typ).Inc()
}

func (m *Metrics) NotificationDropped(typ, reason string) {
	m.dropped.WithLabelValues(typ, reason).Inc()
}

func (m *Metrics) Delivery(typ, outcome string) {
	m.deliveries.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) SendDuration(typ string, d time.Duration) {
	m.sendTime.WithLabelValues(typ).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
