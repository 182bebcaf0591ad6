// Package metrics exposes Prometheus collectors for the conversation core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores the Prometheus collectors used across the service. It is
// constructor-injected with its own registry so tests can instantiate
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	WebhookEvents  *prometheus.CounterVec
	BurstsTotal    prometheus.Counter
	BufferPending  prometheus.Gauge
	Handovers      *prometheus.CounterVec
	OutboundSends  *prometheus.CounterVec
	AIRequests     *prometheus.CounterVec
	AILatency      *prometheus.HistogramVec
	BreakerState   *prometheus.GaugeVec
	StateChanges   *prometheus.CounterVec
	AlertsRecorded *prometheus.CounterVec
}

// New builds a metrics instance with a dedicated registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound provider webhook events by type.",
		}, []string{"type"}),
		BurstsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bursts_processed_total",
			Help:      "Debounced inbound bursts processed.",
		}),
		BufferPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_pending_keys",
			Help:      "Conversations with an armed debounce timer or in-flight pass.",
		}),
		Handovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handovers_total",
			Help:      "Human handovers by trigger.",
		}, []string{"trigger"}),
		OutboundSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound provider sends by result.",
		}, []string{"status"}),
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "AI provider requests by operation and outcome.",
		}, []string{"operation", "status"}),
		AILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Latency distribution for AI provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open).",
		}, []string{"breaker"}),
		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_state_changes_total",
			Help:      "Lead conversation state transitions.",
		}, []string{"from", "to"}),
		AlertsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_recorded_total",
			Help:      "Persisted alert records by severity.",
		}, []string{"severity"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WebhookEvents,
		m.BurstsTotal,
		m.BufferPending,
		m.Handovers,
		m.OutboundSends,
		m.AIRequests,
		m.AILatency,
		m.BreakerState,
		m.StateChanges,
		m.AlertsRecorded,
	)

	return m
}

// Handler serves the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
