// Package metrics exposes Prometheus instrumentation for the voice gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	ConversationsActive prometheus.Gauge
	ConversationsTotal  prometheus.Counter
	TurnsTotal          *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
}

// New creates a Metrics instance backed by its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "revvoice"
	}

	registry := prometheus.NewRegistry()

	conversationsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Number of conversations currently in progress",
		},
	)

	conversationsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Total number of conversations started",
		},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"outcome"}, // outcome: ok, error, timeout
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of model turns in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		conversationsActive,
		conversationsTotal,
		turnsTotal,
		turnDuration,
	)

	return &Metrics{
		registry:            registry,
		ConversationsActive: conversationsActive,
		ConversationsTotal:  conversationsTotal,
		TurnsTotal:          turnsTotal,
		TurnDuration:        turnDuration,
	}
}

// Handler returns the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConversationStarted records a new conversation.
func (m *Metrics) ConversationStarted() {
	m.ConversationsTotal.Inc()
	m.ConversationsActive.Inc()
}

// ConversationEnded records the end of a conversation.
func (m *Metrics) ConversationEnded() {
	m.ConversationsActive.Dec()
}

// TurnCompleted records one model turn with its outcome and duration.
func (m *Metrics) TurnCompleted(outcome string, seconds float64) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(seconds)
}
