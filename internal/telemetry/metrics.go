// Package telemetry provides Prometheus collectors and OpenTelemetry spans for the graph engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EdgeWrites            *prometheus.CounterVec
	StrengthObserved      prometheus.Histogram
	MetricsRecomputes     *prometheus.CounterVec
	TraversalNodes        prometheus.Histogram
	TraversalTruncated    prometheus.Counter
	HookInvocations       *prometheus.CounterVec
	MetricsRefreshFailure prometheus.Counter
	EventsConsumed        *prometheus.CounterVec
}

// NewMetrics registers every collector with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EdgeWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relgraph",
				Subsystem: "engine",
				Name:      "edge_writes_total",
				Help:      "Edge writes by outcome (created, strengthened)",
			},
			[]string{"outcome", "relationship_type"},
		),
		StrengthObserved: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "relgraph",
				Subsystem: "engine",
				Name:      "edge_strength",
				Help:      "Strength of edges after each write",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 7.5, 10},
			},
		),
		MetricsRecomputes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relgraph",
				Subsystem: "engine",
				Name:      "metrics_recomputes_total",
				Help:      "Metrics recomputations by result (upserted, deleted)",
			},
			[]string{"result"},
		),
		TraversalNodes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "relgraph",
				Subsystem: "engine",
				Name:      "traversal_expanded_nodes",
				Help:      "Nodes expanded per traversal",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		TraversalTruncated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relgraph",
				Subsystem: "engine",
				Name:      "traversal_truncated_total",
				Help:      "Traversals stopped by the expanded-node cap",
			},
		),
		HookInvocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relgraph",
				Subsystem: "hooks",
				Name:      "invocations_total",
				Help:      "Lifecycle hook invocations by hook and status",
			},
			[]string{"hook", "status"},
		),
		MetricsRefreshFailure: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relgraph",
				Subsystem: "hooks",
				Name:      "metrics_refresh_failures_total",
				Help:      "Best-effort metrics refreshes that failed after an edge write",
			},
		),
		EventsConsumed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relgraph",
				Subsystem: "events",
				Name:      "consumed_total",
				Help:      "Lifecycle events consumed from Kafka by event and status",
			},
			[]string{"event", "status"},
		),
	}
}

func (m *Metrics) EdgeWritten(outcome, relType string, strength float64) {
	if m == nil {
		return
	}
	m.EdgeWrites.WithLabelValues(outcome, relType).Inc()
	m.StrengthObserved.Observe(strength)
}

func (m *Metrics) Recomputed(result string) {
	if m == nil {
		return
	}
	m.MetricsRecomputes.WithLabelValues(result).Inc()
}

func (m *Metrics) Traversed(expanded int, truncated bool) {
	if m == nil {
		return
	}
	m.TraversalNodes.Observe(float64(expanded))
	if truncated {
		m.TraversalTruncated.Inc()
	}
}

func (m *Metrics) Hook(name, status string) {
	if m == nil {
		return
	}
	m.HookInvocations.WithLabelValues(name, status).Inc()
}

func (m *Metrics) RefreshFailed() {
	if m == nil {
		return
	}
	m.MetricsRefreshFailure.Inc()
}

func (m *Metrics) EventConsumed(event, status string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(event, status).Inc()
}
