// Package metric provides the prometheus metrics surface for hwstreams:
// a registry owning platform metrics plus per-component registration of
// domain metrics.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the platform-level metrics shared by all components.
type Metrics struct {
	// Stream metrics
	FramesPublished *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	DataQueueDepth  *prometheus.GaugeVec

	// Monitor metrics
	Evaluations  *prometheus.CounterVec
	Violations   *prometheus.CounterVec
	StateChanges prometheus.Counter

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the platform metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hwstreams",
				Subsystem: "stream",
				Name:      "frames_published_total",
				Help:      "Total frames published, by source and frame kind",
			},
			[]string{"source", "kind"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hwstreams",
				Subsystem: "stream",
				Name:      "frames_received_total",
				Help:      "Total frames received, by source and frame kind",
			},
			[]string{"source", "kind"},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hwstreams",
				Subsystem: "stream",
				Name:      "decode_errors_total",
				Help:      "Total frames dropped due to decode failures",
			},
			[]string{"source", "kind"},
		),

		DataQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "hwstreams",
				Subsystem: "stream",
				Name:      "data_queue_depth",
				Help:      "Batches waiting in a subscriber's queue",
			},
			[]string{"source"},
		),

		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hwstreams",
				Subsystem: "monitor",
				Name:      "evaluations_total",
				Help:      "Monitor evaluations, by monitor and verdict",
			},
			[]string{"monitor", "verdict"},
		),

		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hwstreams",
				Subsystem: "monitor",
				Name:      "violations_total",
				Help:      "Threshold violations, by monitor and channel",
			},
			[]string{"monitor", "channel"},
		),

		StateChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hwstreams",
				Subsystem: "state",
				Name:      "transitions_total",
				Help:      "Environmental state transitions observed",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hwstreams",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hwstreams",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "NATS reconnection events",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hwstreams",
				Subsystem: "nats",
				Name:      "circuit_breaker_open",
				Help:      "Circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

// collectors returns all platform metrics for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesPublished,
		m.FramesReceived,
		m.DecodeErrors,
		m.DataQueueDepth,
		m.Evaluations,
		m.Violations,
		m.StateChanges,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSCircuitBreaker,
	}
}
