package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics covers the gateway's connection and message flow
type Metrics struct {
	sessions    prometheus.Gauge
	inbound     *prometheus.CounterVec
	outbound    *prometheus.CounterVec
	rateLimited prometheus.Counter
	fanout      prometheus.Histogram
}

// NewMetrics builds and registers the gateway metrics. A nil registerer
// leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "felt",
			Subsystem: "gateway",
			Name:      "sessions_active",
			Help:      "Currently open WebSocket sessions.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "felt",
			Subsystem: "gateway",
			Name:      "messages_inbound_total",
			Help:      "Inbound client frames by message type.",
		}, []string{"type"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "felt",
			Subsystem: "gateway",
			Name:      "messages_outbound_total",
			Help:      "Outbound frames by message type.",
		}, []string{"type"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "felt",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Messages rejected by per-connection rate limits.",
		}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "felt",
			Subsystem: "gateway",
			Name:      "broadcast_fanout",
			Help:      "Recipient count per broadcast envelope.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.inbound, m.outbound, m.rateLimited, m.fanout)
	}
	return m
}
