package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the broker's Prometheus instruments, exposed on /metrics.
type Metrics struct {
	FramesIn        prometheus.Counter
	FramesOut       prometheus.Counter
	Connections     prometheus.Gauge
	LocationUpdates prometheus.Counter
}

// NewMetrics registers the instruments with reg. Tests pass a fresh
// registry to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "broker_frames_in_total",
			Help: "Inbound STOMP frames decoded from chat sockets.",
		}),
		FramesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "broker_frames_out_total",
			Help: "Outbound frames written to chat sockets.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "broker_connections",
			Help: "Currently open chat sockets.",
		}),
		LocationUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "broker_location_updates_total",
			Help: "Live-location updates fanned out to groups.",
		}),
	}
}
