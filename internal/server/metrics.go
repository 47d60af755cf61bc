// Package server exposes Prometheus instrumentation for the relay: operation
// counters, connection gauges, and the /metrics handler.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the relay's Prometheus collectors. Each server instance owns
// its own registry so tests can construct servers independently.
type Metrics struct {
	registry *prometheus.Registry

	RoomsCreated     prometheus.Counter
	RoomsJoined      prometheus.Counter
	URLChanges       prometheus.Counter
	ClientErrors     prometheus.Counter
	DisconnectSweeps prometheus.Counter
	ConnectedClients prometheus.Gauge
}

// NewMetrics constructs and registers the relay collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_rooms_created_total",
			Help: "Number of rooms created.",
		}),
		RoomsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_room_joins_total",
			Help: "Number of successful room joins.",
		}),
		URLChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_url_changes_total",
			Help: "Number of url-change events relayed.",
		}),
		ClientErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_client_errors_total",
			Help: "Number of error events sent back to clients.",
		}),
		DisconnectSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_disconnect_sweeps_total",
			Help: "Number of disconnects swept through the room registry.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connected_clients",
			Help: "Number of currently connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.RoomsCreated,
		m.RoomsJoined,
		m.URLChanges,
		m.ClientErrors,
		m.DisconnectSweeps,
		m.ConnectedClients,
	)

	return m
}

// TrackActiveRooms registers a gauge backed by fn, which reports the number of
// live rooms in the registry.
func (m *Metrics) TrackActiveRooms(fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_active_rooms",
		Help: "Number of rooms currently in the registry.",
	}, fn))
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
