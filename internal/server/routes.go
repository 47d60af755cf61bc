// Package server wires HTTP handlers into a ServeMux for the PairBrowse
// relay via routing helpers.
package server

import (
	"net/http"

	"github.com/pairbrowse/relay/internal/relay"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, and Prometheus metrics.
func SetupRoutes(hub *Hub, registry *relay.Registry, cfg *Config, metrics *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(hub, registry, cfg))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
