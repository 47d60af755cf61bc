// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/pairbrowse/relay/internal/relay"
)

// WebSocketHandler returns the handler for WebSocket upgrade requests. It
// validates the request method, upgrades the connection, and registers a new
// Client with the hub, which launches the read/write pumps.
func WebSocketHandler(hub *Hub, registry *relay.Registry, cfg *Config) http.HandlerFunc {
	policy := newOriginPolicy(cfg.AllowedOrigins, hub.log)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("WebSocket upgrade failed", "err", err)
			return
		}

		client := NewClient(conn, hub, registry, r.RemoteAddr, cfg)

		// Register the client with the hub; the hub launches the pump goroutines.
		hub.register <- client
	}
}

// HealthHandler provides a simple health check endpoint that returns server
// status as plain text.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "PairBrowse relay is running!")
}
