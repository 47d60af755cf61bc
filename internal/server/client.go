// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairbrowse/relay/internal/relay"
)

// Client represents a WebSocket connection in the relay. It owns the
// connection state, the outbound send channel, and the dispatch of inbound
// events into the room registry.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	registry       *relay.Registry
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
}

// NewClient creates a Client with a fresh connection identifier. The send
// channel is buffered to absorb fan-out bursts.
func NewClient(conn *websocket.Conn, hub *Hub, registry *relay.Registry, addr string, cfg *Config) *Client {
	if cfg == nil {
		cfg = NewConfig()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := newConnID()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		registry:       registry,
		addr:           addr,
		closed:         false,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		log:            hub.log.With("conn", id),
	}
}

// ID returns the connection identifier the registry tracks this client by.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func newConnID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.log.Warn("error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// handleReadError logs the error appropriately and returns true if the read
// loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Debug("client disconnected", "err", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Debug("client connection closed", "err", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Warn("unexpected WebSocket error", "err", err)
		return true
	}

	c.log.Warn("WebSocket read error", "err", err)
	return true
}

// checkRateLimit reports whether the message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes an inbound envelope and dispatches it to the
// registry. Malformed input of any kind gets the uniform error event rather
// than per-event ad hoc behavior.
func (c *Client) processMessage(rawMessage []byte) bool {
	event, err := relay.ParseEvent(rawMessage)
	if err != nil {
		c.log.Debug("invalid message", "err", err)
		c.sendError("Invalid message format")
		return false
	}

	switch event.Type {
	case relay.EventCreateRoom:
		c.registry.CreateRoom(c.id)
		if c.hub.metrics != nil {
			c.hub.metrics.RoomsCreated.Inc()
		}

	case relay.EventJoinRoom:
		var req relay.JoinRoomRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil || req.RoomID == "" {
			c.sendError("join-room requires roomId")
			return false
		}
		if err := c.registry.JoinRoom(c.id, req.RoomID); err != nil {
			return false
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RoomsJoined.Inc()
		}

	case relay.EventURLChange:
		var req relay.URLChangeRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil || req.RoomID == "" || req.URL == "" {
			c.sendError("url-change requires roomId and url")
			return false
		}
		if err := c.registry.ChangeURL(c.id, req.RoomID, req.URL); err != nil {
			return false
		}
		if c.hub.metrics != nil {
			c.hub.metrics.URLChanges.Inc()
		}

	default:
		c.log.Debug("unknown event type", "type", event.Type)
		c.sendError("Unknown event type")
		return false
	}

	return true
}

func (c *Client) sendError(message string) {
	if c.hub.metrics != nil {
		c.hub.metrics.ClientErrors.Inc()
	}
	c.hub.Send(c.id, relay.NewErrorEvent(message))
}

func (c *Client) readPump() {
	defer func() {
		c.registry.Disconnect(c.id)
		if c.hub.metrics != nil {
			c.hub.metrics.DisconnectSweeps.Inc()
		}
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Warn("error closing connection in readPump", "err", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in writePump", "err", err)
		}
	}
}

// handleMessage writes an outgoing message and returns false if the
// connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.log.Warn("error setting write deadline", "err", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing close message", "err", err)
		}
	}
	return false
}

func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.log.Warn("error writing message", "err", err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.log.Warn("error setting write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return false
	}
	return true
}
