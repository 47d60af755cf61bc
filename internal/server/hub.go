// Package server coordinates client registration, room-scoped broadcast, and
// connection cleanup for the PairBrowse relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pairbrowse/relay/internal/relay"
)

// Hub manages all WebSocket client connections and their room broadcast
// groups. It implements relay.Transport: the registry tells it which
// connections belong to which group and which events to fan out, and the hub
// handles delivery. Client registration runs through channels consumed by a
// single Run goroutine; the group map is guarded by a mutex because the
// registry mutates it synchronously.
type Hub struct {
	clients    map[string]*Client
	groups     map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
	metrics    *Metrics
	bus        *EventBus
}

// NewHub creates and initializes a new Hub instance. The returned Hub is ready
// to manage WebSocket connections once Run is started.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger,
		metrics:    metrics,
	}
}

// SetEventBus attaches a cross-instance event bus and starts consuming remote
// events. Must be called before Run.
func (h *Hub) SetEventBus(ctx context.Context, bus *EventBus) {
	h.bus = bus
	go bus.Subscribe(ctx, func(roomID string, event relay.Event) {
		// Exclusions never travel across instances: the excluded
		// connection lives where the event originated.
		h.deliverLocal(roomID, event, "")
	})
}

// AddToGroup subscribes a registered connection to a room's broadcast group.
func (h *Hub) AddToGroup(connID, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	group, ok := h.groups[roomID]
	if !ok {
		group = make(map[string]*Client)
		h.groups[roomID] = group
	}
	group[connID] = client
}

// RemoveFromGroup unsubscribes a connection from a room's broadcast group.
// Empty groups are dropped.
func (h *Hub) RemoveFromGroup(connID, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	group, ok := h.groups[roomID]
	if !ok {
		return
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(h.groups, roomID)
	}
}

// Broadcast fans an event out to every member of a room's broadcast group,
// skipping except when non-empty, and forwards it to the event bus when one is
// attached.
func (h *Hub) Broadcast(roomID string, event relay.Event, except string) {
	h.deliverLocal(roomID, event, except)

	if h.bus != nil {
		go h.bus.Publish(context.Background(), roomID, event)
	}
}

// Send delivers an event to a single connection.
func (h *Hub) Send(connID string, event relay.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", "type", event.Type, "err", err)
		return
	}

	h.mutex.RLock()
	client := h.clients[connID]
	h.mutex.RUnlock()

	if client == nil {
		return
	}
	if !h.safeSend(client, payload) {
		h.removeFailedClients([]*Client{client})
	}
}

func (h *Hub) deliverLocal(roomID string, event relay.Event, except string) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", "type", event.Type, "err", err)
		return
	}

	h.mutex.RLock()
	recipients := make([]*Client, 0, len(h.groups[roomID]))
	for connID, client := range h.groups[roomID] {
		if connID == except {
			continue
		}
		recipients = append(recipients, client)
	}
	h.mutex.RUnlock()

	var failed []*Client
	for _, client := range recipients {
		if !h.safeSend(client, payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("recovered from panic in safeSend", "panic", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client.id]
	if !exists || client.closed {
		return false
	}

	// The send channel might be closed concurrently, hence the recover above.
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine as it
// runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()

			if h.metrics != nil {
				h.metrics.ConnectedClients.Inc()
			}
			h.log.Info("client registered", "conn", client.id, "addr", client.addr, "total", clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				// Close the channel after releasing the lock.
				close(client.send)

				if h.metrics != nil {
					h.metrics.ConnectedClients.Dec()
				}
				h.log.Info("client unregistered", "conn", client.id, "total", clientCount)
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// GetRegisterChan returns the channel used for registering new clients.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client.id]; exists {
			delete(h.clients, client.id)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.log.Warn("client removed due to full send buffer", "conn", client.id, "addr", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock.
	for _, ch := range channelsToClose {
		close(ch)
	}

	if h.metrics != nil {
		h.metrics.ConnectedClients.Sub(float64(len(channelsToClose)))
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warn("error closing client connection", "addr", client.addr, "err", err)
				}
			}
		}
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()

	// Wait for Run() to complete.
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
