package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pairbrowse/relay/internal/relay"
)

// addTestClient creates a client with no underlying connection and inserts it
// straight into the hub's client map, so group and delivery logic can be
// exercised without running the pumps.
func addTestClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(nil, h, nil, "127.0.0.1:12345", NewConfig())
	h.mutex.Lock()
	h.clients[c.id] = c
	h.mutex.Unlock()
	return c
}

func recvEvent(t *testing.T, c *Client) relay.Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev relay.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("delivered frame is not an event envelope: %v", err)
		}
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a delivered event")
		return relay.Event{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected delivery: %s", raw)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.GetRegisterChan() == nil || hub.GetUnregisterChan() == nil {
		t.Error("hub channels are nil")
	}
}

func TestHubGroupBroadcast(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())
	a := addTestClient(t, hub)
	b := addTestClient(t, hub)

	hub.AddToGroup(a.id, "AB12CD")
	hub.AddToGroup(b.id, "AB12CD")

	hub.Broadcast("AB12CD", relay.NewEvent(relay.EventURLChanged, relay.URLChangedPayload{URL: "https://example.com"}), "")

	for _, c := range []*Client{a, b} {
		ev := recvEvent(t, c)
		if ev.Type != relay.EventURLChanged {
			t.Errorf("client got %q, want url-changed", ev.Type)
		}
	}
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())
	a := addTestClient(t, hub)
	b := addTestClient(t, hub)

	hub.AddToGroup(a.id, "AB12CD")
	hub.AddToGroup(b.id, "AB12CD")

	hub.Broadcast("AB12CD", relay.NewEvent(relay.EventURLChanged, relay.URLChangedPayload{URL: "https://example.com"}), a.id)

	recvEvent(t, b)
	assertNoEvent(t, a)
}

func TestHubRemoveFromGroup(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())
	a := addTestClient(t, hub)
	b := addTestClient(t, hub)

	hub.AddToGroup(a.id, "AB12CD")
	hub.AddToGroup(b.id, "AB12CD")
	hub.RemoveFromGroup(a.id, "AB12CD")

	hub.Broadcast("AB12CD", relay.NewEvent(relay.EventParticipantLeft, relay.PresencePayload{ParticipantID: a.id, Count: 1}), "")

	recvEvent(t, b)
	assertNoEvent(t, a)

	// Dropping the last member drops the whole group.
	hub.RemoveFromGroup(b.id, "AB12CD")
	hub.mutex.RLock()
	_, exists := hub.groups["AB12CD"]
	hub.mutex.RUnlock()
	if exists {
		t.Error("empty group should be removed from the hub")
	}
}

func TestHubSend(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())
	a := addTestClient(t, hub)
	b := addTestClient(t, hub)

	hub.Send(a.id, relay.NewErrorEvent("Room not found"))

	ev := recvEvent(t, a)
	if ev.Type != relay.EventError {
		t.Errorf("got %q, want error event", ev.Type)
	}
	assertNoEvent(t, b)
}

func TestHubSendToUnknownConnection(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())

	// Must not panic or deliver anywhere.
	hub.Send("no-such-conn", relay.NewErrorEvent("Room not found"))
}

func TestHubAddToGroupUnknownConnection(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())

	hub.AddToGroup("no-such-conn", "AB12CD")

	hub.mutex.RLock()
	_, exists := hub.groups["AB12CD"]
	hub.mutex.RUnlock()
	if exists {
		t.Error("unregistered connections must not create groups")
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub(discardLogger(), NewMetrics())
	go hub.Run()
	defer func() {
		if err := hub.Shutdown(time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
	}()

	// A nil registration is skipped without panicking.
	hub.GetRegisterChan() <- nil

	c := NewClient(nil, hub, nil, "127.0.0.1:12345", NewConfig())
	// Insert directly instead of registering: registration would start the
	// pumps, which need a live connection.
	hub.mutex.Lock()
	hub.clients[c.id] = c
	hub.mutex.Unlock()

	hub.GetUnregisterChan() <- c

	deadline := time.After(time.Second)
	for {
		hub.mutex.RLock()
		_, exists := hub.clients[c.id]
		hub.mutex.RUnlock()
		if !exists {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client was not unregistered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The send channel is closed on unregister.
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed after unregister")
	}
}
