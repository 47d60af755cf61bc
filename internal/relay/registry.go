package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrRoomNotFound is returned when an operation names a room that is not in
// the registry.
var ErrRoomNotFound = errors.New("room not found")

const roomNotFoundMessage = "Room not found"

// Transport is the broadcast surface the registry drives. The WebSocket layer
// implements it; tests substitute a recorder. All methods must be
// fire-and-forget: the registry invokes them while holding its lock and never
// waits on delivery.
type Transport interface {
	// AddToGroup subscribes a connection to a room's broadcast group.
	AddToGroup(connID, roomID string)

	// RemoveFromGroup unsubscribes a connection from a room's broadcast group.
	RemoveFromGroup(connID, roomID string)

	// Broadcast delivers an event to every member of a room's broadcast group,
	// skipping except when it is non-empty.
	Broadcast(roomID string, event Event, except string)

	// Send delivers an event to a single connection.
	Send(connID string, event Event)
}

// RoomStore shares room existence, global member counts, and navigation state
// between relay instances. A nil store keeps all state process-local.
// Implementations must be safe for concurrent use and bound their own
// round-trip times; the registry invokes them while holding its lock.
type RoomStore interface {
	// Claim records a fresh room with a single member. It reports false when
	// the id already belongs to a live room on any instance.
	Claim(ctx context.Context, roomID string) (bool, error)

	// Join increments the room's member count. ok is false when no instance
	// has the room; otherwise count is the global member count after the
	// join and currentURL the room's shared navigation target.
	Join(ctx context.Context, roomID string) (count int, currentURL *string, ok bool, err error)

	// Lookup reads the room's global member count and navigation target
	// without mutating anything. ok is false when no instance has the room.
	Lookup(ctx context.Context, roomID string) (count int, currentURL *string, ok bool, err error)

	// SetURL records the room's shared navigation target. ok reports whether
	// the room exists.
	SetURL(ctx context.Context, roomID, url string) (bool, error)

	// Leave decrements the room's member count and returns the remaining
	// global count. The room is removed from the store when it reaches zero.
	Leave(ctx context.Context, roomID string) (int, error)
}

// Room is a single co-browsing session: the connections sharing it and the
// last navigation target any of them announced.
type Room struct {
	ID         string
	HostID     string
	Members    map[string]struct{}
	CurrentURL *string
}

// Registry owns the mapping from room id to room state and processes the four
// relay operations. All state is guarded by one mutex and every operation,
// including its outbound emissions, runs to completion under it, so observers
// never see a half-applied mutation and notifications are emitted in operation
// order. A room exists in the registry iff it has at least one local member;
// with a shared store attached, rooms live as long as any instance has a
// member, and member counts announced to clients are global.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	transport Transport
	store     RoomStore
	log       *slog.Logger

	// newRoomID is the pluggable id source; tests override it to force
	// collisions and fixed ids.
	newRoomID func() string
}

// NewRegistry constructs an empty registry emitting through transport.
func NewRegistry(transport Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:     make(map[string]*Room),
		transport: transport,
		log:       logger,
		newRoomID: NewRoomID,
	}
}

// SetStore attaches a shared room store, so rooms created on other relay
// instances can be joined and navigated here. Must be called before the
// registry starts serving operations.
func (r *Registry) SetStore(store RoomStore) {
	r.store = store
}

// CreateRoom creates a fresh room owned by connID, with connID as its only
// member, and acknowledges the requester with a room-created event. Candidate
// ids that collide with a live room, locally or in the shared store, are
// discarded and regenerated, so an existing room's membership can never be
// overwritten.
func (r *Registry) CreateRoom(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var roomID string
	for {
		roomID = r.newRoomID()
		if _, exists := r.rooms[roomID]; exists {
			continue
		}
		if r.store == nil {
			break
		}
		free, err := r.store.Claim(context.Background(), roomID)
		if err != nil {
			r.log.Warn("room store claim failed; room stays local", "room", roomID, "err", err)
			break
		}
		if free {
			break
		}
	}

	r.rooms[roomID] = &Room{
		ID:      roomID,
		HostID:  connID,
		Members: map[string]struct{}{connID: {}},
	}
	r.transport.AddToGroup(connID, roomID)
	r.transport.Send(connID, NewEvent(EventRoomCreated, RoomCreatedPayload{RoomID: roomID}))

	r.log.Info("room created", "room", roomID, "host", connID)
	return roomID
}

// JoinRoom adds connID to an existing room. The joiner receives a room-joined
// acknowledgment carrying the room's current URL, and every member, the joiner
// included, receives a participant-joined notification with the new count.
// Joining a room twice is a no-op on the member set. A room id unknown both
// locally and in the shared store leaves the registry untouched and sends an
// error event to the requester only.
func (r *Registry) JoinRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, count, ok := r.admit(connID, roomID)
	if !ok {
		r.log.Debug("join rejected", "room", roomID, "conn", connID)
		r.transport.Send(connID, NewErrorEvent(roomNotFoundMessage))
		return ErrRoomNotFound
	}

	r.transport.AddToGroup(connID, roomID)

	r.transport.Send(connID, NewEvent(EventRoomJoined, RoomJoinedPayload{
		RoomID:     roomID,
		CurrentURL: room.CurrentURL,
	}))
	r.transport.Broadcast(roomID, NewEvent(EventParticipantJoined, PresencePayload{
		ParticipantID: connID,
		Count:         count,
	}), "")

	r.log.Info("participant joined", "room", roomID, "conn", connID, "count", count)
	return nil
}

// admit places connID in roomID's member set, consulting the shared store when
// the room is not known locally. A room found only in the store gets a local
// replica so this instance can hold a broadcast group for it. Returns the room
// and the member count to announce.
func (r *Registry) admit(connID, roomID string) (*Room, int, bool) {
	room, exists := r.rooms[roomID]
	if exists {
		if _, already := room.Members[connID]; already {
			return room, r.sharedCount(room), true
		}
		room.Members[connID] = struct{}{}
		count := len(room.Members)
		if r.store != nil {
			if global, currentURL, ok, err := r.store.Join(context.Background(), roomID); err != nil {
				r.log.Warn("room store join failed", "room", roomID, "err", err)
			} else if ok {
				count = global
				room.CurrentURL = currentURL
			}
		}
		return room, count, true
	}

	if r.store == nil {
		return nil, 0, false
	}
	count, currentURL, ok, err := r.store.Join(context.Background(), roomID)
	if err != nil {
		r.log.Warn("room store join failed", "room", roomID, "err", err)
		return nil, 0, false
	}
	if !ok {
		return nil, 0, false
	}
	room = &Room{
		ID:         roomID,
		Members:    map[string]struct{}{connID: {}},
		CurrentURL: currentURL,
	}
	r.rooms[roomID] = room
	return room, count, true
}

// sharedCount returns the member count to announce for a connection that is
// already in the room, syncing the shared state without incrementing it.
func (r *Registry) sharedCount(room *Room) int {
	count := len(room.Members)
	if r.store == nil {
		return count
	}
	global, currentURL, ok, err := r.store.Lookup(context.Background(), room.ID)
	if err != nil {
		r.log.Warn("room store lookup failed", "room", room.ID, "err", err)
		return count
	}
	if !ok {
		return count
	}
	room.CurrentURL = currentURL
	return global
}

// ChangeURL records url as the room's shared navigation target
// (last-writer-wins, no validation) and notifies every member except the
// originator. An unknown room id is reported back to the requester with the
// same error event join uses, so error behavior is uniform across operations.
func (r *Registry) ChangeURL(connID, roomID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[roomID]
	if !exists {
		if r.store != nil {
			if ok, err := r.store.SetURL(context.Background(), roomID, url); err != nil {
				r.log.Warn("room store url update failed", "room", roomID, "err", err)
			} else if ok {
				// No local members; the bus carries the event to the
				// instances that have them.
				r.transport.Broadcast(roomID, NewEvent(EventURLChanged, URLChangedPayload{URL: url}), connID)
				r.log.Debug("url changed", "room", roomID, "conn", connID, "url", url)
				return nil
			}
		}
		r.transport.Send(connID, NewErrorEvent(roomNotFoundMessage))
		return ErrRoomNotFound
	}

	room.CurrentURL = &url
	if r.store != nil {
		if _, err := r.store.SetURL(context.Background(), roomID, url); err != nil {
			r.log.Warn("room store url update failed", "room", roomID, "err", err)
		}
	}
	r.transport.Broadcast(roomID, NewEvent(EventURLChanged, URLChangedPayload{URL: url}), connID)

	r.log.Debug("url changed", "room", roomID, "conn", connID, "url", url)
	return nil
}

// Disconnect removes connID from every room it belongs to. Rooms left with no
// members anywhere are dropped with no notification; rooms that keep members
// get a participant-left notification with the decremented count. A connection
// that joined several rooms is swept from all of them in one call.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, room := range r.rooms {
		if _, ok := room.Members[connID]; !ok {
			continue
		}
		delete(room.Members, connID)
		r.transport.RemoveFromGroup(connID, roomID)

		remaining := len(room.Members)
		if r.store != nil {
			if global, err := r.store.Leave(context.Background(), roomID); err != nil {
				r.log.Warn("room store leave failed", "room", roomID, "err", err)
			} else {
				remaining = global
			}
		}

		if len(room.Members) == 0 {
			delete(r.rooms, roomID)
		}
		if remaining == 0 {
			r.log.Info("room closed", "room", roomID)
			continue
		}

		r.transport.Broadcast(roomID, NewEvent(EventParticipantLeft, PresencePayload{
			ParticipantID: connID,
			Count:         remaining,
		}), "")
		r.log.Info("participant left", "room", roomID, "conn", connID, "count", remaining)
	}
}

// RoomCount reports the number of live rooms. Exposed for metrics.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// MemberCount reports the member count of a room, or false if the room does
// not exist.
func (r *Registry) MemberCount(roomID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return 0, false
	}
	return len(room.Members), true
}
