// Package relay implements the room registry at the heart of the PairBrowse
// co-browsing service: rooms, their member sets, and the shared navigation
// state, along with the wire events exchanged with connected browsers.
package relay

import "encoding/json"

// Inbound event types sent by clients.
const (
	EventCreateRoom = "create-room"
	EventJoinRoom   = "join-room"
	EventURLChange  = "url-change"
)

// Outbound event types emitted by the registry.
const (
	EventRoomCreated       = "room-created"
	EventRoomJoined        = "room-joined"
	EventError             = "error"
	EventParticipantJoined = "participant-joined"
	EventURLChanged        = "url-changed"
	EventParticipantLeft   = "participant-left"
)

// Event is the JSON envelope for every message on the wire, in both
// directions. Payload holds the event-specific object, if any.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRoomRequest is the payload of an inbound join-room event.
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

// URLChangeRequest is the payload of an inbound url-change event.
type URLChangeRequest struct {
	RoomID string `json:"roomId"`
	URL    string `json:"url"`
}

// RoomCreatedPayload acknowledges room creation to the requester.
type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

// RoomJoinedPayload acknowledges a successful join. CurrentURL is null when
// nobody has navigated yet.
type RoomJoinedPayload struct {
	RoomID     string  `json:"roomId"`
	CurrentURL *string `json:"currentUrl"`
}

// ErrorPayload carries a human-readable failure message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PresencePayload announces a membership change to a room, together with the
// member count after the change.
type PresencePayload struct {
	ParticipantID string `json:"participantId"`
	Count         int    `json:"count"`
}

// URLChangedPayload carries the new shared navigation target.
type URLChangedPayload struct {
	URL string `json:"url"`
}

// NewEvent builds an Event with the given type and payload. Payload types are
// all local structs, so marshalling cannot fail in practice.
func NewEvent(eventType string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: eventType, Payload: data}
}

// NewErrorEvent builds the uniform error event sent back to a requester.
func NewErrorEvent(message string) Event {
	return NewEvent(EventError, ErrorPayload{Message: message})
}

// ParseEvent decodes a raw inbound frame into an Event envelope.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
