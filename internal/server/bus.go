// Package server implements the optional Redis event bus that fans room
// events out across relay instances.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pairbrowse/relay/internal/relay"
)

const busChannelPrefix = "pairbrowse:room:"

// busMessage is the envelope published on the Redis channel. Origin identifies
// the publishing instance so subscribers can drop their own messages.
type busMessage struct {
	Origin string      `json:"origin"`
	RoomID string      `json:"roomId"`
	Event  relay.Event `json:"event"`
}

// EventBus relays room events between relay instances over Redis pub/sub.
// Each instance gets a random name; messages tagged with the local name are
// ignored on receipt, since they were already delivered locally.
type EventBus struct {
	rdb  *redis.Client
	name string
	log  *slog.Logger
}

// NewEventBus connects to Redis and verifies connectivity.
func NewEventBus(ctx context.Context, addr string, db int, logger *slog.Logger) (*EventBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}

	return &EventBus{
		rdb:  rdb,
		name: hex.EncodeToString(b[:]),
		log:  logger,
	}, nil
}

// Client returns the underlying Redis client, shared with the room store.
func (b *EventBus) Client() *redis.Client {
	return b.rdb
}

// Publish sends a room event to the channel for roomID.
func (b *EventBus) Publish(ctx context.Context, roomID string, event relay.Event) {
	raw, _ := json.Marshal(busMessage{Origin: b.name, RoomID: roomID, Event: event})
	if err := b.rdb.Publish(ctx, busChannelPrefix+roomID, raw).Err(); err != nil {
		b.log.Warn("bus publish failed", "room", roomID, "err", err)
	}
}

// Subscribe listens on all room channels and invokes fn for every event
// published by another instance. It returns when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, fn func(roomID string, event relay.Event)) {
	pubsub := b.rdb.PSubscribe(ctx, busChannelPrefix+"*")
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm busMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				b.log.Warn("bus message decode failed", "err", err)
				continue
			}
			if bm.Origin == b.name || bm.RoomID == "" {
				continue
			}
			fn(bm.RoomID, bm.Event)
		}
	}
}

// Close shuts down the Redis connection.
func (b *EventBus) Close() {
	_ = b.rdb.Close()
}
