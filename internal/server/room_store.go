// Package server implements the Redis-backed room store that lets relay
// instances resolve rooms created elsewhere.
package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomStateKeyPrefix = "pairbrowse:roomstate:"
	roomMembersField   = "members"
	roomURLField       = "url"

	storeTimeout = 2 * time.Second
)

// RoomStore keeps room existence, global member counts, and the shared
// navigation target in a Redis hash per room, so a join on any instance can
// resolve a room created on another. It implements relay.RoomStore. Existence
// checks and count updates are separate round trips; the window between them
// is the same best-effort territory as room-id collisions.
type RoomStore struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRoomStore wraps an existing Redis client, normally the event bus's.
func NewRoomStore(rdb *redis.Client, logger *slog.Logger) *RoomStore {
	return &RoomStore{rdb: rdb, log: logger}
}

func (s *RoomStore) key(roomID string) string {
	return roomStateKeyPrefix + roomID
}

func (s *RoomStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}

// Claim records a fresh room with one member. Reports false when the id is
// already taken by a live room.
func (s *RoomStore) Claim(ctx context.Context, roomID string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.HSetNX(ctx, s.key(roomID), roomMembersField, 1).Result()
}

// Join increments the room's member count and returns the new global count and
// the room's navigation target. ok is false when no instance has the room.
func (s *RoomStore) Join(ctx context.Context, roomID string) (int, *string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	key := s.key(roomID)
	exists, err := s.rdb.HExists(ctx, key, roomMembersField).Result()
	if err != nil || !exists {
		return 0, nil, false, err
	}
	count, err := s.rdb.HIncrBy(ctx, key, roomMembersField, 1).Result()
	if err != nil {
		return 0, nil, false, err
	}
	return int(count), s.currentURL(ctx, key), true, nil
}

// Lookup reads the room's global member count and navigation target without
// mutating anything.
func (s *RoomStore) Lookup(ctx context.Context, roomID string) (int, *string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	fields, err := s.rdb.HGetAll(ctx, s.key(roomID)).Result()
	if err != nil {
		return 0, nil, false, err
	}
	raw, ok := fields[roomMembersField]
	if !ok {
		return 0, nil, false, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil, false, err
	}
	var currentURL *string
	if url, ok := fields[roomURLField]; ok {
		currentURL = &url
	}
	return count, currentURL, true, nil
}

// SetURL records the room's shared navigation target. ok reports whether the
// room exists.
func (s *RoomStore) SetURL(ctx context.Context, roomID, url string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	key := s.key(roomID)
	exists, err := s.rdb.HExists(ctx, key, roomMembersField).Result()
	if err != nil || !exists {
		return false, err
	}
	if err := s.rdb.HSet(ctx, key, roomURLField, url).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Leave decrements the room's member count and returns the remaining global
// count, deleting the room's state when it reaches zero.
func (s *RoomStore) Leave(ctx context.Context, roomID string) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	key := s.key(roomID)
	remaining, err := s.rdb.HIncrBy(ctx, key, roomMembersField, -1).Result()
	if err != nil {
		return 0, err
	}
	if remaining <= 0 {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			s.log.Warn("room state cleanup failed", "room", roomID, "err", err)
		}
		return 0, nil
	}
	return int(remaining), nil
}

func (s *RoomStore) currentURL(ctx context.Context, key string) *string {
	url, err := s.rdb.HGet(ctx, key, roomURLField).Result()
	if err != nil {
		// redis.Nil when nobody has navigated yet.
		return nil
	}
	return &url
}
