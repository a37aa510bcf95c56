package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store, backed by Redis as system of record.
// When a Journal is attached, chat messages are additionally published to it
// best-effort: a journal error is logged but never fails the save, Redis
// already holds the durable copy.
type RedisStore struct {
	client  *redis.Client
	journal *Journal
}

// NewRedisStore returns a Store over client. journal may be nil.
func NewRedisStore(client *redis.Client, journal *Journal) *RedisStore {
	return &RedisStore{client: client, journal: journal}
}

func keyDefaultGroup() string          { return "group:default" }
func keyGroupName(id uuid.UUID) string { return "group:" + id.String() + ":name" }
func keyMembers(id uuid.UUID) string   { return "group:" + id.String() + ":members" }
func keyMessages(id uuid.UUID) string  { return "chat:" + id.String() + ":messages" }
func keyLocation(userID int64) string  { return "location:" + strconv.FormatInt(userID, 10) }
func keyPanicOpen(userID int64) string { return "panic:" + strconv.FormatInt(userID, 10) + ":active" }
func keyPanicLog(userID int64) string  { return "panic:" + strconv.FormatInt(userID, 10) + ":events" }
func keyPresence(userID int64) string  { return "user:" + strconv.FormatInt(userID, 10) + ":online" }

// GetOrCreateDefaultGroup implements Store.
func (s *RedisStore) GetOrCreateDefaultGroup(ctx context.Context) (Group, error) {
	id := uuid.New()
	created, err := s.client.SetNX(ctx, keyDefaultGroup(), id.String(), 0).Result()
	if err != nil {
		return Group{}, fmt.Errorf("reserve default group: %w", err)
	}

	if !created {
		raw, err := s.client.Get(ctx, keyDefaultGroup()).Result()
		if err != nil {
			return Group{}, fmt.Errorf("load default group: %w", err)
		}
		id, err = uuid.Parse(raw)
		if err != nil {
			return Group{}, fmt.Errorf("default group id %q: %w", raw, err)
		}
		return Group{ID: id, Name: DefaultGroupName}, nil
	}

	if err := s.client.Set(ctx, keyGroupName(id), DefaultGroupName, 0).Err(); err != nil {
		return Group{}, fmt.Errorf("name default group: %w", err)
	}
	return Group{ID: id, Name: DefaultGroupName}, nil
}

// AddMember implements Store.
func (s *RedisStore) AddMember(ctx context.Context, groupID uuid.UUID, userID int64) error {
	if err := s.client.SAdd(ctx, keyMembers(groupID), userID).Err(); err != nil {
		return fmt.Errorf("add member %d to group %s: %w", userID, groupID, err)
	}
	return nil
}

// SaveChatMessage implements Store.
func (s *RedisStore) SaveChatMessage(ctx context.Context, groupID uuid.UUID, senderID int64, content string) (time.Time, error) {
	rec := ChatRecord{
		ID:        uuid.New(),
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode chat message: %w", err)
	}
	if err := s.client.RPush(ctx, keyMessages(groupID), raw).Err(); err != nil {
		return time.Time{}, fmt.Errorf("save chat message: %w", err)
	}

	if s.journal != nil {
		if err := s.journal.Publish(ctx, groupID, raw); err != nil {
			log.Printf("Journal publish for group %s failed: %v", groupID, err)
		}
	}
	return rec.Timestamp, nil
}

// UpsertLocation implements Store.
func (s *RedisStore) UpsertLocation(ctx context.Context, userID int64, lat, lon float64) error {
	err := s.client.HSet(ctx, keyLocation(userID),
		"latitude", lat,
		"longitude", lon,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("upsert location for user %d: %w", userID, err)
	}
	return nil
}

// LastLocation implements Store.
func (s *RedisStore) LastLocation(ctx context.Context, userID int64) (Location, bool, error) {
	fields, err := s.client.HGetAll(ctx, keyLocation(userID)).Result()
	if err != nil {
		return Location{}, false, fmt.Errorf("load location for user %d: %w", userID, err)
	}
	if len(fields) == 0 {
		return Location{}, false, nil
	}

	lat, err := strconv.ParseFloat(fields["latitude"], 64)
	if err != nil {
		return Location{}, false, fmt.Errorf("location latitude for user %d: %w", userID, err)
	}
	lon, err := strconv.ParseFloat(fields["longitude"], 64)
	if err != nil {
		return Location{}, false, fmt.Errorf("location longitude for user %d: %w", userID, err)
	}
	updated, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return Location{Latitude: lat, Longitude: lon, UpdatedAt: updated}, true, nil
}

// CreatePanicEvent implements Store.
func (s *RedisStore) CreatePanicEvent(ctx context.Context, userID int64, locationHint string) (PanicEvent, error) {
	evt := PanicEvent{
		ID:           uuid.New(),
		UserID:       userID,
		Active:       true,
		TriggeredAt:  time.Now().UTC(),
		LocationHint: locationHint,
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return PanicEvent{}, fmt.Errorf("encode panic event: %w", err)
	}
	if err := s.client.Set(ctx, keyPanicOpen(userID), raw, 0).Err(); err != nil {
		return PanicEvent{}, fmt.Errorf("open panic event for user %d: %w", userID, err)
	}
	if err := s.client.RPush(ctx, keyPanicLog(userID), raw).Err(); err != nil {
		return PanicEvent{}, fmt.Errorf("log panic event for user %d: %w", userID, err)
	}
	return evt, nil
}

// ResolveLatestPanic implements Store.
func (s *RedisStore) ResolveLatestPanic(ctx context.Context, userID int64) (PanicEvent, error) {
	raw, err := s.client.Get(ctx, keyPanicOpen(userID)).Result()

	var evt PanicEvent
	switch {
	case errors.Is(err, redis.Nil):
		// No active event: record a resolved placeholder so the toggle stays
		// idempotent from the caller's side.
		evt = PanicEvent{ID: uuid.New(), UserID: userID}
	case err != nil:
		return PanicEvent{}, fmt.Errorf("load active panic for user %d: %w", userID, err)
	default:
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return PanicEvent{}, fmt.Errorf("decode active panic for user %d: %w", userID, err)
		}
		if err := s.client.Del(ctx, keyPanicOpen(userID)).Err(); err != nil {
			return PanicEvent{}, fmt.Errorf("close panic event for user %d: %w", userID, err)
		}
	}

	evt.Active = false
	evt.ResolvedAt = time.Now().UTC()
	logRaw, err := json.Marshal(evt)
	if err != nil {
		return PanicEvent{}, fmt.Errorf("encode resolved panic: %w", err)
	}
	if err := s.client.RPush(ctx, keyPanicLog(userID), logRaw).Err(); err != nil {
		return PanicEvent{}, fmt.Errorf("log resolved panic for user %d: %w", userID, err)
	}
	return evt, nil
}

// SetPresence implements Store.
func (s *RedisStore) SetPresence(ctx context.Context, userID int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPresence(userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set presence for user %d: %w", userID, err)
	}
	return nil
}

// ClearPresence implements Store.
func (s *RedisStore) ClearPresence(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, keyPresence(userID)).Err(); err != nil {
		return fmt.Errorf("clear presence for user %d: %w", userID, err)
	}
	return nil
}
