package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu           sync.Mutex
	defaultGroup *Group
	members      map[uuid.UUID]map[int64]struct{}
	messages     map[uuid.UUID][]ChatRecord
	locations    map[int64]Location
	panics       map[int64][]PanicEvent
	openPanic    map[int64]uuid.UUID
	presence     map[int64]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:   make(map[uuid.UUID]map[int64]struct{}),
		messages:  make(map[uuid.UUID][]ChatRecord),
		locations: make(map[int64]Location),
		panics:    make(map[int64][]PanicEvent),
		openPanic: make(map[int64]uuid.UUID),
		presence:  make(map[int64]time.Time),
	}
}

// GetOrCreateDefaultGroup implements Store.
func (s *MemoryStore) GetOrCreateDefaultGroup(_ context.Context) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.defaultGroup == nil {
		s.defaultGroup = &Group{ID: uuid.New(), Name: DefaultGroupName}
	}
	return *s.defaultGroup, nil
}

// AddMember implements Store.
func (s *MemoryStore) AddMember(_ context.Context, groupID uuid.UUID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.members[groupID] == nil {
		s.members[groupID] = make(map[int64]struct{})
	}
	s.members[groupID][userID] = struct{}{}
	return nil
}

// SaveChatMessage implements Store.
func (s *MemoryStore) SaveChatMessage(_ context.Context, groupID uuid.UUID, senderID int64, content string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := ChatRecord{
		ID:        uuid.New(),
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.messages[groupID] = append(s.messages[groupID], rec)
	return rec.Timestamp, nil
}

// UpsertLocation implements Store.
func (s *MemoryStore) UpsertLocation(_ context.Context, userID int64, lat, lon float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locations[userID] = Location{Latitude: lat, Longitude: lon, UpdatedAt: time.Now().UTC()}
	return nil
}

// LastLocation implements Store.
func (s *MemoryStore) LastLocation(_ context.Context, userID int64) (Location, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[userID]
	return loc, ok, nil
}

// CreatePanicEvent implements Store.
func (s *MemoryStore) CreatePanicEvent(_ context.Context, userID int64, locationHint string) (PanicEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt := PanicEvent{
		ID:           uuid.New(),
		UserID:       userID,
		Active:       true,
		TriggeredAt:  time.Now().UTC(),
		LocationHint: locationHint,
	}
	s.panics[userID] = append(s.panics[userID], evt)
	s.openPanic[userID] = evt.ID
	return evt, nil
}

// ResolveLatestPanic implements Store.
func (s *MemoryStore) ResolveLatestPanic(_ context.Context, userID int64) (PanicEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	openID, ok := s.openPanic[userID]
	if !ok {
		evt := PanicEvent{ID: uuid.New(), UserID: userID, ResolvedAt: now}
		s.panics[userID] = append(s.panics[userID], evt)
		return evt, nil
	}

	delete(s.openPanic, userID)
	events := s.panics[userID]
	for i := range events {
		if events[i].ID == openID {
			events[i].Active = false
			events[i].ResolvedAt = now
			return events[i], nil
		}
	}
	// Open marker with no backing event should not happen; fall back to a
	// placeholder.
	evt := PanicEvent{ID: uuid.New(), UserID: userID, ResolvedAt: now}
	s.panics[userID] = append(s.panics[userID], evt)
	return evt, nil
}

// SetPresence implements Store.
func (s *MemoryStore) SetPresence(_ context.Context, userID int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence[userID] = time.Now().Add(ttl)
	return nil
}

// ClearPresence implements Store.
func (s *MemoryStore) ClearPresence(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.presence, userID)
	return nil
}

// Messages returns a copy of the group's message history.
func (s *MemoryStore) Messages(groupID uuid.UUID) []ChatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ChatRecord(nil), s.messages[groupID]...)
}

// PanicHistory returns a copy of the user's panic events.
func (s *MemoryStore) PanicHistory(userID int64) []PanicEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]PanicEvent(nil), s.panics[userID]...)
}

// ActivePanics returns the user's currently active panic events.
func (s *MemoryStore) ActivePanics(userID int64) []PanicEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return lo.Filter(s.panics[userID], func(evt PanicEvent, _ int) bool {
		return evt.Active
	})
}

// Online reports whether the user currently holds an unexpired presence
// marker.
func (s *MemoryStore) Online(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.presence[userID]
	return ok && time.Now().Before(deadline)
}
