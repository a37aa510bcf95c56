// Package store is the persistence boundary of the realtime services. The
// hub and session managers treat it as a potentially slow external
// collaborator: every call takes a context and is kept off the registry's
// critical sections.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultGroupName is the chat group every user lands in until multi-group
// membership ships.
const DefaultGroupName = "Default Safety Circle"

// Group is a chat group record.
type Group struct {
	ID   uuid.UUID
	Name string
}

// Location is a user's last known position.
type Location struct {
	Latitude  float64
	Longitude float64
	UpdatedAt time.Time
}

// PanicEvent records one SOS toggle with trigger/resolve timestamps.
type PanicEvent struct {
	ID           uuid.UUID
	UserID       int64
	Active       bool
	TriggeredAt  time.Time
	ResolvedAt   time.Time
	LocationHint string
}

// ChatRecord is a persisted chat message.
type ChatRecord struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	SenderID  int64
	Content   string
	Timestamp time.Time
}

// Store is the durable backend for messages, locations, panic events, group
// membership, and presence.
type Store interface {
	// GetOrCreateDefaultGroup resolves the shared default chat group,
	// creating it on first use.
	GetOrCreateDefaultGroup(ctx context.Context) (Group, error)

	// AddMember records the user's membership in a group. Adding an existing
	// member is a no-op.
	AddMember(ctx context.Context, groupID uuid.UUID, userID int64) error

	// SaveChatMessage appends a message to the group's history and returns
	// the persisted timestamp.
	SaveChatMessage(ctx context.Context, groupID uuid.UUID, senderID int64, content string) (time.Time, error)

	// UpsertLocation replaces the user's current location. No history is kept
	// for current-location.
	UpsertLocation(ctx context.Context, userID int64, lat, lon float64) error

	// LastLocation returns the user's current location, reporting false when
	// none has been recorded.
	LastLocation(ctx context.Context, userID int64) (Location, bool, error)

	// CreatePanicEvent opens a new active panic event triggered now.
	CreatePanicEvent(ctx context.Context, userID int64, locationHint string) (PanicEvent, error)

	// ResolveLatestPanic resolves the user's most recent active panic event.
	// When none is active it records and returns a resolved placeholder
	// event, mirroring idempotent already-resolved semantics.
	ResolveLatestPanic(ctx context.Context, userID int64) (PanicEvent, error)

	// SetPresence marks the user online for ttl.
	SetPresence(ctx context.Context, userID int64, ttl time.Duration) error

	// ClearPresence removes the user's online marker.
	ClearPresence(ctx context.Context, userID int64) error
}
