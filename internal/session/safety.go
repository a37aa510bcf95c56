package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/havenapp/haven-server/internal/auth"
	"github.com/havenapp/haven-server/internal/hub"
	"github.com/havenapp/haven-server/internal/store"
)

// Safety is the session manager for one safety connection. Every user joins
// their personal channel; trusted contacts additionally join the shared
// trusted-contacts group and receive every location and panic broadcast.
type Safety struct {
	conn     Transport
	identity auth.Identity
	registry *hub.Registry
	router   *hub.Router
	store    store.Store

	personal      hub.GroupID
	joinedTrusted bool

	state     atomic.Int32
	closeOnce sync.Once
}

// NewSafety joins the caller's personal channel and, for trusted contacts,
// the trusted-contacts group, then activates the connection. Both joins are
// applied before activation, so a broadcast can never reach a connection that
// holds only one of its two memberships.
func NewSafety(identity auth.Identity, conn Transport, registry *hub.Registry, router *hub.Router, st store.Store) *Safety {
	s := &Safety{
		conn:     conn,
		identity: identity,
		registry: registry,
		router:   router,
		store:    st,
		personal: hub.PersonalSafetyGroup(identity.UserID),
	}

	s.registry.Join(s.personal, conn)
	if identity.Trusted {
		s.registry.Join(hub.TrustedContactsGroup, conn)
		s.joinedTrusted = true
	}
	conn.Activate()
	s.state.Store(int32(StateJoined))
	return s
}

// State returns the session's current lifecycle state.
func (s *Safety) State() State {
	return State(s.state.Load())
}

// HandleMessage implements Handler. Frames parse to exactly one of location
// update, panic toggle, or malformed; malformed frames are discarded
// silently. Broadcasts target the trusted-contacts group only — never the
// sender's personal channel — and are skipped when persistence fails.
func (s *Safety) HandleMessage(ctx context.Context, raw []byte) {
	if s.State() != StateJoined {
		return
	}

	p := ParseSafety(raw)
	switch p.Kind {
	case PayloadLocation:
		s.handleLocation(ctx, p)
	case PayloadPanic:
		s.handlePanic(ctx, p)
	default:
		log.Printf("Invalid safety payload from connection %s; discarding", s.conn.ID())
	}
}

func (s *Safety) handleLocation(ctx context.Context, p Payload) {
	if err := s.store.UpsertLocation(ctx, s.identity.UserID, p.Latitude, p.Longitude); err != nil {
		log.Printf("Persisting location for connection %s failed: %v", s.conn.ID(), err)
		return
	}

	s.router.SendToGroup(hub.TrustedContactsGroup, hub.LocationUpdate{
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
	}, uuid.Nil)
}

func (s *Safety) handlePanic(ctx context.Context, p Payload) {
	var (
		evt hub.PanicStatus
		err error
	)
	if p.PanicActive {
		evt, err = s.triggerPanic(ctx)
	} else {
		evt, err = s.resolvePanic(ctx)
	}
	if err != nil {
		log.Printf("Persisting panic toggle from connection %s failed: %v", s.conn.ID(), err)
		return
	}

	s.router.SendToGroup(hub.TrustedContactsGroup, evt, uuid.Nil)
}

func (s *Safety) triggerPanic(ctx context.Context) (hub.PanicStatus, error) {
	rec, err := s.store.CreatePanicEvent(ctx, s.identity.UserID, s.locationHint(ctx))
	if err != nil {
		return hub.PanicStatus{}, err
	}
	return hub.PanicStatus{
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
		Status:    hub.PanicActive,
		Timestamp: rec.TriggeredAt,
	}, nil
}

func (s *Safety) resolvePanic(ctx context.Context) (hub.PanicStatus, error) {
	// Resolving with no active event still yields a resolved placeholder
	// record, so the broadcast happens either way.
	rec, err := s.store.ResolveLatestPanic(ctx, s.identity.UserID)
	if err != nil {
		return hub.PanicStatus{}, err
	}
	return hub.PanicStatus{
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
		Status:    hub.PanicResolved,
		Timestamp: rec.ResolvedAt,
	}, nil
}

// locationHint captures the user's last known position for the panic record.
func (s *Safety) locationHint(ctx context.Context) string {
	loc, ok, err := s.store.LastLocation(ctx, s.identity.UserID)
	if err != nil {
		log.Printf("Loading location hint for connection %s failed: %v", s.conn.ID(), err)
		return "Unknown"
	}
	if !ok {
		return "Unknown"
	}
	return fmt.Sprintf("%v, %v", loc.Latitude, loc.Longitude)
}

// Close implements Handler. Leaves the personal channel and, if joined, the
// trusted-contacts group; runs exactly once no matter how often the
// transport signals disconnect.
func (s *Safety) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.registry.Leave(s.personal, s.conn)
		if s.joinedTrusted {
			s.registry.Leave(hub.TrustedContactsGroup, s.conn)
		}
		log.Printf("Safety session for connection %s closed", s.conn.ID())
	})
}
