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

// Chat is the session manager for one chat connection. It joins the user's
// default group on connect, persists and broadcasts valid messages, and
// leaves the group exactly once on disconnect.
type Chat struct {
	conn     Transport
	identity auth.Identity
	registry *hub.Registry
	router   *hub.Router
	store    store.Store

	groupRecord store.Group
	group       hub.GroupID

	state     atomic.Int32
	closeOnce sync.Once
}

// NewChat resolves the user's default group, records membership, joins the
// registry, and activates the connection. The caller must have authenticated
// the identity already; anonymous callers never reach this point.
func NewChat(ctx context.Context, identity auth.Identity, conn Transport, registry *hub.Registry, router *hub.Router, st store.Store) (*Chat, error) {
	group, err := st.GetOrCreateDefaultGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve default group: %w", err)
	}
	if err := st.AddMember(ctx, group.ID, identity.UserID); err != nil {
		return nil, fmt.Errorf("record group membership: %w", err)
	}

	s := &Chat{
		conn:        conn,
		identity:    identity,
		registry:    registry,
		router:      router,
		store:       st,
		groupRecord: group,
		group:       hub.ChatGroup(group.ID),
	}

	s.registry.Join(s.group, conn)
	conn.Activate()
	s.state.Store(int32(StateJoined))
	return s, nil
}

// State returns the session's current lifecycle state.
func (s *Chat) State() State {
	return State(s.state.Load())
}

// Group returns the hub group this session broadcasts to.
func (s *Chat) Group() hub.GroupID {
	return s.group
}

// HandleMessage implements Handler. Malformed frames are discarded silently
// and the connection stays joined. A valid message is persisted first; if the
// store fails, the broadcast is skipped because nothing was durably recorded.
// The broadcast includes the sender's own connection: users may be connected
// from several devices, so self-echo is expected.
func (s *Chat) HandleMessage(ctx context.Context, raw []byte) {
	if s.State() != StateJoined {
		return
	}

	p := ParseChat(raw)
	if p.Kind != PayloadChat {
		log.Printf("Invalid chat payload from connection %s; discarding", s.conn.ID())
		return
	}

	ts, err := s.store.SaveChatMessage(ctx, s.groupRecord.ID, s.identity.UserID, p.Message)
	if err != nil {
		log.Printf("Persisting chat message from connection %s failed: %v", s.conn.ID(), err)
		return
	}

	s.router.SendToGroup(s.group, hub.ChatMessage{
		Group:     s.group,
		SenderID:  s.identity.UserID,
		Username:  s.identity.Username,
		Content:   p.Message,
		Timestamp: ts,
	}, uuid.Nil)
}

// Close implements Handler. The transport may signal disconnect more than
// once; the leave runs exactly once.
func (s *Chat) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.registry.Leave(s.group, s.conn)
		log.Printf("Chat session for connection %s closed", s.conn.ID())
	})
}
