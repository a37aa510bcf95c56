package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/havenapp/haven-server/internal/auth"
	"github.com/havenapp/haven-server/internal/hub"
	"github.com/havenapp/haven-server/internal/store"
)

// fakeTransport implements Transport and records delivered payloads.
type fakeTransport struct {
	id   uuid.UUID
	live bool

	mu       sync.Mutex
	payloads [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New()}
}

func (f *fakeTransport) ID() uuid.UUID { return f.id }

func (f *fakeTransport) Activate() { f.live = true }

func (f *fakeTransport) Send(payload []byte) bool {
	if !f.live {
		return false
	}
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	return true
}

func (f *fakeTransport) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

type chatFixture struct {
	registry *hub.Registry
	router   *hub.Router
	store    store.Store
	memory   *store.MemoryStore
}

func newChatFixture() *chatFixture {
	registry := hub.NewRegistry()
	memory := store.NewMemoryStore()
	return &chatFixture{
		registry: registry,
		router:   hub.NewRouter(registry),
		store:    memory,
		memory:   memory,
	}
}

func (fx *chatFixture) connect(t *testing.T, identity auth.Identity) (*Chat, *fakeTransport) {
	t.Helper()
	conn := newFakeTransport()
	sess, err := NewChat(context.Background(), identity, conn, fx.registry, fx.router, fx.store)
	require.NoError(t, err)
	return sess, conn
}

func TestChatConnectJoinsDefaultGroup(t *testing.T) {
	fx := newChatFixture()
	sess, conn := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})

	require.Equal(t, StateJoined, sess.State())
	require.True(t, conn.live, "connection must be activated after the join")
	require.Equal(t, 1, fx.registry.Count(sess.Group()))
}

func TestChatMessageSelfEcho(t *testing.T) {
	fx := newChatFixture()
	alice, aliceConn := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})
	_, bobConn := fx.connect(t, auth.Identity{UserID: 2, Username: "bob"})

	alice.HandleMessage(context.Background(), []byte(`{"message":"hello circle"}`))

	// Both members receive the broadcast, including the sender: a user may be
	// connected from several devices.
	for _, conn := range []*fakeTransport{aliceConn, bobConn} {
		payloads := conn.received()
		require.Len(t, payloads, 1)
		require.JSONEq(t, `{"message":"hello circle","username":"alice"}`, string(payloads[0]))
	}
}

func TestChatMessageIsPersistedBeforeBroadcast(t *testing.T) {
	fx := newChatFixture()
	alice, _ := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})

	alice.HandleMessage(context.Background(), []byte(`{"message":"saved"}`))

	records := fx.memory.Messages(alice.groupRecord.ID)
	require.Len(t, records, 1)
	require.Equal(t, int64(1), records[0].SenderID)
	require.Equal(t, "saved", records[0].Content)
	require.False(t, records[0].Timestamp.IsZero())
}

func TestChatMalformedPayloadIsDiscarded(t *testing.T) {
	fx := newChatFixture()
	alice, aliceConn := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})

	alice.HandleMessage(context.Background(), []byte(`{"foo": 1}`))
	alice.HandleMessage(context.Background(), []byte(`not json`))

	require.Len(t, aliceConn.received(), 0)
	require.Equal(t, StateJoined, alice.State())
	require.Len(t, fx.memory.Messages(alice.groupRecord.ID), 0)

	// The connection keeps working after malformed input.
	alice.HandleMessage(context.Background(), []byte(`{"message":"still here"}`))
	require.Len(t, aliceConn.received(), 1)
}

type failingChatStore struct {
	store.Store
}

func (failingChatStore) SaveChatMessage(context.Context, uuid.UUID, int64, string) (time.Time, error) {
	return time.Time{}, errors.New("store unavailable")
}

func TestChatPersistenceFailureSkipsBroadcast(t *testing.T) {
	fx := newChatFixture()
	alice, aliceConn := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})
	alice.store = failingChatStore{Store: fx.store}

	alice.HandleMessage(context.Background(), []byte(`{"message":"lost"}`))

	require.Len(t, aliceConn.received(), 0)
	require.Equal(t, StateJoined, alice.State())
}

type failingGroupStore struct {
	store.Store
}

func (failingGroupStore) GetOrCreateDefaultGroup(context.Context) (store.Group, error) {
	return store.Group{}, errors.New("store unavailable")
}

func TestChatConnectFailsWhenGroupUnresolvable(t *testing.T) {
	fx := newChatFixture()
	conn := newFakeTransport()

	_, err := NewChat(context.Background(), auth.Identity{UserID: 1, Username: "alice"}, conn,
		fx.registry, fx.router, failingGroupStore{Store: fx.store})

	require.Error(t, err)
	require.False(t, conn.live)
}

func TestChatCloseIsIdempotent(t *testing.T) {
	fx := newChatFixture()
	alice, _ := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})
	_, bobConn := fx.connect(t, auth.Identity{UserID: 2, Username: "bob"})

	group := alice.Group()
	alice.Close()
	stateAfterOne := fx.registry.Count(group)
	alice.Close()

	require.Equal(t, stateAfterOne, fx.registry.Count(group))
	require.Equal(t, 1, fx.registry.Count(group))
	require.Equal(t, StateClosed, alice.State())

	members := fx.registry.MembersOf(group)
	require.Len(t, members, 1)
	require.Equal(t, bobConn.ID(), members[0].ID())
}

func TestChatClosedSessionIgnoresMessages(t *testing.T) {
	fx := newChatFixture()
	alice, _ := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})
	_, bobConn := fx.connect(t, auth.Identity{UserID: 2, Username: "bob"})

	alice.Close()
	alice.HandleMessage(context.Background(), []byte(`{"message":"ghost"}`))

	require.Len(t, bobConn.received(), 0)
}

func TestChatMembershipRecordedInStore(t *testing.T) {
	fx := newChatFixture()
	sess, _ := fx.connect(t, auth.Identity{UserID: 9, Username: "ines"})

	group, err := fx.store.GetOrCreateDefaultGroup(context.Background())
	require.NoError(t, err)
	require.Equal(t, group.ID, sess.groupRecord.ID)
	require.Equal(t, store.DefaultGroupName, group.Name)
}

func TestChatBroadcastPayloadShape(t *testing.T) {
	fx := newChatFixture()
	alice, aliceConn := fx.connect(t, auth.Identity{UserID: 1, Username: "alice"})

	alice.HandleMessage(context.Background(), []byte(`{"message":"shape check"}`))

	payloads := aliceConn.received()
	require.Len(t, payloads, 1)

	var out map[string]any
	require.NoError(t, json.Unmarshal(payloads[0], &out))
	require.Equal(t, map[string]any{"message": "shape check", "username": "alice"}, out)
}
