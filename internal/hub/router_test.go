package hub

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// countingEvent tracks how often it is serialized.
type countingEvent struct {
	encodes *int
}

func (countingEvent) Kind() string { return "counting" }

func (e countingEvent) Encode() ([]byte, error) {
	*e.encodes++
	return []byte(`{"n":1}`), nil
}

type brokenEvent struct{}

func (brokenEvent) Kind() string            { return "broken" }
func (brokenEvent) Encode() ([]byte, error) { return nil, errors.New("no encoding") }

func TestSendToGroupDeliversToAllMembers(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r)
	g := GroupID("chat_test")

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		r.Join(g, c)
	}

	event := ChatMessage{Username: "alice", Content: "hi", Timestamp: time.Now()}
	attempted := rt.SendToGroup(g, event, uuid.Nil)

	require.Equal(t, 3, attempted)
	for _, c := range conns {
		require.Len(t, c.received(), 1)
		require.JSONEq(t, `{"message":"hi","username":"alice"}`, string(c.received()[0]))
	}
}

func TestSendToGroupSerializesOnce(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r)
	g := GroupID("chat_test")

	for i := 0; i < 5; i++ {
		r.Join(g, newFakeConn())
	}

	encodes := 0
	rt.SendToGroup(g, countingEvent{encodes: &encodes}, uuid.Nil)
	require.Equal(t, 1, encodes)
}

func TestSendToGroupIsolatesFailedRecipients(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r)
	g := GroupID("chat_test")

	before := newFakeConn()
	failing := newFakeConn()
	failing.dead = true
	after := newFakeConn()
	r.Join(g, before)
	r.Join(g, failing)
	r.Join(g, after)

	attempted := rt.SendToGroup(g, ChatMessage{Username: "a", Content: "x"}, uuid.Nil)

	// The failure is counted as an attempt and never aborts the fan-out.
	require.Equal(t, 3, attempted)
	require.Len(t, before.received(), 1)
	require.Len(t, failing.received(), 0)
	require.Len(t, after.received(), 1)
}

func TestSendToGroupExcludesSender(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r)
	g := GroupID("chat_test")

	sender := newFakeConn()
	other := newFakeConn()
	r.Join(g, sender)
	r.Join(g, other)

	attempted := rt.SendToGroup(g, ChatMessage{Username: "a", Content: "x"}, sender.ID())

	require.Equal(t, 1, attempted)
	require.Len(t, sender.received(), 0)
	require.Len(t, other.received(), 1)
}

func TestSendToGroupEmptyGroup(t *testing.T) {
	rt := NewRouter(NewRegistry())
	require.Equal(t, 0, rt.SendToGroup(GroupID("empty"), ChatMessage{}, uuid.Nil))
}

func TestSendToGroupEncodeFailure(t *testing.T) {
	r := NewRegistry()
	rt := NewRouter(r)
	g := GroupID("chat_test")
	c := newFakeConn()
	r.Join(g, c)

	require.Equal(t, 0, rt.SendToGroup(g, brokenEvent{}, uuid.Nil))
	require.Len(t, c.received(), 0)
}

func TestSendToConn(t *testing.T) {
	rt := NewRouter(NewRegistry())

	alive := newFakeConn()
	require.True(t, rt.SendToConn(alive, ChatMessage{Username: "a", Content: "x"}))
	require.Len(t, alive.received(), 1)

	dead := newFakeConn()
	dead.dead = true
	require.False(t, rt.SendToConn(dead, ChatMessage{Username: "a", Content: "x"}))
}
