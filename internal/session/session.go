package session

import (
	"context"

	"github.com/havenapp/haven-server/internal/hub"
)

// State is a connection's position in its lifecycle. Transitions are
// Connecting → Joined → Closed; Closed is terminal.
type State int32

// Session states.
const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

// Transport is what a session manager needs from the connection it owns: the
// hub's delivery interface plus the live gate. Activate makes the connection
// visible to broadcasts; until then every Send reports failure, so a
// concurrent fan-out can never deliver to a connection whose joins are only
// partially applied.
type Transport interface {
	hub.Conn
	Activate()
}

// Handler is the transport layer's view of a session: it feeds inbound frames
// in and signals disconnect. Close must be safe to call more than once; the
// cleanup path runs exactly once.
type Handler interface {
	HandleMessage(ctx context.Context, raw []byte)
	Close()
}
