// Package hub implements the in-process group registry and broadcast router
// that fan events out to live WebSocket connections for the Haven services.
package hub

import "github.com/google/uuid"

// Conn is the hub's view of one live, authenticated socket session. The
// transport layer owns the connection and its lifecycle; the registry and
// router only hold references and must never block on a slow recipient.
type Conn interface {
	// ID returns the connection's unique identifier, stable for its lifetime.
	ID() uuid.UUID

	// Send enqueues an already-serialized payload for delivery. It must be
	// non-blocking and return false when the connection is not yet visible to
	// broadcasts, already closed, or its outbound buffer is full.
	Send(payload []byte) bool
}
