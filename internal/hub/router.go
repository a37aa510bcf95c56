package hub

import (
	"log"

	"github.com/google/uuid"
)

// Router delivers events to every connection registered under a group, or to
// an individual connection, decoupling senders from transport fan-out.
type Router struct {
	registry *Registry
}

// NewRouter returns a Router that resolves membership through registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// SendToGroup serializes event once and attempts delivery to every member of
// the group at the moment the membership snapshot is taken. A non-nil exclude
// id skips the originating connection. It returns the number of connections
// delivery was attempted on; transport sends are fire-and-forget, so the
// count is attempts, not acknowledgements.
//
// A failure delivering to one member never aborts delivery to the rest. The
// failing connection's own disconnect path handles its cleanup; the router
// only logs and moves on.
func (rt *Router) SendToGroup(id GroupID, event Event, exclude uuid.UUID) int {
	members := rt.registry.MembersOf(id)
	if len(members) == 0 {
		return 0
	}

	payload, err := event.Encode()
	if err != nil {
		log.Printf("Dropping %s broadcast to %s: encode failed: %v", event.Kind(), id, err)
		return 0
	}

	attempted := 0
	for _, member := range members {
		if exclude != uuid.Nil && member.ID() == exclude {
			continue
		}
		attempted++
		if !member.Send(payload) {
			log.Printf("Failed to deliver %s event to connection %s in group %s", event.Kind(), member.ID(), id)
		}
	}
	return attempted
}

// SendToConn delivers event directly to a single connection. It returns false
// if the connection is no longer live instead of treating that as an error.
func (rt *Router) SendToConn(c Conn, event Event) bool {
	payload, err := event.Encode()
	if err != nil {
		log.Printf("Dropping %s event for connection %s: encode failed: %v", event.Kind(), c.ID(), err)
		return false
	}
	return c.Send(payload)
}
