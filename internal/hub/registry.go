package hub

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// GroupID identifies a named set of connections that receive the same
// broadcasts.
type GroupID string

// TrustedContactsGroup is the single well-known group that receives every
// safety broadcast (location and panic) from every monitored user. There is
// deliberately no per-relationship scoping.
const TrustedContactsGroup GroupID = "safety_trusted_contacts"

// ChatGroup derives the group id for a chat group record.
func ChatGroup(id uuid.UUID) GroupID {
	return GroupID("chat_" + id.String())
}

// PersonalSafetyGroup derives the group id for a user's personal safety
// channel.
func PersonalSafetyGroup(userID int64) GroupID {
	return GroupID("safety_" + strconv.FormatInt(userID, 10))
}

// group holds one group's member set. Members keep insertion order so that
// fan-out and snapshots are deterministic.
type group struct {
	mu      sync.Mutex
	evicted bool
	order   []Conn
	index   map[uuid.UUID]int
}

func (g *group) add(c Conn) {
	if _, ok := g.index[c.ID()]; ok {
		return
	}
	g.index[c.ID()] = len(g.order)
	g.order = append(g.order, c)
}

func (g *group) remove(c Conn) {
	pos, ok := g.index[c.ID()]
	if !ok {
		return
	}
	delete(g.index, c.ID())
	g.order = append(g.order[:pos], g.order[pos+1:]...)
	for i := pos; i < len(g.order); i++ {
		g.index[g.order[i].ID()] = i
	}
}

// Registry maps group ids to their current member connections. It holds
// non-owning references only: a connection is removed on leave/disconnect and
// the registry never extends its lifetime.
//
// Locking is two-level: a read-write mutex guards the group map, a per-group
// mutex guards each member set. Traffic on unrelated groups never contends on
// member iteration.
type Registry struct {
	mu     sync.RWMutex
	groups map[GroupID]*group
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[GroupID]*group)}
}

// lookup returns the live group for id, or nil.
func (r *Registry) lookup(id GroupID) *group {
	r.mu.RLock()
	g := r.groups[id]
	r.mu.RUnlock()
	return g
}

// Join adds c to the group's member set, creating the group on first join.
// Joining a group the connection is already a member of is a no-op.
func (r *Registry) Join(id GroupID, c Conn) {
	for {
		g := r.lookup(id)
		if g == nil {
			r.mu.Lock()
			g = r.groups[id]
			if g == nil {
				g = &group{index: make(map[uuid.UUID]int)}
				r.groups[id] = g
			}
			r.mu.Unlock()
		}

		g.mu.Lock()
		if g.evicted {
			// Lost a race with eviction; the map entry is gone. Retry
			// against a fresh group.
			g.mu.Unlock()
			continue
		}
		g.add(c)
		g.mu.Unlock()
		return
	}
}

// Leave removes c from the group's member set. Leaving a group the connection
// is not a member of is a no-op. A group left empty is evicted from the map;
// eviction re-checks emptiness under both locks so it cannot race a
// concurrent Join.
func (r *Registry) Leave(id GroupID, c Conn) {
	g := r.lookup(id)
	if g == nil {
		return
	}

	g.mu.Lock()
	g.remove(c)
	empty := len(g.order) == 0
	g.mu.Unlock()

	if !empty {
		return
	}

	r.mu.Lock()
	if cur := r.groups[id]; cur == g {
		g.mu.Lock()
		if len(g.order) == 0 {
			g.evicted = true
			delete(r.groups, id)
		}
		g.mu.Unlock()
	}
	r.mu.Unlock()
}

// MembersOf returns a snapshot of the group's members in join order. The
// snapshot is consistent: it never observes a half-applied join or leave.
func (r *Registry) MembersOf(id GroupID) []Conn {
	g := r.lookup(id)
	if g == nil {
		return nil
	}

	g.mu.Lock()
	members := make([]Conn, len(g.order))
	copy(members, g.order)
	g.mu.Unlock()
	return members
}

// Count returns the group's current member count.
func (r *Registry) Count(id GroupID) int {
	g := r.lookup(id)
	if g == nil {
		return 0
	}

	g.mu.Lock()
	n := len(g.order)
	g.mu.Unlock()
	return n
}
