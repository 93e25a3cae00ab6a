package core

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Presence maps each online user to the ordered set of its live connections.
// A user is present iff it has at least one connection; empty sets are pruned.
//
// Every change produces a full snapshot that is broadcast to all connections,
// so the cost of a connect or disconnect is O(online users). Connects are far
// rarer than messages, but this does not hold up under very high churn.
type Presence struct {
	mu      sync.RWMutex
	users   map[string][]*Conn
	version uint64
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{users: make(map[string][]*Conn)}
}

// Register adds conn to its user's set. A connection already present is not
// inserted twice and changed is false.
func (p *Presence) Register(conn *Conn) (snapshot PresenceSnapshot, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.users[conn.UserID]
	if lo.ContainsBy(conns, func(c *Conn) bool { return c.ID == conn.ID }) {
		return p.snapshotLocked(), false
	}
	p.users[conn.UserID] = append(conns, conn)
	p.version++
	return p.snapshotLocked(), true
}

// Deregister removes conn and prunes the user when no connection remains.
func (p *Presence) Deregister(conn *Conn) (snapshot PresenceSnapshot, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.users[conn.UserID]
	if !ok {
		return p.snapshotLocked(), false
	}
	idx := slices.IndexFunc(conns, func(c *Conn) bool { return c.ID == conn.ID })
	if idx < 0 {
		return p.snapshotLocked(), false
	}

	remaining := slices.Delete(slices.Clone(conns), idx, idx+1)
	if len(remaining) == 0 {
		delete(p.users, conn.UserID)
	} else {
		p.users[conn.UserID] = remaining
	}
	p.version++
	return p.snapshotLocked(), true
}

// ConnectionsOf returns the user's live connections in registration order.
// Unknown users yield an empty slice.
func (p *Presence) ConnectionsOf(userID string) []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return slices.Clone(p.users[userID])
}

// OnlineUsers returns the sorted IDs of users with at least one connection.
func (p *Presence) OnlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.onlineLocked()
}

// Snapshot returns the current versioned presence snapshot.
func (p *Presence) Snapshot() PresenceSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snapshotLocked()
}

// Connections returns every live connection.
func (p *Presence) Connections() []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return lo.Flatten(lo.Values(p.users))
}

func (p *Presence) onlineLocked() []string {
	ids := lo.Keys(p.users)
	slices.Sort(ids)
	return ids
}

func (p *Presence) snapshotLocked() PresenceSnapshot {
	return PresenceSnapshot{Version: p.version, UserIDs: p.onlineLocked()}
}
