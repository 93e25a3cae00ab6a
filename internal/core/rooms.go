package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const (
	chatRoomPrefix     = "chat:"
	personalRoomPrefix = "user:"
)

// ChatRoom is the broadcast room key of a conversation.
func ChatRoom(conversationID string) string { return chatRoomPrefix + conversationID }

// PersonalRoom is the implicit channel every connection of a user is subscribed to.
func PersonalRoom(userID string) string { return personalRoomPrefix + userID }

// ParticipantChecker answers whether a user belongs to a conversation.
// Implementations typically hit the datastore.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Rooms tracks which connections are subscribed to which rooms.
type Rooms struct {
	checker ParticipantChecker

	mu      sync.RWMutex
	members map[string]map[string]*Conn    // room key -> conn ID -> conn
	byConn  map[string]map[string]struct{} // conn ID -> room keys; present only while attached
}

// NewRooms creates an empty membership manager.
func NewRooms(checker ParticipantChecker) *Rooms {
	return &Rooms{
		checker: checker,
		members: make(map[string]map[string]*Conn),
		byConn:  make(map[string]map[string]struct{}),
	}
}

// Attach starts tracking conn. Joins for unattached connections are rejected.
func (r *Rooms) Attach(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[conn.ID]; !ok {
		r.byConn[conn.ID] = make(map[string]struct{})
	}
}

// Detach removes conn from every room, including its personal channel, and
// returns the conversation IDs it was subscribed to.
func (r *Rooms) Detach(conn *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.byConn[conn.ID]
	if !ok {
		return nil
	}
	delete(r.byConn, conn.ID)

	var left []string
	for key := range keys {
		r.removeLocked(key, conn.ID)
		if id, isChat := strings.CutPrefix(key, chatRoomPrefix); isChat {
			left = append(left, id)
		}
	}
	return left
}

// SubscribePersonal subscribes conn to its user's personal channel.
func (r *Rooms) SubscribePersonal(conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addLocked(PersonalRoom(conn.UserID), conn)
}

// Join subscribes conn to the conversation room after checking that its user
// participates in the conversation. The lock is not held during the check.
func (r *Rooms) Join(ctx context.Context, conversationID string, conn *Conn) error {
	if conversationID == "" {
		return fmt.Errorf("%w: empty conversation id", ErrBadRequest)
	}
	if !r.attached(conn) {
		return ErrNotActive
	}

	ok, err := r.checker.IsParticipant(ctx, conversationID, conn.UserID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrForbidden
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The connection may have gone away while the check was in flight.
	if !r.addLocked(ChatRoom(conversationID), conn) {
		if _, attached := r.byConn[conn.ID]; !attached {
			return ErrNotActive
		}
	}
	return nil
}

// Leave unsubscribes conn from the conversation room. It is a no-op when conn
// is not a member.
func (r *Rooms) Leave(conversationID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ChatRoom(conversationID)
	if keys, ok := r.byConn[conn.ID]; ok {
		delete(keys, key)
	}
	r.removeLocked(key, conn.ID)
}

// Members returns the connections subscribed to a conversation room.
func (r *Rooms) Members(conversationID string) []*Conn {
	return r.snapshot(ChatRoom(conversationID))
}

// Personal returns the connections subscribed to a user's personal channel.
func (r *Rooms) Personal(userID string) []*Conn {
	return r.snapshot(PersonalRoom(userID))
}

// RoomsOf returns the conversation IDs conn is subscribed to.
func (r *Rooms) RoomsOf(conn *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(lo.Keys(r.byConn[conn.ID]), func(key string, _ int) (string, bool) {
		return strings.CutPrefix(key, chatRoomPrefix)
	})
}

func (r *Rooms) attached(conn *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byConn[conn.ID]
	return ok
}

func (r *Rooms) snapshot(key string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.members[key])
}

// addLocked reports whether conn was newly added. Unattached connections are
// never added.
func (r *Rooms) addLocked(key string, conn *Conn) bool {
	keys, attached := r.byConn[conn.ID]
	if !attached {
		return false
	}
	room, ok := r.members[key]
	if !ok {
		room = make(map[string]*Conn)
		r.members[key] = room
	}
	if _, exists := room[conn.ID]; exists {
		return false
	}
	room[conn.ID] = conn
	keys[key] = struct{}{}
	return true
}

func (r *Rooms) removeLocked(key, connID string) {
	room, ok := r.members[key]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.members, key)
	}
}
