package core

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type headerAuth struct{}

func (headerAuth) Authenticate(header http.Header) (string, error) {
	if user := header.Get("X-User"); user != "" {
		return user, nil
	}
	return "", errors.New("missing token")
}

// staticChecker grants membership from a conversation -> users table.
type staticChecker struct {
	mu           sync.Mutex
	participants map[string]map[string]bool
	err          error
	gate         chan struct{} // when non-nil, checks block until it is closed
	entered      chan struct{}
}

func newStaticChecker(table map[string][]string) *staticChecker {
	c := &staticChecker{participants: make(map[string]map[string]bool)}
	for conv, users := range table {
		c.participants[conv] = make(map[string]bool)
		for _, u := range users {
			c.participants[conv][u] = true
		}
	}
	return c
}

func (c *staticChecker) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.participants[conversationID][userID], nil
}

func newTestHub(t *testing.T, table map[string][]string) (*Hub, *staticChecker) {
	t.Helper()
	checker := newStaticChecker(table)
	return NewHub(headerAuth{}, checker, nil, Options{SendBuffer: 16}), checker
}

// connect admits and activates a connection for userID.
func connect(t *testing.T, hub *Hub, userID string) *Conn {
	t.Helper()
	conn, err := hub.Admit(http.Header{"X-User": []string{userID}})
	require.NoError(t, err)
	require.NoError(t, hub.Activate(conn))
	return conn
}

// testConn builds a conn outside of a hub for registry-level tests.
func testConn(userID string, buffer int) *Conn {
	c := newConn(buffer)
	c.UserID = userID
	return c
}

// drain returns every event currently queued on conn without blocking.
func drain(conn *Conn) []*Event {
	var out []*Event
	for {
		select {
		case ev, ok := <-conn.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofKind(events []*Event, kind EventKind) []*Event {
	var out []*Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func connIDs(conns []*Conn) []string {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID)
	}
	return ids
}
