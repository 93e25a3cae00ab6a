package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a step of the per-connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateRegistered
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is one live transport connection (one browser tab) as seen by the core.
// It is owned by the Hub from Admit until Close.
type Conn struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	events chan *Event
	state  atomic.Int32

	mu     sync.Mutex // guards closed against concurrent send
	closed bool

	closeOnce sync.Once
}

func newConn(bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	c := &Conn{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		events:    make(chan *Event, bufferSize),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// Events is the outbound queue drained by the transport writer.
// It is closed once the connection is disconnected.
func (c *Conn) Events() <-chan *Event {
	return c.events
}

// State reports the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// send enqueues ev without blocking. It reports false when the queue is full
// or the connection is already closed.
func (c *Conn) send(ev *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Conn) closeEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}
