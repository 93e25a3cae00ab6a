package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Authenticator validates the credential found in connection-setup headers
// and returns the authenticated user ID.
type Authenticator interface {
	Authenticate(header http.Header) (string, error)
}

// Hub owns the presence registry and room memberships for the lifetime of the
// server process and drives every connection through its lifecycle:
// Connecting -> Authenticating -> Registered -> Active -> Disconnected.
type Hub struct {
	auth       Authenticator
	presence   *Presence
	rooms      *Rooms
	router     *Router
	log        *zerolog.Logger
	sendBuffer int
}

// Options tune per-connection resources.
type Options struct {
	// SendBuffer is the outbound queue length of each connection.
	SendBuffer int
}

// NewHub creates a hub with empty registries.
func NewHub(auth Authenticator, checker ParticipantChecker, logger *zerolog.Logger, opts Options) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	presence := NewPresence()
	rooms := NewRooms(checker)
	return &Hub{
		auth:       auth,
		presence:   presence,
		rooms:      rooms,
		router:     NewRouter(presence, rooms, logger),
		log:        logger,
		sendBuffer: opts.SendBuffer,
	}
}

// Presence exposes the registry for read-only queries.
func (h *Hub) Presence() *Presence { return h.presence }

// Rooms exposes room memberships for read-only queries.
func (h *Hub) Rooms() *Rooms { return h.rooms }

// Router is the fan-out entry point for the service layer.
func (h *Hub) Router() *Router { return h.router }

// Admit authenticates an inbound connection. On failure the connection ends
// in Disconnected without touching any registry and ErrUnauthorized is returned.
func (h *Hub) Admit(header http.Header) (*Conn, error) {
	conn := newConn(h.sendBuffer)
	conn.transition(StateConnecting, StateAuthenticating)

	userID, err := h.auth.Authenticate(header)
	if err != nil {
		conn.state.Store(int32(StateDisconnected))
		conn.closeEvents()
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	conn.UserID = userID
	conn.transition(StateAuthenticating, StateRegistered)
	return conn, nil
}

// Activate registers conn for presence, subscribes it to its personal channel
// and broadcasts the new presence snapshot.
func (h *Hub) Activate(conn *Conn) error {
	if !conn.transition(StateRegistered, StateActive) {
		return fmt.Errorf("activate from %s: %w", conn.State(), ErrNotActive)
	}

	h.rooms.Attach(conn)
	snapshot, changed := h.presence.Register(conn)
	h.rooms.SubscribePersonal(conn)

	// Close swaps the state before it detaches, so a Close that raced the
	// registration above is visible here and its cleanup may have missed us.
	if conn.State() != StateActive {
		h.rooms.Detach(conn)
		if snapshot, changed = h.presence.Deregister(conn); changed {
			h.router.BroadcastPresence(snapshot)
		}
		return fmt.Errorf("activate: closed during registration: %w", ErrNotActive)
	}

	h.connLog(conn).Info().Int("online", len(snapshot.UserIDs)).Msg("connection active")
	if changed {
		h.router.BroadcastPresence(snapshot)
	}
	return nil
}

// Join subscribes an active connection to a conversation room.
func (h *Hub) Join(ctx context.Context, conn *Conn, conversationID string) error {
	if conn.State() != StateActive {
		return ErrNotActive
	}
	if err := h.rooms.Join(ctx, conversationID, conn); err != nil {
		logger := h.connLog(conn)
		level := zerolog.WarnLevel
		if errors.Is(err, ErrForbidden) {
			level = zerolog.InfoLevel
		}
		logger.WithLevel(level).Err(err).Str("conversation_id", conversationID).Msg("join rejected")
		return err
	}
	h.connLog(conn).Debug().Str("conversation_id", conversationID).Msg("joined conversation")
	return nil
}

// Leave unsubscribes a connection from a conversation room.
func (h *Hub) Leave(conn *Conn, conversationID string) error {
	if conn.State() != StateActive {
		return ErrNotActive
	}
	h.rooms.Leave(conversationID, conn)
	h.connLog(conn).Debug().Str("conversation_id", conversationID).Msg("left conversation")
	return nil
}

// Close moves conn to Disconnected. It runs its cleanup exactly once no
// matter how often or from where it is called.
func (h *Hub) Close(conn *Conn) {
	conn.closeOnce.Do(func() {
		prev := State(conn.state.Swap(int32(StateDisconnected)))

		left := h.rooms.Detach(conn)
		snapshot, changed := h.presence.Deregister(conn)
		conn.closeEvents()

		if changed {
			h.router.BroadcastPresence(snapshot)
		}
		h.connLog(conn).Info().
			Stringer("from", prev).
			Int("rooms_left", len(left)).
			Int("online", len(snapshot.UserIDs)).
			Msg("connection closed")
	})
}

func (h *Hub) connLog(conn *Conn) *zerolog.Logger {
	logger := h.log.With().Str("conn_id", conn.ID).Str("user_id", conn.UserID).Logger()
	return &logger
}
