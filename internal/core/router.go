package core

import (
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DispatchStats summarises one fan-out.
type DispatchStats struct {
	Targets   int
	Delivered int
	Dropped   int
}

// Router resolves domain events to target connections and dispatches them.
//
// Dispatch is fire-and-forget: targets are snapshotted, locks are released,
// then each target gets a non-blocking send. A full or closed queue drops the
// event for that target only. Nothing is retried or persisted.
type Router struct {
	presence *Presence
	rooms    *Rooms
	log      *zerolog.Logger
}

// NewRouter builds a router over the shared registries.
func NewRouter(presence *Presence, rooms *Rooms, logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{presence: presence, rooms: rooms, log: logger}
}

// Dispatch routes a domain event to its recipients.
func (r *Router) Dispatch(ev DomainEvent) DispatchStats {
	switch e := ev.(type) {
	case NewMessage:
		return r.dispatchNewMessage(e)
	case NewConversation:
		return r.toParticipants(e.ParticipantIDs, &Event{
			Kind:    EventConversationNew,
			Payload: e.Payload,
		})
	case ConversationSummaryUpdate:
		return r.toParticipants(e.ParticipantIDs, &Event{
			Kind:           EventConversationUpdate,
			ConversationID: e.ConversationID,
			Payload:        e.Payload,
		})
	default:
		r.log.Warn().Type("event", ev).Msg("unknown domain event")
		return DispatchStats{}
	}
}

// EmitNewConversation announces a new conversation on each participant's personal channel.
func (r *Router) EmitNewConversation(participantIDs []string, conversation any) DispatchStats {
	return r.Dispatch(NewConversation{ParticipantIDs: participantIDs, Payload: conversation})
}

// EmitNewMessage delivers a message to the conversation room, skipping every
// live connection of the sender.
func (r *Router) EmitNewMessage(senderID, conversationID string, message any) DispatchStats {
	return r.Dispatch(NewMessage{SenderID: senderID, ConversationID: conversationID, Payload: message})
}

// EmitConversationSummaryUpdate delivers a summary change on each participant's personal channel.
func (r *Router) EmitConversationSummaryUpdate(participantIDs []string, conversationID string, summary any) DispatchStats {
	return r.Dispatch(ConversationSummaryUpdate{
		ParticipantIDs: participantIDs,
		ConversationID: conversationID,
		Payload:        summary,
	})
}

// BroadcastPresence sends the snapshot to every live connection.
func (r *Router) BroadcastPresence(snapshot PresenceSnapshot) DispatchStats {
	return r.fanout(r.presence.Connections(), &Event{
		Kind:     EventPresenceSnapshot,
		Presence: &snapshot,
	})
}

// dispatchNewMessage excludes all of the sender's connections, not only the
// one the message came from.
func (r *Router) dispatchNewMessage(e NewMessage) DispatchStats {
	members := r.rooms.Members(e.ConversationID)

	senderConns := r.presence.ConnectionsOf(e.SenderID)
	if len(senderConns) > 0 {
		excluded := lo.SliceToMap(senderConns, func(c *Conn) (string, struct{}) {
			return c.ID, struct{}{}
		})
		members = lo.Reject(members, func(c *Conn, _ int) bool {
			_, skip := excluded[c.ID]
			return skip
		})
	}

	stats := r.fanout(members, &Event{
		Kind:           EventMessageNew,
		ConversationID: e.ConversationID,
		Payload:        e.Payload,
	})
	r.log.Debug().
		Str("conversation_id", e.ConversationID).
		Str("sender_id", e.SenderID).
		Int("excluded", len(senderConns)).
		Int("targets", stats.Targets).
		Int("dropped", stats.Dropped).
		Msg("message dispatched")
	return stats
}

func (r *Router) toParticipants(participantIDs []string, ev *Event) DispatchStats {
	var targets []*Conn
	for _, userID := range lo.Uniq(participantIDs) {
		targets = append(targets, r.rooms.Personal(userID)...)
	}

	stats := r.fanout(targets, ev)
	r.log.Debug().
		Stringer("event", ev.Kind).
		Int("participants", len(participantIDs)).
		Int("targets", stats.Targets).
		Int("dropped", stats.Dropped).
		Msg("participant event dispatched")
	return stats
}

func (r *Router) fanout(targets []*Conn, ev *Event) DispatchStats {
	stats := DispatchStats{Targets: len(targets)}
	for _, conn := range targets {
		if conn.send(ev) {
			stats.Delivered++
			continue
		}
		// Drop if slow consumer or already closed.
		stats.Dropped++
		r.log.Debug().
			Str("conn_id", conn.ID).
			Str("user_id", conn.UserID).
			Stringer("event", ev.Kind).
			Msg("event dropped")
	}
	return stats
}
