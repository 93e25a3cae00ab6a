package core

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventPresenceSnapshot carries the full set of online users.
	EventPresenceSnapshot EventKind = iota
	// EventConversationNew announces a conversation to its participants.
	EventConversationNew
	// EventMessageNew delivers a new message to a conversation room.
	EventMessageNew
	// EventConversationUpdate delivers a conversation summary change.
	EventConversationUpdate
)

func (k EventKind) String() string {
	switch k {
	case EventPresenceSnapshot:
		return "presence_snapshot"
	case EventConversationNew:
		return "conversation_new"
	case EventMessageNew:
		return "message_new"
	case EventConversationUpdate:
		return "conversation_update"
	default:
		return "unknown"
	}
}

// Event is sent to connections to describe what happened in the system.
// A single Event value is shared by every recipient and must not be mutated.
type Event struct {
	Kind           EventKind
	Presence       *PresenceSnapshot // EventPresenceSnapshot
	ConversationID string            // EventConversationUpdate
	Payload        any
}

// PresenceSnapshot is the set of online users after a presence change.
// Version grows with every change so stale snapshots can be discarded.
type PresenceSnapshot struct {
	Version uint64
	UserIDs []string
}

// DomainEvent is produced by the service layer after persistence and handed
// to the Router for fan-out.
type DomainEvent interface {
	domainEvent()
}

// NewMessage is a message persisted in a conversation.
type NewMessage struct {
	SenderID       string
	ConversationID string
	Payload        any
}

// NewConversation is a conversation created for the given participants.
type NewConversation struct {
	ParticipantIDs []string
	Payload        any
}

// ConversationSummaryUpdate is a change of a conversation's summary, such as
// its last message.
type ConversationSummaryUpdate struct {
	ParticipantIDs []string
	ConversationID string
	Payload        any
}

func (NewMessage) domainEvent()                {}
func (NewConversation) domainEvent()           {}
func (ConversationSummaryUpdate) domainEvent() {}
