package chat

import (
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Message is the client-facing representation of a persisted message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	ReplyToID      *string   `json:"replyToId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Conversation is the client-facing representation of a conversation.
type Conversation struct {
	ID             string                 `json:"id"`
	Type           store.ConversationType `json:"type"`
	Name           string                 `json:"name,omitempty"`
	CreatedBy      string                 `json:"createdBy"`
	ParticipantIDs []string               `json:"participantIds"`
	LastMessage    *Message               `json:"lastMessage,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// Summary is the conversation_update payload.
type Summary struct {
	LastMessage *Message `json:"lastMessage"`
}

// ToMessage converts a stored message.
func ToMessage(m *store.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      m.CreatedAt,
	}
}

// ToConversation converts a stored conversation and its optional last message.
func ToConversation(c *store.Conversation, last *store.Message) *Conversation {
	return &Conversation{
		ID:             c.ID,
		Type:           c.Type,
		Name:           c.Name,
		CreatedBy:      c.CreatedBy,
		ParticipantIDs: c.ParticipantIDs,
		LastMessage:    ToMessage(last),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
