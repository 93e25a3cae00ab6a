package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// ConversationType distinguishes one-to-one from group conversations.
type ConversationType string

const (
	ConversationTypeDirect ConversationType = "direct"
	ConversationTypeGroup  ConversationType = "group"
)

// Conversation represents a chat between a fixed set of participants.
type Conversation struct {
	ID             string
	Type           ConversationType
	Name           string
	CreatedBy      string
	DirectKey      *string // for direct conversations: "dm:{minUserId}:{maxUserId}"
	ParticipantIDs []string
	LastMessageID  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	ReplyToID      *string
	CreatedAt      time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation creates a group conversation with its participants.
	CreateConversation(ctx context.Context, name, createdBy string, participantIDs []string) (*Conversation, error)

	// CreateDirectConversation creates a direct conversation between two users.
	// Handles deduplication via directKey and returns the existing one if present.
	CreateDirectConversation(ctx context.Context, directKey, user1ID, user2ID string) (conv *Conversation, created bool, err error)

	// GetConversation retrieves a conversation with its participants.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists conversations the user participates in, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// IsParticipant checks if the user participates in the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// SetLastMessage records the latest message of a conversation.
	SetLastMessage(ctx context.Context, conversationID, messageID string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message, assigning ID and CreatedAt when empty.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages retrieves messages of a conversation, newest first.
	// If before is non-nil, only messages created before it are returned.
	ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
