package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Common errors for conversation and message operations.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotParticipant         = errors.New("not a participant of this conversation")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrTooFewParticipants     = errors.New("a conversation needs at least two participants")
	ErrReplyNotInConversation = errors.New("reply target does not belong to this conversation")
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Emitter is the fan-out side of the realtime layer. *core.Router satisfies it.
type Emitter interface {
	EmitNewConversation(participantIDs []string, conversation any) core.DispatchStats
	EmitNewMessage(senderID, conversationID string, message any) core.DispatchStats
	EmitConversationSummaryUpdate(participantIDs []string, conversationID string, summary any) core.DispatchStats
}

// SendMessageInput is a message as submitted by its sender.
type SendMessageInput struct {
	ConversationID string  `json:"conversationId" validate:"required"`
	Content        string  `json:"content" validate:"required,max=4000"`
	ReplyToID      *string `json:"replyToId,omitempty" validate:"omitempty,min=1"`
}

// CreateConversationInput lists the users to start a conversation with.
// The creator is always added.
type CreateConversationInput struct {
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,dive,required"`
	Name           string   `json:"name" validate:"max=128"`
}

// Service implements conversations and messages on top of the datastore and
// notifies live connections after every successful write.
type Service struct {
	store    store.Store
	emitter  Emitter
	validate *validator.Validate
	now      func() time.Time
}

// New creates a chat service.
func New(st store.Store, emitter Emitter) *Service {
	return &Service{
		store:    st,
		emitter:  emitter,
		validate: validator.New(),
		now:      time.Now,
	}
}

// DirectKey returns the dedup key of the direct conversation between two users.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return "dm:" + userA + ":" + userB
}

// IsParticipant reports whether userID participates in conversationID.
// It is the membership check consulted before a connection joins a room.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

// CreateConversation starts a conversation between the creator and the given
// users. Two participants make a direct conversation, which is reused if one
// already exists; more make a group.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, in CreateConversationInput) (*Conversation, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	participants := lo.Uniq(append([]string{creatorID}, in.ParticipantIDs...))
	if len(participants) < 2 {
		return nil, ErrTooFewParticipants
	}
	for _, userID := range participants {
		if _, err := s.store.GetUserByID(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
			}
			return nil, fmt.Errorf("get user: %w", err)
		}
	}

	var (
		conv    *store.Conversation
		created = true
		err     error
	)
	if len(participants) == 2 {
		conv, created, err = s.store.CreateDirectConversation(ctx, DirectKey(participants[0], participants[1]), participants[0], participants[1])
	} else {
		conv, err = s.store.CreateConversation(ctx, strings.TrimSpace(in.Name), creatorID, participants)
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	view := ToConversation(conv, nil)
	if created {
		s.emitter.EmitNewConversation(conv.ParticipantIDs, view)
	}
	return view, nil
}

// SendMessage persists a message and then fans it out: the message to the
// conversation room and the new summary to every participant.
func (s *Service) SendMessage(ctx context.Context, senderID string, in SendMessageInput) (*Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !lo.Contains(conv.ParticipantIDs, senderID) {
		return nil, ErrNotParticipant
	}

	if in.ReplyToID != nil {
		target, err := s.store.GetMessage(ctx, *in.ReplyToID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrReplyNotInConversation
			}
			return nil, fmt.Errorf("get reply target: %w", err)
		}
		if target.ConversationID != conv.ID {
			return nil, ErrReplyNotInConversation
		}
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        in.Content,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if err := s.store.SetLastMessage(ctx, conv.ID, msg.ID); err != nil {
		return nil, fmt.Errorf("set last message: %w", err)
	}

	view := ToMessage(msg)
	s.emitter.EmitNewMessage(senderID, conv.ID, view)
	s.emitter.EmitConversationSummaryUpdate(conv.ParticipantIDs, conv.ID, Summary{LastMessage: view})
	return view, nil
}

// ListConversations returns the user's conversations with their last message.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]*Conversation, 0, len(convs))
	for _, conv := range convs {
		var last *store.Message
		if conv.LastMessageID != nil {
			last, err = s.store.GetMessage(ctx, *conv.LastMessageID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("get last message: %w", err)
			}
		}
		out = append(out, ToConversation(conv, last))
	}
	return out, nil
}

// ListMessages returns up to limit messages of a conversation, newest first,
// optionally only those created before the given time.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string, limit int, before *time.Time) ([]*Message, error) {
	ok, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	msgs, err := s.store.ListMessages(ctx, conversationID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return lo.Map(msgs, func(m *store.Message, _ int) *Message { return ToMessage(m) }), nil
}
