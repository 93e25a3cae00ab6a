package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/service/chat"
)

// ChatHandlers provides HTTP handlers for conversations and messages.
type ChatHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(chatService *chat.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		chat: chatService,
		log:  logger,
	}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content   string  `json:"content" binding:"required"`
	ReplyToID *string `json:"replyToId"`
}

// ListConversations returns the caller's conversations.
// GET /api/chats
func (h *ChatHandlers) ListConversations(c *gin.Context) {
	uid, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	convs, err := h.chat.ListConversations(c.Request.Context(), uid)
	if err != nil {
		h.respondError(c, err, "failed to list conversations")
		return
	}
	c.JSON(http.StatusOK, convs)
}

// CreateConversation starts a direct or group conversation.
// POST /api/chats
func (h *ChatHandlers) CreateConversation(c *gin.Context) {
	uid, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req chat.CreateConversationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create conversation request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	conv, err := h.chat.CreateConversation(c.Request.Context(), uid, req)
	if err != nil {
		h.respondError(c, err, "failed to create conversation")
		return
	}

	h.log.Info().Str("user_id", uid).Str("conversation_id", conv.ID).Msg("conversation created")
	c.JSON(http.StatusCreated, conv)
}

// ListMessages returns a page of messages, newest first.
// GET /api/chats/:id/messages?limit=50&before=RFC3339
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	uid, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before timestamp"})
			return
		}
		before = &ts
	}

	msgs, err := h.chat.ListMessages(c.Request.Context(), uid, c.Param("id"), limit, before)
	if err != nil {
		h.respondError(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendMessage persists a message and notifies live connections.
// POST /api/chats/:id/messages
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	uid, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), uid, chat.SendMessageInput{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		h.respondError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandlers) respondError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput),
		errors.Is(err, chat.ErrTooFewParticipants),
		errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, chat.ErrReplyNotInConversation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, chat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant of this conversation"})
	case errors.Is(err, chat.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
	default:
		h.log.Error().Err(err).Msg(logMsg)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
