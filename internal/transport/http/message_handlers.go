package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
)

// MessageHandlers provides HTTP handlers for message endpoints.
type MessageHandlers struct {
	store    store.Store
	pub      Publisher
	maxBytes int64
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, pub Publisher, maxBytes int64, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store:    st,
		pub:      pub,
		maxBytes: maxBytes,
		log:      logger,
	}
}

// CreateMessageRequest represents the post message request body. Messages
// with a participant are user messages; messages without one are system
// messages.
type CreateMessageRequest struct {
	ParticipantID *string `json:"participant_id"`
	MessageType   string  `json:"message_type"`
	Content       string  `json:"content" binding:"required"`
}

// ListMessages returns the messages of a chat ordered by creation time.
// GET /rest/v1/chats/:id/messages
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	chatID := c.Param("id")
	messages, err := h.store.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}
	c.JSON(http.StatusOK, messageRows(messages))
}

// CreateMessage posts a message to a chat.
// POST /rest/v1/chats/:id/messages
func (h *MessageHandlers) CreateMessage(c *gin.Context) {
	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeBadRequest})
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content must not be blank", Code: CodeBadRequest})
		return
	}
	if h.maxBytes > 0 && int64(len(content)) > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "message too large", Code: CodeTooLarge})
		return
	}

	msgType := store.MessageType(req.MessageType)
	switch {
	case req.ParticipantID != nil && msgType == "":
		msgType = store.MessageTypeUser
	case req.ParticipantID == nil && msgType == "":
		msgType = store.MessageTypeSystem
	}
	if (msgType == store.MessageTypeUser) != (req.ParticipantID != nil) ||
		(msgType != store.MessageTypeUser && msgType != store.MessageTypeSystem) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user messages need a participant, system messages must not have one", Code: CodeBadRequest})
		return
	}

	ctx := c.Request.Context()
	current, ok := fetchActiveChat(c, h.store, h.log)
	if !ok {
		return
	}

	if req.ParticipantID != nil {
		p, err := h.store.GetParticipant(ctx, *req.ParticipantID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: "participant not found", Code: CodeNotFound})
				return
			}
			h.log.Error().Err(err).Str("participant_id", *req.ParticipantID).Msg("failed to load participant")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
			return
		}
		if p.ChatID != current.ID || !p.IsOnline || !ownsParticipant(c, p) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not allowed to post as this participant", Code: CodeForbidden})
			return
		}
	}

	msg := &store.Message{
		ChatID:        current.ID,
		ParticipantID: req.ParticipantID,
		Type:          msgType,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("chat_id", current.ID).Msg("failed to save message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}

	row := messageRow(msg)
	h.pub.Publish(realtime.Change{Table: TableMessages, Type: realtime.EventInsert, ChatID: msg.ChatID, Record: row})

	h.log.Debug().Str("chat_id", msg.ChatID).Str("message_id", msg.ID).Str("type", string(msg.Type)).Msg("message saved")
	c.JSON(http.StatusCreated, row)
}
