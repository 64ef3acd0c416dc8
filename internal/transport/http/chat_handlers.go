package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest   = "bad_request"
	CodeNotFound     = "not_found"
	CodeChatInactive = "chat_inactive"
	CodeChatFull     = "chat_full"
	CodeNameTaken    = "name_taken"
	CodeForbidden    = "forbidden"
	CodeTooLarge     = "too_large"
	CodeInternal     = "internal"
)

// Publisher receives every change made through the API.
type Publisher interface {
	Publish(ch realtime.Change) bool
}

// ChatHandlers provides HTTP handlers for chat endpoints.
type ChatHandlers struct {
	store store.ChatStore
	pub   Publisher
	ttl   time.Duration
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(st store.ChatStore, pub Publisher, ttl time.Duration, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		store: st,
		pub:   pub,
		ttl:   ttl,
		log:   logger,
	}
}

// UpdateChatRequest represents the update chat request body.
type UpdateChatRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// CreateChat handles chat creation.
// POST /rest/v1/chats
func (h *ChatHandlers) CreateChat(c *gin.Context) {
	now := time.Now().UTC()
	chat := &store.Chat{CreatedAt: now, ExpiresAt: now.Add(h.ttl)}
	if err := h.store.CreateChat(c.Request.Context(), chat); err != nil {
		h.log.Error().Err(err).Msg("failed to create chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}

	row := chatRow(chat)
	h.pub.Publish(realtime.Change{Table: TableChats, Type: realtime.EventInsert, ChatID: chat.ID, Record: row})

	h.log.Info().Str("chat_id", chat.ID).Time("expires_at", chat.ExpiresAt).Msg("chat created")
	c.JSON(http.StatusCreated, row)
}

// GetChat returns one chat.
// GET /rest/v1/chats/:id
func (h *ChatHandlers) GetChat(c *gin.Context) {
	chat, ok := h.loadChat(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, chatRow(chat))
}

// UpdateChat flips the active flag. Reactivation needs a service key.
// PATCH /rest/v1/chats/:id
func (h *ChatHandlers) UpdateChat(c *gin.Context) {
	var req UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid update chat request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeBadRequest})
		return
	}
	if *req.IsActive && !isServiceRole(c) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "chats cannot be reactivated", Code: CodeForbidden})
		return
	}

	chat, ok := h.loadChat(c)
	if !ok {
		return
	}
	if chat.IsActive != *req.IsActive {
		if err := h.store.SetChatActive(c.Request.Context(), chat.ID, *req.IsActive); err != nil {
			h.log.Error().Err(err).Str("chat_id", chat.ID).Msg("failed to update chat")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
			return
		}
		chat.IsActive = *req.IsActive
		h.pub.Publish(realtime.Change{Table: TableChats, Type: realtime.EventUpdate, ChatID: chat.ID, Record: chatRow(chat)})
		h.log.Info().Str("chat_id", chat.ID).Bool("is_active", chat.IsActive).Msg("chat updated")
	}

	c.JSON(http.StatusOK, chatRow(chat))
}

// loadChat fetches the chat named by the :id parameter and writes the
// error response when it cannot.
func (h *ChatHandlers) loadChat(c *gin.Context) (*store.Chat, bool) {
	return fetchChat(c, h.store, h.log)
}

func fetchChat(c *gin.Context, st store.ChatStore, logger *zerolog.Logger) (*store.Chat, bool) {
	id := c.Param("id")
	chat, err := st.GetChat(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found", Code: CodeNotFound})
			return nil, false
		}
		logger.Error().Err(err).Str("chat_id", id).Msg("failed to load chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return nil, false
	}
	return chat, true
}

// fetchActiveChat is fetchChat that also rejects inactive or expired chats.
func fetchActiveChat(c *gin.Context, st store.ChatStore, logger *zerolog.Logger) (*store.Chat, bool) {
	chat, ok := fetchChat(c, st, logger)
	if !ok {
		return nil, false
	}
	if !chat.IsActive || chat.ExpiresAt.Before(time.Now()) {
		c.JSON(http.StatusGone, ErrorResponse{Error: "chat is no longer active", Code: CodeChatInactive})
		return nil, false
	}
	return chat, true
}
