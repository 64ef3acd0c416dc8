package http

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/auth"
	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
)

// ParticipantHandlers provides HTTP handlers for participant endpoints.
type ParticipantHandlers struct {
	store store.Store
	pub   Publisher
	log   *zerolog.Logger

	// joinMu serializes the capacity and name checks with the insert.
	joinMu sync.Mutex
}

// NewParticipantHandlers creates a new participant handlers instance.
func NewParticipantHandlers(st store.Store, pub Publisher, logger *zerolog.Logger) *ParticipantHandlers {
	return &ParticipantHandlers{
		store: st,
		pub:   pub,
		log:   logger,
	}
}

// AddParticipantRequest represents the join request body. SessionID is a
// client generated secret; only its hash is stored.
type AddParticipantRequest struct {
	UserName  string `json:"user_name" binding:"required,max=64"`
	SessionID string `json:"session_id" binding:"required,min=8,max=128"`
}

// UpdateParticipantRequest represents the update participant request body.
type UpdateParticipantRequest struct {
	IsOnline *bool `json:"is_online" binding:"required"`
}

// CountResponse carries a participant count.
type CountResponse struct {
	Count int `json:"count"`
}

// ListParticipants lists the participants of a chat.
// GET /rest/v1/chats/:id/participants?online=true&name=
func (h *ParticipantHandlers) ListParticipants(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	if name := c.Query("name"); name != "" {
		p, err := h.store.FindOnlineByName(ctx, chatID, name)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, []ParticipantRow{})
			return
		}
		if err != nil {
			h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to find participant")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
			return
		}
		c.JSON(http.StatusOK, []ParticipantRow{participantRow(p)})
		return
	}

	participants, err := h.store.ListParticipants(ctx, chatID, c.Query("online") == "true")
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to list participants")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}
	c.JSON(http.StatusOK, participantRows(participants))
}

// CountParticipants counts the online participants of a chat.
// GET /rest/v1/chats/:id/participants/count
func (h *ParticipantHandlers) CountParticipants(c *gin.Context) {
	chatID := c.Param("id")
	n, err := h.store.CountOnline(c.Request.Context(), chatID)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to count participants")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// AddParticipant joins a chat.
// POST /rest/v1/chats/:id/participants
func (h *ParticipantHandlers) AddParticipant(c *gin.Context) {
	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid add participant request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeBadRequest})
		return
	}
	name := chat.NormalizeName(req.UserName)
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_name must not be blank", Code: CodeBadRequest})
		return
	}

	hash, err := auth.HashSessionToken(req.SessionID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to hash session token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}

	ctx := c.Request.Context()

	h.joinMu.Lock()
	defer h.joinMu.Unlock()

	current, ok := fetchActiveChat(c, h.store, h.log)
	if !ok {
		return
	}

	if !h.admit(c, current.ID, name) {
		return
	}

	p := &store.Participant{
		ChatID:    current.ID,
		UserName:  name,
		JoinedAt:  time.Now().UTC(),
		IsOnline:  true,
		SessionID: hash,
	}
	if err := h.store.AddParticipant(ctx, p); err != nil {
		h.log.Error().Err(err).Str("chat_id", current.ID).Msg("failed to add participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}

	row := participantRow(p)
	h.pub.Publish(realtime.Change{Table: TableParticipants, Type: realtime.EventInsert, ChatID: p.ChatID, Record: row})

	h.log.Info().Str("chat_id", p.ChatID).Str("participant_id", p.ID).Msg("participant joined")
	c.JSON(http.StatusCreated, row)
}

// GetParticipant returns one participant.
// GET /rest/v1/participants/:id
func (h *ParticipantHandlers) GetParticipant(c *gin.Context) {
	p, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, participantRow(p))
}

// UpdateParticipant flips the online flag. The caller must present the
// participant's session token. Coming back online passes the same capacity
// and name checks as a join.
// PATCH /rest/v1/participants/:id
func (h *ParticipantHandlers) UpdateParticipant(c *gin.Context) {
	var req UpdateParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid update participant request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeBadRequest})
		return
	}

	p, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	if !ownsParticipant(c, p) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "session token does not match", Code: CodeForbidden})
		return
	}

	if *req.IsOnline && !p.IsOnline {
		h.joinMu.Lock()
		defer h.joinMu.Unlock()
		if !h.admit(c, p.ChatID, p.UserName) {
			return
		}
	}

	updated, err := h.store.SetParticipantOnline(c.Request.Context(), p.ID, *req.IsOnline)
	if err != nil {
		h.log.Error().Err(err).Str("participant_id", p.ID).Msg("failed to update participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return
	}

	row := participantRow(updated)
	h.pub.Publish(realtime.Change{Table: TableParticipants, Type: realtime.EventUpdate, ChatID: updated.ChatID, Record: row})

	h.log.Info().Str("chat_id", updated.ChatID).Str("participant_id", updated.ID).Bool("is_online", updated.IsOnline).Msg("participant updated")
	c.JSON(http.StatusOK, row)
}

// admit checks that chatID has room for one more online participant
// called name, writing the conflict response otherwise. h.joinMu must be
// held.
func (h *ParticipantHandlers) admit(c *gin.Context, chatID, name string) bool {
	ctx := c.Request.Context()

	count, err := h.store.CountOnline(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to count participants")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return false
	}
	if count >= chat.MaxParticipants {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "chat is full", Code: CodeChatFull})
		return false
	}

	if _, err := h.store.FindOnlineByName(ctx, chatID, name); err == nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "name is already taken", Code: CodeNameTaken})
		return false
	} else if !errors.Is(err, store.ErrNotFound) {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to check name")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return false
	}
	return true
}

func (h *ParticipantHandlers) loadParticipant(c *gin.Context) (*store.Participant, bool) {
	id := c.Param("id")
	p, err := h.store.GetParticipant(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "participant not found", Code: CodeNotFound})
			return nil, false
		}
		h.log.Error().Err(err).Str("participant_id", id).Msg("failed to load participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
		return nil, false
	}
	return p, true
}

// ownsParticipant checks the session token header against the stored hash.
// Service keys act on behalf of any participant.
func ownsParticipant(c *gin.Context, p *store.Participant) bool {
	if isServiceRole(c) {
		return true
	}
	token := strings.TrimSpace(c.GetHeader(HeaderSessionToken))
	if token == "" {
		return false
	}
	return auth.CompareSessionToken(p.SessionID, token) == nil
}
