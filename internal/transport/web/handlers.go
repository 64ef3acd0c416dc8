package web

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/ratelimit"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeChatFull    = "chat_full"
	CodeNameTaken   = "name_taken"
	CodeInvalidName = "invalid_name"
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
)

const contextKeyVisitor = "visitor"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HomeResponse describes the service on GET /.
type HomeResponse struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants"`
	RoomTTL         string `json:"room_ttl"`
	CurrentChatID   string `json:"current_chat_id,omitempty"`
}

// CreatedResponse is returned when a chat is created.
type CreatedResponse struct {
	ChatID string `json:"chat_id"`
	URL    string `json:"url"`
}

// JoinView is the join page of a chat.
type JoinView struct {
	ChatID          string `json:"chat_id"`
	URL             string `json:"url"`
	Participants    int    `json:"participants"`
	MaxParticipants int    `json:"max_participants"`
	Full            bool   `json:"full"`
	InChat          bool   `json:"in_chat"`
}

// JoinRequest is the body of POST /chat/:id.
type JoinRequest struct {
	Name string `form:"name" json:"name"`
}

// SendRequest is the body of POST /room/:id/messages.
type SendRequest struct {
	Text string `form:"text" json:"text"`
}

// RoomView is the state of the room as seen by the current user.
type RoomView struct {
	ChatID   string         `json:"chat_id"`
	URL      string         `json:"url"`
	User     chat.User      `json:"user"`
	Users    []chat.User    `json:"users"`
	Messages []chat.Message `json:"messages"`
}

// Handlers serves the chat pages for every visitor.
type Handlers struct {
	sessions  *Sessions
	limiter   *ratelimit.Limiter
	sanitizer *bluemonday.Policy
	log       *zerolog.Logger
}

// NewHandlers builds the handlers. A nil limiter disables send limiting.
func NewHandlers(sessions *Sessions, limiter *ratelimit.Limiter, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		sessions:  sessions,
		limiter:   limiter,
		sanitizer: bluemonday.StrictPolicy(),
		log:       logger,
	}
}

// VisitorMiddleware attaches the visitor of the request to the context.
func (h *Handlers) VisitorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := h.sessions.acquire(c)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to create visitor")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "chat service unavailable", Code: CodeUnavailable})
			return
		}
		c.Set(contextKeyVisitor, v)
		c.Next()
	}
}

func visitorFrom(c *gin.Context) *visitor {
	return c.MustGet(contextKeyVisitor).(*visitor)
}

// Home describes the service.
// GET /
func (h *Handlers) Home(c *gin.Context) {
	st := visitorFrom(c).store
	c.JSON(http.StatusOK, HomeResponse{
		Name:            "onetimechat",
		MaxParticipants: chat.MaxParticipants,
		RoomTTL:         chat.RoomTTL.String(),
		CurrentChatID:   st.CurrentChatID(),
	})
}

// CreateChat opens a new chat and returns its share link.
// POST /
func (h *Handlers) CreateChat(c *gin.Context) {
	st := visitorFrom(c).store
	id, err := st.CreateChat(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create chat")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "failed to create chat", Code: CodeUnavailable})
		return
	}
	c.JSON(http.StatusCreated, CreatedResponse{ChatID: id, URL: st.ChatURL(id)})
}

// JoinPage shows whether a chat can be joined.
// GET /chat/:id
func (h *Handlers) JoinPage(c *gin.Context) {
	st := visitorFrom(c).store
	ctx := c.Request.Context()
	chatID := c.Param("id")

	if !st.ChatExists(ctx, chatID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found or expired", Code: CodeNotFound})
		return
	}

	n := st.ParticipantCount(ctx, chatID)
	c.JSON(http.StatusOK, JoinView{
		ChatID:          chatID,
		URL:             st.ChatURL(chatID),
		Participants:    n,
		MaxParticipants: chat.MaxParticipants,
		Full:            n >= chat.MaxParticipants,
		InChat:          st.InChat(chatID),
	})
}

// Join enters the chat and redirects to the room.
// POST /chat/:id
func (h *Handlers) Join(c *gin.Context) {
	st := visitorFrom(c).store
	chatID := c.Param("id")

	var req JoinRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeBadRequest})
		return
	}

	name := h.clean(req.Name)
	if err := st.JoinChat(c.Request.Context(), chatID, name); err != nil {
		status, resp := joinFailure(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("chat_id", chatID).Msg("join failed")
		}
		c.JSON(status, resp)
		return
	}

	c.Redirect(http.StatusSeeOther, "/room/"+chatID)
}

// Room shows the room to its member. Visitors outside the room are sent
// to the join page.
// GET /room/:id
func (h *Handlers) Room(c *gin.Context) {
	st, ok := h.member(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, roomView(st))
}

// Send posts a message as the current user.
// POST /room/:id/messages
func (h *Handlers) Send(c *gin.Context) {
	v := visitorFrom(c)
	st, ok := h.member(c)
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeBadRequest})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(v.id) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "sending too fast", Code: CodeRateLimited})
		return
	}

	st.SendMessage(c.Request.Context(), h.clean(req.Text))
	c.Status(http.StatusNoContent)
}

// Leave exits the room and redirects home.
// POST /room/:id/leave
func (h *Handlers) Leave(c *gin.Context) {
	st := visitorFrom(c).store
	if st.InChat(c.Param("id")) {
		st.LeaveChat(c.Request.Context())
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// member returns the visitor's store when it occupies the room of the
// request, restoring a saved session first. Otherwise it redirects to the
// join page.
func (h *Handlers) member(c *gin.Context) (chat.Store, bool) {
	st := visitorFrom(c).store
	chatID := c.Param("id")

	if !st.InChat(chatID) {
		restore(c.Request.Context(), st)
	}
	if !st.InChat(chatID) {
		c.Redirect(http.StatusSeeOther, "/chat/"+chatID)
		c.Abort()
		return nil, false
	}
	return st, true
}

func restore(ctx context.Context, st chat.Store) {
	if r, ok := st.(chat.SessionRestorer); ok && !st.HasSession() {
		r.RestoreSession(ctx)
	}
}

// clean strips markup from user input and keeps plain text.
func (h *Handlers) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(h.sanitizer.Sanitize(s)))
}

func roomView(st chat.Store) RoomView {
	user, _ := st.CurrentUser()
	id := st.CurrentChatID()
	return RoomView{
		ChatID:   id,
		URL:      st.ChatURL(id),
		User:     user,
		Users:    st.Users(),
		Messages: st.Messages(),
	}
}

func joinFailure(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, chat.ErrChatNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "chat not found or expired", Code: CodeNotFound}
	case errors.Is(err, chat.ErrChatFull):
		return http.StatusConflict, ErrorResponse{Error: "chat is full", Code: CodeChatFull}
	case errors.Is(err, chat.ErrNameTaken):
		return http.StatusConflict, ErrorResponse{Error: "name already taken", Code: CodeNameTaken}
	case errors.Is(err, chat.ErrInvalidName):
		return http.StatusBadRequest, ErrorResponse{Error: "name must not be blank", Code: CodeInvalidName}
	}
	return http.StatusBadGateway, ErrorResponse{Error: "chat service unavailable", Code: CodeUnavailable}
}
