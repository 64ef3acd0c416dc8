// Package http exposes the backend service: a REST API over the chat tables
// and the realtime websocket that streams their changes.
package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/auth"
	"github.com/vovakirdan/onetimechat/internal/config"
	"github.com/vovakirdan/onetimechat/internal/ratelimit"
	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
)

// NewServer builds the backend HTTP server.
func NewServer(hub *realtime.Hub, st store.Store, keys *auth.KeyConfig, limiter *ratelimit.Limiter, cfg config.BackendConfig, readHeaderTimeout time.Duration, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, st, keys, limiter, cfg, logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// NewRouter wires the backend routes. A nil limiter disables rate limiting.
func NewRouter(hub *realtime.Hub, st store.Store, keys *auth.KeyConfig, limiter *ratelimit.Limiter, cfg config.BackendConfig, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	if limiter != nil {
		r.Use(RateLimitMiddleware(limiter, logger))
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	chats := NewChatHandlers(st, hub, cfg.ChatTTL, logger)
	participants := NewParticipantHandlers(st, hub, logger)
	messages := NewMessageHandlers(st, hub, cfg.MaxMessageBytes, logger)

	rest := r.Group("/rest/v1")
	rest.Use(APIKeyMiddleware(keys, logger))
	{
		rest.POST("/chats", chats.CreateChat)
		rest.GET("/chats/:id", chats.GetChat)
		rest.PATCH("/chats/:id", chats.UpdateChat)

		rest.GET("/chats/:id/participants", participants.ListParticipants)
		rest.GET("/chats/:id/participants/count", participants.CountParticipants)
		rest.POST("/chats/:id/participants", participants.AddParticipant)
		rest.GET("/participants/:id", participants.GetParticipant)
		rest.PATCH("/participants/:id", participants.UpdateParticipant)

		rest.GET("/chats/:id/messages", messages.ListMessages)
		rest.POST("/chats/:id/messages", messages.CreateMessage)
	}

	ws := NewWSHandler(hub, logger)
	r.GET("/realtime/v1/websocket", APIKeyMiddleware(keys, logger), gin.WrapH(ws))

	return r
}
