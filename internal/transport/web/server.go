// Package web is the router of the chat: a JSON page per route over the
// state manager of each visitor, plus a server-sent event stream per room.
package web

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/ratelimit"
)

// NewServer builds the web HTTP server.
func NewServer(addr string, sessions *Sessions, limiter *ratelimit.Limiter, readHeaderTimeout time.Duration, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              addr,
		Handler:           NewRouter(sessions, limiter, logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// NewRouter wires the three route families: home, join by id and room by
// id.
func NewRouter(sessions *Sessions, limiter *ratelimit.Limiter, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	h := NewHandlers(sessions, limiter, logger)
	pages := r.Group("/")
	pages.Use(h.VisitorMiddleware())
	{
		pages.GET("/", h.Home)
		pages.POST("/", h.CreateChat)

		pages.GET("/chat/:id", h.JoinPage)
		pages.POST("/chat/:id", h.Join)

		pages.GET("/room/:id", h.Room)
		pages.POST("/room/:id/messages", h.Send)
		pages.POST("/room/:id/leave", h.Leave)
		pages.GET("/room/:id/events", h.Events)
	}

	return r
}

func loggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("web request")
	}
}
