package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/ratelimit"
)

// RateLimitMiddleware rejects clients exceeding their per-IP budget.
func RateLimitMiddleware(limiter *ratelimit.Limiter, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			logger.Warn().
				Str("ip", ip).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Msg("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}
