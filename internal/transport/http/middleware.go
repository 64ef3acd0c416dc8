package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/auth"
)

const (
	// ContextKeyRole is the context key for the API key role.
	ContextKeyRole = "role"

	// HeaderAPIKey carries the public API key.
	HeaderAPIKey = "apikey"
	// HeaderSessionToken carries a participant's session token.
	HeaderSessionToken = "X-Session-Token"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// APIKeyMiddleware validates the API key taken from the apikey header, a
// Bearer authorization header or the apikey query parameter.
func APIKeyMiddleware(keys *auth.KeyConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			logger.Debug().Str("path", c.Request.URL.Path).Msg("missing api key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing api key"})
			return
		}

		claims, err := auth.ValidateKey(keys, key)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid api key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid api key"})
			return
		}

		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader(HeaderAPIKey); key != "" {
		return key
	}
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return c.Query(HeaderAPIKey)
}

func isServiceRole(c *gin.Context) bool {
	return c.GetString(ContextKeyRole) == auth.RoleService
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
