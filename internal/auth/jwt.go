// Package auth issues and validates the public API keys of the backend and
// hashes participant session tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried by API keys.
const (
	RoleAnon    = "anon"
	RoleService = "service_role"
)

// ErrInvalidKey is returned for keys that fail validation.
var ErrInvalidKey = errors.New("invalid api key")

// Claims represents the claims of an API key.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// KeyConfig holds API key configuration. A zero TTL issues keys that never
// expire.
type KeyConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateKey creates a new API key for role.
func GenerateKey(cfg *KeyConfig, role string) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	if cfg.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(cfg.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateKey parses and validates an API key.
func ValidateKey(cfg *KeyConfig, key string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(key, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidKey)
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidKey)
	}

	if cfg.Audience != "" {
		validAudience := false
		for _, aud := range claims.Audience {
			if aud == cfg.Audience {
				validAudience = true
				break
			}
		}
		if !validAudience {
			return nil, fmt.Errorf("%w: invalid audience", ErrInvalidKey)
		}
	}

	switch claims.Role {
	case RoleAnon, RoleService:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidKey, claims.Role)
	}

	return claims, nil
}
