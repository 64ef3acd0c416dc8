package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost is the cost for hashing participant session tokens.
	bcryptCost = 10
)

// HashSessionToken generates a bcrypt hash of a participant session token.
// Only the hash is stored; the token stays with the participant's client.
func HashSessionToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash session token: %w", err)
	}
	return string(hash), nil
}

// CompareSessionToken checks token against a stored hash.
func CompareSessionToken(hash, token string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
}
