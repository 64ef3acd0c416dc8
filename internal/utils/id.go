package utils

import "github.com/google/uuid"

// NewID returns a random (v4) UUID string used for chats, participants,
// messages and visitor sessions.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s is a well-formed UUID.
func ValidID(s string) bool {
	return uuid.Validate(s) == nil
}
