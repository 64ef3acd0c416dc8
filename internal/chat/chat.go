// Package chat holds the domain model of a disposable group chat and the
// contract shared by every chat state manager.
package chat

import (
	"context"
	"strings"
	"time"
)

const (
	// MaxParticipants is the number of concurrently online users a room admits.
	MaxParticipants = 10
	// RoomTTL is how long a room (and a saved session) stays usable.
	RoomTTL = 24 * time.Hour
)

// MessageType separates participant-authored messages from generated ones.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// Message is a single chat entry. Author is empty for system messages.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Author    string      `json:"author,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// User is a named occupant of a room.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	Online   bool      `json:"isOnline,omitempty"`
}

// Room is a chat session with a bounded participant count and lifetime.
type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Users     []User    `json:"users"`
	Messages  []Message `json:"messages"`
}

// Clone returns a deep copy of the room so callers can't mutate shared state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := &Room{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Users:     make([]User, len(r.Users)),
		Messages:  make([]Message, len(r.Messages)),
	}
	copy(out.Users, r.Users)
	copy(out.Messages, r.Messages)
	return out
}

// HasName reports whether a user in the room already uses name. Rooms
// hold only present users: leaving removes the user from Users.
func (r *Room) HasName(name string) bool {
	for _, u := range r.Users {
		if u.Name == name {
			return true
		}
	}
	return false
}

// Store is the chat state manager used by one acting user.
//
// Every variant keeps the acting user's current room in memory and exposes
// it through the read accessors; the variants differ in where rooms live.
type Store interface {
	// CreateChat opens a new empty room and returns its id.
	CreateChat(ctx context.Context) (string, error)
	// JoinChat enters the room under name. It fails with ErrChatNotFound,
	// ErrChatFull, ErrNameTaken, ErrInvalidName or a wrapped backend error.
	JoinChat(ctx context.Context, chatID, name string) error
	// LeaveChat announces the departure and drops the current session.
	LeaveChat(ctx context.Context)
	// SendMessage posts trimmed text as the current user. Blank text or a
	// missing session makes it a no-op.
	SendMessage(ctx context.Context, text string)

	ChatExists(ctx context.Context, chatID string) bool
	ChatURL(chatID string) string
	ParticipantCount(ctx context.Context, chatID string) int

	// InChat reports whether the acting user currently occupies chatID.
	InChat(chatID string) bool
	HasSession() bool

	CurrentUser() (User, bool)
	CurrentChatID() string
	Users() []User
	Messages() []Message

	// Subscribe returns a channel signalled after every change of the
	// current room, and a function that stops the subscription.
	Subscribe() (<-chan struct{}, func())
}

// SessionRestorer is implemented by variants that can resume a saved session.
type SessionRestorer interface {
	RestoreSession(ctx context.Context) bool
}

// NormalizeName trims a display name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// JoinedText is the system message posted when name enters a room.
func JoinedText(name string) string {
	return name + " joined the chat"
}

// LeftText is the system message posted when name leaves a room.
func LeftText(name string) string {
	return name + " left the chat"
}

// ChatURL builds the shareable join link for chatID under origin.
func ChatURL(origin, chatID string) string {
	return strings.TrimRight(origin, "/") + "/chat/" + chatID
}
