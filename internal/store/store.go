package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultChatTTL is the lifetime given to chats created without an expiry.
const DefaultChatTTL = 24 * time.Hour

// Chat is a row of the chats table.
type Chat struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsActive  bool
}

// Participant is a row of the chat_participants table.
type Participant struct {
	ID        string
	ChatID    string
	UserName  string
	JoinedAt  time.Time
	IsOnline  bool
	SessionID string
}

// MessageType mirrors chat.MessageType on the storage side.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// Message is a row of the chat_messages table.
type Message struct {
	ID            string
	ChatID        string
	ParticipantID *string // nil for system messages
	Type          MessageType
	Content       string
	CreatedAt     time.Time

	// AuthorName is joined from chat_participants when listing.
	AuthorName *string
}

// ChatStore handles chat persistence.
type ChatStore interface {
	// CreateChat inserts a chat. Empty ID and zero times are filled in.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by ID.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// SetChatActive flips the is_active flag.
	SetChatActive(ctx context.Context, id string, active bool) error

	// DeactivateExpired marks every active chat with expires_at before now
	// as inactive and returns their ids.
	DeactivateExpired(ctx context.Context, now time.Time) ([]string, error)
}

// ParticipantStore handles participant persistence.
type ParticipantStore interface {
	// AddParticipant inserts a participant row.
	AddParticipant(ctx context.Context, p *Participant) error

	// GetParticipant retrieves a participant by ID.
	GetParticipant(ctx context.Context, id string) (*Participant, error)

	// SetParticipantOnline flips the is_online flag.
	SetParticipantOnline(ctx context.Context, id string, online bool) (*Participant, error)

	// ListParticipants lists participants of a chat ordered by join time.
	ListParticipants(ctx context.Context, chatID string, onlineOnly bool) ([]*Participant, error)

	// CountOnline counts online participants of a chat.
	CountOnline(ctx context.Context, chatID string) (int, error)

	// FindOnlineByName returns the online participant called name.
	FindOnlineByName(ctx context.Context, chatID, name string) (*Participant, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message. Empty ID and zero CreatedAt are filled in.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns all messages of a chat ordered by creation time,
	// with the author's name joined in.
	ListMessages(ctx context.Context, chatID string) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ChatStore
	ParticipantStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
