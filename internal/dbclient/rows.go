package dbclient

import "time"

// Table names understood by the backend.
const (
	TableChats        = "chats"
	TableParticipants = "chat_participants"
	TableMessages     = "chat_messages"
)

// Message types.
const (
	MessageTypeUser   = "user"
	MessageTypeSystem = "system"
)

// Chat is a row of the chats table.
type Chat struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
}

// Expired reports whether the chat's expiry is before now.
func (c *Chat) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// Participant is a row of the chat_participants table.
type Participant struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
	IsOnline bool      `json:"is_online"`
}

// MessageRow is a row of the chat_messages table with the author's name
// joined in.
type MessageRow struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	ParticipantID *string   `json:"participant_id"`
	MessageType   string    `json:"message_type"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	AuthorName    *string   `json:"author_name,omitempty"`
}

// NewParticipant is the insert shape of a participant. SessionID is the
// participant's secret; keep it to act as the participant later.
type NewParticipant struct {
	ChatID    string `json:"-"`
	UserName  string `json:"user_name"`
	SessionID string `json:"session_id"`
}

// NewMessage is the insert shape of a message. A nil ParticipantID posts a
// system message.
type NewMessage struct {
	ChatID        string  `json:"-"`
	ParticipantID *string `json:"participant_id,omitempty"`
	MessageType   string  `json:"message_type"`
	Content       string  `json:"content"`
}

type countBody struct {
	Count int `json:"count"`
}

type chatPatch struct {
	IsActive bool `json:"is_active"`
}

type participantPatch struct {
	IsOnline bool `json:"is_online"`
}
