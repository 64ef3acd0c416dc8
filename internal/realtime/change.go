// Package realtime fans database changes out to websocket subscribers.
// A single Hub goroutine owns all topics and subscriptions; clients talk to
// it through their Commands channel and receive Events.
package realtime

import "time"

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventAll matches every change type in a Filter.
	EventAll EventType = "*"
)

// Valid reports whether t is a known change type or the wildcard.
func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete, EventAll:
		return true
	}
	return false
}

// Change describes one row change in a table.
type Change struct {
	Table     string    `json:"table"`
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id"`
	Record    any       `json:"record"`
	Timestamp time.Time `json:"commit_timestamp"`
}

// Filter selects the changes a subscription receives. Empty ChatID matches
// every chat.
type Filter struct {
	Table  string    `json:"table"`
	Event  EventType `json:"event"`
	ChatID string    `json:"chat_id,omitempty"`
}

// Matches reports whether ch passes the filter.
func (f Filter) Matches(ch Change) bool {
	if f.Table != ch.Table {
		return false
	}
	if f.Event != EventAll && f.Event != ch.Type {
		return false
	}
	return f.ChatID == "" || f.ChatID == ch.ChatID
}
