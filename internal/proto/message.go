// Package proto defines the JSON envelopes of the realtime websocket.
package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventChange       = "change"
)

// SubscribeData asks for the changes of one table, optionally narrowed to
// an event type and a chat.
type SubscribeData struct {
	Topic  string `json:"topic"`
	Ref    string `json:"ref,omitempty"`
	Table  string `json:"table"`
	Event  string `json:"event"`
	ChatID string `json:"chat_id,omitempty"`
}

// UnsubscribeData drops a subscription by topic.
type UnsubscribeData struct {
	Topic string `json:"topic"`
	Ref   string `json:"ref,omitempty"`
}

// Outbound is the envelope for messages sent to the client. Data is
// encoded as the payload of the named event.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Topic string `json:"topic,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// RawOutbound is Outbound as read by clients; Data stays undecoded until
// the event is known.
type RawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// ChangeData is the payload of a change event. Record holds the changed row
// with column names as keys.
type ChangeData struct {
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	ChatID          string          `json:"chat_id"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
