package http

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/onetimechat/internal/proto"
	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
)

// Table names as seen by REST and realtime clients.
const (
	TableChats        = "chats"
	TableParticipants = "chat_participants"
	TableMessages     = "chat_messages"
)

// ChatRow is a chat in API responses.
type ChatRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
}

// ParticipantRow is a participant in API responses. The session token
// hash is never exposed.
type ParticipantRow struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
	IsOnline bool      `json:"is_online"`
}

// MessageRow is a message in API responses.
type MessageRow struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	ParticipantID *string   `json:"participant_id"`
	MessageType   string    `json:"message_type"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	AuthorName    *string   `json:"author_name,omitempty"`
}

func chatRow(c *store.Chat) ChatRow {
	return ChatRow{
		ID:        c.ID,
		CreatedAt: c.CreatedAt.UTC(),
		ExpiresAt: c.ExpiresAt.UTC(),
		IsActive:  c.IsActive,
	}
}

func participantRow(p *store.Participant) ParticipantRow {
	return ParticipantRow{
		ID:       p.ID,
		ChatID:   p.ChatID,
		UserName: p.UserName,
		JoinedAt: p.JoinedAt.UTC(),
		IsOnline: p.IsOnline,
	}
}

func participantRows(ps []*store.Participant) []ParticipantRow {
	rows := make([]ParticipantRow, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, participantRow(p))
	}
	return rows
}

func messageRow(m *store.Message) MessageRow {
	return MessageRow{
		ID:            m.ID,
		ChatID:        m.ChatID,
		ParticipantID: m.ParticipantID,
		MessageType:   string(m.Type),
		Content:       m.Content,
		CreatedAt:     m.CreatedAt.UTC(),
		AuthorName:    m.AuthorName,
	}
}

func messageRows(ms []*store.Message) []MessageRow {
	rows := make([]MessageRow, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, messageRow(m))
	}
	return rows
}

func knownTable(table string) bool {
	switch table {
	case TableChats, TableParticipants, TableMessages:
		return true
	}
	return false
}

// inboundToCommand maps a client frame to a hub command. Frames the hub
// must never see come back as a ready error frame.
func inboundToCommand(inbound proto.Inbound) (*realtime.Command, *proto.Outbound, error) {
	switch inbound.Type {
	case proto.InboundTypeSubscribe:
		var sub proto.SubscribeData
		if err := json.Unmarshal(inbound.Data, &sub); err != nil {
			return nil, nil, err
		}
		if sub.Topic == "" || sub.Table == "" {
			return nil, errorFrame(sub.Topic, sub.Ref, realtime.ErrCodeBadRequest, "topic and table are required"), nil
		}
		if !knownTable(sub.Table) {
			return nil, errorFrame(sub.Topic, sub.Ref, realtime.ErrCodeBadRequest, "unknown table "+sub.Table), nil
		}
		event := realtime.EventType(sub.Event)
		if event == "" {
			event = realtime.EventAll
		}
		return &realtime.Command{
			Kind:  realtime.CommandSubscribe,
			Topic: sub.Topic,
			Ref:   sub.Ref,
			Filter: realtime.Filter{
				Table:  sub.Table,
				Event:  event,
				ChatID: sub.ChatID,
			},
		}, nil, nil
	case proto.InboundTypeUnsubscribe:
		var unsub proto.UnsubscribeData
		if err := json.Unmarshal(inbound.Data, &unsub); err != nil {
			return nil, nil, err
		}
		if unsub.Topic == "" {
			return nil, errorFrame("", unsub.Ref, realtime.ErrCodeBadRequest, "topic is required"), nil
		}
		return &realtime.Command{
			Kind:  realtime.CommandUnsubscribe,
			Topic: unsub.Topic,
			Ref:   unsub.Ref,
		}, nil, nil
	default:
		return nil, errorFrame("", "", realtime.ErrCodeUnknownCommand, "unknown message type"), nil
	}
}

func errorFrame(topic, ref, code, msg string) *proto.Outbound {
	return &proto.Outbound{
		Type:  proto.OutboundTypeError,
		Topic: topic,
		Ref:   ref,
		Error: &proto.Error{Code: code, Msg: msg},
	}
}

func outboundFromEvent(event *realtime.Event) (proto.Outbound, error) {
	switch event.Kind {
	case realtime.EventSubscribed:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventSubscribed, Topic: event.Topic, Ref: event.Ref}, nil
	case realtime.EventUnsubscribed:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventUnsubscribed, Topic: event.Topic, Ref: event.Ref}, nil
	case realtime.EventChange:
		record, err := json.Marshal(event.Change.Record)
		if err != nil {
			return proto.Outbound{}, err
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChange,
			Topic: event.Topic,
			Data: proto.ChangeData{
				Table:           event.Change.Table,
				Type:            string(event.Change.Type),
				ChatID:          event.Change.ChatID,
				Record:          record,
				CommitTimestamp: event.Change.Timestamp,
			},
		}, nil
	default:
		out := proto.Outbound{Type: proto.OutboundTypeError, Topic: event.Topic, Ref: event.Ref}
		if event.Error != nil {
			out.Error = &proto.Error{Code: event.Error.Code, Msg: event.Error.Message}
		}
		return out, nil
	}
}
