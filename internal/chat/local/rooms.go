// Package local implements the storage-backed chat state manager. Rooms are
// kept in a memory.Registry that is mirrored into a key/value storage after
// every change and restored from it on open.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/chat/memory"
	"github.com/vovakirdan/onetimechat/internal/kv"
)

// StorageKey holds the serialized list of [id, room] pairs.
const StorageKey = "one-time-chats"

const saveTimeout = 5 * time.Second

// Rooms is a registry persisted into a storage.
type Rooms struct {
	*memory.Registry

	storage kv.Storage
	log     *zerolog.Logger

	saveMu sync.Mutex
}

// Open loads rooms from storage, drops rooms older than chat.RoomTTL and
// writes the cleaned list back. A missing or unreadable value yields an
// empty registry; the failure is logged.
func Open(ctx context.Context, storage kv.Storage, logger *zerolog.Logger, opts ...memory.Option) *Rooms {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	r := &Rooms{
		Registry: memory.NewRegistry(opts...),
		storage:  storage,
		log:      logger,
	}

	rooms, err := load(ctx, storage)
	if err != nil {
		logger.Warn().Err(err).Str("key", StorageKey).Msg("failed to load chats from storage")
	}
	r.Import(rooms)

	if n := r.Prune(chat.RoomTTL); n > 0 {
		logger.Info().Int("pruned", n).Msg("removed expired chats")
	}
	r.save(ctx)

	r.OnChange(func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		r.save(saveCtx)
	})
	return r
}

// ClearAll drops every room and the storage key.
func (r *Rooms) ClearAll(ctx context.Context) {
	r.Clear()

	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if err := r.storage.Remove(ctx, StorageKey); err != nil {
		r.log.Warn().Err(err).Msg("failed to clear chats in storage")
	}
}

// save writes the current registry content. The export happens under
// saveMu so the last writer always stores the latest state.
func (r *Rooms) save(ctx context.Context) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	data, err := encodeRooms(r.Export())
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to encode chats")
		return
	}
	if err := r.storage.Set(ctx, StorageKey, string(data)); err != nil {
		r.log.Warn().Err(err).Msg("failed to save chats to storage")
	}
}

func load(ctx context.Context, storage kv.Storage) ([]*chat.Room, error) {
	raw, ok, err := storage.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("read storage: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	return decodeRooms([]byte(raw))
}

// Wire shapes: timestamps travel as RFC3339 strings.

type storedUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt string `json:"joinedAt"`
}

type storedMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Author    string `json:"author,omitempty"`
	Timestamp string `json:"timestamp"`
}

type storedRoom struct {
	ID        string          `json:"id"`
	CreatedAt string          `json:"createdAt"`
	Users     []storedUser    `json:"users"`
	Messages  []storedMessage `json:"messages"`
}

func encodeRooms(rooms []*chat.Room) ([]byte, error) {
	pairs := make([][2]any, 0, len(rooms))
	for _, room := range rooms {
		sr := storedRoom{
			ID:        room.ID,
			CreatedAt: formatTime(room.CreatedAt),
			Users:     make([]storedUser, 0, len(room.Users)),
			Messages:  make([]storedMessage, 0, len(room.Messages)),
		}
		for _, u := range room.Users {
			sr.Users = append(sr.Users, storedUser{ID: u.ID, Name: u.Name, JoinedAt: formatTime(u.JoinedAt)})
		}
		for _, m := range room.Messages {
			sr.Messages = append(sr.Messages, storedMessage{
				ID:        m.ID,
				Type:      string(m.Type),
				Content:   m.Content,
				Author:    m.Author,
				Timestamp: formatTime(m.Timestamp),
			})
		}
		pairs = append(pairs, [2]any{room.ID, sr})
	}
	return json.Marshal(pairs)
}

func decodeRooms(data []byte) ([]*chat.Room, error) {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	rooms := make([]*chat.Room, 0, len(pairs))
	for _, pair := range pairs {
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return nil, fmt.Errorf("decode chat id: %w", err)
		}
		var sr storedRoom
		if err := json.Unmarshal(pair[1], &sr); err != nil {
			return nil, fmt.Errorf("decode chat %s: %w", id, err)
		}

		createdAt, err := parseTime(sr.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("chat %s created_at: %w", id, err)
		}
		room := &chat.Room{
			ID:        id,
			CreatedAt: createdAt,
			Users:     make([]chat.User, 0, len(sr.Users)),
			Messages:  make([]chat.Message, 0, len(sr.Messages)),
		}
		for _, u := range sr.Users {
			joinedAt, err := parseTime(u.JoinedAt)
			if err != nil {
				return nil, fmt.Errorf("chat %s user %s joined_at: %w", id, u.ID, err)
			}
			room.Users = append(room.Users, chat.User{ID: u.ID, Name: u.Name, JoinedAt: joinedAt, Online: true})
		}
		for _, m := range sr.Messages {
			ts, err := parseTime(m.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("chat %s message %s timestamp: %w", id, m.ID, err)
			}
			room.Messages = append(room.Messages, chat.Message{
				ID:        m.ID,
				Type:      chat.MessageType(m.Type),
				Content:   m.Content,
				Author:    m.Author,
				Timestamp: ts,
			})
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
