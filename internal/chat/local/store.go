package local

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/chat/memory"
	"github.com/vovakirdan/onetimechat/internal/kv"
)

// SessionKey holds the acting user's session in the session storage.
const SessionKey = "chat_session"

type savedSession struct {
	User      chat.User `json:"user"`
	ChatID    string    `json:"chatId"`
	Timestamp string    `json:"timestamp"`
}

// Store is the state manager of one actor over persisted Rooms. The
// actor's session is written to its own session storage so it can be
// resumed later.
type Store struct {
	*memory.Store

	rooms   *Rooms
	session kv.Storage
	log     *zerolog.Logger
	now     func() time.Time
}

var (
	_ chat.Store           = (*Store)(nil)
	_ chat.SessionRestorer = (*Store)(nil)
)

// NewStore builds a Store. session may be nil to disable session restore.
func NewStore(rooms *Rooms, session kv.Storage, origin string, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		Store:   memory.NewStore(rooms.Registry, origin, logger),
		rooms:   rooms,
		session: session,
		log:     logger,
		now:     time.Now,
	}
}

// JoinChat enters the room and remembers the session.
func (s *Store) JoinChat(ctx context.Context, chatID, name string) error {
	if err := s.Store.JoinChat(ctx, chatID, name); err != nil {
		return err
	}

	user, _ := s.CurrentUser()
	s.saveSession(ctx, savedSession{
		User:      user,
		ChatID:    chatID,
		Timestamp: formatTime(s.now()),
	})
	return nil
}

// LeaveChat leaves the room and forgets the session.
func (s *Store) LeaveChat(ctx context.Context) {
	s.Store.LeaveChat(ctx)
	s.removeSession(ctx)
}

// RestoreSession resumes a saved session younger than chat.RoomTTL whose
// user is still in the room. Stale sessions are removed.
func (s *Store) RestoreSession(ctx context.Context) bool {
	if s.session == nil {
		return false
	}

	raw, ok, err := s.session.Get(ctx, SessionKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read saved session")
		return false
	}
	if !ok {
		return false
	}

	var saved savedSession
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		s.log.Warn().Err(err).Msg("discarding unreadable session")
		s.removeSession(ctx)
		return false
	}

	ts, err := parseTime(saved.Timestamp)
	if err != nil || s.now().Sub(ts) > chat.RoomTTL {
		s.removeSession(ctx)
		return false
	}

	if _, ok := s.Resume(saved.ChatID, saved.User.ID); !ok {
		s.removeSession(ctx)
		return false
	}

	s.log.Debug().Str("chat_id", saved.ChatID).Str("user_name", saved.User.Name).Msg("session restored")
	return true
}

// ClearAllChats wipes every room, the storage key and the current session.
func (s *Store) ClearAllChats(ctx context.Context) {
	s.rooms.ClearAll(ctx)
	s.Clear()
	s.removeSession(ctx)
}

func (s *Store) saveSession(ctx context.Context, sess savedSession) {
	if s.session == nil {
		return
	}
	data, err := json.Marshal(sess)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode session")
		return
	}
	if err := s.session.Set(ctx, SessionKey, string(data)); err != nil {
		s.log.Warn().Err(err).Msg("failed to save session")
	}
}

func (s *Store) removeSession(ctx context.Context) {
	if s.session == nil {
		return
	}
	if err := s.session.Remove(ctx, SessionKey); err != nil {
		s.log.Warn().Err(err).Msg("failed to remove session")
	}
}
