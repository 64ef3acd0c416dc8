// Package remote implements the chat state manager that keeps every room in
// the backend service. The acting user's view of the room is a local mirror
// of the backend rows, refreshed by realtime change notifications.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/dbclient"
	"github.com/vovakirdan/onetimechat/internal/kv"
)

// SessionKey holds the acting user's session in the session storage.
const SessionKey = "chat_session"

const reloadTimeout = 10 * time.Second

// Backend is the part of the database client the store relies on.
type Backend interface {
	InsertChat(ctx context.Context) (*dbclient.Chat, error)
	GetActiveChat(ctx context.Context, id string) (*dbclient.Chat, error)
	DeactivateChat(ctx context.Context, id string) error
	CountOnline(ctx context.Context, chatID string) (int, error)
	FindOnlineByName(ctx context.Context, chatID, name string) (*dbclient.Participant, error)
	InsertParticipant(ctx context.Context, p dbclient.NewParticipant) (*dbclient.Participant, error)
	GetOnlineParticipant(ctx context.Context, id string) (*dbclient.Participant, error)
	SetParticipantOnline(ctx context.Context, id, sessionToken string, online bool) (*dbclient.Participant, error)
	ListOnlineParticipants(ctx context.Context, chatID string) ([]dbclient.Participant, error)
	InsertMessage(ctx context.Context, m dbclient.NewMessage, sessionToken string) (*dbclient.MessageRow, error)
	ListMessages(ctx context.Context, chatID string) ([]dbclient.MessageRow, error)
	Subscribe(ctx context.Context, topic string, filter dbclient.Filter, handler dbclient.Handler) (*dbclient.Subscription, error)
	RemoveSubscription(ctx context.Context, sub *dbclient.Subscription) error
}

var _ Backend = (*dbclient.Client)(nil)

type savedSession struct {
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
}

// Store is the state manager of one actor over the backend.
type Store struct {
	backend Backend
	session kv.Storage
	origin  string
	log     *zerolog.Logger
	now     func() time.Time

	notifier chat.Notifier

	mu       sync.RWMutex
	user     *chat.User
	chatID   string
	token    string
	users    []chat.User
	messages []chat.Message
	subs     []*dbclient.Subscription
	loading  int
}

var (
	_ chat.Store           = (*Store)(nil)
	_ chat.SessionRestorer = (*Store)(nil)
)

// NewStore builds a Store. session may be nil to disable session restore.
func NewStore(backend Backend, session kv.Storage, origin string, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		backend:  backend,
		session:  session,
		origin:   origin,
		log:      logger,
		now:      time.Now,
		users:    []chat.User{},
		messages: []chat.Message{},
	}
}

// CreateChat inserts a chat row.
func (s *Store) CreateChat(ctx context.Context) (string, error) {
	done := s.startLoading()
	defer done()

	row, err := s.backend.InsertChat(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create chat")
		return "", fmt.Errorf("create chat: %w", err)
	}
	s.log.Debug().Str("chat_id", row.ID).Msg("chat created")
	return row.ID, nil
}

// ChatExists reports whether chatID is active and not expired. An expired
// chat is deactivated on the way.
func (s *Store) ChatExists(ctx context.Context, chatID string) bool {
	row, err := s.backend.GetActiveChat(ctx, chatID)
	if err != nil {
		if !errors.Is(err, dbclient.ErrNotFound) {
			s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to check chat")
		}
		return false
	}

	if row.Expired(s.now()) {
		if err := s.backend.DeactivateChat(ctx, chatID); err != nil {
			s.log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to deactivate expired chat")
		}
		return false
	}
	return true
}

// JoinChat enters chatID as name. The previous room is left only after
// the backend admits the new participant; a rejected join changes nothing.
// Joining the room the user already occupies is a no-op.
func (s *Store) JoinChat(ctx context.Context, chatID, name string) error {
	name = chat.NormalizeName(name)
	if name == "" {
		return chat.ErrInvalidName
	}
	if s.InChat(chatID) {
		return nil
	}

	done := s.startLoading()
	defer done()

	if !s.ChatExists(ctx, chatID) {
		return chat.ErrChatNotFound
	}

	count, err := s.backend.CountOnline(ctx, chatID)
	if err != nil {
		return fmt.Errorf("count participants: %w", err)
	}
	if count >= chat.MaxParticipants {
		return chat.ErrChatFull
	}

	_, err = s.backend.FindOnlineByName(ctx, chatID, name)
	switch {
	case err == nil:
		return chat.ErrNameTaken
	case !errors.Is(err, dbclient.ErrNotFound):
		return fmt.Errorf("check name: %w", err)
	}

	token := uuid.NewString()
	p, err := s.backend.InsertParticipant(ctx, dbclient.NewParticipant{ChatID: chatID, UserName: name, SessionID: token})
	if err != nil {
		s.log.Debug().Err(err).Str("chat_id", chatID).Str("user_name", name).Msg("join rejected")
		return joinError(err)
	}

	s.LeaveChat(ctx)

	user := participantUser(*p)
	s.bind(chatID, &user, token)
	s.saveSession(ctx, savedSession{UserID: p.ID, ChatID: chatID, SessionID: token, UserName: p.UserName})
	s.postSystem(ctx, chatID, chat.JoinedText(p.UserName))
	s.subscribe(ctx, chatID)
	s.loadChatData(ctx, chatID)

	s.log.Info().Str("chat_id", chatID).Str("user_name", p.UserName).Msg("joined chat")
	return nil
}

// LeaveChat announces the departure, marks the participant offline and
// drops the local state.
func (s *Store) LeaveChat(ctx context.Context) {
	s.mu.RLock()
	user, chatID, token := s.user, s.chatID, s.token
	s.mu.RUnlock()
	if user == nil || chatID == "" {
		return
	}

	s.postSystem(ctx, chatID, chat.LeftText(user.Name))
	if _, err := s.backend.SetParticipantOnline(ctx, user.ID, token, false); err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Str("participant_id", user.ID).Msg("failed to mark participant offline")
	}
	s.removeSession(ctx)
	s.unsubscribe(ctx)
	s.bind("", nil, "")

	s.log.Info().Str("chat_id", chatID).Str("user_name", user.Name).Msg("left chat")
}

// SendMessage appends a provisional message at once and swaps it for the
// stored row when the backend confirms it, or removes it on failure.
func (s *Store) SendMessage(ctx context.Context, text string) {
	content := strings.TrimSpace(text)

	s.mu.Lock()
	user, chatID, token := s.user, s.chatID, s.token
	if user == nil || chatID == "" || content == "" {
		s.mu.Unlock()
		return
	}
	temp := chat.Message{
		ID:        uuid.NewString(),
		Type:      chat.MessageTypeUser,
		Content:   content,
		Author:    user.Name,
		Timestamp: s.now().UTC(),
	}
	s.messages = append(s.messages, temp)
	s.mu.Unlock()
	s.notifier.Notify()

	userID := user.ID
	row, err := s.backend.InsertMessage(ctx, dbclient.NewMessage{
		ChatID:        chatID,
		ParticipantID: &userID,
		MessageType:   dbclient.MessageTypeUser,
		Content:       content,
	}, token)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to send message")
		s.replaceMessage(temp.ID, nil)
		return
	}

	confirmed := messageFromRow(*row)
	confirmed.Author = user.Name
	s.replaceMessage(temp.ID, &confirmed)
}

// RestoreSession resumes the saved session when its chat is still active
// and its participant still online. Stale sessions are removed.
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

	if !s.ChatExists(ctx, saved.ChatID) {
		s.removeSession(ctx)
		return false
	}

	p, err := s.backend.GetOnlineParticipant(ctx, saved.UserID)
	if err != nil || p.ChatID != saved.ChatID {
		if err != nil && !errors.Is(err, dbclient.ErrNotFound) {
			s.log.Warn().Err(err).Str("participant_id", saved.UserID).Msg("failed to load saved participant")
		}
		s.removeSession(ctx)
		return false
	}

	if s.InChat(saved.ChatID) {
		return true
	}

	done := s.startLoading()
	defer done()

	user := participantUser(*p)
	s.bind(saved.ChatID, &user, saved.SessionID)
	s.subscribe(ctx, saved.ChatID)
	s.loadChatData(ctx, saved.ChatID)

	s.log.Debug().Str("chat_id", saved.ChatID).Str("user_name", p.UserName).Msg("session restored")
	return true
}

func (s *Store) ChatURL(chatID string) string {
	return chat.ChatURL(s.origin, chatID)
}

// ParticipantCount returns the number of online participants, 0 on error.
func (s *Store) ParticipantCount(ctx context.Context, chatID string) int {
	n, err := s.backend.CountOnline(ctx, chatID)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to count participants")
		return 0
	}
	return n
}

func (s *Store) InChat(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.chatID == chatID
}

func (s *Store) HasSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.chatID != ""
}

func (s *Store) CurrentUser() (chat.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return chat.User{}, false
	}
	return *s.user, true
}

func (s *Store) CurrentChatID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatID
}

// Users returns the online participants of the current room.
func (s *Store) Users() []chat.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.User, len(s.users))
	copy(out, s.users)
	return out
}

// Messages returns the messages of the current room.
func (s *Store) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// IsLoading reports whether a create, join or restore is in flight.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.notifier.Subscribe()
}

func (s *Store) startLoading() func() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	s.notifier.Notify()

	return func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
		s.notifier.Notify()
	}
}

// bind switches the current session. Switching always clears the mirrored
// room.
func (s *Store) bind(chatID string, user *chat.User, token string) {
	s.mu.Lock()
	s.chatID = chatID
	s.user = user
	s.token = token
	s.users = []chat.User{}
	s.messages = []chat.Message{}
	s.mu.Unlock()
	s.notifier.Notify()
}

func (s *Store) postSystem(ctx context.Context, chatID, text string) {
	_, err := s.backend.InsertMessage(ctx, dbclient.NewMessage{
		ChatID:      chatID,
		MessageType: dbclient.MessageTypeSystem,
		Content:     text,
	}, "")
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to post system message")
	}
}

func (s *Store) subscribe(ctx context.Context, chatID string) {
	participants, err := s.backend.Subscribe(ctx, "participants_"+chatID, dbclient.Filter{
		Table:  dbclient.TableParticipants,
		Event:  dbclient.EventAll,
		ChatID: chatID,
	}, func(dbclient.ChangeEvent) { s.reload(chatID, s.loadParticipants) })
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to subscribe to participants")
	}

	messages, err := s.backend.Subscribe(ctx, "messages_"+chatID, dbclient.Filter{
		Table:  dbclient.TableMessages,
		Event:  dbclient.EventInsert,
		ChatID: chatID,
	}, func(dbclient.ChangeEvent) { s.reload(chatID, s.loadMessages) })
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to subscribe to messages")
	}

	s.mu.Lock()
	for _, sub := range []*dbclient.Subscription{participants, messages} {
		if sub != nil {
			s.subs = append(s.subs, sub)
		}
	}
	s.mu.Unlock()
}

func (s *Store) unsubscribe(ctx context.Context) {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.backend.RemoveSubscription(ctx, sub); err != nil {
			s.log.Warn().Err(err).Str("topic", sub.Topic()).Msg("failed to unsubscribe")
		}
	}
}

// reload runs a load triggered by a change notification.
func (s *Store) reload(chatID string, load func(context.Context, string) error) {
	if s.CurrentChatID() != chatID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := load(ctx, chatID); err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to reload chat data")
	}
}

func (s *Store) loadChatData(ctx context.Context, chatID string) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loadParticipants(gctx, chatID) })
	g.Go(func() error { return s.loadMessages(gctx, chatID) })
	if err := g.Wait(); err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to load chat data")
	}
}

func (s *Store) loadParticipants(ctx context.Context, chatID string) error {
	rows, err := s.backend.ListOnlineParticipants(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	users := make([]chat.User, 0, len(rows))
	for _, p := range rows {
		users = append(users, participantUser(p))
	}

	s.mu.Lock()
	if s.chatID != chatID {
		s.mu.Unlock()
		return nil
	}
	s.users = users
	s.mu.Unlock()
	s.notifier.Notify()
	return nil
}

func (s *Store) loadMessages(ctx context.Context, chatID string) error {
	rows, err := s.backend.ListMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	batch := make([]chat.Message, 0, len(rows))
	for _, m := range rows {
		batch = append(batch, messageFromRow(m))
	}

	s.mu.Lock()
	if s.chatID != chatID {
		s.mu.Unlock()
		return nil
	}
	merged, changed := chat.MergeMessages(s.messages, batch)
	s.messages = merged
	s.mu.Unlock()

	if changed {
		s.notifier.Notify()
	}
	return nil
}

// replaceMessage swaps the message tempID for confirmed, or removes it when
// confirmed is nil or already mirrored through a change notification.
func (s *Store) replaceMessage(tempID string, confirmed *chat.Message) {
	s.mu.Lock()
	idx := -1
	for i, m := range s.messages {
		if m.ID == tempID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return
	}

	if confirmed != nil && !containsID(s.messages, confirmed.ID) {
		s.messages[idx] = *confirmed
	} else {
		s.messages = append(s.messages[:idx:idx], s.messages[idx+1:]...)
	}
	s.mu.Unlock()
	s.notifier.Notify()
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

func containsID(msgs []chat.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
