package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/chat"
)

// Store is the state manager of one actor over a shared Registry.
type Store struct {
	reg    *Registry
	origin string
	log    *zerolog.Logger

	notifier chat.Notifier

	mu     sync.RWMutex
	user   *chat.User
	chatID string
}

var _ chat.Store = (*Store)(nil)

// NewStore builds a Store. origin is the public base URL used for links.
func NewStore(reg *Registry, origin string, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		reg:    reg,
		origin: origin,
		log:    logger,
	}
}

// Registry exposes the shared registry.
func (s *Store) Registry() *Registry {
	return s.reg
}

// CreateChat opens a new room.
func (s *Store) CreateChat(_ context.Context) (string, error) {
	id := s.reg.Create()
	s.log.Debug().Str("chat_id", id).Msg("chat created")
	return id, nil
}

// JoinChat enters chatID as name. The previous room is left only once the
// new one admits the user; a rejected join changes nothing. Joining the
// room the user already occupies is a no-op.
func (s *Store) JoinChat(ctx context.Context, chatID, name string) error {
	if s.InChat(chatID) {
		return nil
	}

	user, err := s.reg.Join(chatID, name)
	if err != nil {
		s.log.Debug().Err(err).Str("chat_id", chatID).Str("user_name", name).Msg("join rejected")
		return err
	}

	s.LeaveChat(ctx)
	s.bind(chatID, &user)
	s.log.Info().Str("chat_id", chatID).Str("user_name", user.Name).Msg("joined chat")
	return nil
}

// LeaveChat removes the current user from their room.
func (s *Store) LeaveChat(_ context.Context) {
	s.mu.RLock()
	user, chatID := s.user, s.chatID
	s.mu.RUnlock()
	if user == nil || chatID == "" {
		return
	}

	s.reg.Leave(chatID, user.ID)
	s.bind("", nil)
	s.log.Info().Str("chat_id", chatID).Str("user_name", user.Name).Msg("left chat")
}

// SendMessage posts text as the current user.
func (s *Store) SendMessage(_ context.Context, text string) {
	s.mu.RLock()
	user, chatID := s.user, s.chatID
	s.mu.RUnlock()
	if user == nil || chatID == "" {
		return
	}

	s.reg.Post(chatID, user.Name, text)
}

func (s *Store) ChatExists(_ context.Context, chatID string) bool {
	return s.reg.Exists(chatID)
}

func (s *Store) ChatURL(chatID string) string {
	return chat.ChatURL(s.origin, chatID)
}

func (s *Store) ParticipantCount(_ context.Context, chatID string) int {
	return s.reg.Count(chatID)
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

// Users returns the users of the current room.
func (s *Store) Users() []chat.User {
	room, ok := s.currentRoom()
	if !ok {
		return []chat.User{}
	}
	return room.Users
}

// Messages returns the messages of the current room.
func (s *Store) Messages() []chat.Message {
	room, ok := s.currentRoom()
	if !ok {
		return []chat.Message{}
	}
	return room.Messages
}

func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.notifier.Subscribe()
}

// Resume rebinds the store to an existing member of a room without posting
// a join message. It fails when the user is no longer in the room.
func (s *Store) Resume(chatID, userID string) (chat.User, bool) {
	user, ok := s.reg.Member(chatID, userID)
	if !ok {
		return chat.User{}, false
	}
	s.bind(chatID, &user)
	return user, true
}

// Clear forgets the current session without touching the registry.
func (s *Store) Clear() {
	s.bind("", nil)
}

func (s *Store) currentRoom() (*chat.Room, bool) {
	s.mu.RLock()
	chatID := s.chatID
	s.mu.RUnlock()
	if chatID == "" {
		return nil, false
	}
	return s.reg.Snapshot(chatID)
}

// bind switches the current session and moves the registry watch along.
func (s *Store) bind(chatID string, user *chat.User) {
	s.mu.Lock()
	prev := s.chatID
	s.chatID = chatID
	s.user = user
	s.mu.Unlock()

	if prev != "" && prev != chatID {
		s.reg.detach(prev, &s.notifier)
	}
	if chatID != "" {
		s.reg.attach(chatID, &s.notifier)
	}
	s.notifier.Notify()
}
