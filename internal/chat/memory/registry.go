// Package memory implements the in-process chat state manager: every room
// lives in a map shared by all actors of the process.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/utils"
)

// Registry holds every room of the process.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*chat.Room
	watchers map[string]map[*chat.Notifier]struct{}
	hooks    []func()
	now      func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*chat.Room),
		watchers: make(map[string]map[*chat.Notifier]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange registers fn to run after every mutation.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Create opens an empty room and returns its id.
func (r *Registry) Create() string {
	id := utils.NewID()

	r.mu.Lock()
	r.rooms[id] = &chat.Room{
		ID:        id,
		CreatedAt: r.now(),
		Users:     []chat.User{},
		Messages:  []chat.Message{},
	}
	r.mu.Unlock()

	r.changed(id)
	return id
}

// Join adds a user called name to the room and posts the join message.
func (r *Registry) Join(chatID, name string) (chat.User, error) {
	name = chat.NormalizeName(name)
	if name == "" {
		return chat.User{}, chat.ErrInvalidName
	}

	r.mu.Lock()
	room, ok := r.rooms[chatID]
	if !ok {
		r.mu.Unlock()
		return chat.User{}, chat.ErrChatNotFound
	}
	if len(room.Users) >= chat.MaxParticipants {
		r.mu.Unlock()
		return chat.User{}, chat.ErrChatFull
	}
	if room.HasName(name) {
		r.mu.Unlock()
		return chat.User{}, chat.ErrNameTaken
	}

	now := r.now()
	user := chat.User{
		ID:       utils.NewID(),
		Name:     name,
		JoinedAt: now,
		Online:   true,
	}
	room.Users = append(room.Users, user)
	room.Messages = append(room.Messages, systemMessage(chat.JoinedText(name), now))
	r.mu.Unlock()

	r.changed(chatID)
	return user, nil
}

// Leave posts the leave message and removes the user. The room is deleted
// once its last user is gone. It reports whether the user was in the room.
func (r *Registry) Leave(chatID, userID string) bool {
	r.mu.Lock()
	room, ok := r.rooms[chatID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	idx := -1
	for i, u := range room.Users {
		if u.ID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	name := room.Users[idx].Name
	room.Messages = append(room.Messages, systemMessage(chat.LeftText(name), r.now()))
	room.Users = append(room.Users[:idx:idx], room.Users[idx+1:]...)
	if len(room.Users) == 0 {
		delete(r.rooms, chatID)
	}
	r.mu.Unlock()

	r.changed(chatID)
	return true
}

// Post appends a user message. Text is trimmed; blank text is ignored.
func (r *Registry) Post(chatID, author, text string) (chat.Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, false
	}

	r.mu.Lock()
	room, ok := r.rooms[chatID]
	if !ok {
		r.mu.Unlock()
		return chat.Message{}, false
	}
	msg := chat.Message{
		ID:        utils.NewID(),
		Type:      chat.MessageTypeUser,
		Content:   text,
		Author:    author,
		Timestamp: r.now(),
	}
	room.Messages = append(room.Messages, msg)
	r.mu.Unlock()

	r.changed(chatID)
	return msg, true
}

// Exists reports whether the room is present.
func (r *Registry) Exists(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[chatID]
	return ok
}

// Count returns the number of users in the room, 0 when it is missing.
func (r *Registry) Count(chatID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[chatID]; ok {
		return len(room.Users)
	}
	return 0
}

// Snapshot returns a copy of the room.
func (r *Registry) Snapshot(chatID string) (*chat.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[chatID]
	if !ok {
		return nil, false
	}
	return room.Clone(), true
}

// Member returns the user with userID if they are in the room.
func (r *Registry) Member(chatID, userID string) (chat.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[chatID]
	if !ok {
		return chat.User{}, false
	}
	for _, u := range room.Users {
		if u.ID == userID {
			return u, true
		}
	}
	return chat.User{}, false
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Prune deletes rooms created before now-maxAge and returns how many went.
func (r *Registry) Prune(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	var pruned []string
	for id, room := range r.rooms {
		if room.CreatedAt.Before(cutoff) {
			delete(r.rooms, id)
			pruned = append(pruned, id)
		}
	}
	r.mu.Unlock()

	if len(pruned) > 0 {
		r.changed(pruned...)
	}
	return len(pruned)
}

// Clear drops every room.
func (r *Registry) Clear() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.rooms = make(map[string]*chat.Room)
	r.mu.Unlock()

	r.changed(ids...)
}

// Export returns copies of all rooms ordered by creation time.
func (r *Registry) Export() []*chat.Room {
	r.mu.Lock()
	out := make([]*chat.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Import replaces the registry content without running change hooks.
func (r *Registry) Import(rooms []*chat.Room) {
	next := make(map[string]*chat.Room, len(rooms))
	for _, room := range rooms {
		if room == nil || room.ID == "" {
			continue
		}
		next[room.ID] = room.Clone()
	}

	r.mu.Lock()
	r.rooms = next
	r.mu.Unlock()
}

// attach makes n receive a signal on every change of the room.
func (r *Registry) attach(chatID string, n *chat.Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[chatID]
	if !ok {
		set = make(map[*chat.Notifier]struct{})
		r.watchers[chatID] = set
	}
	set[n] = struct{}{}
}

func (r *Registry) detach(chatID string, n *chat.Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[chatID]
	if !ok {
		return
	}
	delete(set, n)
	if len(set) == 0 {
		delete(r.watchers, chatID)
	}
}

// changed runs hooks and wakes the watchers of the given rooms.
func (r *Registry) changed(chatIDs ...string) {
	r.mu.Lock()
	hooks := append([]func(){}, r.hooks...)
	var notify []*chat.Notifier
	for _, id := range chatIDs {
		for n := range r.watchers[id] {
			notify = append(notify, n)
		}
	}
	r.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	for _, n := range notify {
		n.Notify()
	}
}

func systemMessage(text string, at time.Time) chat.Message {
	return chat.Message{
		ID:        utils.NewID(),
		Type:      chat.MessageTypeSystem,
		Content:   text,
		Timestamp: at,
	}
}
