package local

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/kv"
)

func TestOpenPrunesRoomsOlderThanADay(t *testing.T) {
	ctx := context.Background()
	storage := kv.NewMemory()
	now := time.Now().UTC()

	data, err := encodeRooms([]*chat.Room{
		{ID: "old", CreatedAt: now.Add(-25 * time.Hour)},
		{ID: "fresh", CreatedAt: now.Add(-time.Hour), Users: []chat.User{{ID: "u1", Name: "alice", JoinedAt: now}}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = storage.Set(ctx, StorageKey, string(data))

	rooms := Open(ctx, storage, nil)

	if rooms.Exists("old") {
		t.Fatal("room older than 24h must be pruned")
	}
	if !rooms.Exists("fresh") || rooms.Count("fresh") != 1 {
		t.Fatal("fresh room must be restored with its users")
	}

	// The cleaned list is written back.
	raw, _, _ := storage.Get(ctx, StorageKey)
	restored, err := decodeRooms([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(restored) != 1 || restored[0].ID != "fresh" {
		t.Fatalf("unexpected persisted rooms: %+v", restored)
	}
}

func TestStoredFormatIsPairsWithStringDates(t *testing.T) {
	ctx := context.Background()
	storage := kv.NewMemory()
	rooms := Open(ctx, storage, nil)
	s := NewStore(rooms, nil, "http://chat.test", nil)

	chatID, _ := s.CreateChat(ctx)
	if err := s.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	raw, ok, _ := storage.Get(ctx, StorageKey)
	if !ok {
		t.Fatal("expected chats in storage")
	}
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		t.Fatalf("stored value is not a pair list: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	var room map[string]any
	_ = json.Unmarshal(pairs[0][1], &room)
	if _, isString := room["createdAt"].(string); !isString {
		t.Fatalf("createdAt should be a string, got %T", room["createdAt"])
	}
}

func TestRoomsSurviveReopenOfFileStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chats.json")

	file, err := kv.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(Open(ctx, file, nil), nil, "http://chat.test", nil)
	chatID, _ := s.CreateChat(ctx)
	_ = s.JoinChat(ctx, chatID, "alice")
	s.SendMessage(ctx, "persist me")

	file2, err := kv.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	rooms := Open(ctx, file2, nil)
	snap, ok := rooms.Snapshot(chatID)
	if !ok {
		t.Fatal("room lost after reopen")
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Content != "persist me" || last.Author != "alice" {
		t.Fatalf("unexpected last message %+v", last)
	}
}

func TestLeaveLastUserRemovesRoomFromStorage(t *testing.T) {
	ctx := context.Background()
	storage := kv.NewMemory()
	s := NewStore(Open(ctx, storage, nil), kv.NewMemory(), "http://chat.test", nil)

	chatID, _ := s.CreateChat(ctx)
	_ = s.JoinChat(ctx, chatID, "alice")
	s.LeaveChat(ctx)

	raw, _, _ := storage.Get(ctx, StorageKey)
	rooms, err := decodeRooms([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 0 {
		t.Fatalf("expected no rooms, got %d", len(rooms))
	}
}

func TestCorruptStorageLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	storage := kv.NewMemory()
	_ = storage.Set(ctx, StorageKey, "{broken")

	rooms := Open(ctx, storage, nil)
	if rooms.Len() != 0 {
		t.Fatalf("expected empty registry, got %d rooms", rooms.Len())
	}
}

func TestRestoreSession(t *testing.T) {
	ctx := context.Background()
	rooms := Open(ctx, kv.NewMemory(), nil)
	session := kv.NewMemory()

	first := NewStore(rooms, session, "http://chat.test", nil)
	chatID, _ := first.CreateChat(ctx)
	if err := first.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	// A new actor sharing the session storage picks the session up.
	second := NewStore(rooms, session, "http://chat.test", nil)
	if !second.RestoreSession(ctx) {
		t.Fatal("expected session to be restored")
	}
	user, ok := second.CurrentUser()
	if !ok || user.Name != "alice" || !second.InChat(chatID) {
		t.Fatalf("unexpected restored user %+v", user)
	}
	if rooms.Count(chatID) != 1 {
		t.Fatal("restore must not add a participant")
	}
}

func TestRestoreSessionRejectsStaleSession(t *testing.T) {
	ctx := context.Background()
	rooms := Open(ctx, kv.NewMemory(), nil)
	session := kv.NewMemory()

	s := NewStore(rooms, session, "http://chat.test", nil)
	chatID, _ := s.CreateChat(ctx)
	_ = s.JoinChat(ctx, chatID, "alice")

	later := NewStore(rooms, session, "http://chat.test", nil)
	later.now = func() time.Time { return time.Now().Add(chat.RoomTTL + time.Minute) }
	if later.RestoreSession(ctx) {
		t.Fatal("session older than 24h must not be restored")
	}
	if _, ok, _ := session.Get(ctx, SessionKey); ok {
		t.Fatal("stale session should be removed")
	}
}

func TestRestoreSessionAfterLeaveFails(t *testing.T) {
	ctx := context.Background()
	rooms := Open(ctx, kv.NewMemory(), nil)
	session := kv.NewMemory()
	other := NewStore(rooms, kv.NewMemory(), "http://chat.test", nil)

	s := NewStore(rooms, session, "http://chat.test", nil)
	chatID, _ := s.CreateChat(ctx)
	_ = other.JoinChat(ctx, chatID, "bob")
	_ = s.JoinChat(ctx, chatID, "alice")

	// Keep a copy of the session, then leave.
	raw, _, _ := session.Get(ctx, SessionKey)
	s.LeaveChat(ctx)
	_ = session.Set(ctx, SessionKey, raw)

	again := NewStore(rooms, session, "http://chat.test", nil)
	if again.RestoreSession(ctx) {
		t.Fatal("user who left must not be restored")
	}
}

func TestClearAllChats(t *testing.T) {
	ctx := context.Background()
	storage := kv.NewMemory()
	session := kv.NewMemory()
	s := NewStore(Open(ctx, storage, nil), session, "http://chat.test", nil)

	chatID, _ := s.CreateChat(ctx)
	_ = s.JoinChat(ctx, chatID, "alice")
	s.ClearAllChats(ctx)

	if s.ChatExists(ctx, chatID) || s.HasSession() {
		t.Fatal("clear must drop rooms and the session")
	}
	if _, ok, _ := storage.Get(ctx, StorageKey); ok {
		t.Fatal("storage key should be removed")
	}
	if _, ok, _ := session.Get(ctx, SessionKey); ok {
		t.Fatal("session key should be removed")
	}
}

func TestRejectedJoinKeepsRoomAndSession(t *testing.T) {
	ctx := context.Background()
	storage := kv.NewMemory()
	session := kv.NewMemory()
	s := NewStore(Open(ctx, storage, nil), session, "http://chat.test", nil)

	chatID, _ := s.CreateChat(ctx)
	_ = s.JoinChat(ctx, chatID, "alice")

	if err := s.JoinChat(ctx, "missing", "alice"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if !s.InChat(chatID) || !s.ChatExists(ctx, chatID) {
		t.Fatal("rejected join must keep the current room")
	}
	if _, ok, _ := session.Get(ctx, SessionKey); !ok {
		t.Fatal("rejected join must keep the saved session")
	}

	if err := s.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("rejoin current room: %v", err)
	}
	if !s.ChatExists(ctx, chatID) || s.ParticipantCount(ctx, chatID) != 1 {
		t.Fatal("rejoining the current room must not delete it")
	}
}
