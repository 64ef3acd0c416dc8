package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vovakirdan/onetimechat/internal/chat"
)

func newTestStore(t *testing.T, reg *Registry) *Store {
	t.Helper()
	if reg == nil {
		reg = NewRegistry()
	}
	return NewStore(reg, "http://chat.test", nil)
}

func TestJoinFullRoomFails(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	owner := newTestStore(t, reg)

	chatID, err := owner.CreateChat(ctx)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	for i := 0; i < chat.MaxParticipants; i++ {
		s := newTestStore(t, reg)
		if err := s.JoinChat(ctx, chatID, fmt.Sprintf("user-%d", i)); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}

	late := newTestStore(t, reg)
	err = late.JoinChat(ctx, chatID, "late")
	if !errors.Is(err, chat.ErrChatFull) {
		t.Fatalf("expected ErrChatFull, got %v", err)
	}
	if got := reg.Count(chatID); got != chat.MaxParticipants {
		t.Fatalf("expected %d participants, got %d", chat.MaxParticipants, got)
	}
	if late.HasSession() {
		t.Fatal("rejected store should not hold a session")
	}
}

func TestJoinDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	alice := newTestStore(t, reg)
	chatID, _ := alice.CreateChat(ctx)

	if err := alice.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}

	impostor := newTestStore(t, reg)
	if err := impostor.JoinChat(ctx, chatID, "  alice "); !errors.Is(err, chat.ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	if reg.Count(chatID) != 1 {
		t.Fatalf("expected 1 participant, got %d", reg.Count(chatID))
	}
}

func TestJoinMissingChatAndBlankName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.JoinChat(ctx, "nope", "alice"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}

	chatID, _ := s.CreateChat(ctx)
	if err := s.JoinChat(ctx, chatID, "   "); !errors.Is(err, chat.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestLeaveLastUserDeletesRoom(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	s := newTestStore(t, reg)
	chatID, _ := s.CreateChat(ctx)

	if err := s.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	s.LeaveChat(ctx)

	if s.ChatExists(ctx, chatID) {
		t.Fatal("empty room should be deleted")
	}
	if s.HasSession() || s.InChat(chatID) {
		t.Fatal("session should be cleared after leave")
	}
}

func TestLeaveKeepsRoomWithOthers(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	alice := newTestStore(t, reg)
	bob := newTestStore(t, reg)
	chatID, _ := alice.CreateChat(ctx)

	_ = alice.JoinChat(ctx, chatID, "alice")
	_ = bob.JoinChat(ctx, chatID, "bob")
	alice.LeaveChat(ctx)

	if !bob.ChatExists(ctx, chatID) {
		t.Fatal("room with remaining users must survive")
	}
	users := bob.Users()
	if len(users) != 1 || users[0].Name != "bob" {
		t.Fatalf("unexpected users: %+v", users)
	}

	msgs := bob.Messages()
	last := msgs[len(msgs)-1]
	if last.Type != chat.MessageTypeSystem || last.Content != chat.LeftText("alice") {
		t.Fatalf("expected leave system message, got %+v", last)
	}

	// The name is free again.
	carol := newTestStore(t, reg)
	if err := carol.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("rejoin with freed name: %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	s := newTestStore(t, reg)
	chatID, _ := s.CreateChat(ctx)

	// No session: no-op.
	s.SendMessage(ctx, "hello")

	_ = s.JoinChat(ctx, chatID, "alice")
	before := len(s.Messages())

	s.SendMessage(ctx, "   \t\n")
	if got := len(s.Messages()); got != before {
		t.Fatalf("blank message should be ignored, got %d messages", got)
	}

	s.SendMessage(ctx, "  hi there  ")
	msgs := s.Messages()
	if len(msgs) != before+1 {
		t.Fatalf("expected %d messages, got %d", before+1, len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Content != "hi there" || last.Author != "alice" || last.Type != chat.MessageTypeUser {
		t.Fatalf("unexpected message: %+v", last)
	}
}

func TestJoinPostsSystemMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	chatID, _ := s.CreateChat(ctx)
	_ = s.JoinChat(ctx, chatID, "alice")

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Type != chat.MessageTypeSystem || msgs[0].Content != chat.JoinedText("alice") {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if s.ChatURL(chatID) != "http://chat.test/chat/"+chatID {
		t.Fatalf("unexpected url %q", s.ChatURL(chatID))
	}
	if !s.InChat(chatID) || s.ParticipantCount(ctx, chatID) != 1 {
		t.Fatal("expected presence in chat")
	}
}

func TestSubscribeSeesOtherActors(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	alice := newTestStore(t, reg)
	bob := newTestStore(t, reg)
	chatID, _ := alice.CreateChat(ctx)
	_ = alice.JoinChat(ctx, chatID, "alice")

	ch, stop := alice.Subscribe()
	defer stop()
	drain(ch)

	_ = bob.JoinChat(ctx, chatID, "bob")
	bob.SendMessage(ctx, "hey")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected change signal")
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := NewRegistry(WithClock(clock))

	old := reg.Create()
	now = now.Add(chat.RoomTTL + time.Minute)
	fresh := reg.Create()

	if n := reg.Prune(chat.RoomTTL); n != 1 {
		t.Fatalf("expected 1 pruned room, got %d", n)
	}
	if reg.Exists(old) || !reg.Exists(fresh) {
		t.Fatal("prune removed the wrong room")
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestRejectedJoinKeepsCurrentRoom(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	s := newTestStore(t, reg)
	chatID, _ := s.CreateChat(ctx)
	if err := s.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := s.JoinChat(ctx, "does-not-exist", "alice"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if !s.HasSession() || !s.InChat(chatID) {
		t.Fatal("rejected join must keep the current session")
	}
	if !reg.Exists(chatID) || reg.Count(chatID) != 1 {
		t.Fatal("rejected join must keep the current room")
	}

	if err := s.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("rejoining the current room: %v", err)
	}
	if !reg.Exists(chatID) || reg.Count(chatID) != 1 {
		t.Fatal("rejoining the current room must not leave it")
	}
}

func TestJoinOtherRoomLeavesPrevious(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	s := newTestStore(t, reg)
	first, _ := s.CreateChat(ctx)
	second, _ := s.CreateChat(ctx)
	_ = s.JoinChat(ctx, first, "alice")

	if err := s.JoinChat(ctx, second, "alice"); err != nil {
		t.Fatalf("join second: %v", err)
	}
	if !s.InChat(second) {
		t.Fatal("expected to be in the second room")
	}
	if reg.Exists(first) {
		t.Fatal("the emptied first room should be deleted")
	}
}
