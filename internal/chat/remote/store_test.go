package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/dbclient"
	"github.com/vovakirdan/onetimechat/internal/kv"
	"github.com/vovakirdan/onetimechat/internal/store"
	"github.com/vovakirdan/onetimechat/internal/testutil"
)

const origin = "http://chat.test"

func newClient(t *testing.T, b *testutil.Backend) *dbclient.Client {
	t.Helper()
	c, err := dbclient.New(b.URL(), b.AnonKey)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestStore(t *testing.T, b *testutil.Backend, session kv.Storage) *Store {
	t.Helper()
	return NewStore(newClient(t, b), session, origin, nil)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasMessage(msgs []chat.Message, author, content string) bool {
	for _, m := range msgs {
		if m.Author == author && m.Content == content {
			return true
		}
	}
	return false
}

func noDuplicateIDs(t *testing.T, msgs []chat.Message) {
	t.Helper()
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate message id %s in %+v", m.ID, msgs)
		}
		seen[m.ID] = true
	}
}

func TestJoinAndSend(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()

	alice := newTestStore(t, b, nil)
	chatID, err := alice.CreateChat(ctx)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if !alice.ChatExists(ctx, chatID) {
		t.Fatal("new chat should exist")
	}
	if got := alice.ChatURL(chatID); got != origin+"/chat/"+chatID {
		t.Fatalf("unexpected url %q", got)
	}

	if err := alice.JoinChat(ctx, chatID, "  alice "); err != nil {
		t.Fatalf("join: %v", err)
	}
	user, ok := alice.CurrentUser()
	if !ok || user.Name != "alice" || !alice.InChat(chatID) || alice.IsLoading() {
		t.Fatalf("unexpected state after join: %+v", user)
	}
	if users := alice.Users(); len(users) != 1 || users[0].Name != "alice" {
		t.Fatalf("unexpected users %+v", users)
	}
	if msgs := alice.Messages(); len(msgs) == 0 || msgs[0].Type != chat.MessageTypeSystem || msgs[0].Content != chat.JoinedText("alice") {
		t.Fatalf("expected joined message, got %+v", msgs)
	}

	bob := newTestStore(t, b, nil)
	if err := bob.JoinChat(ctx, chatID, "bob"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	eventually(t, "alice to see bob", func() bool { return len(alice.Users()) == 2 })

	alice.SendMessage(ctx, "  hi there  ")
	msgs := alice.Messages()
	last := msgs[len(msgs)-1]
	if last.Content != "hi there" || last.Author != "alice" {
		t.Fatalf("unexpected last message %+v", last)
	}
	eventually(t, "bob to receive the message", func() bool { return hasMessage(bob.Messages(), "alice", "hi there") })
	eventually(t, "alice to settle", func() bool { return len(alice.Messages()) == 3 })
	noDuplicateIDs(t, alice.Messages())
	noDuplicateIDs(t, bob.Messages())

	if n := bob.ParticipantCount(ctx, chatID); n != 2 {
		t.Fatalf("expected 2 participants, got %d", n)
	}
}

func TestSendBlankIsNoop(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()

	s := newTestStore(t, b, nil)
	s.SendMessage(ctx, "no session")

	chatID, err := s.CreateChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatal(err)
	}
	before := len(s.Messages())
	s.SendMessage(ctx, "   \n\t")
	if len(s.Messages()) != before {
		t.Fatal("blank message must not be added")
	}

	stored, err := b.Store.ListMessages(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected only the joined message, got %d", len(stored))
	}
}

func TestJoinRejections(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()
	c := newClient(t, b)

	s := newTestStore(t, b, nil)

	if err := s.JoinChat(ctx, "missing", "alice"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}

	chatID, err := s.CreateChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.JoinChat(ctx, chatID, "  "); !errors.Is(err, chat.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}

	if _, err := c.InsertParticipant(ctx, dbclient.NewParticipant{ChatID: chatID, UserName: "alice", SessionID: "alice-session"}); err != nil {
		t.Fatal(err)
	}
	if err := s.JoinChat(ctx, chatID, "alice"); !errors.Is(err, chat.ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}

	for i := 1; i < chat.MaxParticipants; i++ {
		name := fmt.Sprintf("user-%d", i)
		if _, err := c.InsertParticipant(ctx, dbclient.NewParticipant{ChatID: chatID, UserName: name, SessionID: name + "-session"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.JoinChat(ctx, chatID, "late"); !errors.Is(err, chat.ErrChatFull) {
		t.Fatalf("expected ErrChatFull, got %v", err)
	}
	if n := s.ParticipantCount(ctx, chatID); n != chat.MaxParticipants {
		t.Fatalf("expected %d participants, got %d", chat.MaxParticipants, n)
	}
	if s.HasSession() {
		t.Fatal("rejected join must not leave a session")
	}
}

func TestChatExistsDeactivatesExpired(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()

	expired := &store.Chat{CreatedAt: time.Now().Add(-48 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour)}
	if err := b.Store.CreateChat(ctx, expired); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, b, nil)
	if s.ChatExists(ctx, expired.ID) {
		t.Fatal("expired chat must not exist")
	}
	row, err := b.Store.GetChat(ctx, expired.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.IsActive {
		t.Fatal("expired chat should have been deactivated")
	}
	if err := s.JoinChat(ctx, expired.ID, "alice"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestLeaveChat(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()
	session := kv.NewMemory()

	alice := newTestStore(t, b, session)
	chatID, err := alice.CreateChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatal(err)
	}
	bob := newTestStore(t, b, nil)
	if err := bob.JoinChat(ctx, chatID, "bob"); err != nil {
		t.Fatal(err)
	}

	alice.LeaveChat(ctx)
	if alice.HasSession() || len(alice.Users()) != 0 || len(alice.Messages()) != 0 {
		t.Fatal("leave must clear local state")
	}
	if _, ok, _ := session.Get(ctx, SessionKey); ok {
		t.Fatal("leave must remove the saved session")
	}

	eventually(t, "bob to see alice leave", func() bool {
		users := bob.Users()
		return len(users) == 1 && users[0].Name == "bob"
	})
	eventually(t, "bob to see the left message", func() bool {
		return hasMessage(bob.Messages(), "", chat.LeftText("alice"))
	})

	// The name is free again.
	if err := alice.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	// Leaving without a session is a no-op.
	idle := newTestStore(t, b, nil)
	idle.LeaveChat(ctx)
}

func TestRestoreSession(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()
	session := kv.NewMemory()

	first := newTestStore(t, b, session)
	chatID, err := first.CreateChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatal(err)
	}
	first.SendMessage(ctx, "before reload")

	second := newTestStore(t, b, session)
	if !second.RestoreSession(ctx) {
		t.Fatal("expected session to be restored")
	}
	user, _ := second.CurrentUser()
	want, _ := first.CurrentUser()
	if user.ID != want.ID || second.CurrentChatID() != chatID {
		t.Fatalf("restored %+v in %s, want %+v in %s", user, second.CurrentChatID(), want, chatID)
	}
	if !hasMessage(second.Messages(), "alice", "before reload") {
		t.Fatalf("restored session should load messages, got %+v", second.Messages())
	}

	// The restored store can act as the participant.
	second.SendMessage(ctx, "after reload")
	eventually(t, "first to see the restored message", func() bool {
		return hasMessage(first.Messages(), "alice", "after reload")
	})

	second.LeaveChat(ctx)
	third := newTestStore(t, b, session)
	if third.RestoreSession(ctx) {
		t.Fatal("session of a departed user must not restore")
	}
}

func TestRestoreSessionDiscardsStale(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()
	session := kv.NewMemory()

	if err := session.Set(ctx, SessionKey, `{"user_id":"gone","chat_id":"gone","session_id":"x","user_name":"ghost"}`); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, b, session)
	if s.RestoreSession(ctx) {
		t.Fatal("stale session must not restore")
	}
	if _, ok, _ := session.Get(ctx, SessionKey); ok {
		t.Fatal("stale session should be removed")
	}

	if err := session.Set(ctx, SessionKey, "{not json"); err != nil {
		t.Fatal(err)
	}
	if s.RestoreSession(ctx) {
		t.Fatal("unreadable session must not restore")
	}

	if NewStore(newClient(t, b), nil, origin, nil).RestoreSession(ctx) {
		t.Fatal("store without session storage cannot restore")
	}
}

type failingSends struct {
	Backend
}

func (f failingSends) InsertMessage(ctx context.Context, m dbclient.NewMessage, token string) (*dbclient.MessageRow, error) {
	if m.MessageType == dbclient.MessageTypeUser {
		return nil, errors.New("backend unavailable")
	}
	return f.Backend.InsertMessage(ctx, m, token)
}

func TestSendRollsBackOnFailure(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()

	s := NewStore(failingSends{Backend: newClient(t, b)}, nil, origin, nil)
	chatID, err := s.CreateChat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatal(err)
	}

	changes, stop := s.Subscribe()
	defer stop()

	before := s.Messages()
	s.SendMessage(ctx, "lost")
	if hasMessage(s.Messages(), "alice", "lost") {
		t.Fatal("failed message must be rolled back")
	}
	if len(s.Messages()) != len(before) {
		t.Fatalf("expected %d messages, got %d", len(before), len(s.Messages()))
	}

	select {
	case <-changes:
	default:
		t.Fatal("optimistic append should notify subscribers")
	}
}

func TestReplaceMessageSkipsMirroredRow(t *testing.T) {
	s := NewStore(nil, nil, origin, nil)
	s.messages = []chat.Message{
		{ID: "temp", Content: "hi"},
		{ID: "server", Content: "hi"},
	}

	s.replaceMessage("temp", &chat.Message{ID: "server", Content: "hi"})
	if len(s.messages) != 1 || s.messages[0].ID != "server" {
		t.Fatalf("expected only the server row, got %+v", s.messages)
	}

	s.messages = []chat.Message{{ID: "temp"}}
	s.replaceMessage("temp", &chat.Message{ID: "confirmed"})
	if len(s.messages) != 1 || s.messages[0].ID != "confirmed" {
		t.Fatalf("expected confirmed row, got %+v", s.messages)
	}
}

func TestJoinErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{&dbclient.APIError{Status: 409, Code: "chat_full"}, chat.ErrChatFull},
		{&dbclient.APIError{Status: 409, Code: "name_taken"}, chat.ErrNameTaken},
		{&dbclient.APIError{Status: 404, Code: "not_found"}, chat.ErrChatNotFound},
		{&dbclient.APIError{Status: 410, Code: "chat_inactive"}, chat.ErrChatNotFound},
		{&dbclient.APIError{Status: 400, Code: "bad_request"}, chat.ErrInvalidName},
	}
	for _, tt := range tests {
		if got := joinError(tt.err); !errors.Is(got, tt.want) {
			t.Errorf("joinError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	plain := errors.New("boom")
	if got := joinError(plain); !errors.Is(got, plain) {
		t.Fatalf("unexpected wrap %v", got)
	}
}

func TestRejectedJoinKeepsCurrentChat(t *testing.T) {
	b := testutil.NewBackend(t)
	ctx := context.Background()
	session := kv.NewMemory()

	alice := newTestStore(t, b, session)
	chatID, _ := alice.CreateChat(ctx)
	if err := alice.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := alice.JoinChat(ctx, "does-not-exist", "alice"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if !alice.HasSession() || !alice.InChat(chatID) {
		t.Fatal("rejected join must keep the current session")
	}
	if _, ok, _ := session.Get(ctx, SessionKey); !ok {
		t.Fatal("rejected join must keep the saved session")
	}
	if n := alice.ParticipantCount(ctx, chatID); n != 1 {
		t.Fatalf("expected alice still online, got %d participants", n)
	}

	if err := alice.JoinChat(ctx, chatID, "alice"); err != nil {
		t.Fatalf("rejoin current chat: %v", err)
	}
	if n := alice.ParticipantCount(ctx, chatID); n != 1 {
		t.Fatalf("rejoin must not add a participant, got %d", n)
	}
}
