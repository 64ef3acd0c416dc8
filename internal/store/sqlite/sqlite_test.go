package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/onetimechat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &store.Chat{}
	if err := s.CreateChat(ctx, c); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected generated id")
	}
	if got := c.ExpiresAt.Sub(c.CreatedAt); got != store.DefaultChatTTL {
		t.Fatalf("expected default ttl, got %v", got)
	}

	got, err := s.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if !got.IsActive || !got.CreatedAt.Equal(c.CreatedAt) {
		t.Fatalf("unexpected chat %+v", got)
	}

	if _, err := s.GetChat(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeactivateExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &store.Chat{CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	fresh := &store.Chat{}
	for _, c := range []*store.Chat{expired, fresh} {
		if err := s.CreateChat(ctx, c); err != nil {
			t.Fatalf("CreateChat failed: %v", err)
		}
	}

	ids, err := s.DeactivateExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeactivateExpired failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != expired.ID {
		t.Fatalf("expected only %s, got %v", expired.ID, ids)
	}

	got, _ := s.GetChat(ctx, expired.ID)
	if got.IsActive {
		t.Fatal("expired chat should be inactive")
	}

	// Second run has nothing left to do.
	ids, err = s.DeactivateExpired(ctx, now)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no ids, got %v (%v)", ids, err)
	}
}

func TestParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &store.Chat{}
	_ = s.CreateChat(ctx, c)

	base := time.Now().UTC()
	names := []string{"alice", "bob", "carol"}
	var added []*store.Participant
	for i, name := range names {
		p := &store.Participant{
			ChatID:    c.ID,
			UserName:  name,
			JoinedAt:  base.Add(time.Duration(i) * time.Second),
			IsOnline:  true,
			SessionID: "sess-" + name,
		}
		if err := s.AddParticipant(ctx, p); err != nil {
			t.Fatalf("AddParticipant failed: %v", err)
		}
		added = append(added, p)
	}

	if n, _ := s.CountOnline(ctx, c.ID); n != 3 {
		t.Fatalf("expected 3 online, got %d", n)
	}

	updated, err := s.SetParticipantOnline(ctx, added[1].ID, false)
	if err != nil {
		t.Fatalf("SetParticipantOnline failed: %v", err)
	}
	if updated.IsOnline {
		t.Fatal("expected offline participant")
	}

	online, err := s.ListParticipants(ctx, c.ID, true)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(online) != 2 || online[0].UserName != "alice" || online[1].UserName != "carol" {
		t.Fatalf("unexpected online participants %+v", online)
	}

	all, _ := s.ListParticipants(ctx, c.ID, false)
	if len(all) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(all))
	}

	if _, err := s.FindOnlineByName(ctx, c.ID, "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("offline bob must not be found, got %v", err)
	}
	p, err := s.FindOnlineByName(ctx, c.ID, "carol")
	if err != nil || p.ID != added[2].ID {
		t.Fatalf("expected carol, got %+v (%v)", p, err)
	}

	if _, err := s.SetParticipantOnline(ctx, "missing", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessagesOrderedWithAuthor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &store.Chat{}
	_ = s.CreateChat(ctx, c)
	alice := &store.Participant{ChatID: c.ID, UserName: "alice", IsOnline: true, SessionID: "s1"}
	_ = s.AddParticipant(ctx, alice)

	base := time.Now().UTC()
	system := &store.Message{ChatID: c.ID, Type: store.MessageTypeSystem, Content: "alice joined the chat", CreatedAt: base}
	user := &store.Message{ChatID: c.ID, ParticipantID: &alice.ID, Content: "hi", CreatedAt: base.Add(time.Second)}
	// Inserted out of order on purpose.
	for _, m := range []*store.Message{user, system} {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}
	if user.AuthorName == nil || *user.AuthorName != "alice" {
		t.Fatal("SaveMessage should fill the author name")
	}

	msgs, err := s.ListMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Type != store.MessageTypeSystem || msgs[0].ParticipantID != nil || msgs[0].AuthorName != nil {
		t.Fatalf("unexpected system message %+v", msgs[0])
	}
	if msgs[1].Type != store.MessageTypeUser || msgs[1].AuthorName == nil || *msgs[1].AuthorName != "alice" {
		t.Fatalf("unexpected user message %+v", msgs[1])
	}
}
