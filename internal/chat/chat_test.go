package chat

import (
	"testing"
	"time"
)

func TestMergeMessagesNeverDuplicatesIDs(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	existing := []Message{
		{ID: "a", Content: "first", Timestamp: base},
		{ID: "b", Content: "second", Timestamp: base.Add(time.Second)},
	}
	batch := []Message{
		{ID: "a", Content: "first", Timestamp: base},
		{ID: "c", Content: "late", Timestamp: base.Add(500 * time.Millisecond)},
		{ID: "b", Content: "second", Timestamp: base.Add(time.Second)},
		{ID: "c", Content: "late", Timestamp: base.Add(500 * time.Millisecond)},
	}

	merged, changed := MergeMessages(existing, batch)
	if !changed {
		t.Fatal("expected merge to report a change")
	}

	ids := make([]string, 0, len(merged))
	for _, m := range merged {
		ids = append(ids, m.ID)
	}
	want := []string{"a", "c", "b"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}

	// The caller's slice keeps its order.
	if existing[1].ID != "b" {
		t.Fatalf("existing slice was reordered: %+v", existing)
	}
}

func TestMergeMessagesNoNewIDs(t *testing.T) {
	existing := []Message{{ID: "a"}}
	merged, changed := MergeMessages(existing, []Message{{ID: "a"}})
	if changed {
		t.Fatal("expected no change")
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 message, got %d", len(merged))
	}
}

func TestMergeMessagesEmptyTakesBatch(t *testing.T) {
	batch := []Message{{ID: "x"}, {ID: "y"}}
	merged, changed := MergeMessages(nil, batch)
	if !changed || len(merged) != 2 {
		t.Fatalf("expected batch to be taken, got %+v (changed=%v)", merged, changed)
	}
}

func TestRoomCloneIsDeep(t *testing.T) {
	room := &Room{ID: "r", Users: []User{{ID: "u", Name: "alice"}}}
	cp := room.Clone()
	cp.Users[0].Name = "mallory"
	if room.Users[0].Name != "alice" {
		t.Fatal("clone shares user slice with the original")
	}
}

func TestNotifierCoalescesAndStops(t *testing.T) {
	var n Notifier
	ch, stop := n.Subscribe()

	n.Notify()
	n.Notify()

	select {
	case <-ch:
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	stop()
	stop()
	if n.Len() != 0 {
		t.Fatalf("expected no listeners, got %d", n.Len())
	}
}

func TestChatURL(t *testing.T) {
	if got := ChatURL("http://localhost:8080/", "abc"); got != "http://localhost:8080/chat/abc" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestRoomHasName(t *testing.T) {
	r := &Room{Users: []User{{ID: "1", Name: "alice"}}}
	if !r.HasName("alice") {
		t.Fatal("alice should be taken")
	}
	if r.HasName("bob") || r.HasName("Alice") {
		t.Fatal("only exact names of present users are taken")
	}
}
