package ratelimit

import (
	"testing"
	"time"
)

func TestAllowPerKeyBurst(t *testing.T) {
	l := New(0.001, 2, time.Minute)

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of two should pass")
	}
	if l.Allow("a") {
		t.Fatal("third event should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("keys must not share a bucket")
	}
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l := New(0, 0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("event %d limited", i)
		}
	}
}

func TestPruneDropsIdleKeys(t *testing.T) {
	l := New(1, 1, time.Minute)
	l.Allow("a")
	l.Allow("b")

	if n := l.prune(time.Now()); n != 0 {
		t.Fatalf("fresh keys pruned: %d", n)
	}
	if n := l.prune(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Fatalf("expected 2 pruned, got %d", n)
	}
	if l.Len() != 0 {
		t.Fatalf("expected no keys, got %d", l.Len())
	}
}
