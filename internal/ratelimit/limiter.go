// Package ratelimit keeps one token bucket per key (client IP, visitor
// session) and forgets keys that have been idle for a while.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a set of token buckets indexed by key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time

	rate  rate.Limit
	burst int
	ttl   time.Duration
}

// New builds a limiter allowing perSecond events per key with the given
// burst. A non-positive perSecond disables limiting.
func New(perSecond float64, burst int, ttl time.Duration) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     limit,
		burst:    burst,
		ttl:      ttl,
	}
}

// Allow reports whether one more event for key fits in its bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.limiters[key]
	if !ok {
		bucket = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = bucket
	}
	l.lastSeen[key] = time.Now()
	return bucket.Allow()
}

// Run drops idle buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.prune(now)
		}
	}
}

func (l *Limiter) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, seen := range l.lastSeen {
		if now.Sub(seen) > l.ttl {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
