package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/utils"
)

// CookieName carries the visitor id.
const CookieName = "chat_sid"

const leaveTimeout = 10 * time.Second

// Factory builds the state manager of a new visitor. release, when not
// nil, frees resources owned by the store once the visitor is dropped.
type Factory func(visitorID string) (st chat.Store, release func(), err error)

type visitor struct {
	id       string
	store    chat.Store
	release  func()
	lastSeen time.Time
}

// Sessions maps visitor cookies to their state managers.
type Sessions struct {
	factory Factory
	idle    time.Duration
	secure  bool
	log     *zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewSessions builds a session table. Visitors idle for longer than idle
// are dropped by Sweep; a zero idle keeps them forever.
func NewSessions(factory Factory, idle time.Duration, secure bool, logger *zerolog.Logger) *Sessions {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Sessions{
		factory:  factory,
		idle:     idle,
		secure:   secure,
		log:      logger,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// acquire returns the visitor of the request, creating it and setting the
// cookie when needed. A cookie that is not a well-formed id starts a new
// visitor.
func (s *Sessions) acquire(c *gin.Context) (*visitor, error) {
	id, err := c.Cookie(CookieName)
	if err != nil || !utils.ValidID(id) {
		id = utils.NewID()
	}

	s.mu.Lock()
	v, ok := s.visitors[id]
	s.mu.Unlock()

	if !ok {
		st, release, err := s.factory(id)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if v, ok = s.visitors[id]; !ok {
			v = &visitor{id: id, store: st, release: release}
			s.visitors[id] = v
		}
		s.mu.Unlock()

		if ok {
			// Lost the race to a concurrent request of the same visitor.
			if release != nil {
				release()
			}
		} else {
			s.log.Debug().Str("visitor_id", id).Msg("visitor created")
		}
	}

	s.mu.Lock()
	v.lastSeen = s.now()
	s.mu.Unlock()

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, id, 0, "/", "", s.secure, true)
	return v, nil
}

// Len returns the number of live visitors.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// Run sweeps idle visitors every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info().Int("count", n).Msg("idle visitors dropped")
			}
		}
	}
}

// Sweep drops visitors idle for longer than the idle timeout. Each one
// leaves its room first.
func (s *Sessions) Sweep() int {
	if s.idle <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idle)

	s.mu.Lock()
	var stale []*visitor
	for id, v := range s.visitors {
		if v.lastSeen.Before(cutoff) {
			stale = append(stale, v)
			delete(s.visitors, id)
		}
	}
	s.mu.Unlock()

	for _, v := range stale {
		s.drop(v)
	}
	return len(stale)
}

// Close drops every visitor.
func (s *Sessions) Close() {
	s.mu.Lock()
	all := make([]*visitor, 0, len(s.visitors))
	for id, v := range s.visitors {
		all = append(all, v)
		delete(s.visitors, id)
	}
	s.mu.Unlock()

	for _, v := range all {
		s.drop(v)
	}
}

func (s *Sessions) drop(v *visitor) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	v.store.LeaveChat(ctx)
	if v.release != nil {
		v.release()
	}
	s.log.Debug().Str("visitor_id", v.id).Msg("visitor dropped")
}
