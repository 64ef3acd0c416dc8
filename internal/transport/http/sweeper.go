package http

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
)

// ExpirySweeper deactivates chats whose expiry has passed and announces
// each one on the change feed.
type ExpirySweeper struct {
	store store.ChatStore
	pub   Publisher
	log   *zerolog.Logger
	now   func() time.Time
}

// NewExpirySweeper builds a sweeper.
func NewExpirySweeper(st store.ChatStore, pub Publisher, logger *zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{store: st, pub: pub, log: logger, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	s.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the ids of deactivated chats.
func (s *ExpirySweeper) Sweep(ctx context.Context) []string {
	ids, err := s.store.DeactivateExpired(ctx, s.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("expiry sweep failed")
		}
		return nil
	}

	for _, id := range ids {
		var record any = ChatRow{ID: id}
		if c, err := s.store.GetChat(ctx, id); err == nil {
			record = chatRow(c)
		}
		s.pub.Publish(realtime.Change{Table: TableChats, Type: realtime.EventUpdate, ChatID: id, Record: record})
	}
	if len(ids) > 0 {
		s.log.Info().Int("count", len(ids)).Msg("expired chats deactivated")
	}
	return ids
}
