package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/chat/local"
	"github.com/vovakirdan/onetimechat/internal/chat/memory"
	"github.com/vovakirdan/onetimechat/internal/chat/remote"
	"github.com/vovakirdan/onetimechat/internal/config"
	"github.com/vovakirdan/onetimechat/internal/dbclient"
	"github.com/vovakirdan/onetimechat/internal/kv"
	"github.com/vovakirdan/onetimechat/internal/ratelimit"
	"github.com/vovakirdan/onetimechat/internal/transport/web"
)

const (
	visitorSweepInterval = time.Minute
	roomPruneInterval    = 10 * time.Minute
	pingTimeout          = 5 * time.Second
)

type webServer struct {
	server *stdhttp.Server
	loops  []loop
	close  func() error
}

func newWeb(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*webServer, error) {
	origin := cfg.PublicURL
	if origin == "" {
		origin = localURL(cfg.Addr)
	}

	w := &webServer{}
	var closers []func() error
	w.close = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var (
		factory web.Factory
		reg     *memory.Registry
	)
	switch cfg.Store.Variant {
	case config.VariantMemory:
		reg = memory.NewRegistry()
		factory = func(string) (chat.Store, func(), error) {
			return memory.NewStore(reg, origin, logger), nil, nil
		}

	case config.VariantLocal:
		storage, closeStorage, err := OpenStorage(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		closers = append(closers, closeStorage)
		rooms := local.Open(ctx, storage, logger)
		reg = rooms.Registry
		factory = func(sid string) (chat.Store, func(), error) {
			return local.NewStore(rooms, visitorStorage(storage, sid), origin, logger), nil, nil
		}

	case config.VariantRemote:
		storage, closeStorage, err := OpenStorage(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		closers = append(closers, closeStorage)

		check, err := dbclient.New(cfg.Remote.URL, cfg.Remote.APIKey, dbclient.WithLogger(logger))
		if err != nil {
			_ = w.close()
			return nil, fmt.Errorf("remote backend: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		if err := check.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Str("url", check.URL()).Msg("remote backend not reachable yet")
		}
		cancel()
		_ = check.Close()

		factory = func(sid string) (chat.Store, func(), error) {
			client, err := dbclient.New(cfg.Remote.URL, cfg.Remote.APIKey, dbclient.WithLogger(logger))
			if err != nil {
				return nil, nil, err
			}
			release := func() { _ = client.Close() }
			return remote.NewStore(client, visitorStorage(storage, sid), origin, logger), release, nil
		}
	}

	sessions := web.NewSessions(factory, cfg.SessionIdleTimeout, strings.HasPrefix(origin, "https://"), logger)
	closers = append(closers, func() error { sessions.Close(); return nil })

	limiter := ratelimit.New(cfg.SendRate, cfg.SendBurst, limiterIdleTTL)
	w.server = web.NewServer(cfg.Addr, sessions, limiter, cfg.ReadHeaderTimeout, logger)
	w.loops = []loop{
		func(ctx context.Context) { sessions.Run(ctx, visitorSweepInterval) },
		func(ctx context.Context) { limiter.Run(ctx, limiterIdleTTL) },
	}
	if reg != nil {
		w.loops = append(w.loops, func(ctx context.Context) { pruneRooms(ctx, reg, logger) })
	}

	logger.Info().Str("variant", cfg.Store.Variant).Str("origin", origin).Msg("chat router initialized")
	return w, nil
}

// OpenStorage opens the key/value storage selected by cfg.Storage.
func OpenStorage(ctx context.Context, cfg config.StoreConfig) (kv.Storage, func() error, error) {
	switch cfg.Storage {
	case config.StorageFile:
		f, err := kv.OpenFile(cfg.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage file: %w", err)
		}
		return f, func() error { return nil }, nil
	case config.StorageRedis:
		r := kv.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisPrefix, cfg.RedisTTL)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			_ = r.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return r, r.Close, nil
	default:
		return kv.NewMemory(), func() error { return nil }, nil
	}
}

func visitorStorage(storage kv.Storage, sid string) kv.Storage {
	return kv.WithPrefix(storage, "session:"+sid+":")
}

func pruneRooms(ctx context.Context, reg *memory.Registry, logger *zerolog.Logger) {
	ticker := time.NewTicker(roomPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := reg.Prune(chat.RoomTTL); n > 0 {
				logger.Info().Int("pruned", n).Msg("removed expired chats")
			}
		}
	}
}
