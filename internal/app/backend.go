package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/auth"
	"github.com/vovakirdan/onetimechat/internal/config"
	"github.com/vovakirdan/onetimechat/internal/ratelimit"
	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
	"github.com/vovakirdan/onetimechat/internal/store/postgres"
	"github.com/vovakirdan/onetimechat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/onetimechat/internal/transport/http"
)

const limiterIdleTTL = 10 * time.Minute

type backend struct {
	server  *stdhttp.Server
	loops   []loop
	anonKey string
	close   func() error
}

func newBackend(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*backend, error) {
	st, err := OpenStore(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("driver", cfg.Backend.Driver).Msg("database initialized")

	keys := KeyConfig(cfg.Backend)
	anonKey, err := auth.GenerateKey(keys, auth.RoleAnon)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("sign public key: %w", err)
	}

	hub := realtime.NewHub(logger)
	limiter := ratelimit.New(cfg.Backend.RateLimit, cfg.Backend.RateBurst, limiterIdleTTL)
	sweeper := transporthttp.NewExpirySweeper(st, hub, logger)
	server := transporthttp.NewServer(hub, st, keys, limiter, cfg.Backend, cfg.ReadHeaderTimeout, logger)

	return &backend{
		server:  server,
		anonKey: anonKey,
		loops: []loop{
			hub.Run,
			func(ctx context.Context) { sweeper.Run(ctx, cfg.Backend.SweepInterval) },
			func(ctx context.Context) { limiter.Run(ctx, limiterIdleTTL) },
		},
		close: st.Close,
	}, nil
}

// OpenStore opens the backend database selected by cfg.Driver and applies
// its migrations.
func OpenStore(ctx context.Context, cfg config.BackendConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		return st, nil
	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." && cfg.DatabasePath != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		st, err := sqlite.New(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		return st, nil
	}
}

// KeyConfig derives the API key settings from the backend config. Keys
// never expire.
func KeyConfig(cfg config.BackendConfig) *auth.KeyConfig {
	return &auth.KeyConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
}
