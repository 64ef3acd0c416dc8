// Package app wires the web router and the backend service into runnable
// servers with their background loops.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/config"
)

// Options selects the servers an App runs.
type Options struct {
	Web     bool
	Backend bool
}

// loop is a background task bound to the App lifetime.
type loop func(ctx context.Context)

// App wires together core and transport layers.
type App struct {
	servers         []*stdhttp.Server
	loops           []loop
	closers         []func() error
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. When both
// servers run and the remote variant has no backend URL, the web router
// talks to the in-process backend with a freshly signed public key.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zerolog.Logger) (*App, error) {
	if !opts.Web && !opts.Backend {
		return nil, errors.New("nothing to run")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{shutdownTimeout: cfg.ShutdownTimeout, log: logger}

	if opts.Backend {
		b, err := newBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.servers = append(a.servers, b.server)
		a.loops = append(a.loops, b.loops...)
		a.closers = append(a.closers, b.close)

		if opts.Web && cfg.Store.Variant == config.VariantRemote && cfg.Remote.URL == "" {
			cfg.Remote.URL = localURL(cfg.Backend.Addr)
			cfg.Remote.APIKey = b.anonKey
			logger.Info().Str("url", cfg.Remote.URL).Msg("remote variant uses the in-process backend")
		}
	}

	if opts.Web {
		w, err := newWeb(ctx, cfg, logger)
		if err != nil {
			a.cleanup()
			return nil, err
		}
		a.servers = append(a.servers, w.server)
		a.loops = append(a.loops, w.loops...)
		a.closers = append(a.closers, w.close)
	}

	return a, nil
}

// Run starts the HTTP servers and background loops and blocks until
// context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	loopCtx, stopLoops := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, run := range a.loops {
		wg.Add(1)
		go func(run loop) {
			defer wg.Done()
			run(loopCtx)
		}(run)
	}

	serverErr := make(chan error, len(a.servers))
	for _, srv := range a.servers {
		go func(srv *stdhttp.Server) {
			a.log.Info().Str("addr", srv.Addr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				serverErr <- fmt.Errorf("serve %s: %w", srv.Addr, err)
				return
			}
			serverErr <- nil
		}(srv)
	}

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	a.log.Info().Msg("shutting down http servers")
	for _, srv := range a.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Str("addr", srv.Addr).Msg("shutdown failed")
			runErr = errors.Join(runErr, err)
		}
	}

	stopLoops()
	wg.Wait()
	a.cleanup()
	return runErr
}

// cleanup closes stores and other resources in reverse order.
func (a *App) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("failed to close resource")
		}
	}
	a.closers = nil
}

func localURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
