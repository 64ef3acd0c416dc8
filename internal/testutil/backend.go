// Package testutil starts a complete backend service for tests of its
// clients.
package testutil

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/auth"
	"github.com/vovakirdan/onetimechat/internal/config"
	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
	"github.com/vovakirdan/onetimechat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/onetimechat/internal/transport/http"
)

// Backend is a running backend over an in-memory SQLite store.
type Backend struct {
	Server     *httptest.Server
	Store      store.Store
	Hub        *realtime.Hub
	AnonKey    string
	ServiceKey string
}

// URL returns the base URL of the backend.
func (b *Backend) URL() string {
	return b.Server.URL
}

// NewBackend starts a backend that is torn down with the test.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	hub := realtime.NewHub(&logger)
	go hub.Run(ctx)

	keys := &auth.KeyConfig{Secret: []byte("test-secret"), Issuer: "test", Audience: "test"}
	anonKey, err := auth.GenerateKey(keys, auth.RoleAnon)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	serviceKey, err := auth.GenerateKey(keys, auth.RoleService)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	router := transporthttp.NewRouter(hub, st, keys, nil, config.Default().Backend, &logger)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &Backend{Server: ts, Store: st, Hub: hub, AnonKey: anonKey, ServiceKey: serviceKey}
}
