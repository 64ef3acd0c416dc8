package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onetimechat/internal/auth"
	"github.com/vovakirdan/onetimechat/internal/config"
	"github.com/vovakirdan/onetimechat/internal/realtime"
	"github.com/vovakirdan/onetimechat/internal/store"
	"github.com/vovakirdan/onetimechat/internal/store/sqlite"
)

type testBackend struct {
	router     *gin.Engine
	store      store.Store
	hub        *realtime.Hub
	keys       *auth.KeyConfig
	anonKey    string
	serviceKey string
}

// createTestStore creates an in-memory SQLite store with migrations applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	st := createTestStore(t)

	hub := realtime.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
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

	cfg := config.Default().Backend

	return &testBackend{
		router:     NewRouter(hub, st, keys, nil, cfg, zerologDisabled()),
		store:      st,
		hub:        hub,
		keys:       keys,
		anonKey:    anonKey,
		serviceKey: serviceKey,
	}
}

// do performs a request with the anon key and optional extra headers
// given as name/value pairs.
func (b *testBackend) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, b.anonKey)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp := httptest.NewRecorder()
	b.router.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, resp *httptest.ResponseRecorder, status int) {
	t.Helper()
	if resp.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, resp.Code, resp.Body.String())
	}
}

func (b *testBackend) createChat(t *testing.T) ChatRow {
	t.Helper()
	resp := b.do(t, http.MethodPost, "/rest/v1/chats", nil)
	expectStatus(t, resp, http.StatusCreated)
	return decode[ChatRow](t, resp)
}

func (b *testBackend) join(t *testing.T, chatID, name, token string) *httptest.ResponseRecorder {
	t.Helper()
	return b.do(t, http.MethodPost, "/rest/v1/chats/"+chatID+"/participants",
		AddParticipantRequest{UserName: name, SessionID: token})
}

// createExpiredChat inserts a chat whose expiry has passed but which is
// still flagged active.
func (b *testBackend) createExpiredChat(t *testing.T) string {
	t.Helper()
	expired := &store.Chat{CreatedAt: time.Now().Add(-48 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour)}
	if err := b.store.CreateChat(context.Background(), expired); err != nil {
		t.Fatal(err)
	}
	return expired.ID
}

func zerologDisabled() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}
