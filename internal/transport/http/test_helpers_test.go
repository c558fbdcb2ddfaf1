package http

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/auth"
	"github.com/vovakirdan/presencebridge/internal/core"
	"github.com/vovakirdan/presencebridge/internal/proto"
	"github.com/vovakirdan/presencebridge/internal/service/subscribers"
	"github.com/vovakirdan/presencebridge/internal/store/sqlite"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

const testPassword = "password123"

// fakeRegistry serves canned server state.
type fakeRegistry struct {
	mu         sync.Mutex
	servers    []core.ServerStatus
	users      map[string][]voice.User
	accounts   map[string][]voice.Account
	reconnects []string
	subs       []chan proto.PresenceChange
	subscribed chan struct{}
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		servers: []core.ServerStatus{{
			Key:               "main",
			Name:              "Main",
			State:             "finalized",
			Finalized:         true,
			LoginCompleteTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			OnlineUsers:       1,
		}},
		users: map[string][]voice.User{
			"main": {{ID: 7, Username: "alice", Nickname: "Alice", ChannelID: 1}},
		},
		accounts: map[string][]voice.Account{
			"main": {},
		},
		subscribed: make(chan struct{}, 8),
	}
}

func (f *fakeRegistry) lookup(key string) (core.ServerStatus, error) {
	for _, st := range f.servers {
		if st.Key == key {
			return st, nil
		}
	}
	return core.ServerStatus{}, &core.CoreError{Code: core.ErrCodeServerNotFound, Message: "server " + key + " not found"}
}

func (f *fakeRegistry) Servers(context.Context) ([]core.ServerStatus, error) {
	return f.servers, nil
}

func (f *fakeRegistry) Server(_ context.Context, key string) (core.ServerStatus, error) {
	return f.lookup(key)
}

func (f *fakeRegistry) OnlineUsers(_ context.Context, key string) ([]voice.User, error) {
	if _, err := f.lookup(key); err != nil {
		return nil, err
	}
	return f.users[key], nil
}

func (f *fakeRegistry) Accounts(_ context.Context, key string) ([]voice.Account, bool, error) {
	if _, err := f.lookup(key); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	accounts, ok := f.accounts[key]
	return accounts, ok, nil
}

func (f *fakeRegistry) Reconnect(_ context.Context, key string) error {
	if _, err := f.lookup(key); err != nil {
		return err
	}
	f.mu.Lock()
	f.reconnects = append(f.reconnects, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeRegistry) Subscribe(buffer int) (<-chan proto.PresenceChange, func()) {
	ch := make(chan proto.PresenceChange, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return ch, func() {}
}

func (f *fakeRegistry) push(change proto.PresenceChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- change
	}
}

type testEnv struct {
	server   *httptest.Server
	registry *fakeRegistry
	subs     *subscribers.Service
	auth     *auth.Service
	metrics  *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(sqlite.Schema)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := createTestAuthService(t, "test-secret")
	registry := newFakeRegistry()
	subs := subscribers.New(st)
	metrics := prometheus.NewRegistry()

	disabledLogger := zerolog.Nop()
	handler := NewHandler(Deps{
		Registry:    registry,
		Subscribers: subs,
		Auth:        authService,
		Gatherer:    metrics,
	}, &disabledLogger)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, registry: registry, subs: subs, auth: authService, metrics: metrics}
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, jwtSecret string) *auth.Service {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService("admin", hash, jwtConfig)
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, err := e.auth.IssueToken()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
