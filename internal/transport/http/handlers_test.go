package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/auth"
	"github.com/vovakirdan/presencebridge/internal/proto"
)

func (e *testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/login", "", `{"username":"admin","password":"`+testPassword+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var authResp AuthResponse
	decode(t, resp, &authResp)
	if _, err := env.auth.ValidateToken(authResp.Token); err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}

	resp = env.do(t, http.MethodPost, "/api/login", "", `{"username":"admin","password":"nope"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/login", "", `{"username":"admin"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", resp.StatusCode)
	}
}

func TestAuthGuard(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.do(t, http.MethodGet, "/api/servers", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/servers", "garbage", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	// A token signed with the right key but the wrong role is rejected by
	// the auth service before the admin guard runs.
	viewer, err := auth.GenerateToken(&auth.JWTConfig{
		Secret: []byte("test-secret"), Issuer: "test", Audience: "test", TTL: time.Minute,
	}, "viewer", "viewer")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if resp := env.do(t, http.MethodGet, "/api/servers", viewer, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for viewer role, got %d", resp.StatusCode)
	}
}

func TestServerEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	resp := env.do(t, http.MethodGet, "/api/servers", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var servers []ServerResponse
	decode(t, resp, &servers)
	if len(servers) != 1 || servers[0].Key != "main" || !servers[0].Finalized || servers[0].LoginComplete != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected servers: %+v", servers)
	}

	resp = env.do(t, http.MethodGet, "/api/servers/main/users", token, "")
	var users []UserResponse
	decode(t, resp, &users)
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("unexpected users: %+v", users)
	}

	resp = env.do(t, http.MethodGet, "/api/servers/main/accounts", token, "")
	var accounts AccountsResponse
	decode(t, resp, &accounts)
	if !accounts.Loaded || len(accounts.Accounts) != 0 {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}

	// Not yet fetched is reported apart from an empty directory.
	env.registry.mu.Lock()
	delete(env.registry.accounts, "main")
	env.registry.mu.Unlock()
	resp = env.do(t, http.MethodGet, "/api/servers/main/accounts", token, "")
	accounts = AccountsResponse{}
	decode(t, resp, &accounts)
	if accounts.Loaded || len(accounts.Accounts) != 0 {
		t.Fatalf("expected unloaded accounts, got %+v", accounts)
	}

	if resp := env.do(t, http.MethodGet, "/api/servers/nope/users", token, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown server, got %d", resp.StatusCode)
	}

	if resp := env.do(t, http.MethodPost, "/api/servers/main/reconnect", token, ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(env.registry.reconnects) != 1 || env.registry.reconnects[0] != "main" {
		t.Fatalf("reconnect not forwarded: %v", env.registry.reconnects)
	}
}

func TestSubscriberEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	if resp := env.do(t, http.MethodGet, "/api/subscribers/42", token, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before registration, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/subscribers/abc", token, ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}

	if _, err := env.subs.Register(context.Background(), 42); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/subscribers/42/mute/toggle", token, `{"username":"alice"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var toggled MuteToggleResponse
	decode(t, resp, &toggled)
	if !toggled.Muted || len(toggled.Subscriber.MutedUsernames) != 1 {
		t.Fatalf("unexpected toggle response: %+v", toggled)
	}

	resp = env.do(t, http.MethodPut, "/api/subscribers/42/notifications", token, `{"mode":"join_off"}`)
	var sub SubscriberResponse
	decode(t, resp, &sub)
	if sub.NotificationMode != "join_off" {
		t.Fatalf("notification mode not stored: %+v", sub)
	}

	if resp := env.do(t, http.MethodPut, "/api/subscribers/42/mute-mode", token, `{"mode":"greylist"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad mute mode, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/subscribers/42/noon", token, `{"username":"alice","enabled":true,"confirm":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for noon update, got %d", resp.StatusCode)
	}
	decode(t, resp, &sub)
	if !sub.NoonEnabled || !sub.NoonConfirmed || sub.LinkedUsername != "alice" {
		t.Fatalf("unexpected noon state: %+v", sub)
	}

	if resp := env.do(t, http.MethodDelete, "/api/subscribers/42", token, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestPresenceStream(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws/presence?token=" + env.token(t)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	select {
	case <-env.registry.subscribed:
	case <-ctx.Done():
		t.Fatalf("stream never subscribed")
	}
	env.registry.push(proto.PresenceChange{Server: "main", Kind: "login", UserID: 7, Username: "alice"})

	var frame struct {
		Type  string               `json:"type"`
		Event string               `json:"event"`
		Data  proto.PresenceChange `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != proto.OutboundTypeEvent || frame.Event != EventPresence || frame.Data.Username != "alice" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestPresenceStreamRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws/presence"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestRequireAdminGuardsPlainHandlers(t *testing.T) {
	authService := createTestAuthService(t, "test-secret")
	nop := zerolog.Nop()
	reached := 0
	handler := RequireAdmin(authService, &nop, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached++
		w.WriteHeader(http.StatusNoContent)
	}))

	viewer, err := auth.GenerateToken(&auth.JWTConfig{
		Secret: []byte("test-secret"), Issuer: "test", Audience: "test", TTL: time.Minute,
	}, "viewer", "viewer")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	admin, err := authService.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "no token", target: "/ws/presence", want: http.StatusUnauthorized},
		{name: "malformed header", target: "/ws/presence", header: "Token abc", want: http.StatusUnauthorized},
		{name: "viewer role", target: "/ws/presence?token=" + viewer, want: http.StatusUnauthorized},
		{name: "admin query token", target: "/ws/presence?token=" + admin, want: http.StatusNoContent},
		{name: "admin bearer header", target: "/ws/presence", header: "Bearer " + admin, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
	if reached != 2 {
		t.Fatalf("expected the handler to run for admin tokens only, ran %d times", reached)
	}
}

func TestAdminOnlyDeniesOtherRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	c.Set(ContextKeyRole, "viewer")

	AdminOnly(HasAdminRole, DenyForbidden)(c)

	if w.Code != http.StatusForbidden || !c.IsAborted() {
		t.Fatalf("expected aborted 403, got %d aborted=%v", w.Code, c.IsAborted())
	}
}
