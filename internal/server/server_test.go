package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"bookshelf/internal/api"
	"bookshelf/internal/auth"
	"bookshelf/internal/blob"
	"bookshelf/internal/books"
	"bookshelf/internal/storage"
)

func newTestServer(t *testing.T, cfg Config) (http.Handler, *api.Handler, *storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	blobs, err := blob.NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := auth.NewSessionManager()
	svc := books.NewService(store, blobs, logger)
	handler := api.New(store, sessions, svc, blobs, logger)
	handler.AllowSelfSignup = true

	cfg.Logger = logger
	srv := New(handler, cfg)
	return srv.Handler, handler, store
}

func TestPublicPathsSkipAuthentication(t *testing.T) {
	chain, _, _ := newTestServer(t, Config{})

	for _, path := range []string{"/healthz", "/api/auth/login", "/api/auth/signup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		chain.ServeHTTP(resp, req)
		if resp.Code == http.StatusUnauthorized {
			t.Fatalf("public path %s demanded credentials", path)
		}
	}
}

func TestProtectedPathsDemandCredentials(t *testing.T) {
	chain, _, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	resp := httptest.NewRecorder()
	chain.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestAuthenticatedRequestFlowsThroughChain(t *testing.T) {
	chain, handler, store := newTestServer(t, Config{})

	user, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := handler.Sessions.Create(user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	chain.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestLoginRateLimit(t *testing.T) {
	chain, _, _ := newTestServer(t, Config{LoginRateLimit: 3, LoginRateWindow: time.Minute})

	payload, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "wrong"})
	var lastCode int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:4444"
		resp := httptest.NewRecorder()
		chain.ServeHTTP(resp, req)
		lastCode = resp.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("fourth attempt status = %d, want 429", lastCode)
	}

	// A different client IP is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:4444"
	resp := httptest.NewRecorder()
	chain.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("fresh ip status = %d, want 401", resp.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{name: "direct", remoteAddr: "203.0.113.9:4444", want: "203.0.113.9"},
		{name: "forwarded ignored by default", remoteAddr: "203.0.113.9:4444", forwarded: "10.0.0.1", want: "203.0.113.9"},
		{name: "forwarded honored when trusted", remoteAddr: "203.0.113.9:4444", forwarded: "10.0.0.1, 10.0.0.2", trustProxy: true, want: "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := extractClientIP(req, tc.trustProxy); got != tc.want {
				t.Fatalf("extractClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoginLimiterWindowReset(t *testing.T) {
	limiter := newLoginLimiter(2, time.Minute)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("ip") || !limiter.Allow("ip") {
		t.Fatal("attempts within limit rejected")
	}
	if limiter.Allow("ip") {
		t.Fatal("attempt over limit accepted")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("ip") {
		t.Fatal("attempt after window reset rejected")
	}
}
