package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSignupCreatesAccountAndSession(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doJSON(t, h.Signup, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"displayName": "Alice",
		"email":       "alice@example.com",
		"password":    "hunter2hunter2",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (%s)", resp.Code, http.StatusCreated, resp.Body.String())
	}

	var payload authResponse
	decodeBody(t, resp, &payload)
	if payload.Token == "" {
		t.Fatal("token missing")
	}
	if payload.User.Email != "alice@example.com" {
		t.Fatalf("email = %q", payload.User.Email)
	}

	userID, err := h.Sessions.Validate(payload.Token)
	if err != nil || userID != payload.User.ID {
		t.Fatalf("token does not validate: %v", err)
	}

	cookies := resp.Result().Cookies()
	found := false
	for _, cookie := range cookies {
		if cookie.Name == SessionCookieName && cookie.Value == payload.Token && cookie.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Fatalf("session cookie not set: %v", cookies)
	}
}

func TestSignupValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	cases := []struct {
		name    string
		payload map[string]string
		status  int
	}{
		{name: "short password", payload: map[string]string{"displayName": "A", "email": "a@example.com", "password": "short"}, status: http.StatusBadRequest},
		{name: "missing email", payload: map[string]string{"displayName": "A", "password": "hunter2hunter2"}, status: http.StatusBadRequest},
		{name: "missing name", payload: map[string]string{"email": "a@example.com", "password": "hunter2hunter2"}, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, h.Signup, http.MethodPost, "/api/auth/signup", "", tc.payload)
			if resp.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", resp.Code, tc.status, resp.Body.String())
			}
		})
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	h, _ := newTestHandler(t)

	payload := map[string]string{"displayName": "Alice", "email": "alice@example.com", "password": "hunter2hunter2"}
	if resp := doJSON(t, h.Signup, http.MethodPost, "/api/auth/signup", "", payload); resp.Code != http.StatusCreated {
		t.Fatalf("first signup: %d", resp.Code)
	}
	resp := doJSON(t, h.Signup, http.MethodPost, "/api/auth/signup", "", payload)
	if resp.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusConflict)
	}
}

func TestSignupDisabled(t *testing.T) {
	h, _ := newTestHandler(t)
	h.AllowSelfSignup = false

	resp := doJSON(t, h.Signup, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"displayName": "Alice",
		"email":       "alice@example.com",
		"password":    "hunter2hunter2",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusForbidden)
	}
}

func TestLogin(t *testing.T) {
	h, store := newTestHandler(t)
	user, _ := createTestUser(t, h, store, "alice")

	resp := doJSON(t, h.Login, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    user.Email,
		"password": "hunter2hunter2",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.Code, resp.Body.String())
	}
	var payload authResponse
	decodeBody(t, resp, &payload)
	if payload.Token == "" || payload.User.ID != user.ID {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h, store := newTestHandler(t)
	user, _ := createTestUser(t, h, store, "alice")

	cases := []map[string]string{
		{"email": user.Email, "password": "wrong-password"},
		{"email": "nobody@example.com", "password": "hunter2hunter2"},
	}
	for _, payload := range cases {
		resp := doJSON(t, h.Login, http.MethodPost, "/api/auth/login", "", payload)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", resp.Code, http.StatusUnauthorized)
		}
		if msg := errorMessage(t, resp); msg != "invalid credentials" {
			t.Fatalf("message = %q, want opaque credentials error", msg)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	h, store := newTestHandler(t)
	user, token := createTestUser(t, h, store, "alice")

	resp := doJSON(t, h.Session, http.MethodGet, "/api/auth/session", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("session get: %d (%s)", resp.Code, resp.Body.String())
	}
	var payload userResponse
	decodeBody(t, resp, &payload)
	if payload.ID != user.ID {
		t.Fatalf("user id = %q, want %q", payload.ID, user.ID)
	}

	resp = doJSON(t, h.Session, http.MethodDelete, "/api/auth/session", token, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("session delete: %d", resp.Code)
	}

	resp = doJSON(t, h.Session, http.MethodGet, "/api/auth/session", token, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session get: %d, want 401", resp.Code)
	}
}

func TestSessionCookieAuthentication(t *testing.T) {
	h, store := newTestHandler(t)
	user, token := createTestUser(t, h, store, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	resp := httptest.NewRecorder()
	h.Session(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.Code, resp.Body.String())
	}
	var payload userResponse
	decodeBody(t, resp, &payload)
	if payload.ID != user.ID {
		t.Fatalf("user id = %q, want %q", payload.ID, user.ID)
	}
}

func TestAuthMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doJSON(t, h.Signup, http.MethodGet, "/api/auth/signup", "", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("signup get: %d, want 405", resp.Code)
	}
	if allow := resp.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow = %q, want POST", allow)
	}
}
