package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(opts ...Option) (*SessionManager, *time.Time) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	current := &now
	manager := NewSessionManager(opts...)
	manager.now = func() time.Time { return *current }
	return manager, current
}

func TestCreateAndValidate(t *testing.T) {
	manager, _ := newTestManager()

	token, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(token) != sessionTokenLength*2 {
		t.Fatalf("token length = %d, want %d hex chars", len(token), sessionTokenLength*2)
	}

	userID, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("user id = %q, want user-1", userID)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	manager, _ := newTestManager()
	if _, err := manager.Validate("deadbeef"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
	if _, err := manager.Validate(""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("empty token error = %v, want ErrSessionNotFound", err)
	}
}

func TestIdleExpiry(t *testing.T) {
	manager, current := newTestManager(WithIdleTimeout(time.Hour))

	token, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	*current = current.Add(2 * time.Hour)
	if _, err := manager.Validate(token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestIdleRefreshKeepsActiveSessionAlive(t *testing.T) {
	manager, current := newTestManager(WithIdleTimeout(time.Hour), WithAbsoluteTTL(24*time.Hour))

	token, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Touch the session every 30 minutes for 4 hours; each validation
	// refreshes the idle deadline.
	for i := 0; i < 8; i++ {
		*current = current.Add(30 * time.Minute)
		if _, err := manager.Validate(token); err != nil {
			t.Fatalf("validate at step %d: %v", i, err)
		}
	}
}

func TestAbsoluteExpiryCapsRefresh(t *testing.T) {
	manager, current := newTestManager(WithIdleTimeout(time.Hour), WithAbsoluteTTL(90*time.Minute))

	token, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	*current = current.Add(45 * time.Minute)
	if _, err := manager.Validate(token); err != nil {
		t.Fatalf("mid-life validate: %v", err)
	}

	*current = current.Add(50 * time.Minute)
	if _, err := manager.Validate(token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("post-absolute validate = %v, want ErrSessionNotFound", err)
	}
}

func TestRevoke(t *testing.T) {
	manager, _ := newTestManager()

	token, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := manager.Revoke(token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := manager.Validate(token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("validate revoked = %v, want ErrSessionNotFound", err)
	}
	if err := manager.Revoke("unknown"); err != nil {
		t.Fatalf("revoking unknown token: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	manager, current := newTestManager(WithIdleTimeout(time.Hour))

	if _, err := manager.Create("user-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	liveToken, err := manager.Create("user-2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Only the first session goes stale; the second is refreshed later.
	*current = current.Add(30 * time.Minute)
	if _, err := manager.Validate(liveToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	*current = current.Add(45 * time.Minute)

	purged, err := manager.PurgeExpired()
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if _, err := manager.Validate(liveToken); err != nil {
		t.Fatalf("live session purged: %v", err)
	}
}
