// Package auth issues and validates bearer session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	defaultSessionTTL  = 7 * 24 * time.Hour
	defaultIdleTimeout = 24 * time.Hour
	sessionTokenLength = 32
	minimumTokenLength = 16
)

// ErrSessionNotFound indicates the token is unknown, revoked, or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session is the stored state behind a bearer token.
type Session struct {
	UserID            string    `json:"userId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	AbsoluteExpiresAt time.Time `json:"absoluteExpiresAt"`
}

// SessionStore persists sessions. Implementations: in-memory, Postgres,
// Redis.
type SessionStore interface {
	Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error
	Get(token string) (Session, bool, error)
	Delete(token string) error
	PurgeExpired(now time.Time) (int, error)
}

// SessionManager creates, validates, and revokes sessions.
type SessionManager struct {
	store        SessionStore
	absoluteTTL  time.Duration
	idleTimeout  time.Duration
	tokenLength  int
	now          func() time.Time
	tokenFactory func(int) (string, error)
}

// Option customizes a SessionManager.
type Option func(*SessionManager)

// WithStore selects the backing session store.
func WithStore(store SessionStore) Option {
	return func(m *SessionManager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithAbsoluteTTL bounds the total lifetime of a session.
func WithAbsoluteTTL(ttl time.Duration) Option {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.absoluteTTL = ttl
		}
	}
}

// WithIdleTimeout bounds how long a session may go unused.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(m *SessionManager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// WithTokenLength overrides the random token byte length.
func WithTokenLength(length int) Option {
	return func(m *SessionManager) {
		if length >= minimumTokenLength {
			m.tokenLength = length
		}
	}
}

// NewSessionManager builds a manager with an in-memory store unless an
// option replaces it.
func NewSessionManager(opts ...Option) *SessionManager {
	m := &SessionManager{
		store:        NewMemoryStore(),
		absoluteTTL:  defaultSessionTTL,
		idleTimeout:  defaultIdleTimeout,
		tokenLength:  sessionTokenLength,
		now:          time.Now,
		tokenFactory: generateToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create issues a new token for userID.
func (m *SessionManager) Create(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	now := m.now()
	expiresAt := now.Add(m.idleTimeout)
	absolute := now.Add(m.absoluteTTL)
	if expiresAt.After(absolute) {
		expiresAt = absolute
	}
	if err := m.store.Save(token, userID, expiresAt, absolute); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return token, nil
}

// Validate resolves a token to its user, refreshing the idle deadline.
func (m *SessionManager) Validate(token string) (string, error) {
	if token == "" {
		return "", ErrSessionNotFound
	}
	session, ok, err := m.store.Get(token)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return "", ErrSessionNotFound
	}
	now := m.now()
	if now.After(session.ExpiresAt) || now.After(session.AbsoluteExpiresAt) {
		_ = m.store.Delete(token)
		return "", ErrSessionNotFound
	}
	refreshed := now.Add(m.idleTimeout)
	if refreshed.After(session.AbsoluteExpiresAt) {
		refreshed = session.AbsoluteExpiresAt
	}
	if refreshed.After(session.ExpiresAt) {
		if err := m.store.Save(token, session.UserID, refreshed, session.AbsoluteExpiresAt); err != nil {
			return "", fmt.Errorf("refresh session: %w", err)
		}
	}
	return session.UserID, nil
}

// Revoke removes a session; revoking an unknown token is not an error.
func (m *SessionManager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(token)
}

// PurgeExpired removes expired sessions and reports how many were dropped.
func (m *SessionManager) PurgeExpired() (int, error) {
	return m.store.PurgeExpired(m.now())
}

// Ping checks the backing store's connectivity when it supports it.
func (m *SessionManager) Ping(ctx context.Context) error {
	type pinger interface {
		Ping(context.Context) error
	}
	if p, ok := m.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
