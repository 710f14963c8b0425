package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresStoreTimeout = 5 * time.Second

// PostgresStore persists sessions in Postgres so they survive restarts and
// can be shared across replicas. Tokens are stored hashed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the sessions table.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse session store dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect session store: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			token_hash TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			absolute_expires_at TIMESTAMPTZ NOT NULL
		)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure sessions table: %w", err)
	}
	return store, nil
}

// Close releases the pool, waiting at most until ctx expires.
func (s *PostgresStore) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping verifies connectivity for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresStoreTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (token_hash, user_id, expires_at, absolute_expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    expires_at = EXCLUDED.expires_at,
		    absolute_expires_at = EXCLUDED.absolute_expires_at`,
		hashToken(token), userID, expiresAt, absoluteExpiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(token string) (Session, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresStoreTimeout)
	defer cancel()
	var session Session
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, expires_at, absolute_expires_at
		FROM sessions WHERE token_hash = $1`, hashToken(token)).
		Scan(&session.UserID, &session.ExpiresAt, &session.AbsoluteExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	return session, true, nil
}

func (s *PostgresStore) Delete(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresStoreTimeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, hashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresStoreTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at < $1 OR absolute_expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ SessionStore = (*PostgresStore)(nil)
