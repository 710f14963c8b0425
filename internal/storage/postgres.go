package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookshelf/internal/models"
)

const postgresOpTimeout = 5 * time.Second

// PostgresConfig tunes the connection pool. Zero values keep pgx defaults.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
	AppName         string
}

// PostgresRepository is the Postgres-backed Repository implementation.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to Postgres and ensures the schema exists.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheck > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheck
	}
	if name := strings.TrimSpace(cfg.AppName); name != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = name
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := &PostgresRepository{pool: pool}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			roles TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			year INTEGER,
			attachment_key TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS books_owner_idx ON books (owner_id)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool, waiting at most until ctx expires.
func (r *PostgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
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
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), postgresOpTimeout)
}

func (r *PostgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	displayName := strings.TrimSpace(params.DisplayName)
	email := normalizeEmail(params.Email)
	if displayName == "" {
		return models.User{}, errors.New("display name is required")
	}
	if email == "" {
		return models.User{}, errors.New("email is required")
	}
	if params.Password == "" {
		return models.User{}, errors.New("password is required")
	}
	hash, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, err
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           generateID(),
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		Roles:        normalizeRoles(params.Roles),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Roles, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailInUse
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetUser(id string) (models.User, error) {
	ctx, cancel := opContext()
	defer cancel()
	return r.scanUser(r.pool.QueryRow(ctx, `
		SELECT id, display_name, email, password_hash, roles, created_at, updated_at
		FROM users WHERE id = $1`, id))
}

func (r *PostgresRepository) GetUserByEmail(email string) (models.User, error) {
	ctx, cancel := opContext()
	defer cancel()
	return r.scanUser(r.pool.QueryRow(ctx, `
		SELECT id, display_name, email, password_hash, roles, created_at, updated_at
		FROM users WHERE email = $1`, normalizeEmail(email)))
}

func (r *PostgresRepository) ListUsers() ([]models.User, error) {
	ctx, cancel := opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, email, password_hash, roles, created_at, updated_at
		FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Roles, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	user, err := r.GetUser(id)
	if err != nil {
		return models.User{}, err
	}

	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if name == "" {
			return models.User{}, errors.New("display name cannot be empty")
		}
		user.DisplayName = name
	}
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email == "" {
			return models.User{}, errors.New("email cannot be empty")
		}
		user.Email = email
	}
	if update.Password != nil {
		if *update.Password == "" {
			return models.User{}, errors.New("password cannot be empty")
		}
		hash, err := hashPassword(*update.Password)
		if err != nil {
			return models.User{}, err
		}
		user.PasswordHash = hash
	}
	if update.Roles != nil {
		user.Roles = normalizeRoles(*update.Roles)
	}
	user.UpdatedAt = time.Now().UTC()

	ctx, cancel := opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET display_name = $2, email = $3, password_hash = $4, roles = $5, updated_at = $6
		WHERE id = $1`,
		user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Roles, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailInUse
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (r *PostgresRepository) Authenticate(email, password string) (models.User, error) {
	user, err := r.GetUserByEmail(email)
	if err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	if !verifyPassword(user.PasswordHash, password) {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (r *PostgresRepository) CreateBook(params CreateBookParams) (models.Book, error) {
	if strings.TrimSpace(params.OwnerID) == "" {
		return models.Book{}, errors.New("owner id is required")
	}
	now := time.Now().UTC()
	book := models.Book{
		ID:            generateID(),
		OwnerID:       params.OwnerID,
		Title:         params.Title,
		Author:        params.Author,
		Year:          copyIntPtr(params.Year),
		AttachmentKey: copyStringPtr(params.AttachmentKey),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ctx, cancel := opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO books (id, owner_id, title, author, year, attachment_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.OwnerID, book.Title, book.Author, book.Year, book.AttachmentKey, book.CreatedAt, book.UpdatedAt)
	if err != nil {
		return models.Book{}, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

func (r *PostgresRepository) GetBook(id string) (models.Book, error) {
	ctx, cancel := opContext()
	defer cancel()
	return r.scanBook(r.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, author, year, attachment_key, created_at, updated_at
		FROM books WHERE id = $1`, id))
}

func (r *PostgresRepository) ListBooks(ownerID string) ([]models.Book, error) {
	return r.queryBooks(`
		SELECT id, owner_id, title, author, year, attachment_key, created_at, updated_at
		FROM books WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
}

func (r *PostgresRepository) ListAllBooks() ([]models.Book, error) {
	return r.queryBooks(`
		SELECT id, owner_id, title, author, year, attachment_key, created_at, updated_at
		FROM books ORDER BY created_at DESC, id`)
}

func (r *PostgresRepository) UpdateBook(id string, update BookUpdate) (models.Book, error) {
	book, err := r.GetBook(id)
	if err != nil {
		return models.Book{}, err
	}

	if update.Title != nil {
		book.Title = *update.Title
	}
	if update.Author != nil {
		book.Author = *update.Author
	}
	if update.Year != nil {
		book.Year = copyIntPtr(update.Year)
	}
	if update.SetAttachment {
		book.AttachmentKey = copyStringPtr(update.AttachmentKey)
	}
	book.UpdatedAt = time.Now().UTC()

	ctx, cancel := opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE books SET title = $2, author = $3, year = $4, attachment_key = $5, updated_at = $6
		WHERE id = $1`,
		book.ID, book.Title, book.Author, book.Year, book.AttachmentKey, book.UpdatedAt)
	if err != nil {
		return models.Book{}, fmt.Errorf("update book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Book{}, ErrNotFound
	}
	return book, nil
}

func (r *PostgresRepository) DeleteBook(id string) (models.Book, error) {
	ctx, cancel := opContext()
	defer cancel()
	book, err := r.scanBook(r.pool.QueryRow(ctx, `
		DELETE FROM books WHERE id = $1
		RETURNING id, owner_id, title, author, year, attachment_key, created_at, updated_at`, id))
	if err != nil {
		return models.Book{}, err
	}
	return book, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanUser(row rowScanner) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Roles, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) scanBook(row rowScanner) (models.Book, error) {
	var book models.Book
	err := row.Scan(&book.ID, &book.OwnerID, &book.Title, &book.Author, &book.Year, &book.AttachmentKey, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Book{}, ErrNotFound
		}
		return models.Book{}, fmt.Errorf("scan book: %w", err)
	}
	return book, nil
}

func (r *PostgresRepository) queryBooks(query string, args ...any) ([]models.Book, error) {
	ctx, cancel := opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	books := make([]models.Book, 0)
	for rows.Next() {
		var book models.Book
		if err := rows.Scan(&book.ID, &book.OwnerID, &book.Title, &book.Author, &book.Year, &book.AttachmentKey, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
