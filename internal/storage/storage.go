// Package storage persists users and book records. The default backend is a
// single JSON file guarded by a mutex; a Postgres backend implements the
// same Repository interface.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bookshelf/internal/models"
)

type dataset struct {
	Users map[string]models.User `json:"users"`
	Books map[string]models.Book `json:"books"`
}

func newDataset() dataset {
	return dataset{
		Users: make(map[string]models.User),
		Books: make(map[string]models.Book),
	}
}

// Storage is the JSON-file backed Repository implementation.
type Storage struct {
	mu   sync.RWMutex
	path string
	data dataset
	now  func() time.Time
}

// NewStorage loads (or initializes) the datastore at path.
func NewStorage(path string) (*Storage, error) {
	s := &Storage{
		path: path,
		data: newDataset(),
		now:  time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read datastore: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode datastore: %w", err)
	}
	if data.Users == nil {
		data.Users = make(map[string]models.User)
	}
	if data.Books == nil {
		data.Books = make(map[string]models.Book)
	}
	s.data = data
	return nil
}

func (s *Storage) persist() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp datastore: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close datastore: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace datastore: %w", err)
	}
	success = true
	return nil
}

// CreateUser registers an account. The email must be unique.
func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users {
		if existing.Email == email {
			return models.User{}, ErrEmailInUse
		}
	}

	hash, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, err
	}

	now := s.now().UTC()
	user := models.User{
		ID:           generateID(),
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		Roles:        normalizeRoles(params.Roles),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return models.User{}, err
	}
	return user, nil
}

// GetUser returns the account with the given id.
func (s *Storage) GetUser(id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// GetUserByEmail returns the account registered under email.
func (s *Storage) GetUserByEmail(email string) (models.User, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

// ListUsers returns every account ordered by creation time.
func (s *Storage) ListUsers() ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// UpdateUser applies the non-nil fields of update.
func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	previous := user

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
		for otherID, other := range s.data.Users {
			if otherID != id && other.Email == email {
				return models.User{}, ErrEmailInUse
			}
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
	user.UpdatedAt = s.now().UTC()

	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		s.data.Users[id] = previous
		return models.User{}, err
	}
	return user, nil
}

// Authenticate verifies the email/password pair. Failures do not reveal
// whether the account exists.
func (s *Storage) Authenticate(email, password string) (models.User, error) {
	user, err := s.GetUserByEmail(email)
	if err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	if !verifyPassword(user.PasswordHash, password) {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// CreateBook commits a new book record.
func (s *Storage) CreateBook(params CreateBookParams) (models.Book, error) {
	if strings.TrimSpace(params.OwnerID) == "" {
		return models.Book{}, errors.New("owner id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
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
	s.data.Books[book.ID] = book
	if err := s.persist(); err != nil {
		delete(s.data.Books, book.ID)
		return models.Book{}, err
	}
	return book, nil
}

// GetBook returns the record with the given id. No ownership filtering
// happens here; callers apply access policy after the fetch.
func (s *Storage) GetBook(id string) (models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.data.Books[id]
	if !ok {
		return models.Book{}, ErrNotFound
	}
	return book, nil
}

// ListBooks returns the records owned by ownerID, newest first.
func (s *Storage) ListBooks(ownerID string) ([]models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	books := make([]models.Book, 0)
	for _, book := range s.data.Books {
		if book.OwnerID == ownerID {
			books = append(books, book)
		}
	}
	sortBooks(books)
	return books, nil
}

// ListAllBooks returns every record, newest first.
func (s *Storage) ListAllBooks() ([]models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	books := make([]models.Book, 0, len(s.data.Books))
	for _, book := range s.data.Books {
		books = append(books, book)
	}
	sortBooks(books)
	return books, nil
}

// UpdateBook applies the populated fields of update in a single commit.
func (s *Storage) UpdateBook(id string, update BookUpdate) (models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.data.Books[id]
	if !ok {
		return models.Book{}, ErrNotFound
	}
	previous := book

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
	book.UpdatedAt = s.now().UTC()

	s.data.Books[id] = book
	if err := s.persist(); err != nil {
		s.data.Books[id] = previous
		return models.Book{}, err
	}
	return book, nil
}

// DeleteBook removes the record and returns its final state.
func (s *Storage) DeleteBook(id string) (models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.data.Books[id]
	if !ok {
		return models.Book{}, ErrNotFound
	}
	delete(s.data.Books, id)
	if err := s.persist(); err != nil {
		s.data.Books[id] = book
		return models.Book{}, err
	}
	return book, nil
}

func sortBooks(books []models.Book) {
	sort.Slice(books, func(i, j int) bool {
		if books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].ID < books[j].ID
		}
		return books[i].CreatedAt.After(books[j].CreatedAt)
	})
}

func generateID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("storage: unable to generate id: %v", err))
	}
	return hex.EncodeToString(buf)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	sort.Strings(normalized)
	return normalized
}

func copyIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	value := *v
	return &value
}

func copyStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	value := *v
	return &value
}
