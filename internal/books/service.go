// Package books implements the catalog core: field validation, ownership
// policy, and the reconciliation protocol that keeps book records and their
// cover attachments consistent without a cross-store transaction.
package books

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"bookshelf/internal/blob"
	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

const (
	yearLowerBound = -4000
	yearUpperSlack = 5
	maxTitleLength = 512
)

var allowedCoverTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

// Service orchestrates book CRUD against the record store and the
// attachment store. It holds no record state across calls.
type Service struct {
	repo   storage.Repository
	blobs  blob.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the catalog core.
func NewService(repo storage.Repository, blobs blob.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		blobs:  blobs,
		logger: logger,
		now:    time.Now,
	}
}

// CreateInput carries a create request. Upload, when present, is staged to
// the attachment store before the record is committed.
type CreateInput struct {
	Title  string
	Author string
	Year   *int
	Upload *blob.Upload
}

// UpdateInput carries an update request. Nil field pointers mean "leave
// unchanged". ClearAttachment signals the explicit empty-value sentinel for
// the cover field, distinct from the field being absent. A non-nil Upload
// always wins over ClearAttachment.
type UpdateInput struct {
	Title           *string
	Author          *string
	Year            *int
	Upload          *blob.Upload
	ClearAttachment bool
}

type attachmentAction int

const (
	actionKeep attachmentAction = iota
	actionReplace
	actionClear
)

// Create validates the fields, stages the upload, and commits the record.
// A staged blob never outlives a failed create.
func (s *Service) Create(ctx context.Context, owner models.User, input CreateInput) (models.Book, error) {
	if owner.ID == "" {
		return models.Book{}, &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	}
	if input.Upload != nil {
		if err := validateCoverUpload(input.Upload); err != nil {
			return models.Book{}, err
		}
	}

	var stagedKey string
	if input.Upload != nil {
		key, err := s.blobs.Store(ctx, *input.Upload)
		if err != nil {
			return models.Book{}, storageFailure("unable to store cover image", err)
		}
		stagedKey = key
	}

	title, err := normalizeRequired("title", input.Title)
	if err != nil {
		s.discardStaged(ctx, stagedKey)
		return models.Book{}, err
	}
	author, err := normalizeRequired("author", input.Author)
	if err != nil {
		s.discardStaged(ctx, stagedKey)
		return models.Book{}, err
	}
	if input.Year != nil {
		if err := s.validateYear(*input.Year); err != nil {
			s.discardStaged(ctx, stagedKey)
			return models.Book{}, err
		}
	}

	params := storage.CreateBookParams{
		OwnerID: owner.ID,
		Title:   title,
		Author:  author,
		Year:    input.Year,
	}
	if stagedKey != "" {
		params.AttachmentKey = &stagedKey
	}
	book, err := s.repo.CreateBook(params)
	if err != nil {
		s.discardStaged(ctx, stagedKey)
		return models.Book{}, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// Get returns the record when the identity may read it. Denied reads report
// NotFound so existence is never confirmed to non-owners.
func (s *Service) Get(ctx context.Context, identity models.User, id string) (models.Book, error) {
	if err := validateID(id); err != nil {
		return models.Book{}, err
	}
	book, err := s.repo.GetBook(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Book{}, notFound("book not found")
		}
		return models.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !CanAccess(identity, book, OpRead) {
		return models.Book{}, notFound("book not found")
	}
	return book, nil
}

// List returns every record visible to the identity: all of them for
// admins, owned records otherwise.
func (s *Service) List(ctx context.Context, identity models.User) ([]models.Book, error) {
	if identity.HasRole(RoleAdmin) {
		books, err := s.repo.ListAllBooks()
		if err != nil {
			return nil, fmt.Errorf("list books: %w", err)
		}
		return books, nil
	}
	books, err := s.repo.ListBooks(identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// Update applies field and attachment changes in one commit. The ordering
// discipline: the record is committed first, and only then is a superseded
// old blob deleted; a staged new blob is deleted whenever the request is
// rejected before the record changed.
func (s *Service) Update(ctx context.Context, identity models.User, id string, input UpdateInput) (models.Book, error) {
	if err := validateID(id); err != nil {
		return models.Book{}, err
	}
	book, err := s.repo.GetBook(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Book{}, notFound("book not found")
		}
		return models.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !CanAccess(identity, book, OpUpdate) {
		return models.Book{}, forbidden("you do not own this book")
	}

	if input.Upload != nil {
		if err := validateCoverUpload(input.Upload); err != nil {
			return models.Book{}, err
		}
	}

	var stagedKey string
	if input.Upload != nil {
		key, err := s.blobs.Store(ctx, *input.Upload)
		if err != nil {
			return models.Book{}, storageFailure("unable to store cover image", err)
		}
		stagedKey = key
	}

	update, err := s.stageFieldChanges(book, input)
	if err != nil {
		s.discardStaged(ctx, stagedKey)
		return models.Book{}, err
	}

	action, deleteOld := decideAttachment(book, input, stagedKey)
	switch action {
	case actionReplace:
		update.SetAttachment = true
		update.AttachmentKey = &stagedKey
	case actionClear:
		update.SetAttachment = true
		update.AttachmentKey = nil
	}

	if update.IsZero() {
		// actionClear with no prior attachment lands here too when no
		// field changed: clearing nothing is not update data.
		return models.Book{}, invalidInput("no update data provided")
	}

	updated, err := s.repo.UpdateBook(id, update)
	if err != nil {
		s.discardStaged(ctx, stagedKey)
		if errors.Is(err, storage.ErrNotFound) {
			return models.Book{}, notFound("book not found")
		}
		return models.Book{}, fmt.Errorf("update book: %w", err)
	}

	if deleteOld != nil {
		s.deleteBlobBestEffort(ctx, *deleteOld, "superseded cover image")
	}
	return updated, nil
}

// Delete removes the record, then best-effort removes its attachment. Once
// the record is gone the blob is unambiguously orphaned, so a failed blob
// delete is logged and swallowed.
func (s *Service) Delete(ctx context.Context, identity models.User, id string) (models.Book, error) {
	if err := validateID(id); err != nil {
		return models.Book{}, err
	}
	book, err := s.repo.GetBook(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Book{}, notFound("book not found")
		}
		return models.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !CanAccess(identity, book, OpDelete) {
		return models.Book{}, forbidden("deleting books requires the admin role")
	}

	deleted, err := s.repo.DeleteBook(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Book{}, notFound("book not found")
		}
		return models.Book{}, fmt.Errorf("delete book: %w", err)
	}
	if deleted.AttachmentKey != nil {
		s.deleteBlobBestEffort(ctx, *deleted.AttachmentKey, "orphaned cover image")
	}
	return deleted, nil
}

// stageFieldChanges validates the provided fields and returns an update
// carrying only effective changes, so a value-identical resubmission does
// not count as update data.
func (s *Service) stageFieldChanges(current models.Book, input UpdateInput) (storage.BookUpdate, error) {
	var update storage.BookUpdate
	if input.Title != nil {
		title, err := normalizeRequired("title", *input.Title)
		if err != nil {
			return storage.BookUpdate{}, err
		}
		if title != current.Title {
			update.Title = &title
		}
	}
	if input.Author != nil {
		author, err := normalizeRequired("author", *input.Author)
		if err != nil {
			return storage.BookUpdate{}, err
		}
		if author != current.Author {
			update.Author = &author
		}
	}
	if input.Year != nil {
		if err := s.validateYear(*input.Year); err != nil {
			return storage.BookUpdate{}, err
		}
		if current.Year == nil || *current.Year != *input.Year {
			update.Year = input.Year
		}
	}
	return update, nil
}

// decideAttachment resolves the three-way attachment decision. Priority: a
// staged new blob always replaces, an explicit clear sentinel clears, and
// otherwise the key is kept untouched. The returned key, when non-nil, must
// be deleted only after the record commit succeeds.
func decideAttachment(current models.Book, input UpdateInput, stagedKey string) (attachmentAction, *string) {
	if stagedKey != "" {
		if current.AttachmentKey != nil && *current.AttachmentKey != stagedKey {
			old := *current.AttachmentKey
			return actionReplace, &old
		}
		return actionReplace, nil
	}
	if input.ClearAttachment {
		if current.AttachmentKey != nil {
			old := *current.AttachmentKey
			return actionClear, &old
		}
		// Clear-of-nothing: harmless on storage, contributes no change.
		return actionKeep, nil
	}
	return actionKeep, nil
}

func (s *Service) validateYear(year int) error {
	upper := s.now().Year() + yearUpperSlack
	if year < yearLowerBound || year > upper {
		return invalidInput(fmt.Sprintf("year must be between %d and %d", yearLowerBound, upper))
	}
	return nil
}

// ParseYear converts a textual year (form submissions) into a value the
// service can validate. Empty input means "not provided".
func ParseYear(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return nil, invalidInput(fmt.Sprintf("year %q is not a valid integer", raw))
	}
	return &year, nil
}

func normalizeRequired(field, value string) (string, error) {
	normalized := strings.TrimSpace(norm.NFC.String(value))
	if normalized == "" {
		return "", invalidInput(field + " is required")
	}
	if len(normalized) > maxTitleLength {
		return "", invalidInput(field + " is too long")
	}
	return normalized, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/ \t") {
		return invalidInput("invalid book id")
	}
	return nil
}

func validateCoverUpload(upload *blob.Upload) error {
	contentType := strings.TrimSpace(upload.ContentType)
	// Generic declarations are resniffed; browsers and multipart writers
	// fall back to octet-stream for files they do not recognize.
	if (contentType == "" || strings.HasPrefix(contentType, "application/octet-stream")) && len(upload.Data) > 0 {
		contentType = http.DetectContentType(upload.Data)
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if _, ok := allowedCoverTypes[contentType]; !ok {
		return invalidInput(fmt.Sprintf("unsupported attachment type %q", contentType))
	}
	if len(upload.Data) == 0 {
		return invalidInput("attachment is empty")
	}
	return nil
}

// discardStaged removes a blob that was staged for a request that is being
// rejected before any record mutation. Nothing references the key, so a
// failed delete is only logged.
func (s *Service) discardStaged(ctx context.Context, key string) {
	if key == "" {
		return
	}
	s.deleteBlobBestEffort(ctx, key, "staged cover image for rejected request")
}

func (s *Service) deleteBlobBestEffort(ctx context.Context, key, reason string) {
	if key == "" || s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("cover image cleanup failed",
			"key", key,
			"reason", reason,
			"error", err)
	}
}
