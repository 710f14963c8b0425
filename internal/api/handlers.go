// Package api implements the HTTP JSON handlers for the book catalog.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"bookshelf/internal/auth"
	"bookshelf/internal/blob"
	"bookshelf/internal/books"
	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

const defaultMaxUploadBytes = 10 << 20

// Handler bundles the dependencies shared by all HTTP endpoints.
type Handler struct {
	Store           storage.Repository
	Sessions        *auth.SessionManager
	Books           *books.Service
	Blobs           blob.Store
	Logger          *slog.Logger
	AllowSelfSignup bool
	SessionTTL      time.Duration
	MaxUploadBytes  int64
}

// New builds a Handler with sane defaults for the optional knobs.
func New(store storage.Repository, sessions *auth.SessionManager, svc *books.Service, blobs blob.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:          store,
		Sessions:       sessions,
		Books:          svc,
		Blobs:          blobs,
		Logger:         logger,
		SessionTTL:     7 * 24 * time.Hour,
		MaxUploadBytes: defaultMaxUploadBytes,
	}
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// writeDomainError maps the service error taxonomy onto HTTP statuses.
// Unclassified errors are logged and surfaced as an opaque 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch books.KindOf(err) {
	case books.KindInvalidInput:
		writeError(w, http.StatusBadRequest, err)
	case books.KindUnauthenticated:
		writeError(w, http.StatusUnauthorized, err)
	case books.KindForbidden:
		writeError(w, http.StatusForbidden, err)
	case books.KindNotFound:
		writeError(w, http.StatusNotFound, err)
	case books.KindStorageFailure:
		h.Logger.Error("attachment store failure", "error", err)
		writeError(w, http.StatusBadGateway, errors.New("attachment storage unavailable"))
	default:
		h.Logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

type userResponse struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Roles:       user.Roles,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   user.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type bookResponse struct {
	ID            string  `json:"id"`
	OwnerID       string  `json:"ownerId"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Year          *int    `json:"year,omitempty"`
	AttachmentKey *string `json:"attachmentKey,omitempty"`
	CoverURL      *string `json:"coverUrl,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

func (h *Handler) newBookResponse(book models.Book) bookResponse {
	resp := bookResponse{
		ID:            book.ID,
		OwnerID:       book.OwnerID,
		Title:         book.Title,
		Author:        book.Author,
		Year:          book.Year,
		AttachmentKey: book.AttachmentKey,
		CreatedAt:     book.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     book.UpdatedAt.Format(time.RFC3339Nano),
	}
	if book.AttachmentKey != nil && h.Blobs != nil {
		if url, ok := h.Blobs.LocatorFor(*book.AttachmentKey); ok {
			resp.CoverURL = &url
		}
	}
	return resp
}
