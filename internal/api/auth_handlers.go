package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bookshelf/internal/storage"
)

type signupRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup registers a new account when self-signup is enabled.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !h.AllowSelfSignup {
		writeError(w, http.StatusForbidden, errors.New("self-signup is disabled"))
		return
	}

	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		writeError(w, http.StatusBadRequest, errors.New("displayName is required"))
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, errors.New("email is required"))
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, errors.New("password must be at least 8 characters"))
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
		Roles:       []string{"user"},
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailInUse) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.Sessions.Create(user.ID)
	if err != nil {
		h.Logger.Error("session create failed", "error", err, "user", user.ID)
		writeError(w, http.StatusInternalServerError, errors.New("unable to establish session"))
		return
	}
	setSessionCookie(w, r, token, h.SessionTTL)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: newUserResponse(user)})
}

// Login exchanges credentials for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.Authenticate(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	token, err := h.Sessions.Create(user.ID)
	if err != nil {
		h.Logger.Error("session create failed", "error", err, "user", user.ID)
		writeError(w, http.StatusInternalServerError, errors.New("unable to establish session"))
		return
	}
	setSessionCookie(w, r, token, h.SessionTTL)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: newUserResponse(user)})
}

// Session reports the authenticated account (GET) or revokes the current
// session (DELETE).
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		token := ExtractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}
		if err := h.Sessions.Revoke(token); err != nil {
			h.Logger.Error("session revoke failed", "error", err)
		}
		clearSessionCookie(w, r)
		writeJSON(w, http.StatusNoContent, nil)
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodDelete}, ", "))
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
