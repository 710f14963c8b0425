package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bookshelf/internal/books"
	"bookshelf/internal/storage"
)

// Users lists every account. Admin only.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireRole(w, r, books.RoleAdmin); !ok {
		return
	}
	users, err := h.Store.ListUsers()
	if err != nil {
		h.Logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	responses := make([]userResponse, 0, len(users))
	for _, user := range users {
		responses = append(responses, newUserResponse(user))
	}
	writeJSON(w, http.StatusOK, responses)
}

// UserByID returns one account. Users may fetch themselves; admins anyone.
func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/users/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}
	if actor.ID != id && !actor.HasRole(books.RoleAdmin) {
		writeError(w, http.StatusForbidden, errors.New("insufficient permissions"))
		return
	}
	user, err := h.Store.GetUser(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("user not found"))
			return
		}
		h.Logger.Error("load user failed", "error", err, "user", id)
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}
