// Package models defines the domain entities shared across the service.
package models

import (
	"strings"
	"time"
)

// User is an account that owns book records. Roles are normalized to
// lowercase; the "admin" role grants blanket visibility and deletion rights.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasRole reports whether the user carries the named role.
func (u User) HasRole(role string) bool {
	for _, candidate := range u.Roles {
		if strings.EqualFold(candidate, role) {
			return true
		}
	}
	return false
}

// Book is a catalog record owned by a single user. AttachmentKey, when set,
// is always a key produced by the configured attachment store, never a
// caller-supplied value.
type Book struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Year          *int      `json:"year,omitempty"`
	AttachmentKey *string   `json:"attachmentKey,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
