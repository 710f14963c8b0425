package storage

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrEmailInUse indicates another account already registered the email.
	ErrEmailInUse = errors.New("email already registered")
	// ErrInvalidCredentials indicates an authentication failure without
	// revealing whether the account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// CreateUserParams captures the inputs for registering an account.
type CreateUserParams struct {
	DisplayName string
	Email       string
	Password    string
	Roles       []string
}

// UserUpdate mutates only the fields whose pointers are non-nil.
type UserUpdate struct {
	DisplayName *string
	Email       *string
	Password    *string
	Roles       *[]string
}

// CreateBookParams captures the inputs for committing a new book record.
type CreateBookParams struct {
	OwnerID       string
	Title         string
	Author        string
	Year          *int
	AttachmentKey *string
}

// BookUpdate mutates only the fields whose pointers are non-nil. The
// attachment key has three states: untouched (SetAttachment false),
// replaced (SetAttachment true with a key), and cleared (SetAttachment
// true with a nil key).
type BookUpdate struct {
	Title         *string
	Author        *string
	Year          *int
	SetAttachment bool
	AttachmentKey *string
}

// IsZero reports whether the update carries no changes at all.
func (u BookUpdate) IsZero() bool {
	return u.Title == nil && u.Author == nil && u.Year == nil && !u.SetAttachment
}
