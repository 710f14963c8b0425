package books

import "bookshelf/internal/models"

// Operation names an access-controlled action on a book record.
type Operation string

const (
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// RoleAdmin grants blanket visibility and exclusive deletion rights.
const RoleAdmin = "admin"

// CanAccess reports whether identity may perform op on record. Reads and
// updates are open to admins and the owner. Deletion is admin-only; owners
// may not delete their own records.
func CanAccess(identity models.User, record models.Book, op Operation) bool {
	switch op {
	case OpRead, OpUpdate:
		return identity.HasRole(RoleAdmin) || identity.ID == record.OwnerID
	case OpDelete:
		return identity.HasRole(RoleAdmin)
	default:
		return false
	}
}
