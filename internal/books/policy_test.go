package books

import (
	"testing"

	"bookshelf/internal/models"
)

func TestCanAccess(t *testing.T) {
	owner := models.User{ID: "u1", Roles: []string{"user"}}
	stranger := models.User{ID: "u2", Roles: []string{"user"}}
	admin := models.User{ID: "u3", Roles: []string{"admin"}}
	record := models.Book{ID: "b1", OwnerID: "u1"}

	cases := []struct {
		name     string
		identity models.User
		op       Operation
		want     bool
	}{
		{name: "owner reads", identity: owner, op: OpRead, want: true},
		{name: "owner updates", identity: owner, op: OpUpdate, want: true},
		{name: "owner cannot delete", identity: owner, op: OpDelete, want: false},
		{name: "stranger cannot read", identity: stranger, op: OpRead, want: false},
		{name: "stranger cannot update", identity: stranger, op: OpUpdate, want: false},
		{name: "admin reads", identity: admin, op: OpRead, want: true},
		{name: "admin updates", identity: admin, op: OpUpdate, want: true},
		{name: "admin deletes", identity: admin, op: OpDelete, want: true},
		{name: "unknown operation denied", identity: admin, op: Operation("publish"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanAccess(tc.identity, record, tc.op); got != tc.want {
				t.Fatalf("CanAccess(%s, %s) = %v, want %v", tc.identity.ID, tc.op, got, tc.want)
			}
		})
	}
}
