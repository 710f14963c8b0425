package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return store, path
}

func TestCreateUserNormalizesAndRejectsDuplicates(t *testing.T) {
	store, _ := newTestStorage(t)

	user, err := store.CreateUser(CreateUserParams{
		DisplayName: "  Alice  ",
		Email:       " Alice@Example.COM ",
		Password:    "hunter2hunter2",
		Roles:       []string{"User", "user", " ADMIN "},
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email = %q", user.Email)
	}
	if user.DisplayName != "Alice" {
		t.Fatalf("display name = %q", user.DisplayName)
	}
	if len(user.Roles) != 2 || user.Roles[0] != "admin" || user.Roles[1] != "user" {
		t.Fatalf("roles = %v", user.Roles)
	}

	_, err = store.CreateUser(CreateUserParams{
		DisplayName: "Other",
		Email:       "ALICE@example.com",
		Password:    "hunter2hunter2",
	})
	if !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("duplicate email error = %v, want ErrEmailInUse", err)
	}
}

func TestAuthenticate(t *testing.T) {
	store, _ := newTestStorage(t)
	if _, err := store.CreateUser(CreateUserParams{
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Password:    "hunter2hunter2",
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := store.Authenticate("alice@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := store.Authenticate("alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := store.Authenticate("nobody@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown account error = %v, want ErrInvalidCredentials", err)
	}
}

func TestBookLifecyclePersistsAcrossReload(t *testing.T) {
	store, path := newTestStorage(t)
	owner, err := store.CreateUser(CreateUserParams{
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	year := 1965
	key := "coverImage-123.png"
	book, err := store.CreateBook(CreateBookParams{
		OwnerID:       owner.ID,
		Title:         "Dune",
		Author:        "Herbert",
		Year:          &year,
		AttachmentKey: &key,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload storage: %v", err)
	}
	got, err := reloaded.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book after reload: %v", err)
	}
	if got.Title != "Dune" || got.Year == nil || *got.Year != 1965 || got.AttachmentKey == nil || *got.AttachmentKey != key {
		t.Fatalf("reloaded record = %+v", got)
	}
}

func TestUpdateBookAttachmentStates(t *testing.T) {
	store, _ := newTestStorage(t)
	owner, err := store.CreateUser(CreateUserParams{
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	key := "coverImage-1.png"
	book, err := store.CreateBook(CreateBookParams{OwnerID: owner.ID, Title: "Dune", Author: "Herbert", AttachmentKey: &key})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	// Untouched attachment survives a field update.
	title := "Dune Messiah"
	updated, err := store.UpdateBook(book.ID, BookUpdate{Title: &title})
	if err != nil {
		t.Fatalf("update title: %v", err)
	}
	if updated.AttachmentKey == nil || *updated.AttachmentKey != key {
		t.Fatalf("attachment key = %v, want %q", updated.AttachmentKey, key)
	}

	// Replace.
	newKey := "coverImage-2.png"
	updated, err = store.UpdateBook(book.ID, BookUpdate{SetAttachment: true, AttachmentKey: &newKey})
	if err != nil {
		t.Fatalf("replace attachment: %v", err)
	}
	if updated.AttachmentKey == nil || *updated.AttachmentKey != newKey {
		t.Fatalf("attachment key = %v, want %q", updated.AttachmentKey, newKey)
	}

	// Clear.
	updated, err = store.UpdateBook(book.ID, BookUpdate{SetAttachment: true})
	if err != nil {
		t.Fatalf("clear attachment: %v", err)
	}
	if updated.AttachmentKey != nil {
		t.Fatalf("attachment key = %q, want absent", *updated.AttachmentKey)
	}
}

func TestListBooksScopedByOwner(t *testing.T) {
	store, _ := newTestStorage(t)
	alice, _ := store.CreateUser(CreateUserParams{DisplayName: "Alice", Email: "alice@example.com", Password: "hunter2hunter2"})
	bob, _ := store.CreateUser(CreateUserParams{DisplayName: "Bob", Email: "bob@example.com", Password: "hunter2hunter2"})

	if _, err := store.CreateBook(CreateBookParams{OwnerID: alice.ID, Title: "Dune", Author: "Herbert"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateBook(CreateBookParams{OwnerID: bob.ID, Title: "Neuromancer", Author: "Gibson"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	aliceBooks, err := store.ListBooks(alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(aliceBooks) != 1 || aliceBooks[0].Title != "Dune" {
		t.Fatalf("alice books = %+v", aliceBooks)
	}

	all, err := store.ListAllBooks()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all books = %d, want 2", len(all))
	}
}

func TestDeleteBookReturnsFinalState(t *testing.T) {
	store, _ := newTestStorage(t)
	owner, _ := store.CreateUser(CreateUserParams{DisplayName: "Alice", Email: "alice@example.com", Password: "hunter2hunter2"})
	key := "coverImage-1.png"
	book, err := store.CreateBook(CreateBookParams{OwnerID: owner.ID, Title: "Dune", Author: "Herbert", AttachmentKey: &key})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := store.DeleteBook(book.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.AttachmentKey == nil || *deleted.AttachmentKey != key {
		t.Fatalf("deleted record lost its key: %+v", deleted)
	}
	if _, err := store.GetBook(book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
	if _, err := store.DeleteBook(book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete = %v, want ErrNotFound", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !verifyPassword(hash, "correct horse battery staple") {
		t.Fatal("valid password rejected")
	}
	if verifyPassword(hash, "incorrect") {
		t.Fatal("wrong password accepted")
	}
	if verifyPassword("not-a-hash", "anything") {
		t.Fatal("malformed hash accepted")
	}
}
