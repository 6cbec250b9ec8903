package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
)

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	u := &model.User{Email: "  Ada@Example.com ", DisplayName: "Ada", PasswordHash: "h"}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if u.ID == "" {
		t.Error("CreateUser() did not set ID")
	}
	if u.Email != "ada@example.com" {
		t.Errorf("Email = %q, want normalised %q", u.Email, "ada@example.com")
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreateUser() did not set CreatedAt")
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "ada@example.com")

	err := db.CreateUser(context.Background(), &model.User{Email: "ADA@example.com", PasswordHash: "h"})
	if !errors.Is(err, apperror.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUserByID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "ada@example.com")

	got, err := db.GetUserByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.Email != created.Email || got.PasswordHash != created.PasswordHash {
		t.Errorf("got %+v, want %+v", got, created)
	}

	_, err = db.GetUserByID(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserByEmail_CaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "ada@example.com")

	got, err := db.GetUserByEmail(context.Background(), "ADA@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
}
