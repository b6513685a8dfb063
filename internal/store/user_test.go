package store

import (
	"testing"

	"github.com/dukerupert/calshare/internal/database"
)

func setupUserTestDB(t *testing.T) *UserStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db)
}

func TestUserCreate(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.com")
	}
	if len(u.ID) != 36 {
		t.Errorf("id = %q, want a uuid", u.ID)
	}
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	us := setupUserTestDB(t)

	if _, err := us.Create("alice@example.com"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := us.Create("ALICE@example.com"); err == nil {
		t.Fatal("expected error for duplicate email (case-insensitive), got nil")
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.GetByID("missing")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u != nil {
		t.Error("expected nil for nonexistent user")
	}
}

func TestUserGetByEmailCaseInsensitive(t *testing.T) {
	us := setupUserTestDB(t)

	created, err := us.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	u, err := us.GetByEmail("Alice@Example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u == nil || u.ID != created.ID {
		t.Fatalf("got %+v, want user %s", u, created.ID)
	}
}

func TestUserGetOrCreate(t *testing.T) {
	us := setupUserTestDB(t)

	first, err := us.GetOrCreate("bob@example.com")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	second, err := us.GetOrCreate("bob@example.com")
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second id = %q, want %q", second.ID, first.ID)
	}
}

func TestUserDelete(t *testing.T) {
	us := setupUserTestDB(t)

	u, _ := us.Create("alice@example.com")
	if err := us.Delete(u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := us.GetByID(u.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}
