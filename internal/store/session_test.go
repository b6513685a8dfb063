package store

import (
	"testing"
	"time"

	"github.com/dukerupert/calshare/internal/database"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewUserStore(db)
}

func TestSessionCreate(t *testing.T) {
	ss, us := setupSessionTestDB(t)

	u, err := us.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, err := ss.Create(u.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected non-empty id")
	}
	if sess.UserID != u.ID {
		t.Errorf("user_id = %q, want %q", sess.UserID, u.ID)
	}
}

func TestSessionCreateUnknownUser(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	if _, err := ss.Create("ghost", time.Hour); err == nil {
		t.Fatal("expected foreign key error, got nil")
	}
}

func TestSessionGetByIDNotFound(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	sess, err := ss.GetByID("nonexistent")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for nonexistent session")
	}
}

func TestSessionExpired(t *testing.T) {
	ss, us := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com")
	created, _ := ss.Create(u.ID, -time.Minute)

	sess, err := ss.GetByID(created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for expired session")
	}

	count, err := ss.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}
}

func TestSessionDelete(t *testing.T) {
	ss, us := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com")
	created, _ := ss.Create(u.ID, time.Hour)

	if err := ss.Delete(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting again is not an error.
	if err := ss.Delete(created.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	sess, err := ss.GetByID(created.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil after delete")
	}
}

func TestSessionDeleteByUserID(t *testing.T) {
	ss, us := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com")
	ss.Create(u.ID, time.Hour)
	ss.Create(u.ID, time.Hour)

	if err := ss.DeleteByUserID(u.ID); err != nil {
		t.Fatalf("delete by user id: %v", err)
	}

	var count int
	ss.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE user_id = ?`, u.ID).Scan(&count)
	if count != 0 {
		t.Errorf("expected 0 sessions, got %d", count)
	}
}

func TestSessionCascadeOnUserDelete(t *testing.T) {
	ss, us := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com")
	created, _ := ss.Create(u.ID, time.Hour)

	if err := us.Delete(u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if sess, _ := ss.GetByID(created.ID); sess != nil {
		t.Error("expected session to be deleted with its user")
	}
}
