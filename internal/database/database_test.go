package database

import (
	"testing"

	"github.com/pressly/goose/v3"
)

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{"users", "magic_links", "sessions", "calendars"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestOpenEnablesForeignKeys(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var on int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&on); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestCanonicalRolesMigration(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := goose.DownTo(db, "migrations", 1); err != nil {
		t.Fatalf("down to 1: %v", err)
	}

	_, err = db.Exec(
		`INSERT INTO calendars (id, name, roles, created_at, updated_at)
		 VALUES ('c1', 'Legacy', '{"a":"ADMIN","b":"READ","c":"WRITE"}', '2024-01-01 00:00:00', '2024-01-01 00:00:00')`,
	)
	if err != nil {
		t.Fatalf("insert legacy calendar: %v", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		t.Fatalf("up: %v", err)
	}

	rows, err := db.Query(`SELECT key, value FROM calendars, json_each(calendars.roles) WHERE id = 'c1'`)
	if err != nil {
		t.Fatalf("query roles: %v", err)
	}
	defer rows.Close()

	got := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got[k] = v
	}
	want := map[string]string{"a": "ADMIN", "b": "VIEW", "c": "EDIT"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("role[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestCalendarsRejectInvalidJSON(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(
		`INSERT INTO calendars (id, name, events, created_at, updated_at)
		 VALUES ('c1', 'Bad', 'not json', '2024-01-01 00:00:00', '2024-01-01 00:00:00')`,
	)
	if err == nil {
		t.Fatal("expected check constraint error, got nil")
	}
}
