package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/calshare/internal/model"
	"github.com/google/uuid"
)

// CalendarStore persists calendars as whole documents. Events and roles
// live in JSON columns and are always rewritten together with the row.
type CalendarStore struct {
	db *sql.DB
}

func NewCalendarStore(db *sql.DB) *CalendarStore {
	return &CalendarStore{db: db}
}

func scanCalendar(scanner interface{ Scan(...any) error }) (*model.Calendar, error) {
	var c model.Calendar
	var events, roles string

	err := scanner.Scan(&c.ID, &c.Name, &events, &roles, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(events), &c.Events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &c.Roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	if c.Events == nil {
		c.Events = []model.Event{}
	}
	if c.Roles == nil {
		c.Roles = map[string]model.Role{}
	}
	return &c, nil
}

const calendarCols = `id, name, events, roles, version, created_at, updated_at`

func encodeDocument(c *model.Calendar) (events, roles string, err error) {
	evs := c.Events
	if evs == nil {
		evs = []model.Event{}
	}
	eb, err := json.Marshal(evs)
	if err != nil {
		return "", "", fmt.Errorf("encode events: %w", err)
	}
	rs := c.Roles
	if rs == nil {
		rs = map[string]model.Role{}
	}
	rb, err := json.Marshal(rs)
	if err != nil {
		return "", "", fmt.Errorf("encode roles: %w", err)
	}
	return string(eb), string(rb), nil
}

// Create inserts a new calendar document. The store assigns the id and
// starts the version at 1.
func (s *CalendarStore) Create(c *model.Calendar) (*model.Calendar, error) {
	events, roles, err := encodeDocument(c)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO calendars (id, name, events, roles, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id, c.Name, events, roles, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar: %w", err)
	}
	return s.GetByID(id)
}

func (s *CalendarStore) GetByID(id string) (*model.Calendar, error) {
	row := s.db.QueryRow(`SELECT `+calendarCols+` FROM calendars WHERE id = ?`, id)
	c, err := scanCalendar(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	return c, nil
}

// ListForUser returns every calendar whose role map has a non-empty entry
// for userID, most recently updated first.
func (s *CalendarStore) ListForUser(userID string) ([]model.Calendar, error) {
	rows, err := s.db.Query(
		`SELECT `+calendarCols+` FROM calendars c
		 WHERE EXISTS (
		     SELECT 1 FROM json_each(c.roles) r WHERE r.key = ? AND r.value != ''
		 )
		 ORDER BY c.updated_at DESC, c.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list calendars for user: %w", err)
	}
	defer rows.Close()

	calendars := []model.Calendar{}
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		calendars = append(calendars, *c)
	}
	return calendars, rows.Err()
}

// Replace rewrites the whole document if its stored version still equals
// c.Version, then bumps the version. It returns (nil, nil) when the
// calendar no longer exists and model.ErrConflict when another writer got
// there first.
func (s *CalendarStore) Replace(c *model.Calendar) (*model.Calendar, error) {
	events, roles, err := encodeDocument(c)
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(
		`UPDATE calendars
		 SET name = ?, events = ?, roles = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		c.Name, events, roles, c.UpdatedAt.UTC(), c.ID, c.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update calendar: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		existing, err := s.GetByID(c.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("replace calendar %s at version %d: %w", c.ID, c.Version, model.ErrConflict)
	}
	return s.GetByID(c.ID)
}

// Delete removes the calendar and, with it, every embedded event.
func (s *CalendarStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM calendars WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	return nil
}
