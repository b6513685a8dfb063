package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is a per-calendar permission level. Levels are ordered:
// VIEW < EDIT < ADMIN.
type Role string

const (
	RoleView  Role = "VIEW"
	RoleEdit  Role = "EDIT"
	RoleAdmin Role = "ADMIN"
)

// Level returns the rank of the role, or 0 for an unknown role.
func (r Role) Level() int {
	switch r {
	case RoleView:
		return 1
	case RoleEdit:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

func (r Role) Valid() bool {
	return r.Level() > 0
}

// Allows reports whether r grants at least the required level.
func (r Role) Allows(required Role) bool {
	return r.Valid() && r.Level() >= required.Level()
}

// ParseRole accepts a role name in any case. Only the canonical set is
// accepted; legacy READ/WRITE values are rewritten by migration, not here.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Event is embedded in a Calendar and has no identity outside it.
type Event struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (e Event) Validate() error {
	if e.ID == "" || e.Author == "" || e.Name == "" {
		return fmt.Errorf("%w: event id, author and name are required", ErrInvalidInput)
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return fmt.Errorf("%w: event start and end times are required", ErrInvalidInput)
	}
	if e.StartTime.After(e.EndTime) {
		return fmt.Errorf("%w: event start time is after end time", ErrInvalidInput)
	}
	return nil
}

// Calendar is the aggregate root. The whole document, events and roles
// included, is written as one unit; Version guards concurrent rewrites.
type Calendar struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Events    []Event         `json:"events"`
	Roles     map[string]Role `json:"roles"`
	Version   int64           `json:"version"`
}

// RoleOf returns the role held by userID, or "" when the user has none.
func (c *Calendar) RoleOf(userID string) Role {
	if userID == "" {
		return ""
	}
	return c.Roles[userID]
}

// VisibleTo reports whether userID holds any role on the calendar.
func (c *Calendar) VisibleTo(userID string) bool {
	return c.RoleOf(userID).Valid()
}

func (c *Calendar) AdminCount() int {
	n := 0
	for _, r := range c.Roles {
		if r == RoleAdmin {
			n++
		}
	}
	return n
}

// Validate checks the document invariants: a name, at least one ADMIN,
// only canonical roles, and well-formed events.
func (c *Calendar) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: calendar name is required", ErrInvalidInput)
	}
	for uid, r := range c.Roles {
		if uid == "" || !r.Valid() {
			return fmt.Errorf("%w: invalid role %q for user %q", ErrInvalidInput, r, uid)
		}
	}
	if c.AdminCount() == 0 {
		return ErrLastAdmin
	}
	seen := make(map[string]struct{}, len(c.Events))
	for _, e := range c.Events {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate event id %q", ErrInvalidInput, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate events and roles
// without touching a shared snapshot.
func (c *Calendar) Clone() *Calendar {
	cp := *c
	cp.Events = append([]Event(nil), c.Events...)
	if cp.Events == nil {
		cp.Events = []Event{}
	}
	cp.Roles = make(map[string]Role, len(c.Roles))
	for k, v := range c.Roles {
		cp.Roles[k] = v
	}
	return &cp
}

// Members returns the user IDs holding any role. Used to scope change
// notifications.
func (c *Calendar) Members() []string {
	ids := make([]string, 0, len(c.Roles))
	for uid := range c.Roles {
		ids = append(ids, uid)
	}
	return ids
}
