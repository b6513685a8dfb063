// Package calendar holds the access-controlled calendar document model.
// Every operation names the acting user explicitly and is checked against
// the calendar's role map before anything is read back or written.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/calshare/internal/model"
	"github.com/dukerupert/calshare/internal/store"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sethvargo/go-retry"
)

const (
	maxConflictRetries = 5
	conflictBackoff    = 10 * time.Millisecond
)

// Metrics receives counts from the service. *metrics.Collector satisfies it.
type Metrics interface {
	Mutation(op string)
	Conflict()
	WatcherAdded()
	WatcherRemoved()
}

type nopMetrics struct{}

func (nopMetrics) Mutation(string) {}
func (nopMetrics) Conflict()       {}
func (nopMetrics) WatcherAdded()   {}
func (nopMetrics) WatcherRemoved() {}

// Service applies reads and mutations to calendars on behalf of a user.
type Service struct {
	calendars *store.CalendarStore
	users     *store.UserStore
	broker    *Broker
	logger    *slog.Logger
	metrics   Metrics
	now       func() time.Time
	policy    *bluemonday.Policy
}

// Option configures a Service.
type Option func(*Service)

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(calendars *store.CalendarStore, users *store.UserStore, broker *Broker, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		calendars: calendars,
		users:     users,
		broker:    broker,
		logger:    logger,
		metrics:   nopMetrics{},
		now:       time.Now,
		policy:    bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEvent is the caller-supplied part of an event. The service fills in
// the id, author and timestamps.
type NewEvent struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Patch lists the fields Update may rewrite. Nil fields are left alone.
// Events replaces the whole sequence.
type Patch struct {
	Name   *string        `json:"name,omitempty"`
	Events *[]model.Event `json:"events,omitempty"`
}

// cleanName strips markup and surrounding space from a display name.
func (s *Service) cleanName(name string) string {
	return strings.TrimSpace(s.policy.Sanitize(strings.TrimSpace(name)))
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// nextUpdatedAt returns a timestamp strictly after prev.
func (s *Service) nextUpdatedAt(prev time.Time) time.Time {
	now := s.timestamp()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// load fetches a calendar and checks that uid holds at least need.
// Users with no role at all get ErrNotFound so existence does not leak.
func (s *Service) load(uid, id string, need model.Role) (*model.Calendar, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidInput)
	}
	c, err := s.calendars.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, model.ErrNotFound
	}
	role := c.RoleOf(uid)
	if !role.Valid() {
		return nil, model.ErrNotFound
	}
	if !role.Allows(need) {
		return nil, fmt.Errorf("%w: %s role required", model.ErrForbidden, need)
	}
	return c, nil
}

// ListVisible returns the calendars on which uid holds any role.
func (s *Service) ListVisible(ctx context.Context, uid string) ([]model.Calendar, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidInput)
	}
	all, err := s.calendars.ListForUser(uid)
	if err != nil {
		return nil, err
	}
	visible := all[:0]
	for _, c := range all {
		if c.VisibleTo(uid) {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// Create makes a calendar owned by uid. Both timestamps are the creation
// time and uid is its only ADMIN.
func (s *Service) Create(ctx context.Context, uid, name string) (*model.Calendar, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidInput)
	}
	name = s.cleanName(name)
	if name == "" {
		return nil, fmt.Errorf("%w: calendar name is required", model.ErrInvalidInput)
	}

	now := s.timestamp()
	c := &model.Calendar{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Events:    []model.Event{},
		Roles:     map[string]model.Role{uid: model.RoleAdmin},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	created, err := s.calendars.Create(c)
	if err != nil {
		return nil, err
	}
	s.metrics.Mutation("create")
	s.broker.Publish(uid)
	s.logger.Info("calendar created", "calendar_id", created.ID, "user_id", uid)
	return created, nil
}

func (s *Service) Get(ctx context.Context, uid, id string) (*model.Calendar, error) {
	return s.load(uid, id, model.RoleView)
}

// mutate re-reads the calendar, applies fn to a private copy and writes it
// back under a version precondition. Lost races are retried with backoff,
// so fn must be safe to apply more than once.
func (s *Service) mutate(ctx context.Context, uid, id string, need model.Role, op string, fn func(c *model.Calendar) error) (*model.Calendar, error) {
	var saved *model.Calendar
	var affected []string

	backoff := retry.WithMaxRetries(maxConflictRetries, retry.NewExponential(conflictBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := s.load(uid, id, need)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.UpdatedAt = s.nextUpdatedAt(current.UpdatedAt)
		if err := next.Validate(); err != nil {
			return err
		}

		out, err := s.calendars.Replace(next)
		if errors.Is(err, model.ErrConflict) {
			s.metrics.Conflict()
			s.logger.Debug("calendar write conflict, retrying", "calendar_id", id, "op", op)
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		if out == nil {
			return model.ErrNotFound
		}

		saved = out
		affected = append(current.Members(), out.Members()...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Mutation(op)
	s.broker.Publish(affected...)
	return saved, nil
}

// Update rewrites only the fields set in p and always refreshes updatedAt.
func (s *Service) Update(ctx context.Context, uid, id string, p Patch) (*model.Calendar, error) {
	var name string
	if p.Name != nil {
		name = s.cleanName(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: calendar name is required", model.ErrInvalidInput)
		}
	}
	var events []model.Event
	if p.Events != nil {
		events = make([]model.Event, len(*p.Events))
		for i, e := range *p.Events {
			e.Name = s.cleanName(e.Name)
			events[i] = e
		}
	}

	return s.mutate(ctx, uid, id, model.RoleEdit, "update", func(c *model.Calendar) error {
		if p.Name != nil {
			c.Name = name
		}
		if p.Events != nil {
			c.Events = append([]model.Event{}, events...)
		}
		return nil
	})
}

func (s *Service) Rename(ctx context.Context, uid, id, name string) (*model.Calendar, error) {
	return s.Update(ctx, uid, id, Patch{Name: &name})
}

// Delete removes the calendar and every embedded event. Only an ADMIN may
// delete.
func (s *Service) Delete(ctx context.Context, uid, id string) error {
	c, err := s.load(uid, id, model.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.calendars.Delete(id); err != nil {
		return err
	}
	s.metrics.Mutation("delete")
	s.broker.Publish(c.Members()...)
	s.logger.Info("calendar deleted", "calendar_id", id, "user_id", uid)
	return nil
}

// AddEvent prepends a new event authored by uid.
func (s *Service) AddEvent(ctx context.Context, uid, id string, ne NewEvent) (*model.Calendar, error) {
	name := s.cleanName(ne.Name)
	if name == "" || uid == "" || ne.StartTime.IsZero() || ne.EndTime.IsZero() {
		return nil, fmt.Errorf("%w: event name, author, start and end are required", model.ErrInvalidInput)
	}
	if ne.StartTime.After(ne.EndTime) {
		return nil, fmt.Errorf("%w: event start time is after end time", model.ErrInvalidInput)
	}

	eventID := uuid.NewString()
	return s.mutate(ctx, uid, id, model.RoleEdit, "add_event", func(c *model.Calendar) error {
		now := s.nextUpdatedAt(c.UpdatedAt)
		ev := model.Event{
			ID:        eventID,
			Author:    uid,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
			StartTime: ne.StartTime.UTC(),
			EndTime:   ne.EndTime.UTC(),
		}
		c.Events = append([]model.Event{ev}, c.Events...)
		return nil
	})
}

// RemoveEvent removes the event at index as seen on the first read. A
// retry after a conflict removes that same event even if it has moved.
func (s *Service) RemoveEvent(ctx context.Context, uid, id string, index int) (*model.Calendar, error) {
	var target string
	return s.mutate(ctx, uid, id, model.RoleEdit, "remove_event", func(c *model.Calendar) error {
		if target == "" {
			if index < 0 || index >= len(c.Events) {
				return fmt.Errorf("%w: event index %d out of range", model.ErrInvalidInput, index)
			}
			target = c.Events[index].ID
		}
		return removeEventByID(c, target)
	})
}

func (s *Service) RemoveEventByID(ctx context.Context, uid, id, eventID string) (*model.Calendar, error) {
	return s.mutate(ctx, uid, id, model.RoleEdit, "remove_event", func(c *model.Calendar) error {
		return removeEventByID(c, eventID)
	})
}

func removeEventByID(c *model.Calendar, eventID string) error {
	for i, e := range c.Events {
		if e.ID == eventID {
			c.Events = append(c.Events[:i], c.Events[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", eventID, model.ErrNotFound)
}

// SetRole grants role to the user with the given email, creating the user
// if needed. Demoting the last ADMIN fails with ErrLastAdmin.
func (s *Service) SetRole(ctx context.Context, uid, id, email string, role model.Role) (*model.Calendar, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrInvalidInput, role)
	}
	email, err := model.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	// Check access before creating a user for the email.
	if _, err := s.load(uid, id, model.RoleAdmin); err != nil {
		return nil, err
	}
	member, err := s.users.GetOrCreate(email)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, uid, id, model.RoleAdmin, "set_role", func(c *model.Calendar) error {
		c.Roles[member.ID] = role
		return nil
	})
}

// RemoveMember drops memberID from the role map. Admins may remove anyone;
// any member may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, uid, id, memberID string) (*model.Calendar, error) {
	need := model.RoleAdmin
	if memberID == uid {
		need = model.RoleView
	}
	return s.mutate(ctx, uid, id, need, "remove_member", func(c *model.Calendar) error {
		if _, ok := c.Roles[memberID]; !ok {
			return fmt.Errorf("member %s: %w", memberID, model.ErrNotFound)
		}
		delete(c.Roles, memberID)
		return nil
	})
}
