// Package client talks to a calshared server over HTTP. It implements
// authflow.Provider and keeps the ID token in the caller's local store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/calshare/internal/authflow"
	"github.com/dukerupert/calshare/internal/calendar"
	"github.com/dukerupert/calshare/internal/identity"
	"github.com/dukerupert/calshare/internal/model"
)

// KeyIDToken holds the bearer token between runs.
const KeyIDToken = "idToken"

// APIError is a non-2xx response. It unwraps to the matching domain
// sentinel so callers can use errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return model.ErrInvalidInput
	case http.StatusUnauthorized:
		return identity.ErrUnauthenticated
	case http.StatusForbidden:
		return model.ErrForbidden
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusConflict:
		return model.ErrConflict
	default:
		return nil
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	kv         authflow.KeyValueStore

	mu      sync.Mutex
	watches map[*Watch]struct{}
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, kv authflow.KeyValueStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		kv:         kv,
		watches:    make(map[*Watch]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) token() string {
	tok, ok, err := c.kv.Get(KeyIDToken)
	if err != nil || !ok {
		return ""
	}
	return tok
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) RequestLink(ctx context.Context, email, returnURL string) error {
	return c.do(ctx, "POST", "/auth/link", map[string]string{
		"email":      email,
		"return_url": returnURL,
	}, nil)
}

// CompleteSignIn finishes sign-in and stores the returned ID token.
func (c *Client) CompleteSignIn(ctx context.Context, email, link string) (*identity.Identity, error) {
	var creds identity.Credentials
	err := c.do(ctx, "POST", "/auth/complete", map[string]string{
		"email": email,
		"url":   link,
	}, &creds)
	if err != nil {
		return nil, err
	}
	if err := c.kv.Set(KeyIDToken, creds.IDToken); err != nil {
		return nil, fmt.Errorf("save id token: %w", err)
	}
	return &creds.User, nil
}

// CurrentUser returns nil when no token is stored or the server no longer
// accepts it. A rejected token is forgotten.
func (c *Client) CurrentUser(ctx context.Context) (*identity.Identity, error) {
	if c.token() == "" {
		return nil, nil
	}
	var user identity.Identity
	err := c.do(ctx, "GET", "/auth/me", nil, &user)
	if errors.Is(err, identity.ErrUnauthenticated) {
		return nil, c.kv.Delete(KeyIDToken)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut ends the server session, if any, forgets the token and
// cancels every Watch opened by this client.
func (c *Client) SignOut(ctx context.Context) error {
	c.cancelWatches()
	if c.token() == "" {
		return nil
	}
	err := c.do(ctx, "POST", "/auth/logout", nil, nil)
	if err != nil && !errors.Is(err, identity.ErrUnauthenticated) {
		return err
	}
	return c.kv.Delete(KeyIDToken)
}

func calendarPath(id string, rest ...string) string {
	p := "/api/calendars/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	var out []model.Calendar
	if err := c.do(ctx, "GET", "/api/calendars", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCalendar returns (nil, nil) without contacting the server when
// name is blank.
func (c *Client) CreateCalendar(ctx context.Context, name string) (*model.Calendar, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	var out model.Calendar
	if err := c.do(ctx, "POST", "/api/calendars", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCalendar(ctx context.Context, id string) (*model.Calendar, error) {
	var out model.Calendar
	if err := c.do(ctx, "GET", calendarPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCalendar(ctx context.Context, id string, p calendar.Patch) (*model.Calendar, error) {
	var out model.Calendar
	if err := c.do(ctx, "PATCH", calendarPath(id), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameCalendar returns (nil, nil) without contacting the server when
// name is blank.
func (c *Client) RenameCalendar(ctx context.Context, id, name string) (*model.Calendar, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	return c.UpdateCalendar(ctx, id, calendar.Patch{Name: &name})
}

func (c *Client) DeleteCalendar(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", calendarPath(id), nil, nil)
}

// AddEvent returns (nil, nil) without contacting the server when the
// name or either time is missing.
func (c *Client) AddEvent(ctx context.Context, id string, ev calendar.NewEvent) (*model.Calendar, error) {
	if strings.TrimSpace(ev.Name) == "" || ev.StartTime.IsZero() || ev.EndTime.IsZero() {
		return nil, nil
	}
	var out model.Calendar
	if err := c.do(ctx, "POST", calendarPath(id, "events"), ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveEvent(ctx context.Context, id string, index int) (*model.Calendar, error) {
	var out model.Calendar
	if err := c.do(ctx, "DELETE", calendarPath(id, "events", "at", strconv.Itoa(index)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveEventByID(ctx context.Context, id, eventID string) (*model.Calendar, error) {
	var out model.Calendar
	if err := c.do(ctx, "DELETE", calendarPath(id, "events", url.PathEscape(eventID)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Share(ctx context.Context, id, email string, role model.Role) (*model.Calendar, error) {
	var out model.Calendar
	body := map[string]string{"email": email, "role": string(role)}
	if err := c.do(ctx, "PUT", calendarPath(id, "members"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Unshare(ctx context.Context, id, userID string) (*model.Calendar, error) {
	var out model.Calendar
	if err := c.do(ctx, "DELETE", calendarPath(id, "members", url.PathEscape(userID)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportICS copies the calendar's iCalendar export to w.
func (c *Client) ExportICS(ctx context.Context, id string, w io.Writer) error {
	req, err := c.newRequest(ctx, "GET", calendarPath(id, "calendar.ics"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read ics: %w", err)
	}
	return nil
}
