package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/calshare/internal/calendar"
	"github.com/dukerupert/calshare/internal/model"
)

// pingInterval is also how often a session-bound connection rechecks its
// session.
var pingInterval = 30 * time.Second

const (
	writeTimeout = 10 * time.Second

	// MessageCalendars carries the full list of calendars visible to the
	// connected user.
	MessageCalendars = "calendars"
)

// Message is the JSON frame sent to clients.
type Message struct {
	Type      string           `json:"type"`
	Calendars []model.Calendar `json:"calendars"`
}

// Client streams one user's calendar snapshots over a WebSocket connection.
type Client struct {
	conn   *ws.Conn
	sub    *calendar.Subscription
	logger *slog.Logger

	ended  <-chan struct{}
	active func(ctx context.Context) (bool, error)
}

type ClientOption func(*Client)

// WithSession binds the connection to a session. The connection is closed
// with StatusPolicyViolation once ended is closed, or once active reports
// false on a ping tick.
func WithSession(ended <-chan struct{}, active func(ctx context.Context) (bool, error)) ClientOption {
	return func(c *Client) {
		c.ended = ended
		c.active = active
	}
}

// NewClient creates a Client that forwards sub to conn.
func NewClient(conn *ws.Conn, sub *calendar.Subscription, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{conn: conn, sub: sub, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts the write pump and runs the read pump. It blocks until the
// connection is closed or ctx ends, then cancels the subscription.
func (c *Client) Run(ctx context.Context) {
	defer c.sub.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx)
}

// readPump discards incoming messages. Reading is required for pings and
// close frames to be processed.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ended:
			c.closeSignedOut()
			return
		case list, ok := <-c.sub.C:
			if !ok {
				c.conn.Close(ws.StatusGoingAway, "subscription ended")
				return
			}
			// A snapshot that raced with sign-out must not be sent.
			if c.sessionEnded() {
				c.closeSignedOut()
				return
			}
			if err := c.send(ctx, list); err != nil {
				c.logger.Debug("write snapshot", "error", err)
				return
			}
		case <-ticker.C:
			if c.active != nil {
				ok, err := c.active(ctx)
				if err != nil {
					c.logger.Warn("check session", "error", err)
				} else if !ok {
					c.closeSignedOut()
					return
				}
			}
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sessionEnded() bool {
	select {
	case <-c.ended:
		return true
	default:
		return false
	}
}

func (c *Client) closeSignedOut() {
	c.logger.Debug("session ended, closing watcher")
	c.conn.Close(ws.StatusPolicyViolation, "session ended")
}

func (c *Client) send(ctx context.Context, list []model.Calendar) error {
	if list == nil {
		list = []model.Calendar{}
	}
	data, err := json.Marshal(Message{Type: MessageCalendars, Calendars: list})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, data)
}
