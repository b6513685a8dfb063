package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/dukerupert/calshare/internal/identity"
	"github.com/dukerupert/calshare/internal/model"
)

const maxFrameBytes = 4 << 20

type calendarsFrame struct {
	Type      string           `json:"type"`
	Calendars []model.Calendar `json:"calendars"`
}

// Watch is a live view of the caller's visible calendars. C is closed when
// the connection ends, including when the server ends the session or the
// client signs out. Err then reports why.
type Watch struct {
	C <-chan []model.Calendar

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	err    error
}

// Cancel closes the connection and waits for the reader to stop. It may be
// called more than once.
func (w *Watch) Cancel() {
	w.once.Do(w.cancel)
	<-w.done
}

// Err returns the error that ended the watch, or nil if it was cancelled.
// It is only meaningful once C is closed.
func (w *Watch) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (c *Client) wsURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/ws"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
	default:
		return c.baseURL + "/ws"
	}
}

func (c *Client) track(w *Watch) {
	c.mu.Lock()
	c.watches[w] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(w *Watch) {
	c.mu.Lock()
	delete(c.watches, w)
	c.mu.Unlock()
}

// cancelWatches ends every open Watch so none outlives the identity that
// opened it.
func (c *Client) cancelWatches() {
	c.mu.Lock()
	open := make([]*Watch, 0, len(c.watches))
	for w := range c.watches {
		open = append(open, w)
	}
	c.mu.Unlock()
	for _, w := range open {
		w.Cancel()
	}
}

// Watch opens a websocket subscription to the calendar list.
func (c *Client) Watch(ctx context.Context) (*Watch, error) {
	header := http.Header{}
	if tok := c.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []model.Calendar, 1)
	w := &Watch{C: out, cancel: cancel, done: make(chan struct{})}
	c.track(w)

	go func() {
		// done closes before C so Err is settled by the time C is closed.
		defer close(out)
		defer close(w.done)
		defer c.untrack(w)
		defer conn.CloseNow()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch {
				case ctx.Err() != nil:
				case websocket.CloseStatus(err) == websocket.StatusPolicyViolation:
					w.err = fmt.Errorf("%w: session ended", identity.ErrUnauthenticated)
				default:
					w.err = err
				}
				return
			}
			var frame calendarsFrame
			if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "calendars" {
				continue
			}
			select {
			case <-out:
			default:
			}
			out <- frame.Calendars
		}
	}()

	return w, nil
}
