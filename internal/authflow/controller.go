// Package authflow drives passwordless sign-in from the client side: it
// requests links, recognises a returning completion link, resolves which
// email to confirm it with, and publishes who is signed in.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukerupert/calshare/internal/identity"
)

// KeyEmailForSignIn holds the address a link was requested for until the
// link is used.
const KeyEmailForSignIn = "emailForSignIn"

// ErrEmailRequired is returned when a completion link is opened, no email
// was saved on this device, and the prompt produced none.
var ErrEmailRequired = errors.New("email is required to complete sign-in")

type State string

const (
	StateSignedOut            State = "SIGNED_OUT"
	StateLinkRequested        State = "LINK_REQUESTED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateSignedIn             State = "SIGNED_IN"
)

// Provider is the remote identity service.
type Provider interface {
	RequestLink(ctx context.Context, email, returnURL string) error
	CompleteSignIn(ctx context.Context, email, url string) (*identity.Identity, error)
	// CurrentUser returns nil without error when nobody is signed in.
	CurrentUser(ctx context.Context) (*identity.Identity, error)
	SignOut(ctx context.Context) error
}

// KeyValueStore is durable storage local to this device.
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// EmailPrompter asks the person holding a completion link for their email.
type EmailPrompter interface {
	PromptEmail(ctx context.Context) (string, error)
}

// Snapshot is one observed value of the sign-in state. Loaded stays false
// until the first check against the provider has finished.
type Snapshot struct {
	User   *identity.Identity
	Loaded bool
	State  State
}

type Controller struct {
	provider  Provider
	kv        KeyValueStore
	prompter  EmailPrompter
	returnURL string
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	user      *identity.Identity
	loaded    bool
	observers map[*Observation]struct{}
}

func NewController(p Provider, kv KeyValueStore, prompter EmailPrompter, returnURL string, logger *slog.Logger) *Controller {
	return &Controller{
		provider:  p,
		kv:        kv,
		prompter:  prompter,
		returnURL: returnURL,
		logger:    logger,
		state:     StateSignedOut,
		observers: make(map[*Observation]struct{}),
	}
}

// RequestSignInLink asks the provider to email a sign-in link. An empty
// email is a no-op. The email is saved locally only once the request
// succeeds.
func (c *Controller) RequestSignInLink(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	if err := c.provider.RequestLink(ctx, email, c.returnURL); err != nil {
		return err
	}
	if err := c.kv.Set(KeyEmailForSignIn, email); err != nil {
		return fmt.Errorf("save pending email: %w", err)
	}

	c.mu.Lock()
	if c.user == nil {
		c.state = StateLinkRequested
	}
	c.notifyLocked()
	c.mu.Unlock()
	return nil
}

// DetectAndCompleteSignIn finishes sign-in if currentURL is a completion
// link, and returns (nil, nil) if it is not. Without a saved email it
// prompts for one. The saved email is cleared only on success.
func (c *Controller) DetectAndCompleteSignIn(ctx context.Context, currentURL string) (*identity.Identity, error) {
	if !identity.IsCompletionURL(currentURL) {
		return nil, nil
	}

	c.mu.Lock()
	prev := c.state
	c.mu.Unlock()

	email, ok, err := c.kv.Get(KeyEmailForSignIn)
	if err != nil {
		c.logger.Warn("read pending email", "error", err)
		ok = false
	}
	if !ok || strings.TrimSpace(email) == "" {
		email, err = c.promptEmail(ctx)
		if err != nil {
			c.restore(prev)
			return nil, err
		}
	}

	user, err := c.provider.CompleteSignIn(ctx, email, currentURL)
	if err != nil {
		c.restore(prev)
		return nil, err
	}

	if err := c.kv.Delete(KeyEmailForSignIn); err != nil {
		c.logger.Warn("clear pending email", "error", err)
	}

	c.mu.Lock()
	c.user = user
	c.state = StateSignedIn
	c.loaded = true
	c.notifyLocked()
	c.mu.Unlock()
	return user, nil
}

func (c *Controller) promptEmail(ctx context.Context) (string, error) {
	c.setState(StateAwaitingConfirmation)
	if c.prompter == nil {
		return "", ErrEmailRequired
	}
	email, err := c.prompter.PromptEmail(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmailRequired, err)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	return email, nil
}

// restore puts the state back after a failed completion. A pending
// confirmation never survives a failure.
func (c *Controller) restore(prev State) {
	if prev == StateAwaitingConfirmation {
		prev = StateSignedOut
	}
	c.setState(prev)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == s {
		return
	}
	c.state = s
	c.notifyLocked()
}

// Init performs the initial check against the provider. Loaded becomes
// true whether or not the check succeeds.
func (c *Controller) Init(ctx context.Context) error {
	user, err := c.provider.CurrentUser(ctx)

	pending := false
	if email, ok, kvErr := c.kv.Get(KeyEmailForSignIn); kvErr == nil && ok && email != "" {
		pending = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	if err == nil {
		c.user = user
		switch {
		case user != nil:
			c.state = StateSignedIn
		case pending:
			c.state = StateLinkRequested
		default:
			c.state = StateSignedOut
		}
	}
	c.notifyLocked()
	return err
}

// Start completes a sign-in carried by currentURL, if any, and then runs
// the initial check, so the first loaded snapshot already reflects it.
func (c *Controller) Start(ctx context.Context, currentURL string) error {
	if _, err := c.DetectAndCompleteSignIn(ctx, currentURL); err != nil {
		c.logger.Warn("complete sign-in", "error", err)
		if initErr := c.Init(ctx); initErr != nil {
			c.logger.Warn("initial sign-in check", "error", initErr)
		}
		return err
	}
	return c.Init(ctx)
}

// SignOut ends the session. Calling it when already signed out is fine.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.provider.SignOut(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.user = nil
	c.state = StateSignedOut
	c.notifyLocked()
	c.mu.Unlock()
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) CurrentUser() *identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{User: c.user, Loaded: c.loaded, State: c.state}
}

// notifyLocked must be called with c.mu held.
func (c *Controller) notifyLocked() {
	snap := c.snapshotLocked()
	for o := range c.observers {
		o.offer(snap)
	}
}

// Observation streams sign-in snapshots. C holds at most one pending
// snapshot; a newer one replaces it.
type Observation struct {
	C <-chan Snapshot

	ch   chan Snapshot
	ctrl *Controller
	once sync.Once
}

// Observe starts an observation. The current snapshot is available on C
// immediately. Callers must Cancel it when done.
func (c *Controller) Observe() *Observation {
	ch := make(chan Snapshot, 1)
	o := &Observation{C: ch, ch: ch, ctrl: c}

	c.mu.Lock()
	c.observers[o] = struct{}{}
	o.offer(c.snapshotLocked())
	c.mu.Unlock()
	return o
}

func (o *Observation) offer(s Snapshot) {
	select {
	case <-o.ch:
	default:
	}
	o.ch <- s
}

// Cancel stops the observation and closes C. It is safe to call more than
// once.
func (o *Observation) Cancel() {
	o.once.Do(func() {
		o.ctrl.mu.Lock()
		delete(o.ctrl.observers, o)
		close(o.ch)
		o.ctrl.mu.Unlock()
	})
}
