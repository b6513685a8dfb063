package authflow

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/calshare/internal/identity"
)

const completionURL = "https://cal.test/?mode=signIn&oobCode=abc"

type completeCall struct {
	email, url string
}

type fakeProvider struct {
	requestErr  error
	completeErr error
	current     *identity.Identity
	requested   []string
	completed   []completeCall
	signOuts    int
}

func (p *fakeProvider) RequestLink(ctx context.Context, email, returnURL string) error {
	p.requested = append(p.requested, email)
	return p.requestErr
}

func (p *fakeProvider) CompleteSignIn(ctx context.Context, email, url string) (*identity.Identity, error) {
	p.completed = append(p.completed, completeCall{email, url})
	if p.completeErr != nil {
		return nil, p.completeErr
	}
	p.current = &identity.Identity{UID: "u1", Email: email}
	return p.current, nil
}

func (p *fakeProvider) CurrentUser(ctx context.Context) (*identity.Identity, error) {
	return p.current, nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.signOuts++
	p.current = nil
	return nil
}

type memStore map[string]string

func (m memStore) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memStore) Set(key, value string) error {
	m[key] = value
	return nil
}

func (m memStore) Delete(key string) error {
	delete(m, key)
	return nil
}

type fakePrompter struct {
	email string
	err   error
	calls int
}

func (p *fakePrompter) PromptEmail(ctx context.Context) (string, error) {
	p.calls++
	return p.email, p.err
}

func newTestController(p Provider, kv KeyValueStore, prompter EmailPrompter) *Controller {
	return NewController(p, kv, prompter, "https://cal.test/", slog.Default())
}

func TestRequestSignInLinkPersistsEmail(t *testing.T) {
	p := &fakeProvider{}
	kv := memStore{}
	c := newTestController(p, kv, nil)

	if err := c.RequestSignInLink(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if kv[KeyEmailForSignIn] != "alice@example.com" {
		t.Errorf("persisted = %q, want %q", kv[KeyEmailForSignIn], "alice@example.com")
	}
	if c.State() != StateLinkRequested {
		t.Errorf("state = %s, want %s", c.State(), StateLinkRequested)
	}
}

func TestRequestSignInLinkEmptyIsNoop(t *testing.T) {
	p := &fakeProvider{}
	kv := memStore{}
	c := newTestController(p, kv, nil)

	for _, in := range []string{"", "   "} {
		if err := c.RequestSignInLink(context.Background(), in); err != nil {
			t.Errorf("RequestSignInLink(%q): %v", in, err)
		}
	}
	if len(p.requested) != 0 {
		t.Errorf("provider called %d times, want 0", len(p.requested))
	}
	if len(kv) != 0 || c.State() != StateSignedOut {
		t.Errorf("state changed: kv=%v state=%s", kv, c.State())
	}
}

func TestRequestSignInLinkFailureLeavesState(t *testing.T) {
	p := &fakeProvider{requestErr: errors.New("invalid email")}
	kv := memStore{}
	c := newTestController(p, kv, nil)

	if err := c.RequestSignInLink(context.Background(), "bad"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := kv[KeyEmailForSignIn]; ok {
		t.Error("email persisted after failed request")
	}
	if c.State() != StateSignedOut {
		t.Errorf("state = %s, want %s", c.State(), StateSignedOut)
	}
}

func TestDetectIgnoresOrdinaryURL(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(p, memStore{}, nil)

	user, err := c.DetectAndCompleteSignIn(context.Background(), "https://cal.test/calendars")
	if err != nil || user != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", user, err)
	}
	if len(p.completed) != 0 {
		t.Error("provider should not be called")
	}
}

func TestDetectCompletesWithPersistedEmail(t *testing.T) {
	p := &fakeProvider{}
	kv := memStore{KeyEmailForSignIn: "alice@example.com"}
	prompter := &fakePrompter{}
	c := newTestController(p, kv, prompter)

	user, err := c.DetectAndCompleteSignIn(context.Background(), completionURL)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if user == nil || user.Email != "alice@example.com" {
		t.Fatalf("user = %+v, want alice", user)
	}
	if prompter.calls != 0 {
		t.Errorf("prompted %d times, want 0", prompter.calls)
	}
	if _, ok := kv[KeyEmailForSignIn]; ok {
		t.Error("persisted email not cleared on success")
	}
	if c.State() != StateSignedIn {
		t.Errorf("state = %s, want %s", c.State(), StateSignedIn)
	}
}

func TestDetectFailureKeepsPersistedEmail(t *testing.T) {
	p := &fakeProvider{completeErr: identity.ErrInvalidActionCode}
	kv := memStore{KeyEmailForSignIn: "alice@example.com"}
	c := newTestController(p, kv, nil)

	if _, err := c.DetectAndCompleteSignIn(context.Background(), completionURL); !errors.Is(err, identity.ErrInvalidActionCode) {
		t.Fatalf("err = %v, want ErrInvalidActionCode", err)
	}
	if kv[KeyEmailForSignIn] != "alice@example.com" {
		t.Error("persisted email cleared on failure")
	}
	if c.CurrentUser() != nil {
		t.Error("user set after failed completion")
	}
	if len(p.completed) != 1 {
		t.Errorf("completion attempts = %d, want 1 (no retry)", len(p.completed))
	}
}

func TestDetectCrossDevicePromptsForEmail(t *testing.T) {
	p := &fakeProvider{}
	prompter := &fakePrompter{email: " bob@example.com "}
	c := newTestController(p, memStore{}, prompter)

	if _, err := c.DetectAndCompleteSignIn(context.Background(), completionURL); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if prompter.calls != 1 {
		t.Errorf("prompted %d times, want 1", prompter.calls)
	}
	if len(p.completed) != 1 {
		t.Fatalf("completion attempts = %d, want 1", len(p.completed))
	}
	got := p.completed[0]
	if got.email != "bob@example.com" || got.url != completionURL {
		t.Errorf("completed with (%q, %q), want (%q, %q)", got.email, got.url, "bob@example.com", completionURL)
	}
}

func TestDetectCrossDeviceWithoutEmailFailsCleanly(t *testing.T) {
	for name, prompter := range map[string]EmailPrompter{
		"empty answer": &fakePrompter{email: ""},
		"prompt error": &fakePrompter{err: errors.New("stdin closed")},
		"no prompter":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			p := &fakeProvider{}
			c := newTestController(p, memStore{}, prompter)

			_, err := c.DetectAndCompleteSignIn(context.Background(), completionURL)
			if !errors.Is(err, ErrEmailRequired) {
				t.Fatalf("err = %v, want ErrEmailRequired", err)
			}
			if len(p.completed) != 0 {
				t.Error("provider called without an email")
			}
			if c.State() != StateSignedOut {
				t.Errorf("state = %s, want %s", c.State(), StateSignedOut)
			}
		})
	}
}

func TestObserveDeliversLoadedAfterInit(t *testing.T) {
	p := &fakeProvider{current: &identity.Identity{UID: "u1"}}
	c := newTestController(p, memStore{}, nil)

	obs := c.Observe()
	defer obs.Cancel()

	first := <-obs.C
	if first.Loaded {
		t.Error("first snapshot loaded before Init")
	}

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	select {
	case snap := <-obs.C:
		if !snap.Loaded || snap.User == nil || snap.State != StateSignedIn {
			t.Errorf("snapshot = %+v, want loaded signed-in user", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after Init")
	}
}

func TestObserveKeepsLatestOnly(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(p, memStore{}, nil)
	obs := c.Observe()
	defer obs.Cancel()

	c.RequestSignInLink(context.Background(), "alice@example.com")
	c.Init(context.Background())

	snap := <-obs.C
	if !snap.Loaded || snap.State != StateLinkRequested {
		t.Errorf("snapshot = %+v, want loaded LINK_REQUESTED", snap)
	}
	select {
	case extra := <-obs.C:
		t.Errorf("unexpected queued snapshot %+v", extra)
	default:
	}
}

func TestObserveCancelIsIdempotent(t *testing.T) {
	c := newTestController(&fakeProvider{}, memStore{}, nil)
	obs := c.Observe()

	obs.Cancel()
	obs.Cancel()

	// No panic on later notifications and C is closed.
	c.SignOut(context.Background())
	for range obs.C {
	}
}

func TestStartCompletesBeforeInitialCheck(t *testing.T) {
	p := &fakeProvider{}
	kv := memStore{KeyEmailForSignIn: "alice@example.com"}
	c := newTestController(p, kv, nil)
	obs := c.Observe()
	defer obs.Cancel()
	<-obs.C

	if err := c.Start(context.Background(), completionURL); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := <-obs.C
	if !snap.Loaded || snap.User == nil {
		t.Errorf("snapshot = %+v, want loaded user", snap)
	}
}

func TestSignOutTwice(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(p, memStore{KeyEmailForSignIn: "alice@example.com"}, nil)
	c.DetectAndCompleteSignIn(context.Background(), completionURL)

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
	if c.CurrentUser() != nil {
		t.Error("user still set after sign out")
	}
	if c.State() != StateSignedOut {
		t.Errorf("state = %s, want %s", c.State(), StateSignedOut)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFileStore(path)

	if _, ok, err := s.Get("k"); err != nil || ok {
		t.Fatalf("Get on missing file = (%v, %v), want (false, nil)", ok, err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened := NewFileStore(path)
	v, ok, err := reopened.Get("k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get = (%q, %v, %v), want (\"v\", true, nil)", v, ok, err)
	}

	if err := reopened.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := reopened.Delete("k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("key still present after delete")
	}
}

func TestLinePrompter(t *testing.T) {
	var out strings.Builder
	p := &LinePrompter{In: strings.NewReader("carol@example.com\n"), Out: &out}

	got, err := p.PromptEmail(context.Background())
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if got != "carol@example.com" {
		t.Errorf("got = %q, want %q", got, "carol@example.com")
	}
	if !strings.Contains(out.String(), "email") {
		t.Errorf("prompt text = %q", out.String())
	}
}
