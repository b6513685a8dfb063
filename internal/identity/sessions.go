package identity

import (
	"context"
	"sync"
)

// sessionEnds tracks listeners waiting for a session to end.
type sessionEnds struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

func newSessionEnds() *sessionEnds {
	return &sessionEnds{waiters: make(map[string]map[chan struct{}]struct{})}
}

func (e *sessionEnds) add(sessionID string) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	e.mu.Lock()
	set, ok := e.waiters[sessionID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		e.waiters[sessionID] = set
	}
	set[ch] = struct{}{}
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if set, ok := e.waiters[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(e.waiters, sessionID)
			}
		}
	}
	return ch, release
}

func (e *sessionEnds) end(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.waiters[sessionID] {
		close(ch)
	}
	delete(e.waiters, sessionID)
}

// SessionDone returns a channel that is closed when the session is signed
// out. Callers must call release once they stop listening. A session
// that ends by expiring does not close the channel; use SessionActive
// to detect that.
func (s *Service) SessionDone(sessionID string) (done <-chan struct{}, release func()) {
	return s.ends.add(sessionID)
}

// SessionActive reports whether the session exists and has not expired.
func (s *Service) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return false, err
	}
	return sess != nil, nil
}
