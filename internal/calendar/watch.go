package calendar

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukerupert/calshare/internal/model"
)

// Subscription delivers the calendars visible to one user. C receives the
// current list right away and a fresh list after every change that
// touches the user. Only the newest list is kept if the reader falls
// behind. C is closed once the subscription ends.
type Subscription struct {
	C <-chan []model.Calendar

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Cancel stops the subscription and waits for its goroutine to exit. It
// may be called any number of times.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

// watchRegistered runs between registering a watcher and reading its
// first snapshot. Tests replace it.
var watchRegistered = func() {}

// Watch subscribes to ListVisible(uid). The subscription also ends when
// ctx is cancelled.
func (s *Service) Watch(ctx context.Context, uid string) (*Subscription, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidInput)
	}

	// Register before the first read so a change landing in between
	// still wakes the watcher.
	w := s.broker.register(uid)
	watchRegistered()
	initial, err := s.ListVisible(ctx, uid)
	if err != nil {
		s.broker.unregister(w)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []model.Calendar, 1)
	out <- initial

	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}
	s.metrics.WatcherAdded()

	go func() {
		defer close(sub.done)
		defer close(out)
		defer s.metrics.WatcherRemoved()
		defer s.broker.unregister(w)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.notify:
			}

			list, err := s.ListVisible(ctx, uid)
			if err != nil {
				s.logger.Error("refresh watched calendars", "user_id", uid, "error", err)
				continue
			}
			// Replace an unread snapshot rather than queueing behind it.
			select {
			case <-out:
			default:
			}
			out <- list
		}
	}()

	return sub, nil
}
