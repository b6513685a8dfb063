package calendar

import (
	"sync"
)

// Broker fans change notifications out to the watchers of each user.
// A notification carries no payload; watchers re-query their own view.
type Broker struct {
	mu       sync.RWMutex
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	uid    string
	notify chan struct{}
}

func NewBroker() *Broker {
	return &Broker{watchers: make(map[string]map[*watcher]struct{})}
}

func (b *Broker) register(uid string) *watcher {
	w := &watcher{uid: uid, notify: make(chan struct{}, 1)}
	b.mu.Lock()
	set, ok := b.watchers[uid]
	if !ok {
		set = make(map[*watcher]struct{})
		b.watchers[uid] = set
	}
	set[w] = struct{}{}
	b.mu.Unlock()
	return w
}

// unregister is safe to call more than once.
func (b *Broker) unregister(w *watcher) {
	b.mu.Lock()
	if set, ok := b.watchers[w.uid]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(b.watchers, w.uid)
		}
	}
	b.mu.Unlock()
}

// Publish wakes every watcher of the given users. It never blocks: a
// watcher that already has a pending wake-up is not signalled twice.
func (b *Broker) Publish(uids ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, uid := range uids {
		for w := range b.watchers[uid] {
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}
}

// WatcherCount returns the number of registered watchers across all users.
func (b *Broker) WatcherCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.watchers {
		n += len(set)
	}
	return n
}
