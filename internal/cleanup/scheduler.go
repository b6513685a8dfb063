// Package cleanup periodically removes expired sign-in state.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Expirer deletes rows past their expiry. *store.MagicLinkStore and
// *store.SessionStore satisfy it.
type Expirer interface {
	DeleteExpired() (int64, error)
}

// Pruner forgets idle rate-limit buckets. *middleware.RateLimiter
// satisfies it.
type Pruner interface {
	Cleanup(maxIdle time.Duration) int
}

// Metrics receives deletion counts. *metrics.Collector satisfies it.
type Metrics interface {
	CleanupDeleted(kind string, n int64)
}

type nopMetrics struct{}

func (nopMetrics) CleanupDeleted(string, int64) {}

// Scheduler runs a cleanup pass every interval.
type Scheduler struct {
	mu       sync.RWMutex
	links    Expirer
	sessions Expirer
	limiter  Pruner
	metrics  Metrics
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Scheduler)

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLimiter also prunes rate-limit buckets idle for a full interval.
func WithLimiter(p Pruner) Option {
	return func(s *Scheduler) { s.limiter = p }
}

func NewScheduler(links, sessions Expirer, interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		links:    links,
		sessions: sessions,
		metrics:  nopMetrics{},
		logger:   logger,
		interval: interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one pass immediately, then one per interval until Stop or
// ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
}

// Stop cancels the loop and waits for the current pass to finish.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunOnce performs a single cleanup pass.
func (s *Scheduler) RunOnce() {
	s.expire("magic_links", s.links)
	s.expire("sessions", s.sessions)

	if s.limiter != nil {
		if n := s.limiter.Cleanup(s.interval); n > 0 {
			s.logger.Debug("pruned rate limit buckets", "count", n)
		}
	}
}

func (s *Scheduler) expire(kind string, e Expirer) {
	if e == nil {
		return
	}
	n, err := e.DeleteExpired()
	if err != nil {
		s.logger.Error("delete expired", "kind", kind, "error", err)
		return
	}
	s.metrics.CleanupDeleted(kind, n)
	if n > 0 {
		s.logger.Info("deleted expired rows", "kind", kind, "count", n)
	}
}
