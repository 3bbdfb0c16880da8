// Package ratelimit admits outbound classification calls under a rolling
// per-window ceiling, an in-flight ceiling and a spacing delay between queued calls.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultRequestsPerMinute  = 10
	DefaultConcurrentRequests = 3
	DefaultBatchDelay         = 500 * time.Millisecond
	DefaultWindow             = time.Minute
)

// ErrTimeout is returned when the caller's context ends before a slot is granted.
var ErrTimeout = errors.New("rate limit wait timed out")

// Config holds the limiter ceilings.
type Config struct {
	// RequestsPerWindow is the maximum number of calls initiated within any rolling Window.
	RequestsPerWindow int
	// Concurrent is the maximum number of calls in flight.
	Concurrent int
	// BatchDelay is the pause enforced after a release that frees a full ceiling
	// or while callers are queued.
	BatchDelay time.Duration
	Window     time.Duration
}

// DefaultConfig returns 10 requests per minute, 3 in flight and 500ms spacing.
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: DefaultRequestsPerMinute,
		Concurrent:        DefaultConcurrentRequests,
		BatchDelay:        DefaultBatchDelay,
		Window:            DefaultWindow,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = def.RequestsPerWindow
	}
	if c.Concurrent <= 0 {
		c.Concurrent = def.Concurrent
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	return c
}

// Limiter is safe for concurrent use. Pending Acquire calls are not served in FIFO
// order; every state change wakes all of them and they race for the free slot.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	inFlight  int
	waiting   int
	starts    []time.Time
	holdUntil time.Time
	changed   chan struct{}
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		changed: make(chan struct{}),
	}
}

// Concurrency returns the in-flight ceiling.
func (l *Limiter) Concurrency() int { return l.cfg.Concurrent }

// InFlight returns the number of tokens currently held.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Acquire blocks until a call may start under every ceiling or ctx is done.
// Abandoning a pending Acquire through ctx never consumes a slot.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	l.mu.Lock()
	l.waiting++
	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	for {
		now := l.now()
		l.expireLocked(now)

		wait, admit := l.admissionLocked(now)
		if admit {
			l.inFlight++
			l.starts = append(l.starts, now)
			l.mu.Unlock()
			return &Token{limiter: l, acquiredAt: now}, nil
		}

		changed := l.changed
		l.mu.Unlock()

		var (
			timer *time.Timer
			fired <-chan time.Time
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			fired = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-changed:
		case <-fired:
		}

		if timer != nil {
			timer.Stop()
		}
		l.mu.Lock()
	}
}

// admissionLocked reports whether a call may start now, and otherwise how long to
// wait before re-checking. A zero wait means only a release can unblock the caller.
func (l *Limiter) admissionLocked(now time.Time) (time.Duration, bool) {
	if l.inFlight >= l.cfg.Concurrent {
		return 0, false
	}

	if len(l.starts) >= l.cfg.RequestsPerWindow {
		return l.starts[0].Add(l.cfg.Window).Sub(now), false
	}

	if now.Before(l.holdUntil) {
		return l.holdUntil.Sub(now), false
	}

	return 0, true
}

// expireLocked drops start times that left the rolling window.
func (l *Limiter) expireLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	drop := 0
	for drop < len(l.starts) && !l.starts[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.starts = append(l.starts[:0], l.starts[drop:]...)
	}
}

// Release returns the token's slot. Releasing twice is a no-op.
func (l *Limiter) Release(t *Token) {
	if t == nil {
		return
	}
	t.Release()
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasFull := l.inFlight >= l.cfg.Concurrent
	l.inFlight--
	if (wasFull || l.waiting > 0) && l.cfg.BatchDelay > 0 {
		l.holdUntil = l.now().Add(l.cfg.BatchDelay)
	}

	close(l.changed)
	l.changed = make(chan struct{})
}

// Token is a permit for one in-flight call.
type Token struct {
	limiter    *Limiter
	acquiredAt time.Time
	once       sync.Once
}

// AcquiredAt returns when the permit was granted.
func (t *Token) AcquiredAt() time.Time { return t.acquiredAt }

// Release returns the permit to its limiter exactly once.
func (t *Token) Release() {
	if t == nil || t.limiter == nil {
		return
	}
	t.once.Do(t.limiter.release)
}
