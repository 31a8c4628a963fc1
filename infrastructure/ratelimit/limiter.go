// Package ratelimit enforces per-provider request budgets for generation
// calls.
//
// A Limiter keeps, per provider key, the timestamps of requests issued in
// the last minute. Callers are admitted in arrival order; each one waits
// until the key both has room in its sliding 60 second window and has
// observed an even spacing of one minute divided by the limit since the
// previous request.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window is the sliding interval over which request limits apply.
const Window = time.Minute

// ErrInvalidLimit is returned when a non-positive requests-per-minute limit
// is supplied.
var ErrInvalidLimit = errors.New("requests per minute must be positive")

// Clock abstracts time for the limiter.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock used for windows and spacing.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// Limiter throttles calls per provider key. A single Limiter is meant to be
// shared by every client of the process so that all calls to a provider
// count against the same budget.
//
// Limiter is safe for concurrent use.
type Limiter struct {
	clock Clock

	mu   sync.Mutex
	keys map[string]*keyState
}

// keyState is the admission state of one provider key.
type keyState struct {
	// gate serialises admission. Goroutines blocked sending on a channel
	// are released in arrival order, which gives FIFO admission.
	gate chan struct{}

	// history and pacer are only touched while holding gate.
	history []time.Time
	pacer   *rate.Limiter
	rpm     int
}

// New creates a Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		clock: systemClock{},
		keys:  make(map[string]*keyState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Throttle waits until key may issue another request under a budget of rpm
// requests per minute, records the request and then runs fn. fn runs
// outside the admission gate, so slow calls do not delay the admission of
// later callers beyond the configured spacing.
//
// Throttle returns ctx.Err() if the context ends while waiting; in that
// case fn is not called and no request is recorded.
func (l *Limiter) Throttle(ctx context.Context, key string, rpm int, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, key, rpm); err != nil {
		return err
	}
	return fn(ctx)
}

// Acquire waits for admission of one request for key and records it.
func (l *Limiter) Acquire(ctx context.Context, key string, rpm int) error {
	if rpm <= 0 {
		return fmt.Errorf("rate limit for %q: %w", key, ErrInvalidLimit)
	}

	ks := l.state(key)

	select {
	case ks.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ks.gate }()

	ks.configure(l.clock.Now(), rpm)

	for {
		now := l.clock.Now()
		ks.prune(now)

		if len(ks.history) >= rpm {
			if err := l.sleep(ctx, ks.history[0].Add(Window).Sub(now)); err != nil {
				return err
			}
			continue
		}

		r := ks.pacer.ReserveN(now, 1)
		if !r.OK() {
			return fmt.Errorf("rate limit for %q: reservation refused", key)
		}
		if err := l.sleep(ctx, r.DelayFrom(now)); err != nil {
			r.CancelAt(l.clock.Now())
			return err
		}
		break
	}

	ks.history = append(ks.history, l.clock.Now())
	return nil
}

// Reset discards the request history of every key. Callers currently
// waiting keep the state they already observed.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = make(map[string]*keyState)
}

func (l *Limiter) state(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()

	ks, ok := l.keys[key]
	if !ok {
		ks = &keyState{gate: make(chan struct{}, 1)}
		l.keys[key] = ks
	}
	return ks
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-l.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// configure sets up the pacer for rpm, adjusting it in place when the
// limit for the key changes.
func (ks *keyState) configure(now time.Time, rpm int) {
	every := rate.Every(Window / time.Duration(rpm))
	switch {
	case ks.pacer == nil:
		ks.pacer = rate.NewLimiter(every, 1)
	case ks.rpm != rpm:
		ks.pacer.SetLimitAt(now, every)
	}
	ks.rpm = rpm
}

// prune drops timestamps that have left the window ending at now.
func (ks *keyState) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(ks.history) && !ks.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ks.history = append(ks.history[:0], ks.history[i:]...)
	}
}
