// Package ratelimit enforces "at most N calls per T seconds" against a
// vendor API using fixed-window counting. Fixed windows match how vendors
// document their limits; the cost is that up to 2x the rate can slip through
// across a window boundary, which is acceptable because vendor limits are
// soft.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter counts calls in fixed windows. The zero value permits everything
// immediately. One Limiter covers one vendor's call budget: a feeder's
// sub-API cycles share it, separate feeders get their own.
type Limiter struct {
	// MaxCalls is the number of calls permitted per window. Zero disables
	// limiting.
	MaxCalls int

	// Window is the window duration.
	Window time.Duration

	mu          sync.Mutex
	callCount   int
	windowStart time.Time

	// now and sleep are test seams.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter permitting maxCalls per window. maxCalls <= 0
// returns a no-op limiter.
func New(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{MaxCalls: maxCalls, Window: window}
}

// Acquire blocks until a call is permitted, then counts it. It returns early
// only when ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.MaxCalls <= 0 || l.Window <= 0 {
		return ctx.Err()
	}

	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		// Sleep out the remainder of the window, then re-check from
		// scratch: scheduling jitter can make the sleep overshoot or
		// undershoot, and another window may have opened meanwhile.
		if err := l.doSleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire permits and counts a call if the current window has room.
// Otherwise it reports how long the caller must wait for the window to roll.
func (l *Limiter) tryAcquire() (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	elapsed := now.Sub(l.windowStart)
	if l.windowStart.IsZero() || elapsed >= l.Window {
		l.windowStart = now
		l.callCount = 0
		elapsed = 0
	}

	if l.callCount < l.MaxCalls {
		l.callCount++
		return 0, true
	}
	return l.Window - elapsed, false
}

func (l *Limiter) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func (l *Limiter) doSleep(ctx context.Context, d time.Duration) error {
	if l.sleep != nil {
		return l.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
