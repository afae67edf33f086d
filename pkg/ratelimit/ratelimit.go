// Package ratelimit provides a client-side sliding window rate limiter for
// pacing calls to an external API from this process.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces at most Max requests per Window using a two-window
// sliding count: the previous window is weighted by how much of it still
// overlaps the sliding window, which smooths bursts at window boundaries.
type Limiter struct {
	max    int
	window time.Duration

	mu        sync.Mutex
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time

	now func() time.Time
}

// New creates a limiter allowing max requests per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether one more request fits in the window right now, and
// consumes a slot if it does.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowAt(l.now())
}

// allowAt implements Allow at a given instant. Caller holds l.mu.
func (l *Limiter) allowAt(now time.Time) bool {
	if l.currStart.IsZero() {
		l.currStart = now
	}

	// Rotate when the current window has elapsed.
	if now.Sub(l.currStart) >= l.window {
		l.prevCount = l.currCount
		l.prevStart = l.currStart
		l.currCount = 0
		l.currStart = now.Truncate(l.window)
		if now.Sub(l.prevStart) >= 2*l.window {
			l.prevCount = 0
		}
	}

	elapsed := now.Sub(l.currStart)
	overlap := 1.0 - elapsed.Seconds()/l.window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	effective := l.prevCount*overlap + l.currCount

	if effective >= float64(l.max) {
		return false
	}
	l.currCount++
	return true
}

// Wait blocks until a slot is available or ctx is cancelled. Slots free up
// continuously as the window slides, so Wait retries on a short interval
// rather than computing an exact deadline.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	retry := l.window / time.Duration(l.max)
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}
