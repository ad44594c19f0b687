package provider

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so limiter waits can be simulated.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Limiter admits at most Requests calls per fixed Window. The state belongs to
// one provider instance and is reset only by constructing a new limiter.
type Limiter struct {
	requests int
	window   time.Duration
	clock    Clock

	mu           sync.Mutex
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// NewLimiter builds a limiter. Non-positive requests or window disable limiting.
func NewLimiter(requests int, window time.Duration, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &Limiter{requests: requests, window: window, clock: clock}
}

// Wait blocks until the current window has capacity, then admits one request.
// It loops rather than recursing, re-checking after every sleep.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	if l == nil || l.requests <= 0 || l.window <= 0 {
		return 0, nil
	}

	var waited time.Duration
	for {
		delay := l.reserve()
		if delay <= 0 {
			return waited, nil
		}
		if err := l.clock.Sleep(ctx, delay); err != nil {
			return waited, err
		}
		waited += delay
	}
}

func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Before(l.blockedUntil) {
		return l.blockedUntil.Sub(now)
	}
	if l.windowStart.IsZero() || now.Sub(l.windowStart) > l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count < l.requests {
		l.count++
		return 0
	}
	// the window resets strictly after it has fully elapsed
	return l.windowStart.Add(l.window).Sub(now) + time.Millisecond
}

// Penalize blocks the limiter after an upstream 429. A zero retryAfter blocks for one window.
func (l *Limiter) Penalize(retryAfter time.Duration) {
	if l == nil || l.requests <= 0 || l.window <= 0 {
		return
	}
	if retryAfter <= 0 {
		retryAfter = l.window
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.clock.Now().Add(retryAfter)
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
}
