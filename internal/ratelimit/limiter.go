package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token-bucket gate bounding outbound sends per second.
// Acquire blocks the dispatch loop until a token is available; it is
// the one designed blocking point inside a campaign run, so it stays
// context-aware for shutdown.
type Limiter struct {
	mu       sync.Mutex
	rate     float64 // tokens added per second
	burst    float64 // bucket capacity
	tokens   float64
	lastFill time.Time

	// now and sleep are swappable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter allowing ratePerSecond sends with the given
// burst. A zero or negative rate means unlimited.
func New(ratePerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:     ratePerSecond,
		burst:    float64(burst),
		tokens:   float64(burst),
		lastFill: time.Now(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until a token is available or the context is
// cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.rate <= 0 {
		return ctx.Err()
	}

	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		// Time until the next whole token exists.
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// refill adds tokens for the time elapsed since the last fill. Caller
// holds the mutex.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastFill = now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
