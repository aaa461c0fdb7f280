package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

const maxBackoff = 15 * time.Second

// Policy wraps a fallible send action with bounded exponential backoff.
// MaxRetries is the number of retries after the first attempt, so an
// action runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries int
	Logger     *slog.Logger

	// Sleep pauses between attempts; swappable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a retry policy
func New(maxRetries int, logger *slog.Logger) *Policy {
	return &Policy{
		MaxRetries: maxRetries,
		Logger:     logger,
		Sleep:      sleepCtx,
	}
}

// Execute runs action until it succeeds or the retry budget is
// exhausted. Exhaustion is reported as false, not an error: the caller
// records the failure on the delivery log and moves on to the next
// recipient.
func (p *Policy) Execute(ctx context.Context, action func() error, identifier string) bool {
	attempts := 0
	for {
		err := action()
		if err == nil {
			return true
		}

		attempts++
		if attempts > p.MaxRetries {
			p.Logger.Error("giving up after retries exhausted",
				"identifier", identifier,
				"attempts", attempts,
				"error", err,
			)
			return false
		}

		backoff := backoffFor(attempts)
		p.Logger.Warn("attempt failed, retrying",
			"identifier", identifier,
			"attempt", attempts,
			"max_attempts", p.MaxRetries+1,
			"backoff", backoff,
			"error", err,
		)

		if err := p.Sleep(ctx, backoff); err != nil {
			return false
		}
	}
}

// backoffFor returns 2^attempt seconds capped at maxBackoff, plus
// 250ms-1s of jitter.
func backoffFor(attempt int) time.Duration {
	if attempt > 20 {
		attempt = 20
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := time.Duration(250+rand.Intn(751)) * time.Millisecond
	return backoff + jitter
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
