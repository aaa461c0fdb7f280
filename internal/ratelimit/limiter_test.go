package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock drives the limiter deterministically
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rate float64, burst int) (*Limiter, *fakeClock, *[]time.Duration) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var slept []time.Duration

	l := New(rate, burst)
	l.now = clock.now
	l.lastFill = clock.t
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock.advance(d)
		return ctx.Err()
	}
	return l, clock, &slept
}

func TestAcquireWithinBurst(t *testing.T) {
	l, _, slept := newTestLimiter(10, 3)

	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if len(*slept) != 0 {
		t.Errorf("burst acquisitions slept %v", *slept)
	}
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	l, _, slept := newTestLimiter(2, 1)

	// first token is free, second must wait ~500ms at 2/s
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) == 0 {
		t.Fatal("second acquire did not block")
	}
	total := time.Duration(0)
	for _, d := range *slept {
		total += d
	}
	if total < 400*time.Millisecond || total > 600*time.Millisecond {
		t.Errorf("waited %v, want ~500ms", total)
	}
}

func TestAcquireRefillsOverTime(t *testing.T) {
	l, clock, slept := newTestLimiter(1, 1)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.advance(2 * time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 0 {
		t.Errorf("acquire after refill slept %v", *slept)
	}
}

func TestAcquireCancelled(t *testing.T) {
	l, _, _ := newTestLimiter(1, 1)
	l.sleep = sleepCtx

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); err != context.Canceled {
		t.Errorf("Acquire on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestUnlimitedRate(t *testing.T) {
	l := New(0, 1)
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}
