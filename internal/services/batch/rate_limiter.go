// Package batch processes groups of extraction items against the target site
// at a bounded, politeness-limited pace with retry for transient failures.
package batch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound work two ways: a semaphore caps how many calls are
// in flight at once, and a token bucket enforces a minimum interval between
// dispatches. Waiters are served in FIFO order.
type Limiter struct {
	slots chan struct{}
	pacer *rate.Limiter
}

// NewLimiter creates a limiter allowing maxInFlight concurrent calls with at
// least minInterval between dispatches. minInterval <= 0 disables pacing.
func NewLimiter(maxInFlight int, minInterval time.Duration) *Limiter {
	if maxInFlight < 1 {
		maxInFlight = 1
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(minInterval), 1)
	}

	return &Limiter{
		slots: make(chan struct{}, maxInFlight),
		pacer: pacer,
	}
}

// Execute runs fn once a concurrency slot and a pacing token are available.
// The slot is held for the full duration of fn; the pacing token only spaces
// out dispatch times.
func (l *Limiter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.slots }()

	if err := l.pacer.Wait(ctx); err != nil {
		return err
	}

	return fn(ctx)
}

// InFlight returns the number of currently held concurrency slots
func (l *Limiter) InFlight() int {
	return len(l.slots)
}
