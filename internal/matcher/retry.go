package matcher

import (
	"context"
	"math/rand"
	"time"
)

const (
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the exponential growth.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMaxAttempts is the per-step attempt budget.
	DefaultMaxAttempts = 5

	// JitterFactor is the ±percentage of jitter applied to delays.
	JitterFactor = 0.2 // ±20%
)

// Backoff computes retry delays: base doubling per attempt, capped, with
// jitter to avoid thundering herd against a recovering backend.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the standard backoff shape.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
}

// Delay returns the wait before retry number attempt (0-indexed after the
// first failure). Ignoring jitter, the sequence is non-decreasing.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			delay = b.Max
			break
		}
	}

	// Add ±20% jitter
	jitterRange := float64(delay) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(delay) + jitter)
}

// retryState tracks retry progress for one matching step. Owned by the
// session; attempt counts performed attempts, increases monotonically and
// resets per step.
type retryState struct {
	attempt     int
	maxAttempts int
	backoff     Backoff
}

// exhausted reports whether the attempt budget is spent.
func (r *retryState) exhausted() bool {
	return r.attempt >= r.maxAttempts
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
