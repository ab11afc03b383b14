// Package backoff computes retry delays for failed steps. A workflow's
// retry policy names one of these strategies; the executor asks it how
// long to park the run before replaying the failed step.
//
// Strategies hold no mutable state and may be shared across runs.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy maps a retry attempt to a delay. Attempt numbers start at 1,
// the first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant waits the same interval before every retry.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear waits Initial on the first retry and grows by Initial each
// attempt, capped at Max when Max is positive.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		d = l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay on each retry: Initial, 2*Initial,
// 4*Initial, capped at Max when Max is positive.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	return scaledDelay(e.Initial, e.Max, attempt)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter
// ──────────────────────────────────────────────────

// ExponentialWithJitter draws a uniform delay from [0, d] where d is the
// exponential delay for the attempt. Full jitter spreads out retries
// when many runs fail at once against the same dependency.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	ceiling := scaledDelay(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter does not need crypto rand
}

// scaledDelay computes initial * 2^(attempt-1) without overflowing: once
// the doubling passes maxDelay (or the duration range) it clamps there.
func scaledDelay(initial, maxDelay time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
		next := d * 2
		if next < d {
			break
		}
		d = next
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// DefaultStrategy is what the executor uses when a retry policy names no
// strategy: exponential with full jitter, 1s initial, 1m ceiling.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(time.Second, time.Minute)
}
