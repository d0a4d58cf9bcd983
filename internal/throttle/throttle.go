// Package throttle paces requests between work items.
//
// The delay is a random base delay scaled by a multiplier. The multiplier
// starts at 1.0; once more than three consecutive items succeed, every
// further success lowers it by 0.1 down to 0.5. A failure or empty result
// resets it to 1.0.
package throttle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Throttle defaults.
const (
	DefaultLow  = 2 * time.Second
	DefaultHigh = 5 * time.Second

	// Warmup is the number of consecutive successes before the multiplier
	// starts dropping.
	Warmup = 3

	// Step is the multiplier drop per success after the warmup.
	Step = 0.1

	// Floor is the lowest multiplier.
	Floor = 0.5
)

// Throttle is an adaptive delay. It is safe for concurrent use.
type Throttle struct {
	mu         sync.Mutex
	successes  int
	multiplier float64
	low        time.Duration
	high       time.Duration
	rand       func() float64
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithRange sets the base delay range. A zero range disables waiting.
func WithRange(low, high time.Duration) Option {
	return func(t *Throttle) {
		if high < low {
			high = low
		}
		t.low, t.high = low, high
	}
}

// WithRand sets the random source, returning values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(t *Throttle) {
		t.rand = fn
	}
}

// WithSleep replaces the context-aware sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Throttle) {
		t.sleep = fn
	}
}

// New creates a Throttle.
func New(opts ...Option) *Throttle {
	t := &Throttle{
		multiplier: 1.0,
		low:        DefaultLow,
		high:       DefaultHigh,
		rand:       rand.Float64,
		sleep:      sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Success records an item that produced results.
func (t *Throttle) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successes++
	if t.successes > Warmup {
		// Round to tenths so repeated steps do not drift.
		m := float64(int((t.multiplier-Step)*10+0.5)) / 10
		t.multiplier = max(Floor, m)
	}
}

// Failure records an item that failed or produced no results.
func (t *Throttle) Failure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successes = 0
	t.multiplier = 1.0
}

// Record calls Success when ok, Failure otherwise.
func (t *Throttle) Record(ok bool) {
	if ok {
		t.Success()
		return
	}
	t.Failure()
}

// Multiplier returns the current multiplier.
func (t *Throttle) Multiplier() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.multiplier
}

// ConsecutiveSuccesses returns the current success streak.
func (t *Throttle) ConsecutiveSuccesses() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successes
}

// Delay returns the next wait: uniform(low, high) scaled by the multiplier.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	base := t.low + time.Duration(float64(t.high-t.low)*t.rand())
	return time.Duration(float64(base) * t.multiplier)
}

// Wait sleeps for Delay, returning early with the context error when ctx is
// done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.sleep(ctx, t.Delay())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
