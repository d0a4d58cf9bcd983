package throttle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestThrottle_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		events        []bool
		wantMult      float64
		wantSuccesses int
	}{
		{name: "fresh", events: nil, wantMult: 1.0},
		{name: "warmup keeps full delay", events: []bool{true, true, true}, wantMult: 1.0, wantSuccesses: 3},
		{name: "fourth success drops", events: []bool{true, true, true, true}, wantMult: 0.9, wantSuccesses: 4},
		{name: "failure resets", events: []bool{true, true, true, true, false}, wantMult: 1.0},
		{name: "floor", events: []bool{true, true, true, true, true, true, true, true, true, true}, wantMult: 0.5, wantSuccesses: 10},
		{name: "streak restarts after failure", events: []bool{true, true, true, true, true, false, true, true, true, true}, wantMult: 0.9, wantSuccesses: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			th := New()
			for _, ok := range tt.events {
				th.Record(ok)
			}
			if got := th.Multiplier(); got != tt.wantMult {
				t.Errorf("Multiplier() = %v, want %v", got, tt.wantMult)
			}
			if got := th.ConsecutiveSuccesses(); got != tt.wantSuccesses {
				t.Errorf("ConsecutiveSuccesses() = %d, want %d", got, tt.wantSuccesses)
			}
		})
	}
}

func TestThrottle_Delay(t *testing.T) {
	t.Parallel()

	r := 0.0
	th := New(WithRand(func() float64 { return r }))

	if got := th.Delay(); got != DefaultLow {
		t.Errorf("Delay() = %v, want %v", got, DefaultLow)
	}
	r = 0.5
	if got := th.Delay(); got != 3500*time.Millisecond {
		t.Errorf("Delay() = %v, want 3.5s", got)
	}

	for range 8 {
		th.Success()
	}
	r = 0
	if got := th.Delay(); got != time.Second {
		t.Errorf("Delay() at the floor = %v, want 1s", got)
	}
}

func TestThrottle_Wait(t *testing.T) {
	t.Parallel()

	var slept time.Duration
	th := New(
		WithRand(func() float64 { return 0 }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = d
			return nil
		}),
	)
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if slept != DefaultLow {
		t.Errorf("slept %v, want %v", slept, DefaultLow)
	}
}

func TestThrottle_WaitCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	th := New(WithRange(time.Hour, time.Hour))
	start := time.Now()
	if err := th.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return promptly after cancellation")
	}
}
