package query

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(s BreakerSettings) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(s)
	b.now = clock.now
	return b, clock
}

func TestBreaker_opensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 3, SuccessThreshold: 1, CoolDown: time.Second})

	b.RecordFailure()
	b.RecordFailure()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state after 2 failures = %v, want closed", s)
	}
	b.RecordFailure()
	if s := b.State(); s != BreakerOpen {
		t.Errorf("state after 3 failures = %v, want open", s)
	}
	if err := b.Allow(); err != ErrBreakerOpen {
		t.Errorf("Allow() = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_successResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 2})
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state = %v, want closed", s)
	}
}

func TestBreaker_halfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, SuccessThreshold: 2, CoolDown: time.Second})
	var changes []BreakerState
	b.OnStateChange(func(s BreakerState) { changes = append(changes, s) })

	b.RecordFailure()
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after cool-down = %v", err)
	}
	b.RecordSuccess()
	if s := b.State(); s != BreakerHalfOpen {
		t.Errorf("state after 1 probe = %v, want half-open", s)
	}
	b.RecordSuccess()
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state after 2 probes = %v, want closed", s)
	}

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestBreaker_halfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, CoolDown: time.Second})
	b.RecordFailure()
	clock.advance(time.Second)
	_ = b.Allow()
	b.RecordFailure()
	if s := b.State(); s != BreakerOpen {
		t.Errorf("state = %v, want open", s)
	}
}

func TestBreaker_defaults(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{})
	for range 4 {
		b.RecordFailure()
	}
	if s := b.State(); s != BreakerClosed {
		t.Errorf("state after 4 failures = %v, want closed (default threshold 5)", s)
	}
	b.RecordFailure()
	if s := b.State(); s != BreakerOpen {
		t.Errorf("state after 5 failures = %v, want open", s)
	}
}

func TestBreakerState_String(t *testing.T) {
	for s, want := range map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
		BreakerState(9): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
