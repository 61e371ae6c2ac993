package query

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Breaker.Allow while the backend is considered
// down.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// BreakerClosed lets every request through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets probe requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a Breaker. Zero values take defaults.
type BreakerSettings struct {
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it again
	CoolDown         time.Duration // time spent open before probing
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold < 1 {
		s.SuccessThreshold = 2
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	return s
}

// Breaker guards a backend with the closed, open and half-open states. It is
// safe for concurrent use.
type Breaker struct {
	settings BreakerSettings
	now      func() time.Time
	onChange func(BreakerState)

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(settings BreakerSettings) *Breaker {
	return &Breaker{settings: settings.withDefaults(), now: time.Now}
}

// OnStateChange registers fn to be called, with the lock released, whenever
// the state changes.
func (b *Breaker) OnStateChange(fn func(BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	changed := b.advanceLocked()
	st := b.state
	fn := b.onChange
	b.mu.Unlock()
	if changed && fn != nil {
		fn(st)
	}
	if st == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a request the backend served.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	changed := false
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = BreakerClosed
			b.failures, b.successes = 0, 0
			changed = true
		}
	}
	st, fn := b.state, b.onChange
	b.mu.Unlock()
	if changed && fn != nil {
		fn(st)
	}
}

// RecordFailure records a request the backend failed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	changed := false
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.tripLocked()
			changed = true
		}
	case BreakerHalfOpen:
		b.tripLocked()
		changed = true
	}
	st, fn := b.state, b.onChange
	b.mu.Unlock()
	if changed && fn != nil {
		fn(st)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

func (b *Breaker) tripLocked() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
}

// advanceLocked moves an open breaker to half-open once the cool-down has
// passed.
func (b *Breaker) advanceLocked() bool {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.settings.CoolDown {
		b.state = BreakerHalfOpen
		b.successes = 0
		return true
	}
	return false
}
