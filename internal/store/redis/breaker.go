package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("redis circuit breaker is open")

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // tripped, calls rejected
	BreakerHalfOpen                     // probing with a single call
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// breaker trips after maxFailures consecutive failures, rejects calls for
// resetTimeout, then lets one probe through. A successful probe closes it
// again; a failed one reopens it. It keeps a flapping Redis from stalling
// the trade stream behind slow timeouts.
type breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time

	onStateChange func(from, to BreakerState)
}

func newBreaker(maxFailures int, resetTimeout time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

func (b *breaker) execute(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.lastFailure) <= b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transition(BreakerHalfOpen)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			b.transition(BreakerOpen)
		}
		return err
	}
	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
	b.failures = 0
	return nil
}

func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
