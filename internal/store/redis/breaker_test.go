package redis

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failN(n int) func() error {
	return func() error {
		if n > 0 {
			n--
			return errBoom
		}
		return nil
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(3, time.Minute)

	fail := func() error { return errBoom }
	for i := 0; i < 3; i++ {
		if err := b.execute(fail); err != errBoom {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}
	if b.currentState() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.currentState())
	}

	// While open, calls are rejected without running fn.
	ran := false
	err := b.execute(func() error { ran = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if ran {
		t.Error("open breaker must not run the call")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := newBreaker(3, time.Minute)

	b.execute(func() error { return errBoom })
	b.execute(func() error { return errBoom })
	b.execute(func() error { return nil })
	b.execute(func() error { return errBoom })
	b.execute(func() error { return errBoom })

	if b.currentState() != BreakerClosed {
		t.Fatalf("non-consecutive failures must not trip, got %s", b.currentState())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond)

	var transitions []string
	b.onStateChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	b.execute(func() error { return errBoom }) // trips immediately
	if b.currentState() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.currentState())
	}

	time.Sleep(20 * time.Millisecond)

	// Failed probe reopens.
	if err := b.execute(func() error { return errBoom }); err != errBoom {
		t.Fatalf("probe should run and fail, got %v", err)
	}
	if b.currentState() != BreakerOpen {
		t.Fatalf("expected reopen after failed probe, got %s", b.currentState())
	}

	time.Sleep(20 * time.Millisecond)

	// Successful probe closes.
	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("probe should run and succeed, got %v", err)
	}
	if b.currentState() != BreakerClosed {
		t.Fatalf("expected closed after good probe, got %s", b.currentState())
	}

	want := []string{
		"closed->open",
		"open->half-open", "half-open->open",
		"open->half-open", "half-open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}
