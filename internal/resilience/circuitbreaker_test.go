package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("recognizer unreachable")

func fail() error    { return errTest }
func succeed() error { return nil }

// run feeds the breaker one call per outcome.
func run(cb *CircuitBreaker, outcomes ...func() error) {
	for _, o := range outcomes {
		_ = cb.Execute(o)
	}
}

// tripped returns a breaker that has just opened and will go half-open
// after a short reset timeout.
func tripped(t *testing.T, halfOpenMax int) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "whisper-native",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  halfOpenMax,
	})
	run(cb, fail, fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after two failures, want open", cb.State())
	}
	return cb
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = (%d, %v, %d), want (5, 30s, 3)", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []func() error
		want     State
	}{
		{"successes", []func() error{succeed, succeed}, StateClosed},
		{"failures below threshold", []func() error{fail, fail}, StateClosed},
		{"threshold reached", []func() error{fail, fail, fail}, StateOpen},
		{"success resets the count", []func() error{fail, fail, succeed, fail, fail}, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour})
			run(cb, tt.outcomes...)
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	run(cb, fail)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker invoked the call")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Run("reported after timeout", func(t *testing.T) {
		cb := tripped(t, 2)
		time.Sleep(15 * time.Millisecond)
		if cb.State() != StateHalfOpen {
			t.Fatalf("state = %v, want half-open", cb.State())
		}
	})

	t.Run("probes close it", func(t *testing.T) {
		cb := tripped(t, 2)
		time.Sleep(15 * time.Millisecond)
		for i := range 2 {
			if err := cb.Execute(succeed); err != nil {
				t.Fatalf("probe %d: %v", i, err)
			}
		}
		if cb.State() != StateClosed {
			t.Fatalf("state = %v, want closed", cb.State())
		}
	})

	t.Run("failed probe reopens it", func(t *testing.T) {
		cb := tripped(t, 3)
		time.Sleep(15 * time.Millisecond)
		if err := cb.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("probe err = %v, want the call's error", err)
		}
		cb.mu.Lock()
		s := cb.state
		cb.mu.Unlock()
		if s != StateOpen {
			t.Fatalf("state = %v, want open", s)
		}
	})
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	run(cb, fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}

func TestCircuitBreaker_DoIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after a cancelled call", cb.State())
	}

	// The same error with a live context counts.
	_ = cb.Do(context.Background(), func(context.Context) error { return context.Canceled })
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_DoReleasesProbeOnCancellation(t *testing.T) {
	cb := tripped(t, 1)
	time.Sleep(15 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = cb.Do(ctx, func(ctx context.Context) error { return ctx.Err() })

	// The single probe slot is free again.
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe after cancelled probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type change struct{ from, to State }
	var changes []change
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "coqui",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			if name != "coqui" {
				t.Errorf("name = %q, want coqui", name)
			}
			changes = append(changes, change{from, to})
		},
	})
	if cb.Name() != "coqui" {
		t.Errorf("Name() = %q", cb.Name())
	}

	run(cb, fail)
	time.Sleep(20 * time.Millisecond)
	if err := cb.Execute(func() error {
		// Querying the breaker from inside a call must not deadlock.
		_ = cb.State()
		return nil
	}); err != nil {
		t.Fatalf("probe: %v", err)
	}
	cb.Reset() // already closed, not a transition

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestCircuitBreaker_ResetDiscardsInFlightOutcome(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	started, release := make(chan struct{}), make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return errTest
		})
	}()
	<-started
	cb.Reset()
	close(release)

	if err := <-done; !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the call's error", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed: the failure predates the reset", cb.State())
	}
}
