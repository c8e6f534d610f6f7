// Package resilience provides circuit breaker and provider failover primitives.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) placed
// in front of the recognizer so that a dead engine is skipped quickly instead
// of stalling every utterance. [FallbackGroup] chains several recognizers or
// synthesizers, each behind its own breaker, and [STTFallback] / [TTSFallback]
// expose such a chain as a single provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling the backend while its breaker
// is open, or while every half-open probe slot is taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen
	// StateHalfOpen lets up to HalfOpenMax probes through. All of them
	// succeeding closes the breaker, any one failing reopens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// MaxFailures consecutive failures open a closed breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes admitted, and required to
	// succeed, while half-open. Default 3.
	HalfOpenMax int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnStateChange runs after every transition, outside the breaker's lock,
	// on the goroutine that caused it.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	logger       *slog.Logger
	onChange     func(name string, from, to State)

	mu         sync.Mutex
	state      State
	generation uint64    // bumped on every transition
	failures   int       // consecutive, while closed
	openedAt   time.Time // time of the failure that last opened the breaker
	probes     int       // admitted in the current half-open generation
	passed     int       // probes of the current generation that succeeded
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		logger:       cfg.Logger,
		onChange:     cfg.OnStateChange,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.halfOpenMax <= 0 {
		cb.halfOpenMax = 3
	}
	if cb.logger == nil {
		cb.logger = slog.Default()
	}
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn through the breaker. See [CircuitBreaker.Do].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.Do(context.Background(), func(context.Context) error { return fn() })
}

// Do runs fn unless the breaker rejects the call with [ErrCircuitOpen], and
// returns fn's error unchanged. An error returned after ctx ended is not
// held against the backend: it neither counts as a failure nor uses up a
// half-open probe.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(gen, err, ctx.Err() != nil)
	return err
}

// admit returns the generation the call runs in, moving an expired open
// breaker to half-open first.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	var notify func()
	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return 0, ErrCircuitOpen
		}
		notify = cb.setState(StateHalfOpen)
		cb.logger.Info("circuit breaker half-open, probing", "name", cb.name)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			return 0, ErrCircuitOpen
		}
		cb.probes++
	}
	gen := cb.generation
	cb.mu.Unlock()
	if notify != nil {
		notify()
	}
	return gen, nil
}

// settle books the outcome of a call admitted in generation gen. Outcomes
// from an earlier generation are stale and ignored.
func (cb *CircuitBreaker) settle(gen uint64, err error, cancelled bool) {
	cb.mu.Lock()
	if gen != cb.generation {
		cb.mu.Unlock()
		return
	}
	var notify func()
	switch {
	case err != nil && cancelled:
		if cb.state == StateHalfOpen {
			cb.probes--
		}

	case err != nil:
		if cb.state == StateHalfOpen {
			cb.logger.Warn("circuit breaker re-opened by failed probe", "name", cb.name, "err", err)
			notify = cb.open()
			break
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.logger.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.failures, "err", err)
			notify = cb.open()
		}

	case cb.state == StateHalfOpen:
		cb.passed++
		if cb.passed >= cb.halfOpenMax {
			cb.logger.Info("circuit breaker closed after successful probes", "name", cb.name)
			notify = cb.setState(StateClosed)
		}

	default:
		cb.failures = 0
	}
	cb.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (cb *CircuitBreaker) open() func() {
	cb.openedAt = time.Now()
	return cb.setState(StateOpen)
}

// setState starts a new generation in state to and returns the change hook
// call, or nil. It must be called with cb.mu held and the hook run after
// unlocking.
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.failures, cb.probes, cb.passed = 0, 0, 0
	if from == to || cb.onChange == nil {
		return nil
	}
	return func() { cb.onChange(cb.name, from, to) }
}

// State reports the breaker's state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; it moves there on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and forgets all failures. Calls still in flight
// belong to the old generation and do not count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.setState(StateClosed)
	cb.mu.Unlock()
	cb.logger.Info("circuit breaker manually reset", "name", cb.name)
	if notify != nil {
		notify()
	}
}
