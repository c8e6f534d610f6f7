package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no backend in a chain produced a result. The
// returned error also wraps each backend's own error.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every backend's breaker. Name is
	// overwritten with the backend name.
	CircuitBreaker CircuitBreakerConfig

	// Logger receives failover logs. Default: slog.Default().
	Logger *slog.Logger
}

type backend[T any] struct {
	name    string
	impl    T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends (recognizers or
// synthesizers), each behind its own [CircuitBreaker]. Calls go to the first
// backend whose breaker admits them and move down the list on error.
//
// Backends are registered during setup; after that the group is safe for
// concurrent use.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup creates a group whose preferred backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CircuitBreaker.Logger == nil {
		cfg.CircuitBreaker.Logger = cfg.Logger
	}
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a backend after all previously registered ones.
func (g *FallbackGroup[T]) AddFallback(name string, impl T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.backends = append(g.backends, backend[T]{name: name, impl: impl, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of backends, primary included.
func (g *FallbackGroup[T]) Len() int { return len(g.backends) }

// Names returns the backend names in call order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.backends))
	for i, b := range g.backends {
		names[i] = b.name
	}
	return names
}

// States returns each backend's breaker state keyed by backend name.
func (g *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(g.backends))
	for _, b := range g.backends {
		out[b.name] = b.breaker.State()
	}
	return out
}

// Call runs fn against the backends of g in order and returns the first
// successful result.
//
// Backends with an open breaker are skipped. A failure observed after ctx
// ended is the caller's doing: it is returned as is, without moving on and
// without counting against the backend's breaker. When every backend fails
// the error wraps [ErrAllFailed] and each backend's error.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i, b := range g.backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, b.impl)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				g.cfg.Logger.Info("served by fallback", "provider", b.name, "skipped", i)
			}
			return result, nil
		case ctx.Err() != nil:
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			g.cfg.Logger.Debug("circuit open, skipping provider", "provider", b.name)
		default:
			g.cfg.Logger.Warn("provider failed", "provider", b.name, "err", err, "remaining", len(g.backends)-i-1)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
