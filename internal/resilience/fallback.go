package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] failed or
// had its breaker open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each backend's breaker. Name is set
	// per backend.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, when set, is called after every attempt that reached a
	// backend, with the backend name and the call's error (nil on success).
	OnAttempt func(name string, err error)

	Logger *slog.Logger
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and ordered fallbacks of the same type.
// Calls go to the first backend whose breaker admits them; on failure the next
// one is tried.
type FallbackGroup[T any] struct {
	cfg FallbackConfig
	log *slog.Logger

	mu      sync.RWMutex
	members []member[T]
}

// NewFallbackGroup creates a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg, log: cfg.Logger}
	if fg.log == nil {
		fg.log = slog.Default()
	}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend after the existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	if cb.Logger == nil {
		cb.Logger = fg.log
	}
	fg.mu.Lock()
	fg.members = append(fg.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
	fg.mu.Unlock()
}

// Names lists the backends in try order.
func (fg *FallbackGroup[T]) Names() []string {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	names := make([]string, len(fg.members))
	for i, m := range fg.members {
		names[i] = m.name
	}
	return names
}

// Breaker returns the breaker of the named backend, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	for _, m := range fg.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Primary returns the first backend.
func (fg *FallbackGroup[T]) Primary() T {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return fg.members[0].value
}

func (fg *FallbackGroup[T]) snapshot() []member[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return append([]member[T](nil), fg.members...)
}

// Execute runs fn against each backend in order until one succeeds. It stops
// early when ctx is done.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a value.
// If every backend fails the error wraps [ErrAllFailed] and the last backend
// error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var errs []error
	for _, m := range fg.snapshot() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(m.value)
			return callErr
		})
		if err == nil {
			fg.attempted(m.name, nil)
			return out, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("skipping provider, circuit open", "provider", m.name)
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			continue
		}
		fg.attempted(m.name, err)
		if ctx.Err() != nil {
			return zero, err
		}
		fg.log.Warn("provider failed, trying next", "provider", m.name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (fg *FallbackGroup[T]) attempted(name string, err error) {
	if fg.cfg.OnAttempt != nil {
		fg.cfg.OnAttempt(name, err)
	}
}
