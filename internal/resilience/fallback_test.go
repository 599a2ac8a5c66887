package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// backend is a stand-in for a provider in group tests.
type backend struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (b *backend) call() (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	return b.name, nil
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newGroup(cfg FallbackConfig, backends ...*backend) *FallbackGroup[*backend] {
	fg := NewFallbackGroup(backends[0], backends[0].name, cfg)
	for _, b := range backends[1:] {
		fg.AddFallback(b.name, b)
	}
	return fg
}

func TestFallbackGroup_PrimaryServes(t *testing.T) {
	t.Parallel()
	primary, spare := &backend{name: "primary"}, &backend{name: "spare"}
	fg := newGroup(FallbackConfig{}, primary, spare)

	got, err := ExecuteWithResult(context.Background(), fg, (*backend).call)
	if err != nil || got != "primary" {
		t.Fatalf("got %q, %v", got, err)
	}
	if spare.count() != 0 {
		t.Error("fallback called although primary succeeded")
	}
	if names := fg.Names(); len(names) != 2 || names[0] != "primary" {
		t.Errorf("Names = %v", names)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()
	primary := &backend{name: "primary", err: errTest}
	spare := &backend{name: "spare"}

	var mu sync.Mutex
	attempts := map[string]error{}
	fg := newGroup(FallbackConfig{OnAttempt: func(name string, err error) {
		mu.Lock()
		attempts[name] = err
		mu.Unlock()
	}}, primary, spare)

	got, err := ExecuteWithResult(context.Background(), fg, (*backend).call)
	if err != nil || got != "spare" {
		t.Fatalf("got %q, %v", got, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(attempts["primary"], errTest) {
		t.Errorf("primary attempt err = %v", attempts["primary"])
	}
	if err, ok := attempts["spare"]; !ok || err != nil {
		t.Errorf("spare attempt = %v, %v", err, ok)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	t.Parallel()
	errA, errB := errors.New("a down"), errors.New("b down")
	fg := newGroup(FallbackConfig{}, &backend{name: "a", err: errA}, &backend{name: "b", err: errB})

	err := fg.Execute(context.Background(), func(b *backend) error {
		_, err := b.call()
		return err
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err = %v, want both backend errors", err)
	}
	if !strings.Contains(err.Error(), "a:") || !strings.Contains(err.Error(), "b:") {
		t.Errorf("err %q should name the backends", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	primary := &backend{name: "primary", err: errTest}
	spare := &backend{name: "spare"}
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}}, primary, spare)

	for range 3 {
		if _, err := ExecuteWithResult(context.Background(), fg, (*backend).call); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if n := primary.count(); n != 1 {
		t.Errorf("primary called %d times, want 1 before its breaker opened", n)
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Error("primary breaker should be open")
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker for unknown name should be nil")
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	primary := &backend{name: "primary"}
	fg := newGroup(FallbackConfig{}, primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ExecuteWithResult(ctx, fg, (*backend).call); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if primary.count() != 0 {
		t.Error("backend called with a cancelled context")
	}
}

func TestFallbackGroup_CancelledMidCallDoesNotFailOver(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	spare := &backend{name: "spare"}
	fg := NewFallbackGroup(&backend{name: "primary"}, "primary", FallbackConfig{})
	fg.AddFallback("spare", spare)

	_, err := ExecuteWithResult(ctx, fg, func(b *backend) (string, error) {
		if b.name == "primary" {
			cancel()
			return "", ctx.Err()
		}
		return b.call()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if spare.count() != 0 {
		t.Error("fell over to spare after the caller cancelled")
	}
}
