package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/types"
)

// InstrumentStore wraps st so every call runs in a "store.<op>" span and its
// latency is recorded in m.
func InstrumentStore(st store.Store, m *Metrics) store.Store {
	return &instrumentedStore{next: st, metrics: m}
}

type instrumentedStore struct {
	next    store.Store
	metrics *Metrics
}

func (s *instrumentedStore) track(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := StartSpan(ctx, "store."+op)
	start := time.Now()
	return ctx, func(err error) {
		s.metrics.RecordStoreCall(ctx, op, time.Since(start))
		EndSpan(span, err)
	}
}

func (s *instrumentedStore) Create(ctx context.Context, sess *types.Session) (out *types.Session, err error) {
	ctx, done := s.track(ctx, "create")
	defer func() { done(err) }()
	return s.next.Create(ctx, sess)
}

func (s *instrumentedStore) Get(ctx context.Context, id string) (out *types.Session, err error) {
	ctx, done := s.track(ctx, "get")
	defer func() { done(err) }()
	return s.next.Get(ctx, id)
}

func (s *instrumentedStore) List(ctx context.Context, opts store.ListOptions) (out []types.Session, err error) {
	ctx, done := s.track(ctx, "list")
	defer func() { done(err) }()
	out, err = s.next.List(ctx, opts)
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("store.results", len(out)))
	}
	return out, err
}

func (s *instrumentedStore) Update(ctx context.Context, id string, patch types.SessionPatch) (out *types.Session, err error) {
	ctx, done := s.track(ctx, "update")
	defer func() { done(err) }()
	return s.next.Update(ctx, id, patch)
}

func (s *instrumentedStore) Delete(ctx context.Context, id string) (found bool, err error) {
	ctx, done := s.track(ctx, "delete")
	defer func() { done(err) }()
	return s.next.Delete(ctx, id)
}

func (s *instrumentedStore) Stats(ctx context.Context) (out types.SessionStats, err error) {
	ctx, done := s.track(ctx, "stats")
	defer func() { done(err) }()
	return s.next.Stats(ctx)
}

// Ping is left untraced; readiness probes call it every few seconds.
func (s *instrumentedStore) Ping(ctx context.Context) error { return s.next.Ping(ctx) }

func (s *instrumentedStore) Close() error { return s.next.Close() }
