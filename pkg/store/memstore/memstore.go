// Package memstore is an in-memory [store.Store]. Data is lost when the
// process exits.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps sessions in a map guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	now      func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{sessions: make(map[string]*types.Session), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func clone(s *types.Session) *types.Session {
	cp := *s
	cp.Transcript = slices.Clone(s.Transcript)
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	return &cp
}

// Create implements [store.Store].
func (s *Store) Create(_ context.Context, sess *types.Session) (*types.Session, error) {
	prepared := store.Prepare(sess, s.now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[prepared.ID] = prepared
	return clone(prepared), nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(sess), nil
}

// List implements [store.Store].
func (s *Store) List(_ context.Context, opts store.ListOptions) ([]types.Session, error) {
	s.mu.RLock()
	out := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if opts.Matches(sess) {
			out = append(out, *clone(sess))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Session) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return opts.Page(out), nil
}

// Update implements [store.Store].
func (s *Store) Update(_ context.Context, id string, patch types.SessionPatch) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !patch.Empty() {
		patch.Apply(sess)
		sess.UpdatedAt = s.now().UTC()
	}
	return clone(sess), nil
}

// Delete implements [store.Store].
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// Stats implements [store.Store].
func (s *Store) Stats(context.Context) (types.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st types.SessionStats
	for _, sess := range s.sessions {
		store.Accumulate(&st, sess)
	}
	return st, nil
}

// Ping implements [store.Store]; it always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store]; it is a no-op.
func (s *Store) Close() error { return nil }
