// Package mock provides a test double for the store.Store interface.
//
// Store behaves like an in-memory store unless an Err field is set, in which
// case the matching method fails with that error. Every call is counted so
// tests can assert that, for example, no persistence happened.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/store/memstore"
	"github.com/MrWong99/scribeline/pkg/types"
)

// Store is a mock implementation of store.Store.
type Store struct {
	mu      sync.Mutex
	once    sync.Once
	backing *memstore.Store

	// --- Error injection ---

	CreateErr error
	GetErr    error
	ListErr   error
	UpdateErr error
	DeleteErr error
	StatsErr  error
	PingErr   error

	// --- Call records ---

	// Created holds every session passed to Create, in order.
	Created []types.Session

	CreateCalls int
	GetCalls    int
	ListCalls   int
	UpdateCalls int
	DeleteCalls int
	PingCalls   int
	CloseCalls  int
}

var _ store.Store = (*Store)(nil)

func (s *Store) store() *memstore.Store {
	s.once.Do(func() { s.backing = memstore.New() })
	return s.backing
}

// Create records the call and stores sess unless CreateErr is set.
func (s *Store) Create(ctx context.Context, sess *types.Session) (*types.Session, error) {
	s.mu.Lock()
	s.CreateCalls++
	s.Created = append(s.Created, *sess)
	err := s.CreateErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.store().Create(ctx, sess)
}

// Get records the call.
func (s *Store) Get(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	s.GetCalls++
	err := s.GetErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.store().Get(ctx, id)
}

// List records the call.
func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]types.Session, error) {
	s.mu.Lock()
	s.ListCalls++
	err := s.ListErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.store().List(ctx, opts)
}

// Update records the call.
func (s *Store) Update(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error) {
	s.mu.Lock()
	s.UpdateCalls++
	err := s.UpdateErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.store().Update(ctx, id, patch)
}

// Delete records the call.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	s.DeleteCalls++
	err := s.DeleteErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.store().Delete(ctx, id)
}

// Stats returns StatsErr or the aggregate of stored sessions.
func (s *Store) Stats(ctx context.Context) (types.SessionStats, error) {
	s.mu.Lock()
	err := s.StatsErr
	s.mu.Unlock()
	if err != nil {
		return types.SessionStats{}, err
	}
	return s.store().Stats(ctx)
}

// Ping records the call and returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingCalls++
	return s.PingErr
}

// Close records the call.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// CreateCallCount returns the number of Create calls. Thread-safe.
func (s *Store) CreateCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CreateCalls
}
