// Package memstore provides the in-memory Store used by tests, demos, and
// single-process deployments.
package memstore

import (
	"context"
	"sync"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/store"
	"github.com/hack-ink/oauth2-broker/token"
)

// Store keeps records in a process-local map guarded by a mutex, which
// gives the per-key serializability the contract demands.
type Store struct {
	mu      sync.Mutex
	records map[identity.StoreKey]token.Record
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[identity.StoreKey]token.Record)}
}

// Fetch implements store.Store.
func (s *Store) Fetch(ctx context.Context, key identity.StoreKey) (*token.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, key identity.StoreKey, record token.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = record
	return nil
}

// Revoke implements store.Store.
func (s *Store) Revoke(ctx context.Context, key identity.StoreKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// CompareAndSwapRefresh implements store.Store.
func (s *Store) CompareAndSwapRefresh(ctx context.Context, key identity.StoreKey, expectedRefresh string, replacement token.Record) (store.CASResult, error) {
	if err := ctx.Err(); err != nil {
		return store.CASResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok {
		return store.CASResult{Outcome: store.CASAbsent}, nil
	}
	if !existing.RefreshToken.EqualString(expectedRefresh) {
		observed := existing
		return store.CASResult{Outcome: store.CASMismatch, Observed: &observed}, nil
	}

	s.records[key] = replacement
	return store.CASResult{Outcome: store.CASSwapped}, nil
}

// Len reports how many records the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}
