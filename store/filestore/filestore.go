// Package filestore persists broker records as a JSON snapshot on disk,
// rewritten atomically after each mutation. It suits lightweight
// single-process deployments and bots; anything multi-node should use a
// shared backend such as redisstore.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/store"
	"github.com/hack-ink/oauth2-broker/token"
)

const backendName = "file"

type snapshotEntry struct {
	Key    identity.StoreKey `json:"key"`
	Record token.Record      `json:"record"`
}

// Store keeps the working set in memory and mirrors every mutation to a
// JSON file via a temp-file rename, so a crash never leaves a torn file.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[identity.StoreKey]token.Record
}

var _ store.Store = (*Store)(nil)

// Open loads the snapshot at the provided path, creating missing parent
// directories. A missing file yields an empty store; the file itself is
// first written by the first mutation.
func Open(path string) (*Store, error) {
	if err := ensureParent(path); err != nil {
		return nil, err
	}

	records, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, records: records}, nil
}

func ensureParent(path string) error {
	parent := filepath.Dir(path)
	if parent == "" || parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return store.NewError(backendName, "mkdir", err)
	}
	return nil
}

func loadSnapshot(path string) (map[identity.StoreKey]token.Record, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[identity.StoreKey]token.Record), nil
	}
	if err != nil {
		return nil, store.NewError(backendName, "read", err)
	}
	if len(raw) == 0 {
		return make(map[identity.StoreKey]token.Record), nil
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, store.NewError(backendName, "parse", err)
	}

	records := make(map[identity.StoreKey]token.Record, len(entries))
	for _, entry := range entries {
		record := entry.Record
		if err := record.RestoreScope(); err != nil {
			return nil, store.NewError(backendName, "parse", err)
		}
		records[entry.Key] = record
	}
	return records, nil
}

// persistLocked writes the snapshot; callers hold s.mu.
func (s *Store) persistLocked() error {
	entries := make([]snapshotEntry, 0, len(s.records))
	for key, record := range s.records {
		entries = append(entries, snapshotEntry{Key: key, Record: record})
	}

	raw, err := json.MarshalIndent(entries, "", "\t")
	if err != nil {
		return store.NewError(backendName, "serialize", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return store.NewError(backendName, "write", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return store.NewError(backendName, "rename", fmt.Errorf("replace %s: %w", s.path, err))
	}
	return nil
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
	return s.persistLocked()
}

// Revoke implements store.Store.
func (s *Store) Revoke(ctx context.Context, key identity.StoreKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return nil
	}
	delete(s.records, key)
	return s.persistLocked()
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
	if err := s.persistLocked(); err != nil {
		// The in-memory view must not run ahead of disk.
		s.records[key] = existing
		return store.CASResult{}, err
	}
	return store.CASResult{Outcome: store.CASSwapped}, nil
}
