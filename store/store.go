// Package store defines the persistence contract for broker token records.
// Backends must provide strict serializability per store key; cross-key
// consistency is not required. Records are persisted whole and atomically.
package store

import (
	"context"
	"fmt"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/token"
)

// CASOutcome is the result of a compare-and-swap refresh rotation.
type CASOutcome int

const (
	// CASSwapped means the expected refresh secret matched and the record
	// was replaced.
	CASSwapped CASOutcome = iota
	// CASMismatch means a record exists but its refresh secret differs;
	// the observed record accompanies the outcome.
	CASMismatch
	// CASAbsent means no record exists for the key.
	CASAbsent
)

func (o CASOutcome) String() string {
	switch o {
	case CASSwapped:
		return "swapped"
	case CASMismatch:
		return "mismatch"
	case CASAbsent:
		return "absent"
	}
	return fmt.Sprintf("cas(%d)", int(o))
}

// CASResult pairs the outcome with the record observed on a mismatch, so
// callers can adopt the fresh rotation instead of retrying blindly.
type CASResult struct {
	Outcome  CASOutcome
	Observed *token.Record
}

// Store is the persistence capability the broker consumes. All operations
// honor ctx cancellation and return a *Error on backend failure.
type Store interface {
	// Fetch returns the current record for the key, or nil without error
	// when absent. No side effects.
	Fetch(ctx context.Context, key identity.StoreKey) (*token.Record, error)

	// Save upserts the record unconditionally, replacing any prior record
	// for the key.
	Save(ctx context.Context, key identity.StoreKey, record token.Record) error

	// Revoke removes the record. Revoking an absent key succeeds.
	Revoke(ctx context.Context, key identity.StoreKey) error

	// CompareAndSwapRefresh atomically replaces the stored record iff the
	// stored refresh secret equals expectedRefresh (constant-time compare).
	CompareAndSwapRefresh(ctx context.Context, key identity.StoreKey, expectedRefresh string, replacement token.Record) (CASResult, error)
}

// Error is the typed failure surfaced by store backends.
type Error struct {
	Op      string
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps a backend failure for an operation.
func NewError(backend, op string, err error) *Error {
	return &Error{Op: op, Backend: backend, Err: err}
}
