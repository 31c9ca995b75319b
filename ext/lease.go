package ext

import (
	"context"
	"time"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/token"
)

// LeaseContext describes the lease a caller is requesting.
type LeaseContext struct {
	Family      token.Family
	Scope       identity.ScopeSet
	RequestedAt time.Time
	// MinimumTTL is the validity window the caller wants guaranteed.
	MinimumTTL time.Duration
	// Reason is an optional annotation for logs and metrics.
	Reason string
}

// LeaseState is the outcome of a lease attempt.
type LeaseState[Lease any] struct {
	// Granted holds the caller-defined guard when a lease was produced;
	// releasing the guard ends the lease.
	Granted *Lease
	// ExpiresAt is the leased record's expiry when granted.
	ExpiresAt time.Time
	// RetryIn, when positive, means a lease will be available later.
	RetryIn time.Duration
	// NeedsRefresh means no usable token exists and a flow should mint
	// or refresh one.
	NeedsRefresh bool
}

// TokenLease lets cache providers loan out access tokens for short windows
// while the broker governs refresh lifetimes.
type TokenLease[Lease any] interface {
	Lease(ctx context.Context, lc LeaseContext) (LeaseState[Lease], error)
}
