package ext

import (
	"context"
	"time"

	"github.com/hack-ink/oauth2-broker/identity"
)

// RateLimitContext describes an outbound token call a policy may delay.
type RateLimitContext struct {
	Tenant     identity.TenantID
	Provider   identity.ProviderID
	Scope      identity.ScopeSet
	Operation  string
	ObservedAt time.Time
}

// RetryDirective advises callers when to retry after a delay decision.
type RetryDirective struct {
	EarliestRetryAt    time.Time
	RecommendedBackoff time.Duration
	Reason             string
}

// RateLimitDecision is the outcome of a policy evaluation.
type RateLimitDecision struct {
	// Allow is true when the call may proceed immediately.
	Allow bool
	// Delay carries retry advice when Allow is false.
	Delay *RetryDirective
}

// RateLimitPolicy inspects tenant/provider budgets before flows hit
// upstream token endpoints.
type RateLimitPolicy interface {
	Evaluate(ctx context.Context, rlc RateLimitContext) (RateLimitDecision, error)
}
