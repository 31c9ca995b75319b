package broker

import (
	"math/rand"
	"time"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/token"
)

// CachedTokenRequest addresses a logical credential for flows that consult
// the cache before contacting the provider.
type CachedTokenRequest struct {
	Tenant    identity.TenantID
	Principal identity.PrincipalID
	Scope     identity.ScopeSet

	// ForceRefresh bypasses the cache check entirely.
	ForceRefresh bool

	// PreemptiveWindow, when positive, replaces the computed
	// max(floor, lifetime*fraction) lead time.
	PreemptiveWindow time.Duration
}

// RefreshRequest addresses a stored refresh credential.
type RefreshRequest struct {
	Tenant    identity.TenantID
	Principal identity.PrincipalID
	Scope     identity.ScopeSet

	// ExpectedRefreshSecret pins the rotation to a previously observed
	// refresh secret. When set and another actor rotated first, the flow
	// surfaces a ConflictError instead of adopting the fresh record.
	ExpectedRefreshSecret string
}

func (b *Broker) storeKey(tenant identity.TenantID, principal identity.PrincipalID, scope identity.ScopeSet) identity.StoreKey {
	return identity.NewStoreKey(tenant, principal, b.descriptor.ID, scope)
}

// shouldRefresh decides whether a cached record is due for proactive
// replacement. The lead time is max(floor, lifetime*fraction), staggered
// by a uniform jitter of ±jitterFraction·floor so fleets do not re-fetch
// in lockstep.
func (b *Broker) shouldRefresh(record token.Record, now time.Time, req CachedTokenRequest) bool {
	if req.ForceRefresh || record.IsRevoked() || record.IsExpiredAt(now) {
		return true
	}

	lead := req.PreemptiveWindow
	if lead <= 0 {
		lifetime := record.ExpiresAt.Sub(record.IssuedAt)
		lead = time.Duration(float64(lifetime) * b.earlyRefreshFraction)
		if lead < b.earlyRefreshFloor {
			lead = b.earlyRefreshFloor
		}
	}

	effectiveExpiry := record.ExpiresAt.Add(-lead).Add(b.jitter())

	return !now.Before(effectiveExpiry)
}

// jitter draws uniformly from ±jitterFraction·floor.
func (b *Broker) jitter() time.Duration {
	amplitude := float64(b.earlyRefreshFloor) * b.jitterFraction
	if amplitude <= 0 {
		return 0
	}
	return time.Duration((rand.Float64()*2 - 1) * amplitude)
}
