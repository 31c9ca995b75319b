package token

import (
	"github.com/google/uuid"

	"github.com/hack-ink/oauth2-broker/identity"
)

// Family groups an access token with its refresh-token lineage for a
// tenant/principal/provider tuple. Rotations preserve the family identifier
// so superseded lineages can be revoked together.
type Family struct {
	ID        string               `json:"id"`
	Tenant    identity.TenantID    `json:"tenant"`
	Principal identity.PrincipalID `json:"principal"`
	Provider  identity.ProviderID  `json:"provider"`
}

// NewFamily mints a family with a fresh opaque identifier.
func NewFamily(tenant identity.TenantID, principal identity.PrincipalID, provider identity.ProviderID) Family {
	return Family{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		Principal: principal,
		Provider:  provider,
	}
}

// Key derives the store key for this family and scope set.
func (f Family) Key(scope identity.ScopeSet) identity.StoreKey {
	return identity.NewStoreKey(f.Tenant, f.Principal, f.Provider, scope)
}
