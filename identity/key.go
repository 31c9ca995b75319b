package identity

// StoreKey addresses a stored token record. Two requests with the same
// tenant, principal, provider and scope fingerprint resolve to the same
// key; the key is the unit of both caching and singleflight.
type StoreKey struct {
	Tenant           TenantID
	Principal        PrincipalID
	Provider         ProviderID
	ScopeFingerprint string
}

// NewStoreKey derives the key for an identity tuple and scope set.
func NewStoreKey(tenant TenantID, principal PrincipalID, provider ProviderID, scope ScopeSet) StoreKey {
	return StoreKey{
		Tenant:           tenant,
		Principal:        principal,
		Provider:         provider,
		ScopeFingerprint: scope.Fingerprint(),
	}
}

// String renders an opaque, log-safe form of the key.
func (k StoreKey) String() string {
	return string(k.Tenant) + "/" + string(k.Principal) + "/" + string(k.Provider) + "/" + k.ScopeFingerprint
}
