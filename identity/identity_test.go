package identity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hack-ink/oauth2-broker/identity"
)

func TestIdentifierValidation(t *testing.T) {
	tests := []struct {
		name  string
		value string
		err   error
	}{
		{name: "valid", value: "tenant-123"},
		{name: "interior space allowed", value: "tenant 123"},
		{name: "empty", value: "", err: identity.ErrEmptyIdentifier},
		{name: "leading space", value: " tenant", err: identity.ErrIdentifierEdgeSpace},
		{name: "trailing space", value: "tenant ", err: identity.ErrIdentifierEdgeSpace},
		{name: "control character", value: "ten\tant", err: identity.ErrIdentifierNonPrintable},
		{name: "non ascii", value: "tenant-é", err: identity.ErrIdentifierNonPrintable},
		{name: "too long", value: strings.Repeat("a", 129), err: identity.ErrIdentifierTooLong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tenant, err := identity.NewTenantID(tc.value)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.value, tenant.String())
		})
	}
}

func TestIdentifierKindsValidateIndependently(t *testing.T) {
	_, err := identity.NewPrincipalID("")
	require.ErrorIs(t, err, identity.ErrEmptyIdentifier)

	_, err = identity.NewProviderID("provider\x01")
	require.ErrorIs(t, err, identity.ErrIdentifierNonPrintable)

	exact := strings.Repeat("a", 128)
	provider, err := identity.NewProviderID(exact)
	require.NoError(t, err)
	assert.Equal(t, exact, provider.String())
}

func TestScopeSetNormalization(t *testing.T) {
	set, err := identity.NewScopeSet("a", "b", "a")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, set.Values())
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains("b"))
	assert.False(t, set.Contains("c"))
	assert.Equal(t, "a b", set.String())
	assert.Equal(t, "a,b", set.Join(","))
}

func TestScopeSetRejectsInvalidEntries(t *testing.T) {
	_, err := identity.NewScopeSet("a", "")
	require.ErrorIs(t, err, identity.ErrEmptyScope)

	_, err = identity.NewScopeSet("a b")
	require.ErrorIs(t, err, identity.ErrScopeWhitespace)
}

func TestScopeSetFingerprintStability(t *testing.T) {
	withDup := identity.MustScopeSet("a", "b", "a")
	plain := identity.MustScopeSet("a", "b")
	reordered := identity.MustScopeSet("b", "a")

	assert.Equal(t, plain.Fingerprint(), withDup.Fingerprint())
	assert.NotEqual(t, plain.Fingerprint(), reordered.Fingerprint())
}

func TestParseScopes(t *testing.T) {
	set, err := identity.ParseScopes("openid  profile email", " ")
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile", "email"}, set.Values())

	set, err = identity.ParseScopes("read,write", ",")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, set.Values())
}

func TestStoreKeyEquality(t *testing.T) {
	tenant, err := identity.NewTenantID("tenant-1")
	require.NoError(t, err)
	principal, err := identity.NewPrincipalID("principal-1")
	require.NoError(t, err)
	provider, err := identity.NewProviderID("provider-1")
	require.NoError(t, err)

	keyA := identity.NewStoreKey(tenant, principal, provider, identity.MustScopeSet("a", "b", "a"))
	keyB := identity.NewStoreKey(tenant, principal, provider, identity.MustScopeSet("a", "b"))
	keyC := identity.NewStoreKey(tenant, principal, provider, identity.MustScopeSet("b", "a"))

	assert.Equal(t, keyA, keyB)
	assert.NotEqual(t, keyA, keyC)

	otherTenant, err := identity.NewTenantID("tenant-2")
	require.NoError(t, err)
	keyD := identity.NewStoreKey(otherTenant, principal, provider, identity.MustScopeSet("a", "b"))
	assert.NotEqual(t, keyA, keyD)
}
