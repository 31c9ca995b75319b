package broker_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hack-ink/oauth2-broker/broker"
	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/oauthreq"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/store"
	"github.com/hack-ink/oauth2-broker/store/memstore"
	"github.com/hack-ink/oauth2-broker/token"
	"github.com/hack-ink/oauth2-broker/transport"
	"github.com/hack-ink/oauth2-broker/transport/transportfake"
)

const (
	testClientID     = "test-client-1"
	testClientSecret = "test-secret-1"
	testRedirectURI  = "https://app.example/callback"
)

type fixture struct {
	broker    *broker.Broker
	store     store.Store
	transport *transportfake.Client
	tenant    identity.TenantID
	principal identity.PrincipalID
	provider  identity.ProviderID
	scope     identity.ScopeSet
	now       time.Time
}

type fixtureConfig struct {
	script   []transportfake.Exchange
	store    store.Store
	options  []broker.Option
	mutateD  func(*provider.Descriptor)
	strategy provider.Strategy
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()

	providerID, err := identity.NewProviderID("test-provider")
	require.NoError(t, err)
	tenant, err := identity.NewTenantID("tenant-1")
	require.NoError(t, err)
	principal, err := identity.NewPrincipalID("principal-1")
	require.NoError(t, err)

	descriptor := provider.Descriptor{
		ID:                    providerID,
		AuthorizationEndpoint: "https://provider.example/oauth2/authorize",
		TokenEndpoint:         "https://provider.example/oauth2/token",
		SupportedGrants: map[provider.GrantType]bool{
			provider.GrantAuthorizationCode: true,
			provider.GrantRefreshToken:      true,
			provider.GrantClientCredentials: true,
		},
	}
	if cfg.mutateD != nil {
		cfg.mutateD(&descriptor)
	}
	built, err := provider.NewDescriptor(descriptor)
	require.NoError(t, err)

	tokenStore := cfg.store
	if tokenStore == nil {
		tokenStore = memstore.New()
	}

	fakeTransport := transportfake.New(cfg.script...)

	strategy := cfg.strategy
	if strategy == nil {
		strategy = provider.DefaultStrategy{}
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		store:     tokenStore,
		transport: fakeTransport,
		tenant:    tenant,
		principal: principal,
		provider:  providerID,
		scope:     identity.MustScopeSet("email.read", "profile.read"),
		now:       now,
	}

	options := append([]broker.Option{
		broker.WithClientSecret(testClientSecret),
		broker.WithRedirectURI(testRedirectURI),
		broker.WithJitterFraction(0),
		broker.WithNowFunc(func() time.Time { return f.now }),
	}, cfg.options...)

	b, err := broker.New(tokenStore, built, strategy, testClientID, fakeTransport, nil, options...)
	require.NoError(t, err)
	f.broker = b

	return f
}

func (f *fixture) key() identity.StoreKey {
	return identity.NewStoreKey(f.tenant, f.principal, f.provider, f.scope)
}

// seedRecord stores a record for the fixture identity issued at the
// fixture clock.
func (f *fixture) seedRecord(t *testing.T, access, refresh string, lifetime time.Duration) token.Record {
	t.Helper()

	family := token.NewFamily(f.tenant, f.principal, f.provider)
	record, err := token.NewRecord(token.RecordParams{
		Family:       family,
		Scope:        f.scope,
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     f.now,
		ExpiresAt:    f.now.Add(lifetime),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Save(context.Background(), f.key(), record))

	return record
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func tokenJSON(access, refresh string, expiresIn int) transportfake.Exchange {
	body := `{"access_token":"` + access + `","token_type":"Bearer","expires_in":` + strconv.Itoa(expiresIn)
	if refresh != "" {
		body += `,"refresh_token":"` + refresh + `"`
	}
	body += `}`

	return transportfake.Exchange{
		Response: &transport.Response{Status: 200, Body: []byte(body)},
		Meta:     &transport.ResponseMetadata{Status: 200},
	}
}

func memstoreForRace() store.Store {
	return memstore.New()
}

func requireOAuthCode(t *testing.T, err error, code string) {
	t.Helper()

	var protocolErr *oauthreq.ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	require.Equal(t, code, protocolErr.Code)
}

func statusExchange(status int, retryAfter time.Duration) transportfake.Exchange {
	return transportfake.Exchange{
		Response: &transport.Response{Status: status, Body: []byte("upstream unavailable")},
		Meta:     &transport.ResponseMetadata{Status: status, RetryAfter: retryAfter},
	}
}

func oauthErrorJSON(status int, code string) transportfake.Exchange {
	return transportfake.Exchange{
		Response: &transport.Response{
			Status: status,
			Body:   []byte(`{"error":"` + code + `"}`),
		},
		Meta: &transport.ResponseMetadata{Status: status},
	}
}

