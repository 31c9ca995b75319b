package broker

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/obs"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/token"
)

// ChallengeMethodS256 is the only PKCE challenge method the broker emits.
const ChallengeMethodS256 = "S256"

// AuthorizationSession is the one-shot state of an authorization-code
// round trip. It is created by StartAuthorization, consumed by
// ExchangeCode, and never mutated or persisted by the broker; integrators
// decide where it lives (in-memory map, cookie, encrypted blob).
type AuthorizationSession struct {
	State           string
	CodeVerifier    string
	CodeChallenge   string
	ChallengeMethod string

	Tenant    identity.TenantID
	Principal identity.PrincipalID
	Provider  identity.ProviderID
	Scope     identity.ScopeSet

	CreatedAt time.Time
}

// StartAuthorization mints a fresh authorization session and the provider
// authorization URL the user agent should visit. PKCE parameters are
// included unless the descriptor forbids them.
func (b *Broker) StartAuthorization(ctx context.Context, tenant identity.TenantID, principal identity.PrincipalID, scope identity.ScopeSet) (*AuthorizationSession, string, error) {
	_, finish := b.recorder.StartSpan(ctx, obs.FlowAuthorizationCode, obs.StageStartAuthorization)
	session, authURL, err := b.startAuthorization(tenant, principal, scope)
	finish(err)

	if err != nil {
		return nil, "", err
	}
	return session, authURL, nil
}

func (b *Broker) startAuthorization(tenant identity.TenantID, principal identity.PrincipalID, scope identity.ScopeSet) (*AuthorizationSession, string, error) {
	if err := b.ensureGrant(provider.GrantAuthorizationCode); err != nil {
		return nil, "", err
	}
	if b.redirectURI == "" {
		return nil, "", ErrMissingRedirectURI
	}

	state, err := randomState()
	if err != nil {
		return nil, "", err
	}

	session := &AuthorizationSession{
		State:     state,
		Tenant:    tenant,
		Principal: principal,
		Provider:  b.descriptor.ID,
		Scope:     scope,
		CreatedAt: b.now(),
	}

	config := oauth2.Config{
		ClientID:    b.clientID,
		RedirectURL: b.redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  b.descriptor.AuthorizationEndpoint,
			TokenURL: b.descriptor.TokenEndpoint,
		},
		Scopes: authURLScopes(scope, b.descriptor.ScopeDelimiter),
	}

	var opts []oauth2.AuthCodeOption
	if b.descriptor.PKCE != provider.PKCEForbidden {
		verifier := oauth2.GenerateVerifier()
		session.CodeVerifier = verifier
		session.CodeChallenge = oauth2.S256ChallengeFromVerifier(verifier)
		session.ChallengeMethod = ChallengeMethodS256
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	authURL := config.AuthCodeURL(state, opts...)

	b.logger.Debug().
		Str("flow", string(obs.FlowAuthorizationCode)).
		Str("tenant", tenant.String()).
		Str("principal", principal.String()).
		Str("provider", b.descriptor.ID.String()).
		Msg("authorization session started")

	return session, authURL, nil
}

// authURLScopes works around the URL builder always joining scopes with a
// space: descriptors with a custom delimiter get a single pre-joined value.
func authURLScopes(scope identity.ScopeSet, delimiter string) []string {
	if scope.IsEmpty() {
		return nil
	}
	if delimiter == " " {
		return scope.Values()
	}
	return []string{scope.Join(delimiter)}
}

// ExchangeCode validates the returned state against the session and trades
// the authorization code for a token record, persisting it on success.
// State comparison is constant-time; no transport call happens on a
// mismatch or an expired session.
func (b *Broker) ExchangeCode(ctx context.Context, session *AuthorizationSession, returnedState, code, redirectURI string) (token.Record, error) {
	ctx, finish := b.recorder.StartSpan(ctx, obs.FlowAuthorizationCode, obs.StageExchangeCode)
	record, err := b.exchangeCode(ctx, session, returnedState, code, redirectURI)
	finish(err)

	if err != nil {
		b.recorder.Count(obs.FlowAuthorizationCode, outcomeOf(err))
		return token.Record{}, err
	}
	b.recorder.Count(obs.FlowAuthorizationCode, obs.OutcomeSuccess)
	return record, nil
}

func (b *Broker) exchangeCode(ctx context.Context, session *AuthorizationSession, returnedState, code, redirectURI string) (token.Record, error) {
	if err := b.ensureGrant(provider.GrantAuthorizationCode); err != nil {
		return token.Record{}, err
	}
	if subtle.ConstantTimeCompare([]byte(returnedState), []byte(session.State)) != 1 {
		return token.Record{}, ErrStateMismatch
	}
	if b.now().Sub(session.CreatedAt) > b.sessionTTL {
		return token.Record{}, ErrSessionExpired
	}

	slot := b.newSlot()
	result, err := b.facade.ExchangeAuthorizationCode(ctx, slot, code, redirectURI, session.CodeVerifier, session.Scope)
	if err != nil {
		return token.Record{}, b.classify(provider.GrantAuthorizationCode, slot, err)
	}

	family := token.NewFamily(session.Tenant, session.Principal, session.Provider)
	record, err := b.buildRecord(family, result)
	if err != nil {
		return token.Record{}, err
	}

	key := b.storeKey(session.Tenant, session.Principal, session.Scope)
	if err := b.store.Save(ctx, key, record); err != nil {
		return token.Record{}, err
	}

	b.logger.Info().
		Str("flow", string(obs.FlowAuthorizationCode)).
		Str("tenant", session.Tenant.String()).
		Str("principal", session.Principal.String()).
		Msg("authorization code exchanged")

	return record, nil
}

// randomState draws 32 bytes (256 bits) from the CSPRNG, URL-safe encoded.
func randomState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
