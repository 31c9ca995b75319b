// Package provider describes OAuth providers: immutable descriptors
// (endpoints, supported grants, quirks, client-auth preference) and the
// strategy hook that interprets a descriptor at request time.
package provider

import (
	"errors"
	"fmt"
	"net/url"
	"unicode"

	"github.com/hack-ink/oauth2-broker/identity"
)

// GrantType enumerates the OAuth 2.0 grants the broker can drive.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// PKCEPolicy states whether a provider demands, tolerates, or rejects PKCE.
type PKCEPolicy string

const (
	PKCERequired  PKCEPolicy = "required"
	PKCEAllowed   PKCEPolicy = "allowed"
	PKCEForbidden PKCEPolicy = "forbidden"
)

// ClientAuthMethod states how client credentials reach the token endpoint.
type ClientAuthMethod string

const (
	// AuthBasic sends client id/secret via HTTP Basic with URL encoding.
	AuthBasic ClientAuthMethod = "client_secret_basic"
	// AuthPostBody sends client_id/client_secret as form fields.
	AuthPostBody ClientAuthMethod = "client_secret_post"
	// AuthNone omits client authentication (public clients, PKCE).
	AuthNone ClientAuthMethod = "none"
)

// Quirks captures provider deviations from the RFC 6749 happy path.
type Quirks struct {
	// IncludeEmptyScope forces a `scope` form parameter even when the
	// requested scope set is empty.
	IncludeEmptyScope bool
	// OmitGrantTypeOnRefresh drops the grant_type field on refresh calls
	// for noncompliant providers.
	OmitGrantTypeOnRefresh bool
	// RejectScopeOnRefresh omits the scope parameter on refresh calls for
	// providers that refuse scope narrowing.
	RejectScopeOnRefresh bool
}

var (
	ErrMissingTokenEndpoint         = errors.New("descriptor is missing a token endpoint")
	ErrMissingAuthorizationEndpoint = errors.New("descriptor enables authorization_code but has no authorization endpoint")
	ErrNoSupportedGrants            = errors.New("descriptor must enable at least one grant type")
	ErrPKCEWithoutAuthCode          = errors.New("pkce policy requires the authorization_code grant")
	ErrInsecureEndpoint             = errors.New("descriptor endpoints must use https")
	ErrInvalidScopeDelimiter        = errors.New("scope delimiter must be a printable character")
	ErrUnknownClientAuthMethod      = errors.New("unknown client auth method")
	ErrUnknownPKCEPolicy            = errors.New("unknown pkce policy")
)

// Descriptor is the immutable description of one provider. Build values
// through NewDescriptor, which applies defaults and validates invariants.
type Descriptor struct {
	ID                    identity.ProviderID
	AuthorizationEndpoint string
	TokenEndpoint         string
	RevocationEndpoint    string
	SupportedGrants       map[GrantType]bool
	ScopeDelimiter        string
	PKCE                  PKCEPolicy
	ClientAuth            ClientAuthMethod
	Quirks                Quirks
}

// NewDescriptor validates the descriptor and fills defaults: scope
// delimiter " ", client auth basic, PKCE allowed.
func NewDescriptor(d Descriptor) (Descriptor, error) {
	if d.ScopeDelimiter == "" {
		d.ScopeDelimiter = " "
	}
	if d.ClientAuth == "" {
		d.ClientAuth = AuthBasic
	}
	if d.PKCE == "" {
		d.PKCE = PKCEAllowed
	}
	if err := d.validate(); err != nil {
		return Descriptor{}, err
	}
	// Defensive copy so callers cannot mutate the grant set afterwards.
	grants := make(map[GrantType]bool, len(d.SupportedGrants))
	for grant, enabled := range d.SupportedGrants {
		if enabled {
			grants[grant] = true
		}
	}
	d.SupportedGrants = grants
	return d, nil
}

// Supports reports whether the descriptor enables the grant.
func (d Descriptor) Supports(grant GrantType) bool {
	return d.SupportedGrants[grant]
}

func (d Descriptor) validate() error {
	enabled := 0
	for _, on := range d.SupportedGrants {
		if on {
			enabled++
		}
	}
	if enabled == 0 {
		return ErrNoSupportedGrants
	}
	if d.TokenEndpoint == "" {
		return ErrMissingTokenEndpoint
	}
	if err := validateEndpoint("token", d.TokenEndpoint); err != nil {
		return err
	}
	if d.SupportedGrants[GrantAuthorizationCode] {
		if d.AuthorizationEndpoint == "" {
			return ErrMissingAuthorizationEndpoint
		}
		if err := validateEndpoint("authorization", d.AuthorizationEndpoint); err != nil {
			return err
		}
	}
	if d.RevocationEndpoint != "" {
		if err := validateEndpoint("revocation", d.RevocationEndpoint); err != nil {
			return err
		}
	}
	if d.PKCE == PKCERequired && !d.SupportedGrants[GrantAuthorizationCode] {
		return ErrPKCEWithoutAuthCode
	}
	switch d.PKCE {
	case PKCERequired, PKCEAllowed, PKCEForbidden:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPKCEPolicy, d.PKCE)
	}
	switch d.ClientAuth {
	case AuthBasic, AuthPostBody, AuthNone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownClientAuthMethod, d.ClientAuth)
	}
	for _, r := range d.ScopeDelimiter {
		if unicode.IsControl(r) {
			return ErrInvalidScopeDelimiter
		}
	}
	return nil
}

func validateEndpoint(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s endpoint: %w", name, err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("%s endpoint %q: %w", name, raw, ErrInsecureEndpoint)
	}
	return nil
}
