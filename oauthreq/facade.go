// Package oauthreq is the OAuth request facade: it turns a provider
// descriptor plus grant-specific inputs into ready-to-dispatch token
// requests, executes them through the transport, and parses the provider's
// JSON answer. The facade owns the wire shape; flows own policy.
package oauthreq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/transport"
)

// defaultExpiresIn applies when a provider omits expires_in.
const defaultExpiresIn = 3600 * time.Second

const bodyPreviewLimit = 256

// TokenResult is the parsed outcome of a successful token request.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    time.Duration
	RefreshToken string
	// Scope is what the provider granted; the requested scope when the
	// response omits the field.
	Scope identity.ScopeSet
	// Extras preserves unknown response fields as opaque strings.
	Extras map[string]string
}

// Facade builds and executes token-endpoint requests for one descriptor.
type Facade struct {
	descriptor   provider.Descriptor
	strategy     provider.Strategy
	clientID     string
	clientSecret string
	client       transport.Client
}

// New wires a facade. The client secret may be empty for descriptors whose
// auth method is "none"; other methods fail at request time without one.
func New(descriptor provider.Descriptor, strategy provider.Strategy, clientID, clientSecret string, client transport.Client) *Facade {
	return &Facade{
		descriptor:   descriptor,
		strategy:     strategy,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
	}
}

// ExchangeAuthorizationCode performs the authorization_code grant
// (RFC 6749 §4.1.3), attaching the PKCE verifier when provided.
func (f *Facade) ExchangeAuthorizationCode(ctx context.Context, slot *transport.MetadataSlot, code, redirectURI, codeVerifier string, scope identity.ScopeSet) (*TokenResult, error) {
	form := url.Values{}
	form.Set("grant_type", string(provider.GrantAuthorizationCode))
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}
	f.applyScope(form, scope)

	return f.execute(ctx, slot, provider.GrantAuthorizationCode, form, scope)
}

// RefreshToken performs the refresh_token grant (RFC 6749 §6).
func (f *Facade) RefreshToken(ctx context.Context, slot *transport.MetadataSlot, refreshToken string, scope identity.ScopeSet) (*TokenResult, error) {
	form := url.Values{}
	if !f.descriptor.Quirks.OmitGrantTypeOnRefresh {
		form.Set("grant_type", string(provider.GrantRefreshToken))
	}
	form.Set("refresh_token", refreshToken)
	if !f.descriptor.Quirks.RejectScopeOnRefresh {
		f.applyScope(form, scope)
	}

	return f.execute(ctx, slot, provider.GrantRefreshToken, form, scope)
}

// ClientCredentials performs the client_credentials grant (RFC 6749 §4.4.2).
func (f *Facade) ClientCredentials(ctx context.Context, slot *transport.MetadataSlot, scope identity.ScopeSet) (*TokenResult, error) {
	form := url.Values{}
	form.Set("grant_type", string(provider.GrantClientCredentials))
	f.applyScope(form, scope)

	return f.execute(ctx, slot, provider.GrantClientCredentials, form, scope)
}

func (f *Facade) applyScope(form url.Values, scope identity.ScopeSet) {
	if scope.IsEmpty() {
		if f.descriptor.Quirks.IncludeEmptyScope {
			form.Set("scope", "")
		}
		return
	}
	form.Set("scope", scope.Join(f.descriptor.ScopeDelimiter))
}

func (f *Facade) execute(ctx context.Context, slot *transport.MetadataSlot, grant provider.GrantType, form url.Values, requestedScope identity.ScopeSet) (*TokenResult, error) {
	header := http.Header{}

	switch f.descriptor.ClientAuth {
	case provider.AuthBasic:
		if f.clientSecret == "" {
			return nil, ErrMissingClientSecret
		}
		// RFC 6749 §2.3.1: credentials are form-urlencoded before the
		// Basic scheme is applied.
		credentials := url.QueryEscape(f.clientID) + ":" + url.QueryEscape(f.clientSecret)
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
	case provider.AuthPostBody:
		if f.clientSecret == "" {
			return nil, ErrMissingClientSecret
		}
		form.Set("client_id", f.clientID)
		form.Set("client_secret", f.clientSecret)
	case provider.AuthNone:
		form.Set("client_id", f.clientID)
	}

	f.strategy.AugmentTokenRequest(grant, form)

	resp, err := f.client.Dispatch(ctx, transport.TokenRequest{
		Endpoint: f.descriptor.TokenEndpoint,
		Body:     form.Encode(),
		Header:   header,
	}, slot)
	if err != nil {
		return nil, err
	}

	if resp.Status < 200 || resp.Status > 299 {
		return nil, parseErrorBody(resp)
	}

	return parseTokenResponse(resp.Body, requestedScope)
}

// parseErrorBody prefers the structured OAuth error shape and falls back to
// an HTTPError with a bounded body preview.
func parseErrorBody(resp *transport.Response) error {
	if resp.Status >= 400 && resp.Status < 500 {
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
			ErrorURI         string `json:"error_uri"`
		}
		if err := json.Unmarshal(resp.Body, &payload); err == nil && payload.Error != "" {
			return &ProtocolError{
				Code:        payload.Error,
				Description: payload.ErrorDescription,
				URI:         payload.ErrorURI,
				Status:      resp.Status,
			}
		}
	}
	return &HTTPError{Status: resp.Status, BodyPreview: previewBody(resp.Body)}
}

func previewBody(body []byte) string {
	preview := string(body)
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
	}
	return preview
}

func parseTokenResponse(body []byte, requestedScope identity.ScopeSet) (*TokenResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &transport.Error{Kind: transport.ErrBody, Err: err}
	}

	result := &TokenResult{ExpiresIn: defaultExpiresIn, Scope: requestedScope}

	if err := requiredString(fields, "access_token", &result.AccessToken, ErrMissingAccessToken); err != nil {
		return nil, err
	}
	if err := requiredString(fields, "token_type", &result.TokenType, ErrMissingTokenType); err != nil {
		return nil, err
	}
	if !strings.EqualFold(result.TokenType, "Bearer") {
		return nil, ErrUnexpectedTokenType
	}

	if raw, ok := fields["expires_in"]; ok {
		var seconds int64
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return nil, &transport.Error{Kind: transport.ErrBody, Err: err}
		}
		if seconds <= 0 {
			return nil, ErrNonPositiveExpiresIn
		}
		result.ExpiresIn = time.Duration(seconds) * time.Second
	}

	if raw, ok := fields["refresh_token"]; ok {
		if err := json.Unmarshal(raw, &result.RefreshToken); err != nil {
			return nil, &transport.Error{Kind: transport.ErrBody, Err: err}
		}
	}

	if raw, ok := fields["scope"]; ok {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil, &transport.Error{Kind: transport.ErrBody, Err: err}
		}
		if joined != "" {
			granted, err := identity.ParseScopes(joined, " ")
			if err != nil {
				return nil, &transport.Error{Kind: transport.ErrBody, Err: err}
			}
			result.Scope = granted
		}
	}

	for name, raw := range fields {
		switch name {
		case "access_token", "token_type", "expires_in", "refresh_token", "scope":
			continue
		}
		if result.Extras == nil {
			result.Extras = make(map[string]string)
		}
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			result.Extras[name] = asString
		} else {
			result.Extras[name] = string(raw)
		}
	}

	return result, nil
}

func requiredString(fields map[string]json.RawMessage, name string, dst *string, missing error) error {
	raw, ok := fields[name]
	if !ok {
		return missing
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &transport.Error{Kind: transport.ErrBody, Err: err}
	}
	if *dst == "" {
		return missing
	}
	return nil
}
