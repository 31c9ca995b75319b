package provider

import (
	"net/url"
	"strings"
)

// ErrorKind is the strategy's classification of a provider failure.
type ErrorKind int

const (
	// ErrorInvalidGrant means the provider rejected the grant itself
	// (bad code, bad refresh token).
	ErrorInvalidGrant ErrorKind = iota
	// ErrorInvalidClient means client authentication failed.
	ErrorInvalidClient
	// ErrorInsufficientScope means the requested scopes exceed the grant.
	ErrorInsufficientScope
	// ErrorTransient means the failure is temporary and safe to retry.
	ErrorTransient
	// ErrorPermanent means the failure will not resolve on retry.
	ErrorPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorInvalidGrant:
		return "invalid_grant"
	case ErrorInvalidClient:
		return "invalid_client"
	case ErrorInsufficientScope:
		return "insufficient_scope"
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	}
	return "unknown"
}

// ErrorContext carries only primitive data about a failing token request so
// strategies stay decoupled from any HTTP client.
type ErrorContext struct {
	Grant            GrantType
	HTTPStatus       int
	OAuthError       string
	ErrorDescription string
	BodyPreview      string
	NetworkError     bool
}

// Strategy interprets a descriptor at request time: it may decorate
// outgoing token-request forms and it classifies provider errors into the
// broker taxonomy.
type Strategy interface {
	// ClassifyTokenError maps a failed token request into an ErrorKind.
	ClassifyTokenError(ctx ErrorContext) ErrorKind

	// AugmentTokenRequest lets providers add custom form parameters
	// (audience, resource, ...) before dispatch.
	AugmentTokenRequest(grant GrantType, form url.Values)
}

// DefaultStrategy applies RFC-guided heuristics: structured OAuth fields
// first, then body text hints, then the HTTP status code. Network failures
// are always transient.
type DefaultStrategy struct{}

var _ Strategy = DefaultStrategy{}

func (DefaultStrategy) AugmentTokenRequest(GrantType, url.Values) {}

func (DefaultStrategy) ClassifyTokenError(ctx ErrorContext) ErrorKind {
	if ctx.NetworkError {
		return ErrorTransient
	}
	if kind, ok := classifyOAuthError(ctx.OAuthError, ctx.ErrorDescription); ok {
		return kind
	}
	if kind, ok := classifyBody(ctx.BodyPreview); ok {
		return kind
	}
	return classifyStatus(ctx.HTTPStatus)
}

func classifyOAuthError(oauthError, description string) (ErrorKind, bool) {
	if kind, ok := matchExactValue(oauthError); ok {
		return kind, true
	}
	if kind, ok := matchExactValue(description); ok {
		return kind, true
	}
	return classifyBody(description)
}

func matchExactValue(value string) (ErrorKind, bool) {
	switch strings.ToLower(value) {
	case "invalid_grant", "access_denied":
		return ErrorInvalidGrant, true
	case "invalid_client", "unauthorized_client":
		return ErrorInvalidClient, true
	case "invalid_scope", "insufficient_scope":
		return ErrorInsufficientScope, true
	case "temporarily_unavailable", "server_error":
		return ErrorTransient, true
	}
	return 0, false
}

func classifyBody(body string) (ErrorKind, bool) {
	if body == "" {
		return 0, false
	}
	lowered := strings.ToLower(body)
	switch {
	case strings.Contains(lowered, "invalid_grant"):
		return ErrorInvalidGrant, true
	case strings.Contains(lowered, "invalid_client"):
		return ErrorInvalidClient, true
	case strings.Contains(lowered, "insufficient_scope"), strings.Contains(lowered, "invalid_scope"):
		return ErrorInsufficientScope, true
	case strings.Contains(lowered, "temporarily_unavailable"), strings.Contains(lowered, "retry"):
		return ErrorTransient, true
	}
	return 0, false
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 400 || status == 404 || status == 410:
		return ErrorInvalidGrant
	case status == 401:
		return ErrorInvalidClient
	case status == 403:
		return ErrorInsufficientScope
	case status == 429 || status >= 500:
		return ErrorTransient
	case status >= 400:
		return ErrorPermanent
	}
	return ErrorTransient
}
