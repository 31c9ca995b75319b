package oauthreq

import (
	"errors"
	"fmt"
)

// Standard OAuth 2.0 error codes from RFC 6749 §5.2.
const (
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidScope         = "invalid_scope"
	CodeInvalidClient        = "invalid_client"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
)

var (
	ErrMissingClientSecret  = errors.New("descriptor client auth requires a client secret")
	ErrMissingAccessToken   = errors.New("token response is missing access_token")
	ErrMissingTokenType     = errors.New("token response is missing token_type")
	ErrUnexpectedTokenType  = errors.New("token response has an unexpected token_type")
	ErrNonPositiveExpiresIn = errors.New("token response expires_in must be positive")
)

// ProtocolError is a structured OAuth error response (RFC 6749 §5.2).
type ProtocolError struct {
	Code        string
	Description string
	URI         string
	Status      int
}

func (e *ProtocolError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth error %s", e.Code)
}

// IsInvalidGrant reports whether the provider rejected the grant itself,
// which drives revocation in the refresh flow.
func (e *ProtocolError) IsInvalidGrant() bool {
	return e.Code == CodeInvalidGrant
}

// HTTPError is a non-2xx answer without a parseable OAuth error body. The
// error mapper classifies it by status.
type HTTPError struct {
	Status      int
	BodyPreview string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("token endpoint returned HTTP %d", e.Status)
}
