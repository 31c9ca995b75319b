package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/hack-ink/oauth2-broker/token"
)

// Sentinel errors of the broker taxonomy. Callers branch with errors.Is;
// variants that carry data are the typed errors below, matched with
// errors.As.
var (
	// ErrUnsupportedGrant means the descriptor does not enable the
	// requested grant.
	ErrUnsupportedGrant = errors.New("descriptor does not enable the requested grant")
	// ErrMissingRedirectURI means authorization-code flows were invoked
	// without configuring a redirect URI.
	ErrMissingRedirectURI = errors.New("broker has no redirect URI configured")
	// ErrStateMismatch means exchange-code was invoked with a state that
	// does not match the session.
	ErrStateMismatch = errors.New("authorization state does not match the session")
	// ErrSessionExpired means the authorization session outlived its TTL.
	ErrSessionExpired = errors.New("authorization session expired")
	// ErrNoRefreshToken means the stored record carries no refresh secret.
	ErrNoRefreshToken = errors.New("stored record has no refresh token")
	// ErrRefreshRevoked means the provider answered invalid_grant and the
	// stored record has been removed.
	ErrRefreshRevoked = errors.New("refresh token revoked by provider")
	// ErrRevokedConcurrently means another actor removed the record while
	// a rotation was in flight.
	ErrRevokedConcurrently = errors.New("token record revoked concurrently")
)

// TransientError marks a retryable failure: transport trouble or an HTTP
// 5xx/429 answer. RetryAfter carries the upstream hint when one was given.
type TransientError struct {
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient failure (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not resolve on retry.
type PermanentError struct {
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("permanent failure (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("permanent failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ConflictError surfaces a CAS mismatch to callers that pinned an expected
// refresh secret. Observed is the record another actor stored first.
type ConflictError struct {
	Observed *token.Record
}

func (e *ConflictError) Error() string {
	return "refresh rotation conflict: another actor rotated first"
}
