package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/hack-ink/oauth2-broker/identity"
)

var (
	ErrMissingAccessToken = errors.New("access token is required")
	ErrEmptyRecordScope   = errors.New("record scope set cannot be empty")
	ErrExpiryBeforeIssue  = errors.New("expires-at precedes issued-at")
)

// Status is the lifecycle state of a record at some instant.
type Status int

const (
	// StatusPending means the issued-at instant is still in the future.
	StatusPending Status = iota
	// StatusActive means the record is currently usable.
	StatusActive
	// StatusExpired means the expiry instant has passed.
	StatusExpired
	// StatusRevoked means the record was revoked locally or by the provider.
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusRevoked:
		return "revoked"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Record is the immutable description of issued OAuth tokens. Stores own
// records; the broker hands out copies.
type Record struct {
	Family       Family             `json:"family"`
	Scope        identity.ScopeSet  `json:"-"`
	ScopeValues  []string           `json:"scope"`
	AccessToken  Secret             `json:"access_token"`
	RefreshToken Secret             `json:"refresh_token,omitempty"`
	TokenType    string             `json:"token_type"`
	IssuedAt     time.Time          `json:"issued_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
	RevokedAt    *time.Time         `json:"revoked_at,omitempty"`
	Extras       map[string]string  `json:"extras,omitempty"`
}

// RecordParams collects the inputs for NewRecord.
type RecordParams struct {
	Family       Family
	Scope        identity.ScopeSet
	AccessToken  string
	RefreshToken string
	TokenType    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Extras       map[string]string
}

// NewRecord validates params and builds a record. The token type defaults
// to "Bearer" when omitted.
func NewRecord(params RecordParams) (Record, error) {
	if params.AccessToken == "" {
		return Record{}, ErrMissingAccessToken
	}
	if params.Scope.IsEmpty() {
		return Record{}, ErrEmptyRecordScope
	}
	if params.ExpiresAt.Before(params.IssuedAt) {
		return Record{}, ErrExpiryBeforeIssue
	}
	tokenType := params.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return Record{
		Family:       params.Family,
		Scope:        params.Scope,
		ScopeValues:  params.Scope.Values(),
		AccessToken:  NewSecret(params.AccessToken),
		RefreshToken: NewSecret(params.RefreshToken),
		TokenType:    tokenType,
		IssuedAt:     params.IssuedAt,
		ExpiresAt:    params.ExpiresAt,
		Extras:       params.Extras,
	}, nil
}

// Key derives the store key the record is cached under.
func (r Record) Key() identity.StoreKey {
	return r.Family.Key(r.Scope)
}

// HasRefreshToken reports whether the provider issued refresh material.
func (r Record) HasRefreshToken() bool { return !r.RefreshToken.IsZero() }

// StatusAt computes the lifecycle state at the given instant.
func (r Record) StatusAt(instant time.Time) Status {
	if r.RevokedAt != nil {
		return StatusRevoked
	}
	if instant.Before(r.IssuedAt) {
		return StatusPending
	}
	if !instant.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// IsExpiredAt reports whether the record has expired at the instant.
func (r Record) IsExpiredAt(instant time.Time) bool {
	return r.StatusAt(instant) == StatusExpired
}

// IsRevoked reports whether the record carries a revocation marker.
func (r Record) IsRevoked() bool { return r.RevokedAt != nil }

// Revoke returns a copy of the record marked revoked at the instant.
func (r Record) Revoke(instant time.Time) Record {
	revoked := r
	revoked.RevokedAt = &instant
	return revoked
}

// RestoreScope rebuilds the ScopeSet after deserialization. Store backends
// that persist records as JSON call this before handing records out.
func (r *Record) RestoreScope() error {
	scope, err := identity.NewScopeSet(r.ScopeValues...)
	if err != nil {
		return fmt.Errorf("restore record scope: %w", err)
	}
	r.Scope = scope
	return nil
}
