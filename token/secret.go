// Package token models issued OAuth credentials: the redacted secret
// wrapper, the token family that groups an access token with its refresh
// lineage, and the immutable token record persisted by stores.
package token

import (
	"crypto/subtle"
	"encoding/json"
)

const redactedPlaceholder = "<redacted>"

// Secret wraps sensitive token material. Its String and GoString forms emit
// a fixed placeholder; the raw value is reachable only through Expose.
type Secret struct {
	value string
}

// NewSecret wraps a raw secret string.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Expose returns the raw secret. Callers must not log the result.
func (s Secret) Expose() string { return s.value }

// IsZero reports whether the secret holds no value.
func (s Secret) IsZero() bool { return s.value == "" }

// Equal compares two secrets in constant time.
func (s Secret) Equal(other Secret) bool {
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(other.value)) == 1
}

// EqualString compares the secret against a raw string in constant time.
func (s Secret) EqualString(raw string) bool {
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(raw)) == 1
}

func (s Secret) String() string { return redactedPlaceholder }

// GoString keeps %#v output redacted as well.
func (s Secret) GoString() string { return "token.Secret(" + redactedPlaceholder + ")" }

// MarshalJSON emits the raw value so store backends can persist records.
// Tokens are stored unencrypted; the store contract is opaque.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

// UnmarshalJSON restores a secret from its persisted form.
func (s *Secret) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.value)
}
