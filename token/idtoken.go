package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ExtraIDToken is the extras key providers use for OpenID Connect tokens.
const ExtraIDToken = "id_token"

var ErrNoIDToken = errors.New("record extras carry no id_token")

// IDTokenClaims extracts the claims of the id_token a provider attached to
// the token response, without verifying the signature. Verification needs
// provider key discovery, which the broker does not perform; callers that
// require verified claims must validate the token themselves.
func IDTokenClaims(record Record) (map[string]any, error) {
	raw, ok := record.Extras[ExtraIDToken]
	if !ok || raw == "" {
		return nil, ErrNoIDToken
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse id_token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("id_token claims have an unexpected shape")
	}
	return map[string]any(claims), nil
}
