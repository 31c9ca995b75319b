// Package ext holds extension contracts the broker exposes without
// implementing: request signing, rate-limit budgeting, and token leasing.
// Integrators bring their own HTTP client, cache, and budgeting strategy;
// the broker core stays free of those dependencies.
package ext

import "github.com/hack-ink/oauth2-broker/token"

// RequestSigner attaches a token record to an outbound request without
// constraining the request type, so implementations can integrate with any
// client builder.
type RequestSigner[Request any] interface {
	// AttachToken injects authorization state derived from the record into
	// the request and returns the signed request.
	AttachToken(request Request, record token.Record) (Request, error)
}
