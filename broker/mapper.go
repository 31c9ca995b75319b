package broker

import (
	"context"
	"errors"
	"time"

	"github.com/hack-ink/oauth2-broker/oauthreq"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/transport"
)

// ErrorMapper is the single translator of transport-level failures into
// the broker taxonomy. It must consult the response metadata's Retry-After
// hint before classifying.
type ErrorMapper interface {
	Map(strategy provider.Strategy, grant provider.GrantType, meta *transport.ResponseMetadata, err error) error
}

// DefaultErrorMapper classifies the default transport's failures:
// timeouts, connect and I/O trouble are transient; TLS failures are
// permanent; unclassifiable HTTP answers go through the strategy.
type DefaultErrorMapper struct{}

var _ ErrorMapper = DefaultErrorMapper{}

// Map implements ErrorMapper.
func (DefaultErrorMapper) Map(strategy provider.Strategy, grant provider.GrantType, meta *transport.ResponseMetadata, err error) error {
	// Cancellation is its own taxonomy entry; never reclassify it.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	retryAfter := retryAfterOf(meta)
	if meta != nil {
		status = meta.Status
	}

	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		switch transportErr.Kind {
		case transport.ErrTLS:
			return &PermanentError{Status: status, Err: err}
		default:
			return &TransientError{Status: status, RetryAfter: retryAfter, Err: err}
		}
	}

	var httpErr *oauthreq.HTTPError
	if errors.As(err, &httpErr) {
		kind := strategy.ClassifyTokenError(provider.ErrorContext{
			Grant:       grant,
			HTTPStatus:  httpErr.Status,
			BodyPreview: httpErr.BodyPreview,
		})
		if kind == provider.ErrorTransient {
			return &TransientError{Status: httpErr.Status, RetryAfter: retryAfter, Err: err}
		}
		return &PermanentError{Status: httpErr.Status, Err: err}
	}

	return &TransientError{Status: status, RetryAfter: retryAfter, Err: err}
}

func retryAfterOf(meta *transport.ResponseMetadata) (retryAfter time.Duration) {
	if meta != nil {
		retryAfter = meta.RetryAfter
	}
	return retryAfter
}
