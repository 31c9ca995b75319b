package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hack-ink/oauth2-broker/broker"
	"github.com/hack-ink/oauth2-broker/oauthreq"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/transport"
)

func TestMapperClassifiesTransportErrors(t *testing.T) {
	mapper := broker.DefaultErrorMapper{}
	strategy := provider.DefaultStrategy{}

	tests := []struct {
		name      string
		kind      transport.ErrorKind
		transient bool
	}{
		{name: "timeout", kind: transport.ErrTimeout, transient: true},
		{name: "connect", kind: transport.ErrConnect, transient: true},
		{name: "body", kind: transport.ErrBody, transient: true},
		{name: "io", kind: transport.ErrIO, transient: true},
		{name: "other", kind: transport.ErrOther, transient: true},
		{name: "tls is permanent", kind: transport.ErrTLS, transient: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapper.Map(strategy, provider.GrantClientCredentials, nil,
				&transport.Error{Kind: tc.kind, Err: errors.New("boom")})

			if tc.transient {
				var transientErr *broker.TransientError
				require.ErrorAs(t, mapped, &transientErr)
			} else {
				var permanentErr *broker.PermanentError
				require.ErrorAs(t, mapped, &permanentErr)
			}
		})
	}
}

func TestMapperConsultsRetryAfter(t *testing.T) {
	mapper := broker.DefaultErrorMapper{}
	meta := &transport.ResponseMetadata{Status: 429, RetryAfter: 42 * time.Second}

	mapped := mapper.Map(provider.DefaultStrategy{}, provider.GrantRefreshToken, meta,
		&oauthreq.HTTPError{Status: 429})

	var transientErr *broker.TransientError
	require.ErrorAs(t, mapped, &transientErr)
	assert.Equal(t, 429, transientErr.Status)
	assert.Equal(t, 42*time.Second, transientErr.RetryAfter)
}

func TestMapperClassifiesHTTPStatuses(t *testing.T) {
	mapper := broker.DefaultErrorMapper{}

	mapped := mapper.Map(provider.DefaultStrategy{}, provider.GrantClientCredentials,
		&transport.ResponseMetadata{Status: 503}, &oauthreq.HTTPError{Status: 503})
	var transientErr *broker.TransientError
	require.ErrorAs(t, mapped, &transientErr)

	mapped = mapper.Map(provider.DefaultStrategy{}, provider.GrantClientCredentials,
		&transport.ResponseMetadata{Status: 422}, &oauthreq.HTTPError{Status: 422})
	var permanentErr *broker.PermanentError
	require.ErrorAs(t, mapped, &permanentErr)
	assert.Equal(t, 422, permanentErr.Status)
}

func TestMapperPreservesCancellation(t *testing.T) {
	mapper := broker.DefaultErrorMapper{}

	wrapped := &transport.Error{Kind: transport.ErrTimeout, Err: context.Canceled}
	mapped := mapper.Map(provider.DefaultStrategy{}, provider.GrantRefreshToken, nil, wrapped)

	require.ErrorIs(t, mapped, context.Canceled)
	var transientErr *broker.TransientError
	assert.False(t, errors.As(mapped, &transientErr), "cancellation is not reclassified")
}

func TestFlowCancellationSurfacesToCaller(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.broker.RefreshAccessToken(cancelled, refreshRequest(f))
	require.ErrorIs(t, err, context.Canceled)
}
