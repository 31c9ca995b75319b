package broker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/hack-ink/oauth2-broker/oauthreq"
	"github.com/hack-ink/oauth2-broker/obs"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/token"
	"github.com/hack-ink/oauth2-broker/transport"
)

func (b *Broker) newSlot() *transport.MetadataSlot {
	return &transport.MetadataSlot{}
}

// classify routes a facade failure into the taxonomy: cancellations and
// protocol errors pass through untouched; everything transport-shaped goes
// through the mapper, the sole place such errors become classifications.
func (b *Broker) classify(grant provider.GrantType, slot *transport.MetadataSlot, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var protocolErr *oauthreq.ProtocolError
	if errors.As(err, &protocolErr) {
		return err
	}
	if errors.Is(err, oauthreq.ErrMissingClientSecret) {
		return err
	}

	return b.mapper.Map(b.strategy, grant, slot.Take(), err)
}

// buildRecord turns a parsed token response into a stored record, stamped
// with the broker clock.
func (b *Broker) buildRecord(family token.Family, result *oauthreq.TokenResult) (token.Record, error) {
	issuedAt := b.now()

	return token.NewRecord(token.RecordParams{
		Family:       family,
		Scope:        result.Scope,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(result.ExpiresIn),
		Extras:       result.Extras,
	})
}

// outcomeOf labels an error for the flow counter.
func outcomeOf(err error) obs.FlowOutcome {
	var protocolErr *oauthreq.ProtocolError
	var conflictErr *ConflictError

	switch {
	case errors.Is(err, ErrRefreshRevoked), errors.Is(err, ErrRevokedConcurrently):
		return obs.OutcomeRevoked
	case errors.As(err, &conflictErr):
		return obs.OutcomeConflict
	case errors.As(err, &protocolErr):
		return obs.OutcomeProtocolError
	}
	return obs.OutcomeTransportError
}

// RefreshMetrics tracks refresh-flow counters. All methods are safe for
// concurrent use.
type RefreshMetrics struct {
	attempts        atomic.Int64
	successes       atomic.Int64
	conflicts       atomic.Int64
	revocations     atomic.Int64
	transportErrors atomic.Int64
}

// RefreshMetricsSnapshot is a point-in-time view of the counters.
type RefreshMetricsSnapshot struct {
	Attempts        int64
	Successes       int64
	Conflicts       int64
	Revocations     int64
	TransportErrors int64
}

func (m *RefreshMetrics) snapshot() RefreshMetricsSnapshot {
	return RefreshMetricsSnapshot{
		Attempts:        m.attempts.Load(),
		Successes:       m.successes.Load(),
		Conflicts:       m.conflicts.Load(),
		Revocations:     m.revocations.Load(),
		TransportErrors: m.transportErrors.Load(),
	}
}
