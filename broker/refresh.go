package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/oauthreq"
	"github.com/hack-ink/oauth2-broker/obs"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/store"
	"github.com/hack-ink/oauth2-broker/token"
	"github.com/hack-ink/oauth2-broker/transport"
)

// RefreshAccessToken rotates the stored refresh credential for the request
// identity and returns the resulting record. Concurrent refreshes for the
// same key are collapsed by singleflight, and the rotation itself is
// serialized by the store's compare-and-swap: exactly one caller rotates,
// everyone else adopts the rotated record.
func (b *Broker) RefreshAccessToken(ctx context.Context, req RefreshRequest) (token.Record, error) {
	ctx, finish := b.recorder.StartSpan(ctx, obs.FlowRefresh, obs.StageTokenRequest)

	record, err := b.refreshAccessToken(ctx, req)
	finish(err)

	if err != nil {
		b.recorder.Count(obs.FlowRefresh, outcomeOf(err))
		return token.Record{}, err
	}
	b.recorder.Count(obs.FlowRefresh, obs.OutcomeSuccess)
	return record, nil
}

func (b *Broker) refreshAccessToken(ctx context.Context, req RefreshRequest) (token.Record, error) {
	if err := b.ensureGrant(provider.GrantRefreshToken); err != nil {
		return token.Record{}, err
	}

	key := b.storeKey(req.Tenant, req.Principal, req.Scope)

	record, leader, err := b.registry.Do(ctx, key, func(ctx context.Context) (token.Record, error) {
		return b.refreshAsLeader(ctx, req)
	})
	if !leader {
		b.logger.Debug().
			Str("flow", string(obs.FlowRefresh)).
			Str("stage", string(obs.StageSingleflightFollow)).
			Str("tenant", req.Tenant.String()).
			Str("principal", req.Principal.String()).
			Msg("joined in-flight refresh")
	}
	return record, err
}

func (b *Broker) refreshAsLeader(ctx context.Context, req RefreshRequest) (token.Record, error) {
	b.refreshMetrics.attempts.Add(1)
	b.recorder.Count(obs.FlowRefresh, obs.OutcomeAttempt)
	b.logger.Debug().
		Str("flow", string(obs.FlowRefresh)).
		Str("stage", string(obs.StageSingleflightLead)).
		Str("tenant", req.Tenant.String()).
		Str("principal", req.Principal.String()).
		Msg("leading refresh rotation")

	key := b.storeKey(req.Tenant, req.Principal, req.Scope)

	current, err := b.store.Fetch(ctx, key)
	if err != nil {
		return token.Record{}, err
	}
	if current == nil || !current.HasRefreshToken() {
		return token.Record{}, ErrNoRefreshToken
	}

	currentRefresh := current.RefreshToken.Expose()
	if req.ExpectedRefreshSecret != "" && !current.RefreshToken.EqualString(req.ExpectedRefreshSecret) {
		// The stored lineage already moved past the caller's expectation.
		b.refreshMetrics.conflicts.Add(1)
		observed := *current
		return token.Record{}, &ConflictError{Observed: &observed}
	}

	slot := b.newSlot()
	result, err := b.facade.RefreshToken(ctx, slot, currentRefresh, req.Scope)
	if err != nil {
		return b.resolveRefreshFailure(ctx, key, slot, err)
	}

	rotatedRefresh := result.RefreshToken
	if rotatedRefresh == "" {
		// Provider did not rotate; the prior secret stays live.
		rotatedRefresh = currentRefresh
	}

	replacement, err := b.buildRotatedRecord(current.Family, result, rotatedRefresh)
	if err != nil {
		return token.Record{}, err
	}

	casResult, err := b.store.CompareAndSwapRefresh(ctx, key, currentRefresh, replacement)
	if err != nil {
		return token.Record{}, err
	}

	switch casResult.Outcome {
	case store.CASSwapped:
		b.refreshMetrics.successes.Add(1)
		b.logger.Info().
			Str("flow", string(obs.FlowRefresh)).
			Str("tenant", req.Tenant.String()).
			Str("principal", req.Principal.String()).
			Msg("refresh rotation committed")
		return replacement, nil

	case store.CASMismatch:
		// Another actor rotated first; do not attempt a second refresh.
		b.refreshMetrics.conflicts.Add(1)
		if req.ExpectedRefreshSecret != "" {
			return token.Record{}, &ConflictError{Observed: casResult.Observed}
		}
		if casResult.Observed == nil {
			return token.Record{}, ErrRevokedConcurrently
		}
		return *casResult.Observed, nil

	default:
		return token.Record{}, ErrRevokedConcurrently
	}
}

// buildRotatedRecord keeps the stored family so rotations stay in lineage.
func (b *Broker) buildRotatedRecord(family token.Family, result *oauthreq.TokenResult, refresh string) (token.Record, error) {
	issuedAt := b.now()

	return token.NewRecord(token.RecordParams{
		Family:       family,
		Scope:        result.Scope,
		AccessToken:  result.AccessToken,
		RefreshToken: refresh,
		TokenType:    result.TokenType,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(result.ExpiresIn),
		Extras:       result.Extras,
	})
}

func (b *Broker) resolveRefreshFailure(ctx context.Context, key identity.StoreKey, slot *transport.MetadataSlot, err error) (token.Record, error) {
	var protocolErr *oauthreq.ProtocolError
	if errors.As(err, &protocolErr) && protocolErr.IsInvalidGrant() {
		// The stored token is demonstrably unusable; drop it regardless of
		// whether the provider rotates on reuse.
		if revokeErr := b.store.Revoke(ctx, key); revokeErr != nil {
			return token.Record{}, revokeErr
		}
		b.refreshMetrics.revocations.Add(1)
		return token.Record{}, fmt.Errorf("%w: %s", ErrRefreshRevoked, protocolErr.Error())
	}

	classified := b.classify(provider.GrantRefreshToken, slot, err)
	if !errors.As(classified, &protocolErr) {
		b.refreshMetrics.transportErrors.Add(1)
	}
	return token.Record{}, classified
}
