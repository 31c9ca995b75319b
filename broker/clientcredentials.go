package broker

import (
	"context"

	"github.com/hack-ink/oauth2-broker/obs"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/token"
)

// ClientCredentials returns a service-to-service access token for the
// request identity, reusing the cached record while it sits outside the
// jittered refresh window. Concurrent callers for the same key collapse
// into one provider request.
func (b *Broker) ClientCredentials(ctx context.Context, req CachedTokenRequest) (token.Record, error) {
	ctx, finish := b.recorder.StartSpan(ctx, obs.FlowClientCredentials, obs.StageTokenRequest)
	b.recorder.Count(obs.FlowClientCredentials, obs.OutcomeAttempt)

	record, err := b.clientCredentials(ctx, req)
	finish(err)

	if err != nil {
		b.recorder.Count(obs.FlowClientCredentials, outcomeOf(err))
		return token.Record{}, err
	}
	b.recorder.Count(obs.FlowClientCredentials, obs.OutcomeSuccess)
	return record, nil
}

func (b *Broker) clientCredentials(ctx context.Context, req CachedTokenRequest) (token.Record, error) {
	if err := b.ensureGrant(provider.GrantClientCredentials); err != nil {
		return token.Record{}, err
	}

	key := b.storeKey(req.Tenant, req.Principal, req.Scope)

	record, _, err := b.registry.Do(ctx, key, func(ctx context.Context) (token.Record, error) {
		return b.clientCredentialsAsLeader(ctx, req)
	})
	return record, err
}

func (b *Broker) clientCredentialsAsLeader(ctx context.Context, req CachedTokenRequest) (token.Record, error) {
	key := b.storeKey(req.Tenant, req.Principal, req.Scope)

	current, err := b.store.Fetch(ctx, key)
	if err != nil {
		return token.Record{}, err
	}
	if current != nil && !b.shouldRefresh(*current, b.now(), req) {
		b.logger.Debug().
			Str("flow", string(obs.FlowClientCredentials)).
			Str("tenant", req.Tenant.String()).
			Str("principal", req.Principal.String()).
			Msg("cached token reused")
		return *current, nil
	}

	slot := b.newSlot()
	result, err := b.facade.ClientCredentials(ctx, slot, req.Scope)
	if err != nil {
		return token.Record{}, b.classify(provider.GrantClientCredentials, slot, err)
	}

	family := b.familyFor(current, req)
	record, err := b.buildRecord(family, result)
	if err != nil {
		return token.Record{}, err
	}

	if err := b.store.Save(ctx, key, record); err != nil {
		return token.Record{}, err
	}

	b.logger.Info().
		Str("flow", string(obs.FlowClientCredentials)).
		Str("tenant", req.Tenant.String()).
		Str("principal", req.Principal.String()).
		Msg("client credentials token issued")

	return record, nil
}

// familyFor keeps the cached family alive across re-issues so the lineage
// stays stable; a first issuance mints a fresh one.
func (b *Broker) familyFor(current *token.Record, req CachedTokenRequest) token.Family {
	if current != nil {
		return current.Family
	}
	return token.NewFamily(req.Tenant, req.Principal, b.descriptor.ID)
}
