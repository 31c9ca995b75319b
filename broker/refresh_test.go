package broker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hack-ink/oauth2-broker/broker"
	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/store"
	"github.com/hack-ink/oauth2-broker/token"
	"github.com/hack-ink/oauth2-broker/transport/transportfake"
)

func refreshRequest(f *fixture) broker.RefreshRequest {
	return broker.RefreshRequest{
		Tenant:    f.tenant,
		Principal: f.principal,
		Scope:     f.scope,
	}
}

func TestRefreshRotationHappyPath(t *testing.T) {
	f := newFixture(t, fixtureConfig{script: []transportfake.Exchange{tokenJSON("A2", "R2", 3600)}})
	seeded := f.seedRecord(t, "A1", "R1", 3600*time.Second)

	record, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	require.NoError(t, err)

	assert.Equal(t, "A2", record.AccessToken.Expose())
	assert.Equal(t, "R2", record.RefreshToken.Expose())
	assert.Equal(t, seeded.Family.ID, record.Family.ID, "rotation preserves the family")

	form, err := f.transport.LastForm()
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "R1", form.Get("refresh_token"))

	stored, err := f.store.Fetch(context.Background(), f.key())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "R2", stored.RefreshToken.Expose())

	metrics := f.broker.RefreshMetricsSnapshot()
	assert.Equal(t, int64(1), metrics.Attempts)
	assert.Equal(t, int64(1), metrics.Successes)
}

func TestRefreshReusesSecretWhenProviderOmitsRotation(t *testing.T) {
	f := newFixture(t, fixtureConfig{script: []transportfake.Exchange{tokenJSON("A2", "", 3600)}})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	record, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	require.NoError(t, err)

	assert.Equal(t, "A2", record.AccessToken.Expose())
	assert.Equal(t, "R1", record.RefreshToken.Expose(), "prior refresh secret stays live")

	stored, err := f.store.Fetch(context.Background(), f.key())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "R1", stored.RefreshToken.Expose())
}

func TestRefreshRevokedOnInvalidGrant(t *testing.T) {
	f := newFixture(t, fixtureConfig{script: []transportfake.Exchange{oauthErrorJSON(400, "invalid_grant")}})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	_, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	require.ErrorIs(t, err, broker.ErrRefreshRevoked)

	stored, fetchErr := f.store.Fetch(context.Background(), f.key())
	require.NoError(t, fetchErr)
	assert.Nil(t, stored, "the unusable record is removed")

	metrics := f.broker.RefreshMetricsSnapshot()
	assert.Equal(t, int64(1), metrics.Revocations)
}

func TestRefreshWithoutStoredRecord(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	_, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	require.ErrorIs(t, err, broker.ErrNoRefreshToken)
	assert.Zero(t, f.transport.Dispatches())
}

func TestRefreshWithoutRefreshSecret(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedRecord(t, "A1", "", 3600*time.Second)

	_, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	require.ErrorIs(t, err, broker.ErrNoRefreshToken)
	assert.Zero(t, f.transport.Dispatches())
}

// casRaceStore simulates a concurrent rotation landing between the
// leader's fetch and its compare-and-swap.
type casRaceStore struct {
	store.Store
	mu       sync.Mutex
	inject   func()
	injected bool
}

func (s *casRaceStore) CompareAndSwapRefresh(ctx context.Context, key identity.StoreKey, expectedRefresh string, replacement token.Record) (store.CASResult, error) {
	s.mu.Lock()
	if !s.injected && s.inject != nil {
		s.injected = true
		s.mu.Unlock()
		s.inject()
	} else {
		s.mu.Unlock()
	}
	return s.Store.CompareAndSwapRefresh(ctx, key, expectedRefresh, replacement)
}

func TestRefreshAdoptsConcurrentRotation(t *testing.T) {
	raceStore := &casRaceStore{Store: memstoreForRace()}
	f := newFixture(t, fixtureConfig{
		script: []transportfake.Exchange{tokenJSON("A2", "R2", 3600)},
		store:  raceStore,
	})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	external, err := token.NewRecord(token.RecordParams{
		Family:       token.NewFamily(f.tenant, f.principal, f.provider),
		Scope:        f.scope,
		AccessToken:  "A-external",
		RefreshToken: "R-external",
		IssuedAt:     f.now,
		ExpiresAt:    f.now.Add(time.Hour),
	})
	require.NoError(t, err)

	raceStore.inject = func() {
		require.NoError(t, raceStore.Store.Save(context.Background(), f.key(), external))
	}

	record, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	require.NoError(t, err, "the mismatch is resolved by adopting the observed record")
	assert.Equal(t, "R-external", record.RefreshToken.Expose())
	assert.Equal(t, "A-external", record.AccessToken.Expose())

	metrics := f.broker.RefreshMetricsSnapshot()
	assert.Equal(t, int64(1), metrics.Conflicts)
}

func TestRefreshConflictSurfacesWhenExpectationPinned(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedRecord(t, "A1", "R-rotated", 3600*time.Second)

	req := refreshRequest(f)
	req.ExpectedRefreshSecret = "R-stale"

	_, err := f.broker.RefreshAccessToken(context.Background(), req)

	var conflictErr *broker.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.NotNil(t, conflictErr.Observed)
	assert.Equal(t, "R-rotated", conflictErr.Observed.RefreshToken.Expose())
	assert.Zero(t, f.transport.Dispatches(), "a stale expectation fails before the provider call")
}

func TestRefreshRevokedConcurrently(t *testing.T) {
	raceStore := &casRaceStore{Store: memstoreForRace()}
	f := newFixture(t, fixtureConfig{
		script: []transportfake.Exchange{tokenJSON("A2", "R2", 3600)},
		store:  raceStore,
	})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	raceStore.inject = func() {
		require.NoError(t, raceStore.Store.Revoke(context.Background(), f.key()))
	}

	_, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	require.ErrorIs(t, err, broker.ErrRevokedConcurrently)
}

func TestConcurrentRefreshSingleflight(t *testing.T) {
	gate := make(chan struct{})
	exchange := tokenJSON("A2", "R2", 3600)
	exchange.Wait = gate

	f := newFixture(t, fixtureConfig{script: []transportfake.Exchange{exchange}})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	refreshes := make([]string, callers)

	run := func(i int) {
		defer wg.Done()
		record, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
		errs[i] = err
		if err == nil {
			refreshes[i] = record.RefreshToken.Expose()
		}
	}

	// The leader blocks inside the transport; everyone else joins its
	// flight before the gate opens.
	wg.Add(1)
	go run(0)
	require.Eventually(t, func() bool { return f.transport.Dispatches() == 1 },
		time.Second, time.Millisecond, "leader reaches the transport")

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go run(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "R2", refreshes[i], "every caller observes the rotated secret")
	}
	assert.Equal(t, 1, f.transport.Dispatches(), "exactly one provider request")
}

func TestRefreshProtocolErrorPassesThrough(t *testing.T) {
	f := newFixture(t, fixtureConfig{script: []transportfake.Exchange{oauthErrorJSON(400, "invalid_scope")}})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	_, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))
	requireOAuthCode(t, err, "invalid_scope")

	stored, fetchErr := f.store.Fetch(context.Background(), f.key())
	require.NoError(t, fetchErr)
	assert.NotNil(t, stored, "only invalid_grant revokes")
}

func TestRefreshTransportErrorCountsMetric(t *testing.T) {
	f := newFixture(t, fixtureConfig{script: []transportfake.Exchange{statusExchange(500, 0)}})
	f.seedRecord(t, "A1", "R1", 3600*time.Second)

	_, err := f.broker.RefreshAccessToken(context.Background(), refreshRequest(f))

	var transientErr *broker.TransientError
	require.ErrorAs(t, err, &transientErr)

	metrics := f.broker.RefreshMetricsSnapshot()
	assert.Equal(t, int64(1), metrics.TransportErrors)
}
