// Package broker orchestrates OAuth 2.0 grant flows against one provider
// descriptor on behalf of many tenants and principals. It composes the
// store, transport, OAuth request facade, singleflight registry and error
// mapper; flows stay focused on grant policy.
package broker

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hack-ink/oauth2-broker/flight"
	"github.com/hack-ink/oauth2-broker/oauthreq"
	"github.com/hack-ink/oauth2-broker/obs"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/store"
	"github.com/hack-ink/oauth2-broker/transport"
)

// Configuration defaults; override via options.
const (
	DefaultEarlyRefreshFloor    = 30 * time.Second
	DefaultEarlyRefreshFraction = 0.1
	DefaultJitterFraction       = 0.2
	DefaultSessionTTL           = 600 * time.Second
)

// Broker coordinates flows for a single provider descriptor. Construct
// with New; a Broker is safe for concurrent use.
type Broker struct {
	store      store.Store
	descriptor provider.Descriptor
	strategy   provider.Strategy
	httpClient transport.Client
	mapper     ErrorMapper
	facade     *oauthreq.Facade
	registry   *flight.Registry
	recorder   obs.Recorder
	logger     zerolog.Logger

	clientID     string
	clientSecret string
	redirectURI  string

	earlyRefreshFloor    time.Duration
	earlyRefreshFraction float64
	jitterFraction       float64
	sessionTTL           time.Duration

	refreshMetrics RefreshMetrics

	nowFunc func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithClientSecret attaches the confidential client secret.
func WithClientSecret(secret string) Option {
	return func(b *Broker) { b.clientSecret = secret }
}

// WithRedirectURI sets the redirect URI used by authorization-code flows.
func WithRedirectURI(uri string) Option {
	return func(b *Broker) { b.redirectURI = uri }
}

// WithEarlyRefreshFloor overrides the minimum proactive-refresh lead time.
func WithEarlyRefreshFloor(floor time.Duration) Option {
	return func(b *Broker) { b.earlyRefreshFloor = floor }
}

// WithEarlyRefreshFraction overrides the lifetime fraction (0.0-0.5) used
// for the proactive-refresh lead time.
func WithEarlyRefreshFraction(fraction float64) Option {
	return func(b *Broker) { b.earlyRefreshFraction = fraction }
}

// WithJitterFraction overrides the jitter amplitude (0.0-1.0) applied to
// the refresh window, as a fraction of the floor.
func WithJitterFraction(fraction float64) Option {
	return func(b *Broker) { b.jitterFraction = fraction }
}

// WithSessionTTL overrides the authorization-session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(b *Broker) { b.sessionTTL = ttl }
}

// WithLogger attaches a zerolog logger; the default drops everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithRecorder attaches an observability recorder.
func WithRecorder(recorder obs.Recorder) Option {
	return func(b *Broker) { b.recorder = recorder }
}

// WithNowFunc overrides the clock (primarily for testing).
func WithNowFunc(now func() time.Time) Option {
	return func(b *Broker) { b.nowFunc = now }
}

// New builds a broker bound to a store, descriptor, strategy, and client
// identity. Pass nil httpClient or mapper to use the net/http-backed
// defaults.
func New(
	tokenStore store.Store,
	descriptor provider.Descriptor,
	strategy provider.Strategy,
	clientID string,
	httpClient transport.Client,
	mapper ErrorMapper,
	options ...Option,
) (*Broker, error) {
	if tokenStore == nil {
		return nil, errors.New("broker.New: store is required")
	}
	if strategy == nil {
		return nil, errors.New("broker.New: strategy is required")
	}
	if clientID == "" {
		return nil, errors.New("broker.New: client id is required")
	}
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(nil)
	}
	if mapper == nil {
		mapper = DefaultErrorMapper{}
	}

	b := &Broker{
		store:      tokenStore,
		descriptor: descriptor,
		strategy:   strategy,
		httpClient: httpClient,
		mapper:     mapper,
		registry:   flight.New(),
		recorder:   obs.NopRecorder{},
		logger:     zerolog.Nop(),

		clientID: clientID,

		earlyRefreshFloor:    DefaultEarlyRefreshFloor,
		earlyRefreshFraction: DefaultEarlyRefreshFraction,
		jitterFraction:       DefaultJitterFraction,
		sessionTTL:           DefaultSessionTTL,

		nowFunc: time.Now,
	}

	for _, opt := range options {
		opt(b)
	}

	b.facade = oauthreq.New(descriptor, strategy, b.clientID, b.clientSecret, b.httpClient)

	return b, nil
}

// Descriptor returns the provider descriptor the broker is bound to.
func (b *Broker) Descriptor() provider.Descriptor { return b.descriptor }

// RefreshMetricsSnapshot returns the current refresh flow counters.
func (b *Broker) RefreshMetricsSnapshot() RefreshMetricsSnapshot {
	return b.refreshMetrics.snapshot()
}

func (b *Broker) ensureGrant(grant provider.GrantType) error {
	if !b.descriptor.Supports(grant) {
		return ErrUnsupportedGrant
	}
	return nil
}

func (b *Broker) now() time.Time { return b.nowFunc() }
