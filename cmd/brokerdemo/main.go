// Command brokerdemo runs the client-credentials flow against a stub
// provider to show the broker's caching behavior: the first call hits the
// token endpoint, the second reuses the stored record, and a forced call
// fetches again.
package main

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hack-ink/oauth2-broker/broker"
	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/provider"
	"github.com/hack-ink/oauth2-broker/store/memstore"
	"github.com/hack-ink/oauth2-broker/transport"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("brokerdemo: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	clientID := envOr("BROKER_CLIENT_ID", "demo-client")
	clientSecret := envOr("BROKER_CLIENT_SECRET", "demo-secret")

	stub := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"demo-access","token_type":"Bearer","expires_in":900}`))
	}))
	defer stub.Close()

	providerID, err := identity.NewProviderID("demo-provider")
	if err != nil {
		return err
	}
	descriptor, err := provider.NewDescriptor(provider.Descriptor{
		ID:            providerID,
		TokenEndpoint: stub.URL + "/token",
		SupportedGrants: map[provider.GrantType]bool{
			provider.GrantClientCredentials: true,
		},
	})
	if err != nil {
		return err
	}

	b, err := broker.New(
		memstore.New(),
		descriptor,
		provider.DefaultStrategy{},
		clientID,
		transport.NewHTTPClient(stub.Client()),
		nil,
		broker.WithClientSecret(clientSecret),
		broker.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	tenant, err := identity.NewTenantID("tenant-acme")
	if err != nil {
		return err
	}
	principal, err := identity.NewPrincipalID("service-router")
	if err != nil {
		return err
	}
	scope, err := identity.NewScopeSet("email.read", "profile.read")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request := broker.CachedTokenRequest{Tenant: tenant, Principal: principal, Scope: scope}

	first, err := b.ClientCredentials(ctx, request)
	if err != nil {
		return err
	}
	logger.Info().Time("expires_at", first.ExpiresAt).Msg("token minted")

	second, err := b.ClientCredentials(ctx, request)
	if err != nil {
		return err
	}
	logger.Info().
		Bool("cache_hit", second.AccessToken.Equal(first.AccessToken) && second.IssuedAt.Equal(first.IssuedAt)).
		Msg("token reused from the store")

	request.ForceRefresh = true
	if _, err := b.ClientCredentials(ctx, request); err != nil {
		return err
	}
	logger.Info().Msg("forced re-fetch completed")

	return nil
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
