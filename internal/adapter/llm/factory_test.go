package llm

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
)

func staticProvider(name, transport string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:            name,
		Type:            "bedrock",
		Transport:       transport,
		Region:          "us-east-1",
		Model:           testModel,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}
}

func TestNewProviderByTransport(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, staticProvider("h", config.TransportHTTP), config.StreamConfig{}, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &BedrockProvider{}, p)

	p, err = NewProvider(ctx, staticProvider("s", config.TransportSDK), config.StreamConfig{}, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &BedrockSDKProvider{}, p)

	_, err = NewProvider(ctx, staticProvider("x", "carrier-pigeon"), config.StreamConfig{}, slog.Default())
	assert.Error(t, err)
}

func TestBuildStacksWrappers(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Providers = []config.ProviderConfig{
		staticProvider("east", config.TransportHTTP),
		staticProvider("west", config.TransportSDK),
	}
	cfg.LLM.DefaultProvider = "east"
	cfg.LLM.RateLimit.Enabled = true
	cfg.LLM.Failover = config.FailoverConfig{Enabled: true, Fallbacks: []string{"west"}}

	registry, p, err := Build(context.Background(), cfg, "", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"east", "west"}, registry.List())
	assert.Equal(t, "east+failover", p.Name())

	east, err := registry.Get("east")
	require.NoError(t, err)
	rl, ok := east.(*RateLimitedProvider)
	require.True(t, ok)
	_, ok = rl.inner.(*CircuitBreakerProvider)
	assert.True(t, ok)
}

func TestBuildPrimaryOverride(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Providers = []config.ProviderConfig{staticProvider("east", ""), staticProvider("west", "")}
	cfg.LLM.DefaultProvider = "east"
	cfg.LLM.CircuitBreaker.Enabled = false

	_, p, err := Build(context.Background(), cfg, "west", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "west", p.Name())
	assert.IsType(t, &BedrockProvider{}, p)

	_, _, err = Build(context.Background(), cfg, "north", slog.Default())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(replying("a")))
	assert.Error(t, r.Register(replying("a")))

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
