package llm

import (
	"context"
	"fmt"
	"log/slog"

	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
)

// NewProvider creates the bare provider for one config entry.
func NewProvider(ctx context.Context, pc config.ProviderConfig, stream config.StreamConfig, logger *slog.Logger) (domain.StreamingLLMProvider, error) {
	if pc.Type != "" && pc.Type != "bedrock" {
		return nil, fmt.Errorf("unsupported provider type %q", pc.Type)
	}
	switch pc.Transport {
	case "", config.TransportHTTP:
		return NewBedrockProvider(ctx, pc, stream, logger)
	case config.TransportSDK:
		return NewBedrockSDKProvider(ctx, pc, logger)
	}
	return nil, fmt.Errorf("unsupported transport %q", pc.Transport)
}

// wrap stacks the configured resilience layers around p: the rate limiter
// sits outside the breaker so an open circuit costs no token.
func wrap(p domain.StreamingLLMProvider, cfg config.LLMConfig, logger *slog.Logger) domain.StreamingLLMProvider {
	if cfg.CircuitBreaker.Enabled {
		p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
	}
	if cfg.RateLimit.Enabled {
		p = NewRateLimitedProvider(p, cfg.RateLimit, logger)
	}
	return p
}

// Build registers every configured provider and returns the registry plus
// the provider named primary (the configured default when empty), wrapped
// with failover when enabled.
func Build(ctx context.Context, cfg *config.Config, primary string, logger *slog.Logger) (*Registry, domain.StreamingLLMProvider, error) {
	registry := NewRegistry()

	for _, pc := range cfg.LLM.Providers {
		p, err := NewProvider(ctx, pc, cfg.Stream, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		if err := registry.Register(wrap(p, cfg.LLM, logger)); err != nil {
			return nil, nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cfg.LLM.CircuitBreaker.Enabled {
		logger.Debug("llm circuit breaker enabled",
			"max_failures", cfg.LLM.CircuitBreaker.MaxFailures,
			"timeout", cfg.LLM.CircuitBreaker.Timeout,
			"interval", cfg.LLM.CircuitBreaker.Interval,
		)
	}

	if primary == "" {
		primary = cfg.LLM.DefaultProvider
	}
	provider, err := registry.Get(primary)
	if err != nil {
		return nil, nil, fmt.Errorf("default llm provider: %w", err)
	}

	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		var fallbacks []domain.StreamingLLMProvider
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if name == primary {
				continue
			}
			fb, err := registry.Get(name)
			if err != nil {
				return nil, nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		if len(fallbacks) > 0 {
			provider = NewFailoverProvider(provider, fallbacks, logger)
			logger.Debug("model failover enabled", "fallbacks", cfg.LLM.Failover.Fallbacks)
		}
	}

	return registry, provider, nil
}
