package llm

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
)

// RateLimitedProvider is a client-side token bucket in front of a provider.
// Starting a stream takes one token; callers wait for it, bounded by ctx.
type RateLimitedProvider struct {
	inner   domain.StreamingLLMProvider
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRateLimitedProvider wraps inner with a limiter of cfg.RequestsPerSecond
// and cfg.Burst.
func NewRateLimitedProvider(inner domain.StreamingLLMProvider, cfg config.RateLimitConfig, logger *slog.Logger) *RateLimitedProvider {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
	}
}

func (p *RateLimitedProvider) wait(ctx context.Context) error {
	if p.limiter.Allow() {
		return nil
	}
	p.logger.Debug("rate limited, waiting for token", "provider", p.inner.Name())
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRateLimit, p.inner.Name(), err)
	}
	return nil
}

// Chat implements domain.LLMProvider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Chat(ctx, req)
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *RateLimitedProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.ChatStream(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

var (
	_ domain.LLMProvider          = (*RateLimitedProvider)(nil)
	_ domain.StreamingLLMProvider = (*RateLimitedProvider)(nil)
)
