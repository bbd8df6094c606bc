package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"converse-stream/internal/domain"
)

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*FailoverProvider)(nil)
	_ domain.StreamingLLMProvider = (*FailoverProvider)(nil)
)

// FailoverProvider wraps a primary provider with fallback providers.
// A provider is abandoned only while nothing has reached the caller: when
// opening the stream fails, or when its first delta is already an error.
type FailoverProvider struct {
	primary   domain.StreamingLLMProvider
	fallbacks []domain.StreamingLLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.StreamingLLMProvider, fallbacks []domain.StreamingLLMProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Chat implements domain.LLMProvider by collecting the stream.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ch, err := f.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(ctx, ch, req.Model)
}

// ChatStream tries the primary, then each fallback in order.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	var errs []error
	for i, p := range f.chain() {
		ch, err := f.start(ctx, p, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("streaming failover succeeded", "provider", p.Name())
			}
			return ch, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if !shouldFailover(ctx, err) {
			break
		}
		f.logger.Warn("streaming LLM failed, trying next provider",
			"provider", p.Name(), "error", err)
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

func (f *FailoverProvider) chain() []domain.StreamingLLMProvider {
	return append([]domain.StreamingLLMProvider{f.primary}, f.fallbacks...)
}

// start opens a stream and waits for its first delta. An immediate error
// delta is returned as err; otherwise the first delta is re-queued in front
// of the rest.
func (f *FailoverProvider) start(ctx context.Context, p domain.StreamingLLMProvider, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	in, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var first domain.StreamDelta
	var ok bool
	select {
	case first, ok = <-in:
	case <-ctx.Done():
		go drain(in)
		return nil, ctx.Err()
	}
	if !ok {
		return nil, fmt.Errorf("%w: stream closed before the first delta", domain.ErrStreamTruncated)
	}
	if first.Err != nil {
		go drain(in)
		return nil, first.Err
	}

	out := make(chan domain.StreamDelta, streamBuffer)
	go func() {
		defer close(out)
		if !sendDelta(ctx, out, first) {
			drain(in)
			return
		}
		for d := range in {
			if !sendDelta(ctx, out, d) {
				drain(in)
				return
			}
		}
	}()
	return out, nil
}

// shouldFailover reports whether another provider could succeed where this
// one failed. Cancellation and a rejected request end the chain.
func shouldFailover(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, domain.ErrInvalidInput) && !errors.Is(err, domain.ErrContextOverflow)
}

func drain(ch <-chan domain.StreamDelta) {
	for range ch {
	}
}

// Name returns a composite name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}
