package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converse-stream/internal/domain"
)

func TestFailoverPrimarySuccess(t *testing.T) {
	primary := replying("primary", domain.StreamDelta{Content: "primary response"}, domain.StreamDelta{Done: true})
	fallback := &mockStreamProvider{
		name: "fallback",
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			t.Fatal("fallback should not be called")
			return nil, nil
		},
	}

	fp := NewFailoverProvider(primary, []domain.StreamingLLMProvider{fallback}, slog.Default())
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "primary response", resp.Message.Content)
}

func TestFailoverPrimaryFailFallbackSuccess(t *testing.T) {
	primary := failing("primary", domain.ErrProviderUnavailable)
	fallback := replying("fallback", domain.StreamDelta{Content: "fallback response"}, domain.StreamDelta{Done: true})

	fp := NewFailoverProvider(primary, []domain.StreamingLLMProvider{fallback}, slog.Default())
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback response", resp.Message.Content)
}

func TestFailoverOnImmediateStreamError(t *testing.T) {
	primary := replying("primary", domain.StreamDelta{Err: domain.ErrRateLimit})
	fallback := replying("fallback", domain.StreamDelta{Content: "from fallback"}, domain.StreamDelta{Done: true})

	fp := NewFailoverProvider(primary, []domain.StreamingLLMProvider{fallback}, slog.Default())
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Message.Content)
}

func TestFailoverKeepsStreamOnceDelivering(t *testing.T) {
	primary := replying("primary",
		domain.StreamDelta{Content: "half"},
		domain.StreamDelta{Err: domain.ErrStreamTruncated},
	)
	fallback := &mockStreamProvider{
		name: "fallback",
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			t.Fatal("fallback must not be used after output was delivered")
			return nil, nil
		},
	}

	fp := NewFailoverProvider(primary, []domain.StreamingLLMProvider{fallback}, slog.Default())
	ch, err := fp.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "half", first.Content)
	last := <-ch
	assert.ErrorIs(t, last.Err, domain.ErrStreamTruncated)
	_, open := <-ch
	assert.False(t, open)
}

func TestFailoverAllFail(t *testing.T) {
	primary := failing("primary", errors.New("primary down"))
	fallback := failing("fallback", domain.ErrRateLimit)

	fp := NewFailoverProvider(primary, []domain.StreamingLLMProvider{fallback}, slog.Default())
	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback")
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestFailoverStopsOnInvalidInput(t *testing.T) {
	primary := failing("primary", domain.NewSubSystemError("bedrock", "Bedrock.ConverseStream", domain.ErrInvalidInput, "bad"))
	fallback := &mockStreamProvider{
		name: "fallback",
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			t.Fatal("a rejected request is not retried elsewhere")
			return nil, nil
		},
	}

	fp := NewFailoverProvider(primary, []domain.StreamingLLMProvider{fallback}, slog.Default())
	_, err := fp.ChatStream(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFailoverName(t *testing.T) {
	fp := NewFailoverProvider(replying("main"), nil, slog.Default())
	assert.Equal(t, "main+failover", fp.Name())
}
