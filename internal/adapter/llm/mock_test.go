package llm

import (
	"context"

	"converse-stream/internal/domain"
)

type mockStreamProvider struct {
	name       string
	streamFunc func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error)
}

func (m *mockStreamProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ch, err := m.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(ctx, ch, req.Model)
}

func (m *mockStreamProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return m.streamFunc(ctx, req)
}

func (m *mockStreamProvider) Name() string { return m.name }

// deltas returns a closed channel holding ds.
func deltas(ds ...domain.StreamDelta) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, len(ds))
	for _, d := range ds {
		ch <- d
	}
	close(ch)
	return ch
}

// replying returns a provider whose every stream yields ds.
func replying(name string, ds ...domain.StreamDelta) *mockStreamProvider {
	return &mockStreamProvider{
		name: name,
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return deltas(ds...), nil
		},
	}
}

// failing returns a provider whose streams fail to open with err.
func failing(name string, err error) *mockStreamProvider {
	return &mockStreamProvider{
		name: name,
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return nil, err
		},
	}
}
