package domain

import (
	"context"
	"time"
)

// Transcript is the persisted record of one completed streaming turn.
type Transcript struct {
	ID         string     `json:"id"`
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Prompt     string     `json:"prompt"`
	Text       string     `json:"text"`
	Thinking   string     `json:"thinking,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
	LatencyMs  int64      `json:"latency_ms,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TranscriptStore persists transcripts.
type TranscriptStore interface {
	Save(ctx context.Context, t Transcript) error
	Get(ctx context.Context, id string) (*Transcript, error)
	// List returns the most recent transcripts, newest first.
	List(ctx context.Context, limit int) ([]Transcript, error)
	Close() error
}

// NewTranscript records resp as the answer to prompt.
func NewTranscript(id, provider, prompt string, resp *ChatResponse) Transcript {
	created := resp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return Transcript{
		ID:         id,
		Provider:   provider,
		Model:      resp.Model,
		Prompt:     prompt,
		Text:       resp.Message.Content,
		Thinking:   resp.Message.Thinking,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
		LatencyMs:  resp.LatencyMs,
		ToolCalls:  resp.Message.ToolCalls,
		CreatedAt:  created.UTC(),
	}
}
