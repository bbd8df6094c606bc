package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"converse-stream/internal/converse"
	"converse-stream/internal/domain"
	"converse-stream/internal/infra/tracer"
)

// streamBuffer is the capacity of delta channels returned by ChatStream.
const streamBuffer = 16

// sendDelta delivers d unless ctx ends first.
func sendDelta(ctx context.Context, ch chan<- domain.StreamDelta, d domain.StreamDelta) bool {
	select {
	case ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func sendFragments(ctx context.Context, ch chan<- domain.StreamDelta, frags []converse.Fragment) bool {
	for _, f := range frags {
		if !sendDelta(ctx, ch, fragmentDelta(f)) {
			return false
		}
	}
	return true
}

func fragmentDelta(f converse.Fragment) domain.StreamDelta {
	if f.Kind == converse.FragmentReasoning {
		return domain.StreamDelta{Thinking: f.Text}
	}
	return domain.StreamDelta{Content: f.Text}
}

// finalDelta is the Done delta closing a successful stream.
func finalDelta(sessionID string, r converse.Result) domain.StreamDelta {
	d := domain.StreamDelta{
		Done:      true,
		SessionID: sessionID,
		Usage:     usageOf(r),
	}
	if r.StopReason != nil {
		d.StopReason = *r.StopReason
	}
	if r.LatencyMs != nil {
		d.LatencyMs = *r.LatencyMs
	}
	for _, tc := range r.ToolCalls {
		d.ToolCalls = append(d.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: argumentsJSON(tc.Arguments),
		})
	}
	return d
}

// usageOf returns nil when the stream reported no token counts.
func usageOf(r converse.Result) *domain.Usage {
	if r.InputTokens == nil && r.OutputTokens == nil {
		return nil
	}
	u := &domain.Usage{}
	if r.InputTokens != nil {
		u.PromptTokens = *r.InputTokens
	}
	if r.OutputTokens != nil {
		u.CompletionTokens = *r.OutputTokens
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// argumentsJSON keeps streamed tool arguments as-is when they parse, and
// carries anything else as a JSON string.
func argumentsJSON(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// collectStream drains a delta channel into a complete response.
func collectStream(ctx context.Context, ch <-chan domain.StreamDelta, model string) (*domain.ChatResponse, error) {
	return CollectStream(ctx, ch, model, nil, nil)
}

// CollectStream drains a delta channel into a complete response. Content and
// reasoning are also copied to text and thinking as they arrive when those
// writers are non-nil.
func CollectStream(ctx context.Context, ch <-chan domain.StreamDelta, model string, text, thinking io.Writer) (*domain.ChatResponse, error) {
	var content, reasoning strings.Builder
	var final *domain.StreamDelta

	for d := range ch {
		if d.Err != nil {
			return nil, d.Err
		}
		content.WriteString(d.Content)
		reasoning.WriteString(d.Thinking)
		if text != nil && d.Content != "" {
			io.WriteString(text, d.Content)
		}
		if thinking != nil && d.Thinking != "" {
			io.WriteString(thinking, d.Thinking)
		}
		if d.Done {
			final = &d
		}
	}
	if final == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: channel closed without a final delta", domain.ErrStreamTruncated)
	}

	now := time.Now()
	resp := &domain.ChatResponse{
		ID:         final.SessionID,
		Model:      model,
		StopReason: final.StopReason,
		LatencyMs:  final.LatencyMs,
		CreatedAt:  now,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   content.String(),
			Thinking:  reasoning.String(),
			ToolCalls: final.ToolCalls,
			Timestamp: now,
		},
	}
	if final.Usage != nil {
		resp.Usage = *final.Usage
	}
	return resp, nil
}

// logChatCompleted logs the standard debug message after a finished stream.
func logChatCompleted(logger *slog.Logger, providerName, model string, d domain.StreamDelta) {
	tokens := 0
	if d.Usage != nil {
		tokens = d.Usage.TotalTokens
	}
	logger.Debug("llm stream completed",
		"provider", providerName,
		"model", model,
		"session_id", d.SessionID,
		"stop_reason", d.StopReason,
		"tool_calls", len(d.ToolCalls),
		"tokens", tokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage *domain.Usage) {
	if usage == nil {
		return
	}
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// endStream records the outcome of a stream on its span and sends the last
// delta: the Done delta on success, an Err delta otherwise.
func endStream(ctx context.Context, ch chan<- domain.StreamDelta, span trace.Span, logger *slog.Logger, provider, model string, last domain.StreamDelta) {
	span.SetAttributes(tracer.BoolAttr("llm.terminal", last.Done))
	if last.Err != nil {
		tracer.RecordError(span, last.Err)
		logger.Warn("llm stream failed",
			"provider", provider,
			"model", model,
			"session_id", last.SessionID,
			"error", last.Err,
		)
	} else {
		setUsageAttrs(span, last.Usage)
		span.SetAttributes(
			tracer.StringAttr("llm.stop_reason", last.StopReason),
			tracer.IntAttr("llm.tool_calls", len(last.ToolCalls)),
			tracer.Int64Attr("llm.latency_ms", last.LatencyMs),
		)
		tracer.SetOK(span)
		logChatCompleted(logger, provider, model, last)
	}
	sendDelta(ctx, ch, last)
}
