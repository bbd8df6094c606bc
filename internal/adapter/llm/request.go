package llm

import (
	"encoding/json"

	"converse-stream/internal/domain"
)

// Converse API request body, as sent by the HTTP transport.

type converseRequest struct {
	Messages                     []converseMessage `json:"messages"`
	System                       []converseText    `json:"system,omitempty"`
	InferenceConfig              *inferenceConfig  `json:"inferenceConfig,omitempty"`
	ToolConfig                   *toolConfig       `json:"toolConfig,omitempty"`
	AdditionalModelRequestFields map[string]any    `json:"additionalModelRequestFields,omitempty"`
}

type converseText struct {
	Text string `json:"text"`
}

type converseMessage struct {
	Role    string                 `json:"role"`
	Content []converseContentBlock `json:"content"`
}

type converseContentBlock struct {
	Text       *string          `json:"text,omitempty"`
	ToolUse    *toolUseBlock    `json:"toolUse,omitempty"`
	ToolResult *toolResultBlock `json:"toolResult,omitempty"`
}

type toolUseBlock struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

type toolResultBlock struct {
	ToolUseID string         `json:"toolUseId"`
	Content   []converseText `json:"content"`
}

type inferenceConfig struct {
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type toolConfig struct {
	Tools []toolSpecWrapper `json:"tools"`
}

type toolSpecWrapper struct {
	ToolSpec toolSpec `json:"toolSpec"`
}

type toolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema toolInputSchema `json:"inputSchema"`
}

type toolInputSchema struct {
	JSON json.RawMessage `json:"json"`
}

// requestDefaults are provider-level settings applied when the request leaves
// them unset.
type requestDefaults struct {
	MaxTokens      int
	Temperature    float64
	ThinkingBudget int
}

func toConverseRequest(req domain.ChatRequest, defs requestDefaults) converseRequest {
	out := converseRequest{}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defs.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	out.InferenceConfig = &inferenceConfig{MaxTokens: maxTokens}
	temp := req.Temperature
	if temp <= 0 {
		temp = defs.Temperature
	}
	if temp > 0 {
		out.InferenceConfig.Temperature = &temp
	}

	budget := req.ThinkingBudget
	if budget <= 0 {
		budget = defs.ThinkingBudget
	}
	if budget > 0 {
		out.AdditionalModelRequestFields = map[string]any{
			"thinking": map[string]any{"type": "enabled", "budget_tokens": budget},
		}
		// Extended thinking rejects a custom temperature.
		out.InferenceConfig.Temperature = nil
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			out.System = append(out.System, converseText{Text: m.Content})
			continue
		}
		if msg, ok := toConverseMessage(m); ok {
			out.Messages = appendMerged(out.Messages, msg)
		}
	}

	if len(req.Tools) > 0 {
		tc := &toolConfig{}
		for _, t := range req.Tools {
			schema := t.Parameters
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			tc.Tools = append(tc.Tools, toolSpecWrapper{ToolSpec: toolSpec{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: toolInputSchema{JSON: schema},
			}})
		}
		out.ToolConfig = tc
	}
	return out
}

func toConverseMessage(m domain.Message) (converseMessage, bool) {
	switch m.Role {
	case domain.RoleUser:
		return converseMessage{Role: "user", Content: []converseContentBlock{textBlock(m.Content)}}, true

	case domain.RoleAssistant:
		msg := converseMessage{Role: "assistant"}
		if m.Content != "" {
			msg.Content = append(msg.Content, textBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			input := tc.Arguments
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			msg.Content = append(msg.Content, converseContentBlock{ToolUse: &toolUseBlock{
				ToolUseID: tc.ID,
				Name:      tc.Name,
				Input:     input,
			}})
		}
		return msg, len(msg.Content) > 0

	case domain.RoleTool:
		toolUseID := ""
		if len(m.ToolCalls) > 0 {
			toolUseID = m.ToolCalls[0].ID
		}
		return converseMessage{Role: "user", Content: []converseContentBlock{{ToolResult: &toolResultBlock{
			ToolUseID: toolUseID,
			Content:   []converseText{{Text: m.Content}},
		}}}}, true
	}
	return converseMessage{}, false
}

// appendMerged folds consecutive same-role messages into one; Converse
// requires roles to alternate, and tool results arrive as separate messages.
func appendMerged(msgs []converseMessage, m converseMessage) []converseMessage {
	if n := len(msgs); n > 0 && msgs[n-1].Role == m.Role {
		msgs[n-1].Content = append(msgs[n-1].Content, m.Content...)
		return msgs
	}
	return append(msgs, m)
}

func textBlock(s string) converseContentBlock {
	return converseContentBlock{Text: &s}
}
