package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel/trace"

	"converse-stream/internal/converse"
	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
	"converse-stream/internal/infra/tracer"
)

// converseStreamAPI abstracts the Bedrock runtime method for testability.
type converseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// eventSource is the event stream returned by ConverseStream.
type eventSource interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// BedrockSDKProvider implements domain.StreamingLLMProvider with the
// bedrockruntime client. The SDK decodes frames; events are folded through
// the same converse.State as the HTTP transport.
type BedrockSDKProvider struct {
	name     string
	model    string
	open     func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventSource, error)
	defaults requestDefaults
	logger   *slog.Logger
}

// NewBedrockSDKProvider creates an SDK-transport provider.
func NewBedrockSDKProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*BedrockSDKProvider, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	awsCfg.HTTPClient = NewHTTPClient(cfg)
	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newBedrockSDKProviderWithClient(cfg, client, logger), nil
}

// newBedrockSDKProviderWithClient creates a BedrockSDKProvider with an injected client.
func newBedrockSDKProviderWithClient(cfg config.ProviderConfig, client converseStreamAPI, logger *slog.Logger) *BedrockSDKProvider {
	p := newBedrockSDKProvider(cfg, nil, logger)
	p.open = func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventSource, error) {
		out, err := client.ConverseStream(ctx, in)
		if err != nil {
			return nil, err
		}
		return out.GetStream(), nil
	}
	return p
}

func newBedrockSDKProvider(cfg config.ProviderConfig, open func(context.Context, *bedrockruntime.ConverseStreamInput) (eventSource, error), logger *slog.Logger) *BedrockSDKProvider {
	return &BedrockSDKProvider{
		name:  cfg.Name,
		model: cfg.Model,
		open:  open,
		defaults: requestDefaults{
			MaxTokens:      cfg.MaxTokens,
			Temperature:    cfg.Temperature,
			ThinkingBudget: cfg.ThinkingBudget,
		},
		logger: logger,
	}
}

// Chat implements domain.LLMProvider by collecting the stream.
func (p *BedrockSDKProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ch, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(ctx, ch, req.Model)
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *BedrockSDKProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.StringAttr("llm.transport", config.TransportSDK),
		),
	)

	stream, err := p.open(ctx, toBedrockConverseStreamInput(req, p.defaults))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	sessionID := converse.NewSessionID()
	span.SetAttributes(tracer.StringAttr("llm.session_id", sessionID))
	logger := p.logger.With("session_id", sessionID)

	ch := make(chan domain.StreamDelta, streamBuffer)
	go func() {
		defer close(ch)
		defer span.End()
		defer stream.Close()

		state := converse.NewState()
		for evt := range stream.Events() {
			ev := eventFromSDK(evt)
			if u, ok := ev.(*converse.Unknown); ok {
				logger.Debug("ignoring unknown event", "event_type", u.Name)
			}
			if !sendFragments(ctx, ch, state.Apply(ev)) {
				tracer.RecordError(span, ctx.Err())
				return
			}
		}
		span.SetAttributes(tracer.IntAttr("converse.events", state.Events()))

		var last domain.StreamDelta
		switch err := stream.Err(); {
		case err != nil:
			last = failedDelta(sessionID, mapBedrockError(err))
		case !state.Terminal():
			last = failedDelta(sessionID, fmt.Errorf("%w: stream ended after %d events without messageStop",
				domain.ErrStreamTruncated, state.Events()))
		default:
			last = finalDelta(sessionID, state.Result())
		}
		endStream(ctx, ch, span, p.logger, p.name, req.Model, last)
	}()

	return ch, nil
}

// Name implements domain.LLMProvider.
func (p *BedrockSDKProvider) Name() string { return p.name }

// eventFromSDK converts an SDK union member into the converse event it carries.
func eventFromSDK(evt types.ConverseStreamOutput) converse.Event {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberMessageStart:
		return &converse.MessageStart{Role: string(e.Value.Role)}

	case *types.ConverseStreamOutputMemberContentBlockStart:
		out := &converse.ContentBlockStart{ContentBlockIndex: int(aws.ToInt32(e.Value.ContentBlockIndex))}
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			out.Start.ToolUse = &converse.ToolUseStart{
				ToolUseID: aws.ToString(start.Value.ToolUseId),
				Name:      aws.ToString(start.Value.Name),
			}
		}
		return out

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		out := &converse.ContentBlockDelta{ContentBlockIndex: int(aws.ToInt32(e.Value.ContentBlockIndex))}
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			text := d.Value
			out.Delta.Text = &text
		case *types.ContentBlockDeltaMemberToolUse:
			out.Delta.ToolUse = &converse.ToolUseDelta{Input: aws.ToString(d.Value.Input)}
		case *types.ContentBlockDeltaMemberReasoningContent:
			switch r := d.Value.(type) {
			case *types.ReasoningContentBlockDeltaMemberText:
				out.Delta.ReasoningContent = &converse.ReasoningDelta{Text: r.Value}
			case *types.ReasoningContentBlockDeltaMemberSignature:
				out.Delta.ReasoningContent = &converse.ReasoningDelta{Signature: r.Value}
			}
		}
		return out

	case *types.ConverseStreamOutputMemberContentBlockStop:
		return &converse.ContentBlockStop{ContentBlockIndex: int(aws.ToInt32(e.Value.ContentBlockIndex))}

	case *types.ConverseStreamOutputMemberMessageStop:
		stop := &converse.MessageStop{}
		if e.Value.StopReason != "" {
			reason := string(e.Value.StopReason)
			stop.StopReason = &reason
		}
		return stop

	case *types.ConverseStreamOutputMemberMetadata:
		out := &converse.Metadata{}
		if u := e.Value.Usage; u != nil {
			out.Usage = &converse.Usage{
				InputTokens:  int32Ptr(u.InputTokens),
				OutputTokens: int32Ptr(u.OutputTokens),
				TotalTokens:  int32Ptr(u.TotalTokens),
			}
		}
		if m := e.Value.Metrics; m != nil && m.LatencyMs != nil {
			latency := *m.LatencyMs
			out.Metrics = &converse.Metrics{LatencyMs: &latency}
		}
		return out

	case *types.UnknownUnionMember:
		return &converse.Unknown{Name: e.Tag}
	}
	return &converse.Unknown{Name: fmt.Sprintf("%T", evt)}
}

func int32Ptr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

// --- Bedrock request conversion ---

func toBedrockConverseStreamInput(req domain.ChatRequest, defs requestDefaults) *bedrockruntime.ConverseStreamInput {
	// The HTTP body and the SDK input share defaulting rules.
	body := toConverseRequest(req, defs)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(body.InferenceConfig.MaxTokens)),
		},
	}
	if t := body.InferenceConfig.Temperature; t != nil {
		input.InferenceConfig.Temperature = aws.Float32(float32(*t))
	}
	if body.AdditionalModelRequestFields != nil {
		input.AdditionalModelRequestFields = document.NewLazyDocument(body.AdditionalModelRequestFields)
	}

	for _, s := range body.System {
		input.System = append(input.System, &types.SystemContentBlockMemberText{Value: s.Text})
	}
	for _, m := range body.Messages {
		input.Messages = append(input.Messages, toBedrockMessage(m))
	}
	if body.ToolConfig != nil {
		input.ToolConfig = toBedrockToolConfig(body.ToolConfig)
	}
	return input
}

func toBedrockMessage(m converseMessage) types.Message {
	msg := types.Message{Role: types.ConversationRoleUser}
	if m.Role == "assistant" {
		msg.Role = types.ConversationRoleAssistant
	}

	for _, b := range m.Content {
		switch {
		case b.Text != nil:
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: *b.Text})

		case b.ToolUse != nil:
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(b.ToolUse.ToolUseID),
				Name:      aws.String(b.ToolUse.Name),
				Input:     document.NewLazyDocument(jsonDocument(b.ToolUse.Input)),
			}})

		case b.ToolResult != nil:
			var content []types.ToolResultContentBlock
			for _, c := range b.ToolResult.Content {
				content = append(content, &types.ToolResultContentBlockMemberText{Value: c.Text})
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(b.ToolResult.ToolUseID),
				Content:   content,
			}})
		}
	}
	return msg
}

func toBedrockToolConfig(tc *toolConfig) *types.ToolConfiguration {
	var tools []types.Tool
	for _, t := range tc.Tools {
		spec := types.ToolSpecification{
			Name: aws.String(t.ToolSpec.Name),
			InputSchema: &types.ToolInputSchemaMemberJson{
				Value: document.NewLazyDocument(jsonDocument(t.ToolSpec.InputSchema.JSON)),
			},
		}
		if t.ToolSpec.Description != "" {
			spec.Description = aws.String(t.ToolSpec.Description)
		}
		tools = append(tools, &types.ToolMemberToolSpec{Value: spec})
	}
	return &types.ToolConfiguration{Tools: tools}
}

// jsonDocument decodes raw JSON into a value a smithy document can carry.
// Anything that does not decode to an object becomes {}.
func jsonDocument(raw json.RawMessage) map[string]any {
	var v map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	if v == nil {
		v = map[string]any{}
	}
	return v
}

// Compile-time interface checks.
var (
	_ domain.LLMProvider          = (*BedrockSDKProvider)(nil)
	_ domain.StreamingLLMProvider = (*BedrockSDKProvider)(nil)
)
