package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.opentelemetry.io/otel/trace"

	"converse-stream/internal/converse"
	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
	"converse-stream/internal/infra/tracer"
)

const (
	signingService      = "bedrock"
	eventStreamMimeType = "application/vnd.amazon.eventstream"
	defaultRegion       = "us-east-1"
	defaultChunkSize    = 32 * 1024
)

// BedrockProvider implements domain.StreamingLLMProvider by calling the
// ConverseStream REST endpoint directly and decoding the event-stream body
// with internal/eventstream.
type BedrockProvider struct {
	name     string
	model    string
	region   string
	endpoint string
	client   *http.Client
	creds    aws.CredentialsProvider
	signer   *v4.Signer
	stream   config.StreamConfig
	defaults requestDefaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewBedrockProvider creates an HTTP-transport provider. Static credentials
// from cfg win; otherwise the AWS default chain (optionally a named profile)
// is used.
func NewBedrockProvider(ctx context.Context, cfg config.ProviderConfig, stream config.StreamConfig, logger *slog.Logger) (*BedrockProvider, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newBedrockProvider(cfg, stream, awsCfg.Credentials, NewHTTPClient(cfg), logger), nil
}

// newBedrockProvider creates a BedrockProvider with injected credentials and client.
func newBedrockProvider(cfg config.ProviderConfig, stream config.StreamConfig, creds aws.CredentialsProvider, client *http.Client, logger *slog.Logger) *BedrockProvider {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
	}
	return &BedrockProvider{
		name:     cfg.Name,
		model:    cfg.Model,
		region:   region,
		endpoint: endpoint,
		client:   client,
		creds:    creds,
		signer:   v4.NewSigner(),
		stream:   stream,
		defaults: requestDefaults{
			MaxTokens:      cfg.MaxTokens,
			Temperature:    cfg.Temperature,
			ThinkingBudget: cfg.ThinkingBudget,
		},
		logger: logger,
		now:    time.Now,
	}
}

// loadAWSConfig resolves region and credentials for a provider.
func loadAWSConfig(ctx context.Context, cfg config.ProviderConfig) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	switch {
	case cfg.AccessKeyID != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	case cfg.Profile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// Chat implements domain.LLMProvider by collecting the stream.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
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
func (p *BedrockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.StringAttr("llm.transport", config.TransportHTTP),
		),
	)

	resp, err := p.open(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	sess := converse.NewSession(converse.Options{
		VerifyChecksums: p.stream.VerifyChecksums,
		MaxFrameSize:    p.stream.MaxFrameSize,
		Logger:          p.logger,
	})
	span.SetAttributes(tracer.StringAttr("llm.session_id", sess.ID()))

	ch := make(chan domain.StreamDelta, streamBuffer)
	go func() {
		defer close(ch)
		defer span.End()
		defer resp.Body.Close()

		last, ok := p.pump(ctx, ch, resp.Body, sess)
		span.SetAttributes(
			tracer.IntAttr("eventstream.frames", sess.Frames()),
			tracer.IntAttr("converse.events", sess.Events()),
		)
		if !ok {
			tracer.RecordError(span, ctx.Err())
			return
		}
		endStream(ctx, ch, span, p.logger, p.name, req.Model, last)
	}()

	return ch, nil
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

// open sends the signed ConverseStream request and returns the response
// once its status is known to be 200.
func (p *BedrockProvider) open(ctx context.Context, req domain.ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(toConverseRequest(req, p.defaults))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.streamURL(req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", eventStreamMimeType)

	creds, err := p.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve credentials: %v", domain.ErrAuthInvalid, err)
	}
	sum := sha256.Sum256(body)
	if err := p.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), signingService, p.region, p.now()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, mapHTTPError(resp.StatusCode, resp.Header.Get("X-Amzn-Errortype"), respBody)
	}
	return resp, nil
}

// streamURL builds /model/{modelId}/converse-stream. Model ids contain ':'
// which Bedrock expects percent-encoded.
func (p *BedrockProvider) streamURL(model string) string {
	escaped := strings.ReplaceAll(url.PathEscape(model), ":", "%3A")
	return p.endpoint + "/model/" + escaped + "/converse-stream"
}

// pump reads the body in chunks and feeds the session. ok is false when the
// consumer went away; otherwise last is the delta that ends the stream.
func (p *BedrockProvider) pump(ctx context.Context, ch chan<- domain.StreamDelta, body io.Reader, sess *converse.Session) (last domain.StreamDelta, ok bool) {
	size := p.stream.ReadChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	buf := make([]byte, size)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			frags, err := sess.Feed(buf[:n])
			if !sendFragments(ctx, ch, frags) {
				return domain.StreamDelta{}, false
			}
			if err != nil {
				return failedDelta(sess.ID(), mapStreamError(err)), true
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return domain.StreamDelta{}, false
			}
			return failedDelta(sess.ID(), fmt.Errorf("%w: read body: %w", domain.ErrStreamTruncated, rerr)), true
		}
	}

	if err := sess.Close(); err != nil {
		return failedDelta(sess.ID(), mapStreamError(err)), true
	}
	if !sess.Done() {
		return failedDelta(sess.ID(), fmt.Errorf("%w: body ended after %d frames without messageStop",
			domain.ErrStreamTruncated, sess.Frames())), true
	}
	return finalDelta(sess.ID(), sess.Result()), true
}

func failedDelta(sessionID string, err error) domain.StreamDelta {
	return domain.StreamDelta{SessionID: sessionID, Err: err}
}

// Compile-time interface checks.
var (
	_ domain.LLMProvider          = (*BedrockProvider)(nil)
	_ domain.StreamingLLMProvider = (*BedrockProvider)(nil)
)
