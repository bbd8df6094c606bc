package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"converse-stream/internal/adapter/llm"
	"converse-stream/internal/adapter/transcript"
	"converse-stream/internal/converse"
	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
	"converse-stream/internal/infra/logger"
	"converse-stream/internal/infra/tracer"
)

func newChatCmd(opts *options) *cobra.Command {
	var (
		system       string
		model        string
		showThinking bool
		timeout      time.Duration
		retry        retryPolicy
	)
	cmd := &cobra.Command{
		Use:   "chat PROMPT",
		Short: "Stream one conversation turn through the configured provider",
		Long: `Chat sends PROMPT to the selected Bedrock provider and prints the answer
as it streams. Usage and stop reason go to stderr. When storage is enabled
the completed turn is saved and can be listed with 'convstream history'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			log, closeLog, err := logger.New(cfg.Logger)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			shutdown, err := tracer.Setup(ctx, cfg.Tracer)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			name := opts.providerName(cfg)
			_, provider, err := llm.Build(ctx, cfg, name, log)
			if err != nil {
				return err
			}
			if model == "" {
				if pc, ok := cfg.Provider(name); ok {
					model = pc.Model
				}
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			prompt := strings.Join(args, " ")
			req := domain.ChatRequest{Model: model}
			if system != "" {
				req.Messages = append(req.Messages, domain.Message{Role: domain.RoleSystem, Content: system})
			}
			req.Messages = append(req.Messages, domain.Message{Role: domain.RoleUser, Content: prompt, Timestamp: time.Now()})

			var thinking io.Writer
			if showThinking {
				thinking = cmd.ErrOrStderr()
			}
			resp, err := streamChat(ctx, provider, req, cmd.OutOrStdout(), thinking, retry, log)
			if err != nil {
				return fmt.Errorf("chat: %w (%s)", err, domain.ErrorCodeOf(err))
			}
			printTurnSummary(cmd.ErrOrStderr(), resp)

			if !cfg.Storage.Enabled {
				return nil
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			t := domain.NewTranscript(resp.ID, provider.Name(), prompt, resp)
			if err := store.Save(ctx, t); err != nil {
				return err
			}
			log.Debug("transcript saved", "id", t.ID, "path", cfg.Storage.Path)
			fmt.Fprintf(cmd.ErrOrStderr(), "saved transcript %s\n", t.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&system, "system", "", "system prompt")
	f.StringVar(&model, "model", "", "model id (default: the provider's model)")
	f.BoolVar(&showThinking, "thinking", false, "print model reasoning to stderr")
	f.DurationVar(&timeout, "timeout", 0, "overall deadline for the turn (0 = none)")
	f.IntVar(&retry.attempts, "retries", 0, "retry rate-limited or unavailable providers this many times")
	f.DurationVar(&retry.wait, "retry-wait", time.Second, "pause before the first retry, doubled for each later one")
	return cmd
}

// countingWriter records how many bytes reached w.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

// retryPolicy retries transient provider failures that happen before any
// content reached the terminal.
type retryPolicy struct {
	attempts int
	wait     time.Duration
}

// backoff is the pause before retry number attempt (0-based), doubling each time.
func (r retryPolicy) backoff(attempt int) time.Duration {
	return r.wait << attempt
}

// streamChat prints content deltas to out (and reasoning to thinking, when
// set) and returns the assembled response once the final delta arrives.
// Retryable errors are retried while nothing has been printed yet.
func streamChat(ctx context.Context, p domain.StreamingLLMProvider, req domain.ChatRequest, out, thinking io.Writer, retry retryPolicy, log *slog.Logger) (*domain.ChatResponse, error) {
	for attempt := 0; ; attempt++ {
		text := &countingWriter{w: out}
		resp, err := streamOnce(ctx, p, req, text, thinking)
		if text.n > 0 {
			fmt.Fprintln(out)
		}
		if err == nil {
			return resp, nil
		}
		if attempt >= retry.attempts || text.n > 0 || !domain.IsRetryableError(err) {
			return nil, err
		}

		wait := retry.backoff(attempt)
		log.Warn("chat attempt failed, retrying",
			"attempt", attempt+1,
			"wait", wait,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func streamOnce(ctx context.Context, p domain.StreamingLLMProvider, req domain.ChatRequest, out, thinking io.Writer) (*domain.ChatResponse, error) {
	ch, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := llm.CollectStream(ctx, ch, req.Model, out, thinking)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = converse.NewSessionID()
	}
	return resp, nil
}

func printTurnSummary(w io.Writer, resp *domain.ChatResponse) {
	for _, tc := range resp.Message.ToolCalls {
		fmt.Fprintf(w, "tool call %s %s %s\n", tc.ID, tc.Name, tc.Arguments)
	}
	fmt.Fprintf(w, "[stop=%s in=%d out=%d latency=%dms]\n",
		resp.StopReason, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.LatencyMs)
}

func openStore(cfg *config.Config) (*transcript.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return transcript.NewSQLiteStore(cfg.Storage.Path)
}
