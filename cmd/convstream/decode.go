package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"converse-stream/internal/converse"
	"converse-stream/internal/eventstream"
	"converse-stream/internal/infra/logger"
)

// decodeSummary is printed by decode --json.
type decodeSummary struct {
	SessionID string `json:"session_id"`
	Frames    int    `json:"frames"`
	Complete  bool   `json:"complete"`
	converse.Result
	Error string `json:"error,omitempty"`
}

func newDecodeCmd(opts *options) *cobra.Command {
	var (
		chunkSize int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "decode FILE|-",
		Short: "Decode a captured ConverseStream response body",
		Long: `Decode reads a raw application/vnd.amazon.eventstream body, feeds it to
the decoder in chunks of --chunk-size bytes and prints the answer text as it
is assembled. Reasoning goes to stderr. With --json only a summary of the
aggregated result is printed.`,
		Args: cobra.ExactArgs(1),
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

			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer closeIn()

			if chunkSize <= 0 {
				chunkSize = cfg.Stream.ReadChunkSize
			}
			d := decodeRun{
				session: converse.NewSession(converse.Options{
					VerifyChecksums: cfg.Stream.VerifyChecksums,
					MaxFrameSize:    cfg.Stream.MaxFrameSize,
					Logger:          log,
				}),
				chunkSize: chunkSize,
				logger:    log,
			}
			if !asJSON {
				d.text = cmd.OutOrStdout()
				d.reasoning = cmd.ErrOrStderr()
			}

			streamErr := d.run(in)
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), d.summary(streamErr)); err != nil {
					return err
				}
			} else if d.session.Frames() > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			if streamErr != nil {
				return fmt.Errorf("decode: %w", streamErr)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "bytes fed to the decoder per read (default: stream.read_chunk_size)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON summary instead of live text")
	return cmd
}

type decodeRun struct {
	session   *converse.Session
	chunkSize int
	text      io.Writer
	reasoning io.Writer
	logger    *slog.Logger
}

// run feeds r to the session until EOF or the first fatal error. A body that
// ends cleanly without messageStop is reported as truncated.
func (d *decodeRun) run(r io.Reader) error {
	buf := make([]byte, d.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			frags, ferr := d.session.Feed(buf[:n])
			d.print(frags)
			if ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}

	if err := d.session.Close(); err != nil {
		return err
	}
	if !d.session.Done() {
		return fmt.Errorf("%w: no messageStop after %d frames", eventstream.ErrTruncatedStream, d.session.Frames())
	}
	d.logger.Debug("decoded stream", "session_id", d.session.ID(), "frames", d.session.Frames())
	return nil
}

func (d *decodeRun) print(frags []converse.Fragment) {
	for _, f := range frags {
		switch {
		case f.Kind == converse.FragmentText && d.text != nil:
			fmt.Fprint(d.text, f.Text)
		case f.Kind == converse.FragmentReasoning && d.reasoning != nil:
			fmt.Fprint(d.reasoning, f.Text)
		}
	}
}

func (d *decodeRun) summary(err error) decodeSummary {
	s := decodeSummary{
		SessionID: d.session.ID(),
		Frames:    d.session.Frames(),
		Complete:  d.session.Done() && err == nil,
		Result:    d.session.Result(),
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
