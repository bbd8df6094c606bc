package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"converse-stream/internal/eventstream"
)

const maxLineSize = 16 * 1024 * 1024

// encodeLine is one JSON line of encode input. Exactly one of Event and
// Exception names the frame.
type encodeLine struct {
	Event     string          `json:"event"`
	Exception string          `json:"exception"`
	Payload   json.RawMessage `json:"payload"`
}

func newEncodeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "encode FILE|-",
		Short: "Build an event-stream body from JSON lines",
		Long: `Encode turns JSON lines such as

  {"event": "contentBlockDelta", "payload": {"contentBlockIndex": 0, "delta": {"text": "Hi"}}}
  {"exception": "throttlingException", "payload": {"message": "slow down"}}

into binary event-stream frames with valid checksums. Blank lines and lines
starting with # are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer closeIn()

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			n, err := encodeLines(in, out)
			if err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d frames to %s\n", n, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

// encodeLines writes one frame per input line and returns the frame count.
func encodeLines(r io.Reader, w io.Writer) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	bw := bufio.NewWriter(w)

	frames := 0
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		frame, err := encodeFrameLine(line)
		if err != nil {
			return frames, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, err := bw.Write(frame); err != nil {
			return frames, err
		}
		frames++
	}
	if err := sc.Err(); err != nil {
		return frames, fmt.Errorf("read input: %w", err)
	}
	return frames, bw.Flush()
}

func encodeFrameLine(line []byte) ([]byte, error) {
	var l encodeLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, fmt.Errorf("parse line: %w", err)
	}

	var headers eventstream.Headers
	switch {
	case l.Event != "" && l.Exception != "":
		return nil, fmt.Errorf("both event %q and exception %q set", l.Event, l.Exception)
	case l.Event != "":
		headers = eventstream.EventHeaders(l.Event)
	case l.Exception != "":
		headers = eventstream.Headers{
			{Name: eventstream.HeaderExceptionType, Value: eventstream.StringValue(l.Exception)},
			{Name: eventstream.HeaderContentType, Value: eventstream.StringValue(eventstream.ContentTypeJSON)},
			{Name: eventstream.HeaderMessageType, Value: eventstream.StringValue("exception")},
		}
	default:
		return nil, fmt.Errorf("missing event or exception name")
	}

	payload := []byte("{}")
	if len(l.Payload) > 0 && !bytes.Equal(l.Payload, []byte("null")) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, l.Payload); err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		if compact.Bytes()[0] != '{' {
			return nil, fmt.Errorf("payload must be a JSON object")
		}
		payload = compact.Bytes()
	}
	return eventstream.EncodeFrame(headers, payload)
}
