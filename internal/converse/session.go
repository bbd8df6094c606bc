package converse

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"converse-stream/internal/eventstream"
)

// Options configures a Session.
type Options struct {
	VerifyChecksums bool
	MaxFrameSize    uint32
	Logger          *slog.Logger
}

// Session decodes one streaming response. Callers feed it raw body chunks as
// they arrive; it owns the frame buffer, the cursor and the StreamState.
// A Session is not safe for concurrent use; each response gets its own.
type Session struct {
	id     string
	dec    *eventstream.Decoder
	state  *State
	logger *slog.Logger

	err    error
	frames int
	bytes  int64
}

func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := NewSessionID()
	return &Session{
		id: id,
		dec: eventstream.NewDecoder(eventstream.FrameReader{
			VerifyChecksums: opts.VerifyChecksums,
			MaxFrameSize:    opts.MaxFrameSize,
		}),
		state:  NewState(),
		logger: logger.With("session_id", id),
	}
}

func (s *Session) ID() string { return s.id }

// Feed appends chunk and applies every frame that is now complete. It returns
// the fragments produced by those frames. A fatal error ends the session:
// fragments from frames decoded before the failure are still returned, and
// every later call returns the same error.
func (s *Session) Feed(chunk []byte) ([]Fragment, error) {
	if s.err != nil {
		return nil, s.err
	}
	_, _ = s.dec.Write(chunk)
	s.bytes += int64(len(chunk))

	var out []Fragment
	for {
		f, err := s.dec.Next()
		if errors.Is(err, eventstream.ErrIncomplete) {
			return out, nil
		}
		if err != nil {
			return out, s.fail(err)
		}
		ev, err := DecodeEvent(f)
		if err != nil {
			return out, s.fail(err)
		}
		s.frames++
		if u, ok := ev.(*Unknown); ok {
			s.logger.Debug("ignoring unknown event", "event_type", u.Name)
		}
		out = append(out, s.state.Apply(ev)...)
	}
}

func (s *Session) fail(err error) error {
	s.err = err
	s.logger.Warn("event stream aborted",
		"error", err,
		"frames", s.frames,
		"bytes", s.bytes,
	)
	return err
}

// Done reports whether the terminal messageStop event has been seen.
func (s *Session) Done() bool { return s.state.Terminal() }

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error { return s.err }

// Frames is the number of frames applied so far.
func (s *Session) Frames() int { return s.frames }

// Events is the number of events folded into the state, unknown ones included.
func (s *Session) Events() int { return s.state.Events() }

func (s *Session) Result() Result { return s.state.Result() }

// Close marks the end of input. Bytes still buffered at that point are a
// frame cut off by the transport, reported as ErrTruncatedStream.
func (s *Session) Close() error {
	if s.err != nil {
		return s.err
	}
	if n := s.dec.Buffered(); n > 0 {
		return s.fail(fmt.Errorf("%w: %d bytes left after frame %d", eventstream.ErrTruncatedStream, n, s.frames))
	}
	s.logger.Debug("event stream closed",
		"frames", s.frames,
		"bytes", s.bytes,
		"terminal", s.state.Terminal(),
	)
	return nil
}

// NewSessionID returns a new lexically sortable session identifier.
func NewSessionID() string {
	return ulid.Make().String()
}
