package eventstream

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event-stream codec.
var (
	// ErrIncomplete signals that the buffer does not yet hold a whole frame.
	// It is a suspension signal, not a failure: retry once more bytes arrive.
	ErrIncomplete = errors.New("eventstream: incomplete frame")

	ErrProtocolViolation = errors.New("eventstream: protocol violation")
	ErrMalformedInput    = errors.New("eventstream: malformed input")
	ErrChecksumMismatch  = errors.New("eventstream: checksum mismatch")
	ErrTruncatedStream   = errors.New("eventstream: stream ended mid-frame")
)

// ProtocolError wraps a codec sentinel with the operation and the byte offset
// (relative to the decoder's buffer) at which it was detected.
type ProtocolError struct {
	Op     string
	Offset int
	Err    error
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s at offset %d: %s: %s", e.Op, e.Offset, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s at offset %d: %s", e.Op, e.Offset, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func violation(op string, offset int, format string, args ...any) error {
	return &ProtocolError{Op: op, Offset: offset, Err: ErrProtocolViolation, Detail: fmt.Sprintf(format, args...)}
}

func malformed(op string, offset int, format string, args ...any) error {
	return &ProtocolError{Op: op, Offset: offset, Err: ErrMalformedInput, Detail: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must abort the stream. Everything except
// ErrIncomplete is fatal; frame boundaries cannot be trusted after a failure.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrIncomplete)
}
