// Package eventstream decodes the length-prefixed binary event-stream framing
// used by Bedrock streaming responses: a 12-byte prelude, typed headers, a JSON
// payload and a trailing CRC32.
package eventstream

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	PreludeLen  = 12
	ChecksumLen = 4
	// MinFrameLen is a frame with no headers and an empty payload.
	MinFrameLen = PreludeLen + ChecksumLen

	DefaultMaxFrameSize = 16 * 1024 * 1024

	ContentTypeJSON = "application/json"
)

// Well-known header names.
const (
	HeaderMessageType   = ":message-type"
	HeaderEventType     = ":event-type"
	HeaderContentType   = ":content-type"
	HeaderExceptionType = ":exception-type"
	HeaderErrorCode     = ":error-code"
	HeaderErrorMessage  = ":error-message"
)

// Prelude is the fixed frame header.
type Prelude struct {
	TotalLength   uint32
	HeadersLength uint32
	PreludeCRC    uint32
}

// PayloadLength is the byte count the JSON payload must occupy.
func (p Prelude) PayloadLength() int {
	return int(p.TotalLength) - int(p.HeadersLength) - MinFrameLen
}

// Frame is one fully validated wire message.
type Frame struct {
	Headers Headers
	Payload json.RawMessage
}

func (f Frame) MessageType() string { return f.Headers.GetString(HeaderMessageType) }
func (f Frame) EventType() string   { return f.Headers.GetString(HeaderEventType) }
func (f Frame) ContentType() string { return f.Headers.GetString(HeaderContentType) }

// FrameReader extracts frames from a byte buffer at a caller-owned cursor.
// The zero value skips checksum verification and uses DefaultMaxFrameSize.
type FrameReader struct {
	VerifyChecksums bool
	MaxFrameSize    uint32
}

// TryReadFrame reads one frame at cursor with checksum verification enabled.
func TryReadFrame(buf []byte, cursor int) (Frame, int, error) {
	return FrameReader{VerifyChecksums: true}.TryRead(buf, cursor)
}

// TryRead extracts the frame starting at buf[cursor]. On success it returns the
// frame and the cursor just past it. When the buffer does not yet hold the
// whole frame it returns ErrIncomplete and the cursor unchanged. Any other
// error is fatal for the stream.
func (r FrameReader) TryRead(buf []byte, cursor int) (Frame, int, error) {
	if cursor < 0 || cursor > len(buf) {
		return Frame{}, cursor, malformed("read frame", cursor, "cursor outside buffer of %d bytes", len(buf))
	}
	avail := buf[cursor:]
	if len(avail) < PreludeLen {
		return Frame{}, cursor, ErrIncomplete
	}

	p := Prelude{
		TotalLength:   binary.BigEndian.Uint32(avail[0:4]),
		HeadersLength: binary.BigEndian.Uint32(avail[4:8]),
		PreludeCRC:    binary.BigEndian.Uint32(avail[8:12]),
	}
	if r.VerifyChecksums {
		if got := crc32.ChecksumIEEE(avail[:8]); got != p.PreludeCRC {
			return Frame{}, cursor, &ProtocolError{Op: "read prelude", Offset: cursor, Err: ErrChecksumMismatch,
				Detail: crcDetail("prelude", p.PreludeCRC, got)}
		}
	}
	if err := r.checkPrelude(p, cursor); err != nil {
		return Frame{}, cursor, err
	}

	total := int(p.TotalLength)
	if len(avail) < total {
		return Frame{}, cursor, ErrIncomplete
	}
	raw := avail[:total]

	if r.VerifyChecksums {
		want := binary.BigEndian.Uint32(raw[total-ChecksumLen:])
		if got := crc32.ChecksumIEEE(raw[:total-ChecksumLen]); got != want {
			return Frame{}, cursor, &ProtocolError{Op: "read frame", Offset: cursor, Err: ErrChecksumMismatch,
				Detail: crcDetail("message", want, got)}
		}
	}

	headersEnd := PreludeLen + int(p.HeadersLength)
	headers, err := DecodeHeaders(raw[PreludeLen:headersEnd])
	if err != nil {
		return Frame{}, cursor, rebase(err, cursor+PreludeLen)
	}

	if ct := headers.GetString(HeaderContentType); ct != ContentTypeJSON {
		return Frame{}, cursor, violation("read frame", cursor, "content type %q, want %q", ct, ContentTypeJSON)
	}

	payload, err := decodePayload(raw[headersEnd:total-ChecksumLen], cursor+headersEnd)
	if err != nil {
		return Frame{}, cursor, err
	}

	return Frame{Headers: headers, Payload: payload}, cursor + total, nil
}

func (r FrameReader) checkPrelude(p Prelude, cursor int) error {
	maxSize := r.MaxFrameSize
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	if uint64(p.TotalLength) < uint64(p.HeadersLength)+MinFrameLen {
		return violation("read prelude", cursor, "total length %d cannot hold %d header bytes", p.TotalLength, p.HeadersLength)
	}
	if p.TotalLength > maxSize {
		return violation("read prelude", cursor, "total length %d exceeds limit %d", p.TotalLength, maxSize)
	}
	return nil
}

// decodePayload parses exactly one JSON object that must span all of b.
func decodePayload(b []byte, offset int) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, violation("read payload", offset, "payload of %d bytes is not valid JSON: %v", len(b), err)
	}
	if consumed := dec.InputOffset(); consumed != int64(len(b)) {
		return nil, violation("read payload", offset, "JSON consumed %d bytes, frame declares %d", consumed, len(b))
	}
	if raw[0] != '{' {
		return nil, violation("read payload", offset, "payload is not a JSON object")
	}
	return raw, nil
}

func rebase(err error, base int) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		pe.Offset += base
	}
	return err
}

func crcDetail(which string, want, got uint32) string {
	return fmt.Sprintf("%s crc %#08x, computed %#08x", which, want, got)
}
