package eventstream

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// craftFrame builds a frame whose prelude declares total and headersLen
// regardless of the actual body. Both checksums are computed over the
// resulting bytes so strict readers get past CRC checks.
func craftFrame(t *testing.T, total, headersLen uint32, body []byte) []byte {
	t.Helper()
	out := make([]byte, 0, 12+len(body)+4)
	out = binary.BigEndian.AppendUint32(out, total)
	out = binary.BigEndian.AppendUint32(out, headersLen)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[:8]))
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out))
}

func mustEncodeEvent(t *testing.T, eventType string, payload any) []byte {
	t.Helper()
	b, err := EncodeEvent(eventType, payload)
	require.NoError(t, err)
	return b
}

func TestTryReadFrameRoundTrip(t *testing.T) {
	headers := append(EventHeaders("contentBlockDelta"), allValueHeaders()...)
	frame, err := EncodeFrame(headers, []byte(`{"delta":{"text":"hi"}}`))
	require.NoError(t, err)

	got, next, err := TryReadFrame(frame, 0)
	require.NoError(t, err)
	assert.Equal(t, len(frame), next)
	assert.Equal(t, headers, got.Headers)
	assert.JSONEq(t, `{"delta":{"text":"hi"}}`, string(got.Payload))
	assert.Equal(t, "contentBlockDelta", got.EventType())
	assert.Equal(t, "event", got.MessageType())
	assert.Equal(t, ContentTypeJSON, got.ContentType())
}

func TestTryReadFrameAtCursor(t *testing.T) {
	a := mustEncodeEvent(t, "messageStart", map[string]string{"role": "assistant"})
	b := mustEncodeEvent(t, "messageStop", map[string]string{"stopReason": "end_turn"})
	buf := append(append([]byte{}, a...), b...)

	f1, next, err := TryReadFrame(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "messageStart", f1.EventType())
	assert.Equal(t, len(a), next)

	f2, next, err := TryReadFrame(buf, next)
	require.NoError(t, err)
	assert.Equal(t, "messageStop", f2.EventType())
	assert.Equal(t, len(buf), next)

	_, same, err := TryReadFrame(buf, next)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, next, same)
}

func TestTryReadFrameByteAtATime(t *testing.T) {
	frame := mustEncodeEvent(t, "contentBlockDelta", map[string]any{"delta": map[string]string{"text": "Hello"}})

	buf := make([]byte, 0, len(frame))
	for i := 0; i < len(frame)-1; i++ {
		buf = append(buf, frame[i])
		_, cursor, err := TryReadFrame(buf, 0)
		require.ErrorIsf(t, err, ErrIncomplete, "after %d bytes", i+1)
		require.Equal(t, 0, cursor)
	}

	buf = append(buf, frame[len(frame)-1])
	got, cursor, err := TryReadFrame(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(frame), cursor)
	assert.Equal(t, "contentBlockDelta", got.EventType())
}

func TestTryReadFrameRejectsWrongContentType(t *testing.T) {
	headers := Headers{
		{Name: HeaderEventType, Value: StringValue("contentBlockDelta")},
		{Name: HeaderContentType, Value: StringValue("text/plain")},
		{Name: HeaderMessageType, Value: StringValue("event")},
	}
	frame, err := EncodeFrame(headers, []byte(`{}`))
	require.NoError(t, err)

	_, cursor, err := TryReadFrame(frame, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.NotErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 0, cursor)
	assert.True(t, IsFatal(err))
}

func TestTryReadFrameLengthMismatchIsFatal(t *testing.T) {
	hb, err := EncodeHeaders(EventHeaders("metadata"))
	require.NoError(t, err)

	// The declared payload region is three bytes longer than the JSON value.
	body := append(append([]byte{}, hb...), []byte(`{"a":1}xyz`)...)
	frame := craftFrame(t, uint32(12+len(body)+4), uint32(len(hb)), body)

	for _, r := range []FrameReader{{}, {VerifyChecksums: true}} {
		_, cursor, err := r.TryRead(frame, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProtocolViolation)
		assert.NotErrorIs(t, err, ErrIncomplete)
		assert.Equal(t, 0, cursor)
	}
}

func TestTryReadFrameTruncatedJSONIsFatal(t *testing.T) {
	hb, err := EncodeHeaders(EventHeaders("metadata"))
	require.NoError(t, err)

	body := append(append([]byte{}, hb...), []byte(`{"a":`)...)
	frame := craftFrame(t, uint32(12+len(body)+4), uint32(len(hb)), body)

	_, _, err = FrameReader{}.TryRead(frame, 0)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestTryReadFrameNonObjectPayload(t *testing.T) {
	for _, payload := range []string{`[1,2]`, `"text"`, `42`, ``} {
		frame, err := EncodeFrame(EventHeaders("metadata"), []byte(payload))
		require.NoError(t, err)

		_, _, err = TryReadFrame(frame, 0)
		assert.ErrorIsf(t, err, ErrProtocolViolation, "payload %q", payload)
	}
}

func TestTryReadFrameBadPrelude(t *testing.T) {
	t.Run("total shorter than headers", func(t *testing.T) {
		frame := craftFrame(t, 20, 10, make([]byte, 4))
		_, _, err := TryReadFrame(frame, 0)
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("over size limit does not wait for bytes", func(t *testing.T) {
		prelude := binary.BigEndian.AppendUint32(nil, 1<<20)
		prelude = binary.BigEndian.AppendUint32(prelude, 0)
		prelude = binary.BigEndian.AppendUint32(prelude, crc32.ChecksumIEEE(prelude))

		_, _, err := FrameReader{MaxFrameSize: 1024}.TryRead(prelude, 0)
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})
}

func TestTryReadFrameChecksums(t *testing.T) {
	frame := mustEncodeEvent(t, "messageStop", map[string]string{"stopReason": "end_turn"})

	t.Run("message crc", func(t *testing.T) {
		bad := append([]byte{}, frame...)
		bad[len(bad)-1] ^= 0xFF

		_, _, err := FrameReader{VerifyChecksums: true}.TryRead(bad, 0)
		assert.ErrorIs(t, err, ErrChecksumMismatch)

		f, _, err := FrameReader{}.TryRead(bad, 0)
		require.NoError(t, err, "lenient reader ignores checksums")
		assert.Equal(t, "messageStop", f.EventType())
	})

	t.Run("prelude crc", func(t *testing.T) {
		bad := append([]byte{}, frame...)
		bad[9] ^= 0x01

		_, _, err := FrameReader{VerifyChecksums: true}.TryRead(bad, 0)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})
}

func TestTryReadFrameHeaderErrorsCarryOffset(t *testing.T) {
	body := []byte{1, 'x', 42, '{', '}'}
	frame := craftFrame(t, uint32(12+len(body)+4), 3, body)
	buf := append(make([]byte, 5), frame...)

	_, _, err := TryReadFrame(buf, 5)
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, 5+12+2, pe.Offset)
}

func TestTryReadFrameCursorOutOfRange(t *testing.T) {
	_, _, err := TryReadFrame([]byte{1, 2}, 3)
	assert.ErrorIs(t, err, ErrMalformedInput)
}
