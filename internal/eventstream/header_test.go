package eventstream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allValueHeaders() Headers {
	return Headers{
		{Name: "t", Value: BoolValue(true)},
		{Name: "f", Value: BoolValue(false)},
		{Name: "i8", Value: Int8Value(-7)},
		{Name: "i16", Value: Int16Value(-32768)},
		{Name: "i32", Value: Int32Value(2147483647)},
		{Name: "i64", Value: Int64Value(-1)},
		{Name: "raw", Value: BytesValue{0x00, 0xFF, 0x10}},
		{Name: "str", Value: StringValue("héllo")},
		{Name: "ts", Value: NewTimestamp(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC))},
		{Name: "id", Value: UUIDValue("deadbeef-0102-0304-0506-0708090a0b0c")},
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	in := allValueHeaders()
	b, err := EncodeHeaders(in)
	require.NoError(t, err)

	out, err := DecodeHeaders(b)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Name, out[i].Name)
		assert.Equal(t, in[i].Value.Type(), out[i].Value.Type(), "header %s", in[i].Name)
		assert.Equal(t, in[i].Value, out[i].Value, "header %s", in[i].Name)
	}
}

func TestDecodeHeadersLowercasesNames(t *testing.T) {
	b, err := EncodeHeaders(Headers{{Name: ":Event-Type", Value: StringValue("metadata")}})
	require.NoError(t, err)

	hs, err := DecodeHeaders(b)
	require.NoError(t, err)
	assert.Equal(t, ":event-type", hs[0].Name)
	assert.Equal(t, "metadata", hs.GetString(":EVENT-TYPE"))
}

func TestDecodeHeadersInt8SignExtends(t *testing.T) {
	b := []byte{1, 'x', byte(TypeInt8), 0xFE}
	hs, err := DecodeHeaders(b)
	require.NoError(t, err)
	assert.Equal(t, Int8Value(-2), hs[0].Value)
}

func TestDecodeHeadersTimestampIsSeconds(t *testing.T) {
	b := []byte{2, 't', 's', byte(TypeTimestamp), 0, 0, 0, 0, 0x65, 0x92, 0x00, 0x80}
	hs, err := DecodeHeaders(b)
	require.NoError(t, err)

	ts, ok := hs[0].Value.(TimestampValue)
	require.True(t, ok)
	assert.Equal(t, int64(0x65920080), ts.Unix())
	assert.Equal(t, time.UTC, ts.Location())
}

func TestDecodeHeadersUnknownType(t *testing.T) {
	b := []byte{1, 'x', 10}
	_, err := DecodeHeaders(b)
	assert.True(t, errors.Is(err, ErrProtocolViolation), "err = %v", err)
}

func TestDecodeHeadersTruncated(t *testing.T) {
	full, err := EncodeHeaders(allValueHeaders())
	require.NoError(t, err)

	// Every strict prefix that stops inside a header must fail; none may be
	// silently accepted as a shorter header list.
	boundaries := map[int]bool{0: true}
	off := 0
	for _, h := range allValueHeaders() {
		one, err := EncodeHeaders(Headers{h})
		require.NoError(t, err)
		off += len(one)
		boundaries[off] = true
	}
	for n := 1; n < len(full); n++ {
		if boundaries[n] {
			continue
		}
		_, err := DecodeHeaders(full[:n])
		assert.Errorf(t, err, "prefix %d decoded without error", n)
		assert.Truef(t, errors.Is(err, ErrMalformedInput), "prefix %d: %v", n, err)
	}
}

func TestDecodeHeadersInvalidUTF8(t *testing.T) {
	b := []byte{1, 's', byte(TypeString), 0, 2, 0xC3, 0x28}
	_, err := DecodeHeaders(b)
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestDecodeHeadersBytesAreCopied(t *testing.T) {
	b := []byte{1, 'b', byte(TypeBytes), 0, 2, 0xAA, 0xBB}
	hs, err := DecodeHeaders(b)
	require.NoError(t, err)
	b[5] = 0x00
	assert.Equal(t, BytesValue{0xAA, 0xBB}, hs[0].Value)
}

func TestDecodeHeadersEmptyName(t *testing.T) {
	b := []byte{0, byte(TypeBoolTrue), 1, 'x', byte(TypeInt8), 0xFE}
	hs, err := DecodeHeaders(b)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "", hs[0].Name)
	assert.Equal(t, BoolValue(true), hs[0].Value)
	v, ok := hs.Get("x")
	require.True(t, ok)
	assert.Equal(t, Int8Value(-2), v)

	_, err = DecodeHeaders([]byte{0})
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestEncodeHeadersRejectsBadValues(t *testing.T) {
	_, err := EncodeHeaders(Headers{{Name: "", Value: BoolValue(true)}})
	assert.Error(t, err)

	_, err = EncodeHeaders(Headers{{Name: "id", Value: UUIDValue("not-a-uuid")}})
	assert.Error(t, err)

	_, err = EncodeHeaders(Headers{{Name: "nil"}})
	assert.Error(t, err)
}

func TestHeaderValueStrings(t *testing.T) {
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "-5", Int16Value(-5).String())
	assert.Equal(t, "2024-05-01T12:30:00Z", NewTimestamp(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)).String())
	assert.Equal(t, "uuid", TypeUUID.String())
	assert.Equal(t, "unknown(42)", HeaderType(42).String())
}
