package eventstream

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// HeaderType is the one-byte wire tag that precedes every header value.
type HeaderType uint8

const (
	TypeBoolTrue HeaderType = iota
	TypeBoolFalse
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeBytes
	TypeString
	TypeTimestamp
	TypeUUID
)

func (t HeaderType) String() string {
	switch t {
	case TypeBoolTrue:
		return "bool_true"
	case TypeBoolFalse:
		return "bool_false"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeBytes:
		return "bytes"
	case TypeString:
		return "string"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// HeaderValue is a typed header value. The set of implementations is closed;
// consumers switch on the concrete type.
type HeaderValue interface {
	Type() HeaderType
	String() string
	headerValue()
}

type (
	BoolValue   bool
	Int8Value   int8
	Int16Value  int16
	Int32Value  int32
	Int64Value  int64
	BytesValue  []byte
	StringValue string
	// UUIDValue holds the canonical lower-case text form.
	UUIDValue string
)

// TimestampValue is a whole-second UTC instant.
type TimestampValue struct{ time.Time }

func (v BoolValue) Type() HeaderType {
	if v {
		return TypeBoolTrue
	}
	return TypeBoolFalse
}
func (Int8Value) Type() HeaderType      { return TypeInt8 }
func (Int16Value) Type() HeaderType     { return TypeInt16 }
func (Int32Value) Type() HeaderType     { return TypeInt32 }
func (Int64Value) Type() HeaderType     { return TypeInt64 }
func (BytesValue) Type() HeaderType     { return TypeBytes }
func (StringValue) Type() HeaderType    { return TypeString }
func (TimestampValue) Type() HeaderType { return TypeTimestamp }
func (UUIDValue) Type() HeaderType      { return TypeUUID }

func (v BoolValue) String() string      { return strconv.FormatBool(bool(v)) }
func (v Int8Value) String() string      { return strconv.Itoa(int(v)) }
func (v Int16Value) String() string     { return strconv.Itoa(int(v)) }
func (v Int32Value) String() string     { return strconv.Itoa(int(v)) }
func (v Int64Value) String() string     { return strconv.FormatInt(int64(v), 10) }
func (v BytesValue) String() string     { return strconv.Quote(string(v)) }
func (v StringValue) String() string    { return string(v) }
func (v TimestampValue) String() string { return v.UTC().Format(time.RFC3339) }
func (v UUIDValue) String() string      { return string(v) }

func (BoolValue) headerValue()      {}
func (Int8Value) headerValue()      {}
func (Int16Value) headerValue()     {}
func (Int32Value) headerValue()     {}
func (Int64Value) headerValue()     {}
func (BytesValue) headerValue()     {}
func (StringValue) headerValue()    {}
func (TimestampValue) headerValue() {}
func (UUIDValue) headerValue()      {}

// NewTimestamp truncates t to whole seconds in UTC.
func NewTimestamp(t time.Time) TimestampValue {
	return TimestampValue{time.Unix(t.Unix(), 0).UTC()}
}

// Header is one decoded (name, value) pair. Names are stored lower-cased.
type Header struct {
	Name  string
	Value HeaderValue
}

// Headers preserves wire order.
type Headers []Header

// Get returns the first value whose name matches case-insensitively.
func (hs Headers) Get(name string) (HeaderValue, bool) {
	name = strings.ToLower(name)
	for _, h := range hs {
		if h.Name == name {
			return h.Value, true
		}
	}
	return nil, false
}

// GetString returns the named header if it is a string header, else "".
func (hs Headers) GetString(name string) string {
	v, ok := hs.Get(name)
	if !ok {
		return ""
	}
	if s, ok := v.(StringValue); ok {
		return string(s)
	}
	return ""
}

// DecodeHeaders parses a packed header section. The whole input must be
// consumed; leftovers and short reads are fatal. A zero-length name is
// accepted and decodes to "".
func DecodeHeaders(b []byte) (Headers, error) {
	var hs Headers
	off := 0
	for off < len(b) {
		nameLen := int(b[off])
		off++
		if off+nameLen > len(b) {
			return nil, malformed("decode headers", off, "header name needs %d bytes, have %d", nameLen, len(b)-off)
		}
		name := strings.ToLower(string(b[off : off+nameLen]))
		off += nameLen

		if off >= len(b) {
			return nil, malformed("decode headers", off, "header %q missing type tag", name)
		}
		tag := HeaderType(b[off])
		off++

		v, n, err := decodeValue(tag, b[off:], off)
		if err != nil {
			return nil, err
		}
		off += n
		hs = append(hs, Header{Name: name, Value: v})
	}
	return hs, nil
}

var fixedWidth = map[HeaderType]int{
	TypeInt8:      1,
	TypeInt16:     2,
	TypeInt32:     4,
	TypeInt64:     8,
	TypeTimestamp: 8,
	TypeUUID:      16,
}

// decodeValue reads one value of the given tag from the front of b and
// returns it with the number of bytes consumed. off is used for error context.
func decodeValue(tag HeaderType, b []byte, off int) (HeaderValue, int, error) {
	switch tag {
	case TypeBoolTrue:
		return BoolValue(true), 0, nil
	case TypeBoolFalse:
		return BoolValue(false), 0, nil
	case TypeBytes, TypeString:
		if len(b) < 2 {
			return nil, 0, malformed("decode headers", off, "%s length prefix truncated", tag)
		}
		n := int(binary.BigEndian.Uint16(b))
		if len(b) < 2+n {
			return nil, 0, malformed("decode headers", off, "%s value needs %d bytes, have %d", tag, n, len(b)-2)
		}
		raw := b[2 : 2+n]
		if tag == TypeString {
			if !utf8.Valid(raw) {
				return nil, 0, malformed("decode headers", off, "string value is not valid UTF-8")
			}
			return StringValue(raw), 2 + n, nil
		}
		return BytesValue(append([]byte(nil), raw...)), 2 + n, nil
	}

	width, ok := fixedWidth[tag]
	if !ok {
		return nil, 0, violation("decode headers", off-1, "unknown header type %d", uint8(tag))
	}
	if len(b) < width {
		return nil, 0, malformed("decode headers", off, "%s value needs %d bytes, have %d", tag, width, len(b))
	}

	switch tag {
	case TypeInt8:
		return Int8Value(int8(b[0])), 1, nil
	case TypeInt16:
		v, err := DecodeInt(b, 2)
		return Int16Value(v), 2, err
	case TypeInt32:
		v, err := DecodeInt(b, 4)
		return Int32Value(v), 4, err
	case TypeInt64:
		v, err := DecodeInt(b, 8)
		return Int64Value(v), 8, err
	case TypeTimestamp:
		secs, err := DecodeInt(b, 8)
		return TimestampValue{time.Unix(secs, 0).UTC()}, 8, err
	default: // TypeUUID
		s, err := DecodeUUID(b[:16])
		return UUIDValue(s), 16, err
	}
}

// EncodeHeaders packs hs into the wire representation read by DecodeHeaders.
func EncodeHeaders(hs Headers) ([]byte, error) {
	var out []byte
	for _, h := range hs {
		if len(h.Name) == 0 || len(h.Name) > 255 {
			return nil, malformed("encode headers", len(out), "header name length %d out of range", len(h.Name))
		}
		if h.Value == nil {
			return nil, malformed("encode headers", len(out), "header %q has no value", h.Name)
		}
		out = append(out, byte(len(h.Name)))
		out = append(out, h.Name...)
		out = append(out, byte(h.Value.Type()))

		switch v := h.Value.(type) {
		case BoolValue:
		case Int8Value:
			out = append(out, byte(v))
		case Int16Value:
			out = binary.BigEndian.AppendUint16(out, uint16(v))
		case Int32Value:
			out = binary.BigEndian.AppendUint32(out, uint32(v))
		case Int64Value:
			out = binary.BigEndian.AppendUint64(out, uint64(v))
		case BytesValue:
			if len(v) > 0xFFFF {
				return nil, malformed("encode headers", len(out), "header %q value too long", h.Name)
			}
			out = binary.BigEndian.AppendUint16(out, uint16(len(v)))
			out = append(out, v...)
		case StringValue:
			if len(v) > 0xFFFF {
				return nil, malformed("encode headers", len(out), "header %q value too long", h.Name)
			}
			out = binary.BigEndian.AppendUint16(out, uint16(len(v)))
			out = append(out, v...)
		case TimestampValue:
			out = binary.BigEndian.AppendUint64(out, uint64(v.Unix()))
		case UUIDValue:
			id, err := uuid.Parse(string(v))
			if err != nil {
				return nil, malformed("encode headers", len(out), "header %q: %v", h.Name, err)
			}
			out = append(out, id[:]...)
		default:
			return nil, malformed("encode headers", len(out), "header %q has unsupported value %T", h.Name, v)
		}
	}
	return out, nil
}
