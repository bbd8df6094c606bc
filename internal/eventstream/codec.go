package eventstream

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// DecodeInt decodes a big-endian two's-complement integer of width 2, 4 or 8
// bytes from the start of b.
func DecodeInt(b []byte, width int) (int64, error) {
	if len(b) < width {
		return 0, malformed("decode int", 0, "need %d bytes, have %d", width, len(b))
	}
	switch width {
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case 8:
		// The conversion reinterprets the MSB as the sign of the full 64-bit value.
		return int64(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, malformed("decode int", 0, "unsupported width %d", width)
	}
}

// DecodeUUID renders exactly 16 bytes as a lower-case 8-4-4-4-12 UUID string.
func DecodeUUID(b []byte) (string, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", malformed("decode uuid", 0, "need 16 bytes, have %d", len(b))
	}
	return id.String(), nil
}
