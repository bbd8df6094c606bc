package eventstream

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// EncodeFrame serialises headers and payload into one frame with valid
// prelude and message checksums.
func EncodeFrame(headers Headers, payload []byte) ([]byte, error) {
	hb, err := EncodeHeaders(headers)
	if err != nil {
		return nil, err
	}
	total := MinFrameLen + len(hb) + len(payload)
	if total > DefaultMaxFrameSize {
		return nil, fmt.Errorf("encode frame: %d bytes exceeds limit %d", total, DefaultMaxFrameSize)
	}

	out := make([]byte, 0, total)
	out = binary.BigEndian.AppendUint32(out, uint32(total))
	out = binary.BigEndian.AppendUint32(out, uint32(len(hb)))
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[:8]))
	out = append(out, hb...)
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out))
	return out, nil
}

// EventHeaders returns the three headers every event frame carries.
func EventHeaders(eventType string) Headers {
	return Headers{
		{Name: HeaderEventType, Value: StringValue(eventType)},
		{Name: HeaderContentType, Value: StringValue(ContentTypeJSON)},
		{Name: HeaderMessageType, Value: StringValue("event")},
	}
}

// EncodeEvent marshals payload as JSON and frames it as an event of eventType.
func EncodeEvent(eventType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", eventType, err)
	}
	return EncodeFrame(EventHeaders(eventType), body)
}
