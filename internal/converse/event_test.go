package converse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converse-stream/internal/eventstream"
)

func frameOf(t *testing.T, headers eventstream.Headers, payload string) eventstream.Frame {
	t.Helper()
	raw, err := eventstream.EncodeFrame(headers, []byte(payload))
	require.NoError(t, err)
	f, _, err := eventstream.TryReadFrame(raw, 0)
	require.NoError(t, err)
	return f
}

func TestParseEventType(t *testing.T) {
	assert.Equal(t, EventContentBlockDelta, ParseEventType("contentBlockDelta"))
	assert.Equal(t, EventMessageStop, ParseEventType("messageStop"))
	assert.Equal(t, EventUnknown, ParseEventType("somethingNew"))
	assert.Equal(t, "metadata", EventMetadata.String())
	assert.Equal(t, "unknown", EventUnknown.String())
}

func TestDecodeEventShapes(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
		check   func(t *testing.T, ev Event)
	}{
		{"metadata", "metadata", `{"usage":{"inputTokens":12,"outputTokens":3},"metrics":{"latencyMs":250}}`,
			func(t *testing.T, ev Event) {
				m := ev.(*Metadata)
				require.NotNil(t, m.Usage)
				assert.Equal(t, 12, *m.Usage.InputTokens)
				assert.Equal(t, 3, *m.Usage.OutputTokens)
				assert.Equal(t, int64(250), *m.Metrics.LatencyMs)
			}},
		{"message start", "messageStart", `{"role":"assistant"}`,
			func(t *testing.T, ev Event) {
				assert.Equal(t, "assistant", ev.(*MessageStart).Role)
			}},
		{"tool block start", "contentBlockStart", `{"contentBlockIndex":1,"start":{"toolUse":{"toolUseId":"t1","name":"get_weather"}}}`,
			func(t *testing.T, ev Event) {
				s := ev.(*ContentBlockStart)
				assert.Equal(t, 1, s.ContentBlockIndex)
				assert.Equal(t, "get_weather", s.Start.ToolUse.Name)
			}},
		{"delta with text and tool use", "contentBlockDelta", `{"delta":{"text":"hi","toolUse":{"toolUseId":"t1","input":"{}"}}}`,
			func(t *testing.T, ev Event) {
				d := ev.(*ContentBlockDelta)
				assert.Equal(t, "hi", *d.Delta.Text)
				assert.Equal(t, "{}", d.Delta.ToolUse.Input)
			}},
		{"empty delta", "contentBlockDelta", `{}`,
			func(t *testing.T, ev Event) {
				d := ev.(*ContentBlockDelta)
				assert.Nil(t, d.Delta.Text)
				assert.Nil(t, d.Delta.ToolUse)
			}},
		{"stop", "messageStop", `{"stopReason":"tool_use"}`,
			func(t *testing.T, ev Event) {
				stop := ev.(*MessageStop)
				require.NotNil(t, stop.StopReason)
				assert.Equal(t, "tool_use", *stop.StopReason)
			}},
		{"stop without reason", "messageStop", `{}`,
			func(t *testing.T, ev Event) {
				assert.Nil(t, ev.(*MessageStop).StopReason)
			}},
		{"unknown is inert", "citationDelta", `{"x":1}`,
			func(t *testing.T, ev Event) {
				u := ev.(*Unknown)
				assert.Equal(t, "citationDelta", u.Name)
				assert.JSONEq(t, `{"x":1}`, string(u.Payload))
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent(frameOf(t, eventstream.EventHeaders(tt.event), tt.payload))
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestDecodeEventRejectsWrongMessageType(t *testing.T) {
	headers := eventstream.Headers{
		{Name: eventstream.HeaderEventType, Value: eventstream.StringValue("metadata")},
		{Name: eventstream.HeaderContentType, Value: eventstream.StringValue(eventstream.ContentTypeJSON)},
		{Name: eventstream.HeaderMessageType, Value: eventstream.StringValue("request")},
	}
	_, err := DecodeEvent(frameOf(t, headers, `{}`))
	assert.ErrorIs(t, err, eventstream.ErrProtocolViolation)
}

func TestDecodeEventException(t *testing.T) {
	headers := eventstream.Headers{
		{Name: eventstream.HeaderExceptionType, Value: eventstream.StringValue("throttlingException")},
		{Name: eventstream.HeaderContentType, Value: eventstream.StringValue(eventstream.ContentTypeJSON)},
		{Name: eventstream.HeaderMessageType, Value: eventstream.StringValue("exception")},
	}
	_, err := DecodeEvent(frameOf(t, headers, `{"message":"Too many requests"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstream.ErrProtocolViolation)

	ex, ok := IsException(err)
	require.True(t, ok)
	assert.Equal(t, "throttlingException", ex.Type)
	assert.Equal(t, "Too many requests", ex.Message)
	assert.Contains(t, err.Error(), "throttlingException")
}

func TestDecodeEventWrongFieldTypeIsFatal(t *testing.T) {
	_, err := DecodeEvent(frameOf(t, eventstream.EventHeaders("metadata"), `{"usage":{"inputTokens":"many"}}`))
	assert.ErrorIs(t, err, eventstream.ErrProtocolViolation)
}
