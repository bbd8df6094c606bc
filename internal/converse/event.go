// Package converse turns decoded event-stream frames into ConverseStream
// events and folds them into the accumulated state of one streaming response.
package converse

import (
	"encoding/json"
	"errors"
	"fmt"

	"converse-stream/internal/eventstream"
)

// EventType names the ConverseStream event carried by a frame.
type EventType int

const (
	EventUnknown EventType = iota
	EventMetadata
	EventMessageStart
	EventContentBlockStart
	EventContentBlockDelta
	EventContentBlockStop
	EventMessageStop
)

var eventTypeNames = map[string]EventType{
	"metadata":          EventMetadata,
	"messageStart":      EventMessageStart,
	"contentBlockStart": EventContentBlockStart,
	"contentBlockDelta": EventContentBlockDelta,
	"contentBlockStop":  EventContentBlockStop,
	"messageStop":       EventMessageStop,
}

// ParseEventType maps an :event-type header value to its EventType. Unrecognised
// names map to EventUnknown.
func ParseEventType(name string) EventType {
	return eventTypeNames[name]
}

func (t EventType) String() string {
	for name, v := range eventTypeNames {
		if v == t {
			return name
		}
	}
	return "unknown"
}

// Event is one decoded ConverseStream event. The concrete types are
// *Metadata, *MessageStart, *ContentBlockStart, *ContentBlockDelta,
// *ContentBlockStop, *MessageStop and *Unknown.
type Event interface {
	Type() EventType
	event()
}

type Usage struct {
	InputTokens  *int `json:"inputTokens,omitempty"`
	OutputTokens *int `json:"outputTokens,omitempty"`
	TotalTokens  *int `json:"totalTokens,omitempty"`
}

type Metrics struct {
	LatencyMs *int64 `json:"latencyMs,omitempty"`
}

type Metadata struct {
	Usage   *Usage   `json:"usage,omitempty"`
	Metrics *Metrics `json:"metrics,omitempty"`
}

type MessageStart struct {
	Role string `json:"role,omitempty"`
}

// ToolUseStart opens a tool-use content block.
type ToolUseStart struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
}

type BlockStart struct {
	ToolUse *ToolUseStart `json:"toolUse,omitempty"`
}

type ContentBlockStart struct {
	ContentBlockIndex int        `json:"contentBlockIndex"`
	Start             BlockStart `json:"start"`
}

// ToolUseDelta carries a fragment of tool-call argument text. Bedrock omits
// ToolUseID on deltas; the block index then identifies the call.
type ToolUseDelta struct {
	ToolUseID string `json:"toolUseId,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     string `json:"input,omitempty"`
}

type ReasoningDelta struct {
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type Delta struct {
	Text             *string         `json:"text,omitempty"`
	ToolUse          *ToolUseDelta   `json:"toolUse,omitempty"`
	ReasoningContent *ReasoningDelta `json:"reasoningContent,omitempty"`
}

type ContentBlockDelta struct {
	ContentBlockIndex int   `json:"contentBlockIndex"`
	Delta             Delta `json:"delta"`
}

type ContentBlockStop struct {
	ContentBlockIndex int `json:"contentBlockIndex"`
}

// MessageStop ends the message. StopReason is nil when the payload omits it.
type MessageStop struct {
	StopReason *string `json:"stopReason"`
}

// Unknown is any event type this package does not interpret. It is carried
// through so callers can log it, and has no effect on State.
type Unknown struct {
	Name    string
	Payload json.RawMessage
}

func (*Metadata) Type() EventType          { return EventMetadata }
func (*MessageStart) Type() EventType      { return EventMessageStart }
func (*ContentBlockStart) Type() EventType { return EventContentBlockStart }
func (*ContentBlockDelta) Type() EventType { return EventContentBlockDelta }
func (*ContentBlockStop) Type() EventType  { return EventContentBlockStop }
func (*MessageStop) Type() EventType       { return EventMessageStop }
func (*Unknown) Type() EventType           { return EventUnknown }

func (*Metadata) event()          {}
func (*MessageStart) event()      {}
func (*ContentBlockStart) event() {}
func (*ContentBlockDelta) event() {}
func (*ContentBlockStop) event()  {}
func (*MessageStop) event()       {}
func (*Unknown) event()           {}

// StreamException is an exception frame sent by the service in place of an
// event, e.g. throttlingException or modelStreamErrorException.
type StreamException struct {
	Type    string
	Message string
}

func (e *StreamException) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stream exception %s", e.Type)
	}
	return fmt.Sprintf("stream exception %s: %s", e.Type, e.Message)
}

func (e *StreamException) Unwrap() error { return eventstream.ErrProtocolViolation }

// DecodeEvent classifies a frame and parses its payload. Frames whose
// :message-type is not "event" are rejected; exception frames come back as
// *StreamException.
func DecodeEvent(f eventstream.Frame) (Event, error) {
	switch mt := f.MessageType(); mt {
	case "event":
	case "exception", "error":
		return nil, exceptionFromFrame(f)
	default:
		return nil, fmt.Errorf("%w: message type %q, want \"event\"", eventstream.ErrProtocolViolation, mt)
	}

	name := f.EventType()
	var ev Event
	switch ParseEventType(name) {
	case EventMetadata:
		ev = &Metadata{}
	case EventMessageStart:
		ev = &MessageStart{}
	case EventContentBlockStart:
		ev = &ContentBlockStart{}
	case EventContentBlockDelta:
		ev = &ContentBlockDelta{}
	case EventContentBlockStop:
		ev = &ContentBlockStop{}
	case EventMessageStop:
		ev = &MessageStop{}
	default:
		return &Unknown{Name: name, Payload: f.Payload}, nil
	}

	if err := json.Unmarshal(f.Payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", eventstream.ErrProtocolViolation, name, err)
	}
	return ev, nil
}

func exceptionFromFrame(f eventstream.Frame) error {
	ex := &StreamException{Type: f.Headers.GetString(eventstream.HeaderExceptionType)}
	if ex.Type == "" {
		ex.Type = f.Headers.GetString(eventstream.HeaderErrorCode)
	}
	ex.Message = f.Headers.GetString(eventstream.HeaderErrorMessage)

	var body struct {
		Message      string `json:"message"`
		UpperMessage string `json:"Message"`
	}
	if ex.Message == "" && json.Unmarshal(f.Payload, &body) == nil {
		ex.Message = body.Message
		if ex.Message == "" {
			ex.Message = body.UpperMessage
		}
	}
	if ex.Type == "" {
		ex.Type = "unknown"
	}
	return ex
}

// IsException reports whether err came from an exception frame and returns it.
func IsException(err error) (*StreamException, bool) {
	var ex *StreamException
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
