package converse

// FragmentKind distinguishes answer text from model reasoning.
type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentReasoning
)

// Fragment is a piece of output ready for incremental display.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Result is the accumulated outcome of one streaming response.
type Result struct {
	Text         string           `json:"text"`
	Reasoning    string           `json:"reasoning,omitempty"`
	StopReason   *string          `json:"stop_reason"`
	InputTokens  *int             `json:"input_tokens"`
	OutputTokens *int             `json:"output_tokens"`
	LatencyMs    *int64           `json:"latency_ms,omitempty"`
	ToolCalls    []ToolCallRecord `json:"tool_calls"`
}

// State is the mutable state of one streaming response. It is owned by a
// single session and is not safe for concurrent use.
type State struct {
	agg          Aggregator
	stopReason   *string
	inputTokens  *int
	outputTokens *int
	latencyMs    *int64
	// blocks maps a content block index to the tool call it carries.
	blocks   map[int]string
	terminal bool
	events   int
}

func NewState() *State {
	return &State{blocks: make(map[int]string)}
}

// Apply folds one event into the state and returns the text fragments it
// produced, in order. Absent optional fields are ignored.
func (s *State) Apply(ev Event) []Fragment {
	s.events++

	switch e := ev.(type) {
	case *Metadata:
		if e.Usage != nil {
			if e.Usage.InputTokens != nil {
				s.inputTokens = intPtr(*e.Usage.InputTokens)
			}
			if e.Usage.OutputTokens != nil {
				s.outputTokens = intPtr(*e.Usage.OutputTokens)
			}
		}
		if e.Metrics != nil && e.Metrics.LatencyMs != nil {
			v := *e.Metrics.LatencyMs
			s.latencyMs = &v
		}

	case *ContentBlockStart:
		if tu := e.Start.ToolUse; tu != nil && tu.ToolUseID != "" {
			s.blocks[e.ContentBlockIndex] = tu.ToolUseID
			s.agg.MergeToolUse(tu.ToolUseID, tu.Name, "")
		}

	case *ContentBlockDelta:
		var out []Fragment
		if r := e.Delta.ReasoningContent; r != nil && r.Text != "" {
			s.agg.AppendReasoning(r.Text)
			out = append(out, Fragment{Kind: FragmentReasoning, Text: r.Text})
		}
		if t := e.Delta.Text; t != nil && *t != "" {
			s.agg.AppendText(*t)
			out = append(out, Fragment{Kind: FragmentText, Text: *t})
		}
		if tu := e.Delta.ToolUse; tu != nil {
			id := tu.ToolUseID
			if id == "" {
				id = s.blocks[e.ContentBlockIndex]
			}
			if id != "" {
				s.agg.MergeToolUse(id, tu.Name, tu.Input)
			}
		}
		return out

	case *MessageStop:
		if e.StopReason != nil {
			reason := *e.StopReason
			s.stopReason = &reason
		}
		s.terminal = true

	case *MessageStart, *ContentBlockStop, *Unknown:
	}
	return nil
}

// Terminal reports whether messageStop has been applied.
func (s *State) Terminal() bool { return s.terminal }

// Events is the number of events applied so far.
func (s *State) Events() int { return s.events }

// Text is the answer text accumulated so far.
func (s *State) Text() string { return s.agg.Text() }

func (s *State) Result() Result {
	return Result{
		Text:         s.agg.Text(),
		Reasoning:    s.agg.Reasoning(),
		StopReason:   s.stopReason,
		InputTokens:  s.inputTokens,
		OutputTokens: s.outputTokens,
		LatencyMs:    s.latencyMs,
		ToolCalls:    s.agg.ToolCalls(),
	}
}

func intPtr(v int) *int { return &v }
