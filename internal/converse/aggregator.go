package converse

import "strings"

// ToolCallRecord is a tool invocation reassembled from streamed fragments.
// Arguments is the concatenated fragment text and is not parsed here.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Aggregator concatenates text fragments in arrival order and merges
// tool-call argument fragments by call id.
type Aggregator struct {
	text      strings.Builder
	reasoning strings.Builder
	tools     map[string]*ToolCallRecord
	order     []string
}

func (a *Aggregator) AppendText(s string)      { a.text.WriteString(s) }
func (a *Aggregator) AppendReasoning(s string) { a.reasoning.WriteString(s) }

// MergeToolUse starts a record for an unseen id, or appends input to the
// existing one. The first non-empty name wins.
func (a *Aggregator) MergeToolUse(id, name, input string) {
	if a.tools == nil {
		a.tools = make(map[string]*ToolCallRecord)
	}
	rec, ok := a.tools[id]
	if !ok {
		rec = &ToolCallRecord{ID: id}
		a.tools[id] = rec
		a.order = append(a.order, id)
	}
	if rec.Name == "" {
		rec.Name = name
	}
	rec.Arguments += input
}

func (a *Aggregator) Text() string      { return a.text.String() }
func (a *Aggregator) Reasoning() string { return a.reasoning.String() }

// ToolCalls returns copies of the merged records in first-seen order.
func (a *Aggregator) ToolCalls() []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.tools[id])
	}
	return out
}
