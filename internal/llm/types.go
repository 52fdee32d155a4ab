// Package llm adapts OpenAI-compatible chat endpoints to the streaming
// delta interface the agent runtime consumes.
package llm

import (
	"encoding/json"

	"github.com/ariavoice/aria/internal/domain"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role       string
	Content    string
	Images     []string // base64 jpeg/png, attached as data URLs
	ToolCalls  []domain.ToolCall
	ToolCallID string // set on tool-role results
	Name       string // speaker name hint for multi-agent history
}

// Tool is a function definition advertised to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

// Request is one streaming chat call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float32
	ThinkMode   bool
}

// Delta is a single increment from the model stream. At most one of the
// fields is populated per event.
type Delta struct {
	Content   string
	Thinking  string
	ToolCalls []ToolCallDelta
}

// ToolCallDelta is a fragment of a streamed tool call. A fragment with a
// non-empty ID opens a new call; fragments without an ID extend the
// arguments of the call at Index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamEvent carries either a delta or a terminal error. The channel is
// closed after the final event.
type StreamEvent struct {
	Delta *Delta
	Err   error
}

// AccumulateToolCalls folds streamed fragments into complete tool calls,
// preserving arrival order.
func AccumulateToolCalls(calls []domain.ToolCall, deltas []ToolCallDelta) []domain.ToolCall {
	for _, d := range deltas {
		if d.ID != "" {
			calls = append(calls, domain.ToolCall{ID: d.ID, Name: d.Name, Arguments: d.Arguments})
			continue
		}
		if len(calls) == 0 {
			continue
		}
		idx := d.Index
		if idx < 0 || idx >= len(calls) {
			idx = len(calls) - 1
		}
		calls[idx].Name += d.Name
		calls[idx].Arguments += d.Arguments
	}
	return calls
}
