package backend

import "strings"

// ToolResultRecord pairs a tool call id with the result that was produced
// for it during a turn.
type ToolResultRecord struct {
	CallID string
	Result string
}

// TurnAccumulator collects streamed events into the complete outcome of a
// turn. Content chunks are concatenated, tool calls and tool results are
// kept in arrival order, and cost events are summed.
//
// Unlike delta-based streaming formats, every event arrives whole, so no
// index merging is required. The accumulator is not safe for concurrent
// use; a turn feeds it from a single goroutine.
type TurnAccumulator struct {
	content   strings.Builder
	reasoning strings.Builder
	toolCalls []ToolCall
	results   []ToolResultRecord
	cost      float64
}

// NewTurnAccumulator creates an empty accumulator for one turn.
func NewTurnAccumulator() *TurnAccumulator {
	return &TurnAccumulator{}
}

// AddContent appends a streamed content chunk.
func (a *TurnAccumulator) AddContent(chunk string) {
	a.content.WriteString(chunk)
}

// AddReasoning appends a streamed reasoning chunk. Reasoning is kept for
// display and optional logging; it is never persisted into history.
func (a *TurnAccumulator) AddReasoning(chunk string) {
	a.reasoning.WriteString(chunk)
}

// AddToolCall records a tool call in arrival order. Duplicate ids are kept
// as-is; the backend owns id uniqueness within a turn.
func (a *TurnAccumulator) AddToolCall(name, argsJSON, callID string) {
	a.toolCalls = append(a.toolCalls, ToolCall{
		ID:   callID,
		Type: "function",
		Function: FunctionCall{
			Name:      name,
			Arguments: argsJSON,
		},
	})
}

// AddToolResult records the result for a tool call in arrival order.
func (a *TurnAccumulator) AddToolResult(callID, result string) {
	a.results = append(a.results, ToolResultRecord{CallID: callID, Result: result})
}

// AddCost adds a cost report to the running total for the turn.
func (a *TurnAccumulator) AddCost(amount float64) {
	a.cost += amount
}

// Content returns the accumulated text content.
func (a *TurnAccumulator) Content() string {
	return a.content.String()
}

// Reasoning returns the accumulated reasoning content.
func (a *TurnAccumulator) Reasoning() string {
	return a.reasoning.String()
}

// ToolCalls returns the accumulated tool calls in arrival order.
func (a *TurnAccumulator) ToolCalls() []ToolCall {
	return a.toolCalls
}

// Results returns the accumulated tool results in arrival order.
func (a *TurnAccumulator) Results() []ToolResultRecord {
	return a.results
}

// Cost returns the summed cost for the turn.
func (a *TurnAccumulator) Cost() float64 {
	return a.cost
}

// HasToolCalls returns true if any tool calls were recorded.
func (a *TurnAccumulator) HasToolCalls() bool {
	return len(a.toolCalls) > 0
}

// Reset clears the accumulator for reuse by a following turn.
func (a *TurnAccumulator) Reset() {
	a.content.Reset()
	a.reasoning.Reset()
	a.toolCalls = nil
	a.results = nil
	a.cost = 0
}
