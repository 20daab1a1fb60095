package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stagehand-dev/stagehand/pkg/bus"
)

// EventSink receives turn lifecycle callbacks in stream order. The
// console renders them directly; the relay mirrors them to remote
// clients. Implementations must tolerate being called from the turn's
// streaming goroutine and, for tool results, from the goroutine that
// resolved the approval.
type EventSink interface {
	OnUserMessage(content string)
	OnAssistantStart()
	OnContentChunk(chunk string)
	OnReasoningChunk(chunk string)
	OnToolCall(name, argsJSON, callID string, requiresApproval bool)
	OnToolResult(callID, result string)
	OnAssistantEnd()
	OnCost(amount float64)
	OnError(msg string)
}

// NopSink discards every callback. Embed it to implement only the
// callbacks a sink cares about.
type NopSink struct{}

func (NopSink) OnUserMessage(string) {}

func (NopSink) OnAssistantStart() {}

func (NopSink) OnContentChunk(string) {}

func (NopSink) OnReasoningChunk(string) {}

func (NopSink) OnToolCall(string, string, string, bool) {}

func (NopSink) OnToolResult(string, string) {}

func (NopSink) OnAssistantEnd() {}

func (NopSink) OnCost(float64) {}

func (NopSink) OnError(string) {}

// MultiSink fans each callback out to every sink in order.
type MultiSink []EventSink

// Combine builds a sink from the non-nil sinks given. Zero sinks yield
// a NopSink.
func Combine(sinks ...EventSink) EventSink {
	var out MultiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return NopSink{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m MultiSink) OnUserMessage(content string) {
	for _, s := range m {
		s.OnUserMessage(content)
	}
}

func (m MultiSink) OnAssistantStart() {
	for _, s := range m {
		s.OnAssistantStart()
	}
}

func (m MultiSink) OnContentChunk(chunk string) {
	for _, s := range m {
		s.OnContentChunk(chunk)
	}
}

func (m MultiSink) OnReasoningChunk(chunk string) {
	for _, s := range m {
		s.OnReasoningChunk(chunk)
	}
}

func (m MultiSink) OnToolCall(name, argsJSON, callID string, requiresApproval bool) {
	for _, s := range m {
		s.OnToolCall(name, argsJSON, callID, requiresApproval)
	}
}

func (m MultiSink) OnToolResult(callID, result string) {
	for _, s := range m {
		s.OnToolResult(callID, result)
	}
}

func (m MultiSink) OnAssistantEnd() {
	for _, s := range m {
		s.OnAssistantEnd()
	}
}

func (m MultiSink) OnCost(amount float64) {
	for _, s := range m {
		s.OnCost(amount)
	}
}

func (m MultiSink) OnError(msg string) {
	for _, s := range m {
		s.OnError(msg)
	}
}

// Turn event types as published on the bus. The bus subject is the
// type prefixed with TurnSubjectPrefix.
const (
	TurnUserMessage    = "user_message"
	TurnAssistantStart = "assistant_start"
	TurnContent        = "content"
	TurnReasoning      = "reasoning"
	TurnToolCall       = "tool_call"
	TurnToolResult     = "tool_result"
	TurnAssistantEnd   = "assistant_end"
	TurnCost           = "cost"
	TurnError          = "error"
)

const (
	// TurnSubjectPrefix prefixes every turn event subject.
	TurnSubjectPrefix = "stagehand.turn."

	// TurnSubjectAll subscribes to every turn event.
	TurnSubjectAll = "stagehand.turn.*"
)

// TurnEvent is the JSON body published for each sink callback. Only the
// fields the event type defines are set.
type TurnEvent struct {
	Type             string    `json:"type"`
	Timestamp        time.Time `json:"timestamp"`
	Content          string    `json:"content,omitempty"`
	Tool             string    `json:"tool,omitempty"`
	CallID           string    `json:"call_id,omitempty"`
	Args             string    `json:"args,omitempty"`
	Result           string    `json:"result,omitempty"`
	Cost             float64   `json:"cost,omitempty"`
	RequiresApproval bool      `json:"requires_approval,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// BusSink mirrors every sink callback as a tagged JSON event on the
// message bus, one subject per event type. The relay server and any
// NATS mirror subscribe to these subjects.
type BusSink struct {
	bus bus.MessageBus
}

// NewBusSink creates a sink publishing to the given bus.
func NewBusSink(b bus.MessageBus) *BusSink {
	return &BusSink{bus: b}
}

func (s *BusSink) publish(eventType string, ev TurnEvent) {
	ev.Type = eventType
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = s.bus.Publish(context.Background(), TurnSubjectPrefix+eventType, data)
}

func (s *BusSink) OnUserMessage(content string) {
	s.publish(TurnUserMessage, TurnEvent{Content: content})
}

func (s *BusSink) OnAssistantStart() {
	s.publish(TurnAssistantStart, TurnEvent{})
}

func (s *BusSink) OnContentChunk(chunk string) {
	s.publish(TurnContent, TurnEvent{Content: chunk})
}

func (s *BusSink) OnReasoningChunk(chunk string) {
	s.publish(TurnReasoning, TurnEvent{Content: chunk})
}

func (s *BusSink) OnToolCall(name, argsJSON, callID string, requiresApproval bool) {
	s.publish(TurnToolCall, TurnEvent{
		Tool:             name,
		Args:             argsJSON,
		CallID:           callID,
		RequiresApproval: requiresApproval,
	})
}

func (s *BusSink) OnToolResult(callID, result string) {
	s.publish(TurnToolResult, TurnEvent{CallID: callID, Result: result})
}

func (s *BusSink) OnAssistantEnd() {
	s.publish(TurnAssistantEnd, TurnEvent{})
}

func (s *BusSink) OnCost(amount float64) {
	s.publish(TurnCost, TurnEvent{Cost: amount})
}

func (s *BusSink) OnError(msg string) {
	s.publish(TurnError, TurnEvent{Error: msg})
}
