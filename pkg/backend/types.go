package backend

import (
	"encoding/json"
	"fmt"

	"github.com/stagehand-dev/stagehand/pkg/config"
)

// Message is one conversation record, both on the wire and in the JSONL log.
type Message struct {
	Role       string            `json:"role"` // user, assistant, tool
	Content    string            `json:"content,omitempty"`
	ToolCalls  []ToolCall        `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string            `json:"tool_call_id,omitempty"` // tool messages only
	Images     []ImageAttachment `json:"images,omitempty"`       // user messages only
}

// ToolCall references one tool invocation requested by the assistant.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ImageAttachment is an inline image on a user message.
type ImageAttachment struct {
	Base64Payload string `json:"base64_payload"`
	MimeType      string `json:"mime_type"`
}

// ContentPart is a piece of multimodal content: text or an image data URI.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a data URI in the shape the backend expects.
type ImageURL struct {
	URL string `json:"url"`
}

// TurnRequest is the body of the turn POST. Messages holds prior history
// excluding the new user turn; Content is only set when images are attached,
// in which case Prompt is duplicated for backward compatibility.
type TurnRequest struct {
	Prompt    string                  `json:"prompt"`
	Agent     string                  `json:"agent"`
	Model     string                  `json:"model"`
	SessionID string                  `json:"session_id"`
	Messages  []Message               `json:"messages"`
	Content   []ContentPart           `json:"content,omitempty"`
	Settings  *config.RequestSettings `json:"settings,omitempty"`
}

// StreamEvent is one decoded SSE record. Which fields are populated depends
// on Type; unknown types are dropped by the dispatcher.
type StreamEvent struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    string          `json:"result,omitempty"`
	Cost      float64         `json:"cost,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Stream event types the dispatcher understands.
const (
	EventContent     = "content"
	EventReasoning   = "reasoning"
	EventBackendTool = "tool_call_backend"
	EventHostTool    = "tool_call_host"
	EventToolResult  = "tool_result"
	EventCost        = "cost"
	EventFinal       = "final"
	EventError       = "error"
)

// ToolResultSubmission is the body of the tool-result POST.
type ToolResultSubmission struct {
	SessionID string `json:"session_id"`
	CallID    string `json:"call_id"`
	Result    string `json:"result"`
}

// APIError is a non-200 response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

// Error renders the exact text surfaced to the UI for server failures.
func (e *APIError) Error() string {
	return fmt.Sprintf("Server error: %d - %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient. The turn POST is never
// replayed regardless; this only feeds the circuit breaker and callers that
// poll idempotent endpoints.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
