package approval

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
	"github.com/stagehand-dev/stagehand/pkg/tool"
)

// RejectedResult is the exact payload submitted as the tool result of a
// rejected call.
const RejectedResult = `{"error":"Tool execution rejected by user"}`

// State tracks a tool call through the gate. Only pending_approval is
// non-terminal.
type State string

const (
	StatePending   State = "pending_approval"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateRejected  State = "rejected"
)

// PendingToolCall is one host tool call tracked by the gate.
type PendingToolCall struct {
	CallID    string    `json:"call_id"`
	ToolName  string    `json:"tool_name"`
	ArgsJSON  string    `json:"args_json"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is a resolved call: the final state snapshot plus the result
// string that was fed back to the backend.
type Outcome struct {
	Call   PendingToolCall
	Result string
}

// ResultSubmitter posts a tool result back to the backend.
// backend.Client implements it.
type ResultSubmitter interface {
	SubmitToolResult(ctx context.Context, sessionID, callID, result string) error
}

type gateEntry struct {
	call PendingToolCall
	args map[string]any
}

// Gate owns the pending tool calls of the process and the
// always-allowed set. The set lives for the process only; it is never
// persisted.
type Gate struct {
	mu          sync.Mutex
	registry    *tool.Registry
	submitter   ResultSubmitter
	logger      *logging.Logger
	calls       map[string]*gateEntry
	alwaysAllow map[string]bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger attaches the structured logger for approval events.
func WithLogger(logger *logging.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// WithSubmitter sets where resolved results are posted. A nil submitter
// keeps results local, which the tests use.
func WithSubmitter(s ResultSubmitter) GateOption {
	return func(g *Gate) { g.submitter = s }
}

// NewGate builds a gate dispatching through registry.
func NewGate(registry *tool.Registry, opts ...GateOption) *Gate {
	g := &Gate{
		registry:    registry,
		calls:       map[string]*gateEntry{},
		alwaysAllow: map[string]bool{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit records a host tool call arriving from the stream. When the
// tool is already always-allowed the call runs immediately, as if
// Accept were pressed, and the outcome comes back with
// requiresApproval false. Otherwise the call parks in
// pending_approval until Resolve.
func (g *Gate) Submit(ctx context.Context, sessionID, callID, toolName, argsJSON string) (requiresApproval bool, outcome *Outcome, err error) {
	if callID == "" {
		return false, nil, errors.New(errors.ErrCodeInvalidInput, "tool call id is empty")
	}

	entry := &gateEntry{
		call: PendingToolCall{
			CallID:    callID,
			ToolName:  toolName,
			ArgsJSON:  argsJSON,
			SessionID: sessionID,
			State:     StatePending,
			CreatedAt: time.Now().UTC(),
		},
		args: decodeArgs(argsJSON),
	}

	g.mu.Lock()
	if _, exists := g.calls[callID]; exists {
		g.mu.Unlock()
		return false, nil, errors.New(errors.ErrCodeInvalidInput, "tool call id already tracked").
			WithContext("call_id", callID)
	}
	g.calls[callID] = entry
	allowed := g.alwaysAllow[toolName]
	g.mu.Unlock()

	if allowed {
		g.logEvent(logging.LevelInfo, "approval_auto", "tool "+toolName+" always-allowed, executing", map[string]any{
			"call_id": callID,
			"tool":    toolName,
		})
		telemetry.RecordApproval("auto")
		out := g.execute(ctx, callID)
		return false, out, nil
	}

	g.logEvent(logging.LevelInfo, "approval_requested", "tool "+toolName+" awaiting approval", map[string]any{
		"call_id": callID,
		"tool":    toolName,
	})
	return true, nil, nil
}

// Resolve applies the user's decision to a pending call. Calls in any
// other state are already decided; resolving them is an error and
// changes nothing.
func (g *Gate) Resolve(ctx context.Context, callID string, decision Decision) (*Outcome, error) {
	g.mu.Lock()
	entry, ok := g.calls[callID]
	if !ok {
		g.mu.Unlock()
		return nil, errors.New(errors.ErrCodeApprovalUnknown, "no pending tool call").
			WithContext("call_id", callID)
	}
	if entry.call.State != StatePending {
		state := entry.call.State
		g.mu.Unlock()
		return nil, errors.New(errors.ErrCodeApprovalDecided, "tool call already decided").
			WithContext("call_id", callID).
			WithContext("state", string(state))
	}

	if decision == Reject {
		entry.call.State = StateRejected
		snapshot := entry.call
		g.mu.Unlock()

		telemetry.RecordApproval("reject")
		g.logEvent(logging.LevelInfo, "approval_rejected", "tool "+snapshot.ToolName+" rejected", map[string]any{
			"call_id": callID,
			"tool":    snapshot.ToolName,
		})
		g.submitResult(ctx, snapshot, RejectedResult)
		return &Outcome{Call: snapshot, Result: RejectedResult}, nil
	}

	if decision == AlwaysAllow {
		g.alwaysAllow[entry.call.ToolName] = true
	}
	entry.call.State = StateExecuting
	name := entry.call.ToolName
	g.mu.Unlock()

	telemetry.RecordApproval(decision.String())
	g.logEvent(logging.LevelInfo, "approval_accepted", "tool "+name+" approved", map[string]any{
		"call_id":  callID,
		"tool":     name,
		"decision": decision.String(),
	})
	return g.execute(ctx, callID), nil
}

// execute dispatches an executing call and settles its terminal state.
func (g *Gate) execute(ctx context.Context, callID string) *Outcome {
	g.mu.Lock()
	entry := g.calls[callID]
	entry.call.State = StateExecuting
	name := entry.call.ToolName
	args := entry.args
	sessionID := entry.call.SessionID
	g.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "tool.execute")
	defer span.End()
	telemetry.SetAttributes(ctx,
		telemetry.AttrToolName.String(name),
		telemetry.AttrToolCallID.String(callID),
		telemetry.AttrSessionID.String(sessionID),
	)

	res := g.registry.ExecuteCall(ctx, callID, name, args)

	g.mu.Lock()
	if res.Success {
		entry.call.State = StateCompleted
	} else {
		entry.call.State = StateFailed
	}
	snapshot := entry.call
	g.mu.Unlock()

	g.submitResult(ctx, snapshot, res.Output)
	return &Outcome{Call: snapshot, Result: res.Output}
}

// submitResult posts the result to the backend. Submission failures are
// logged and swallowed; the outcome already carries the result for the
// local transcript.
func (g *Gate) submitResult(ctx context.Context, call PendingToolCall, result string) {
	if g.submitter == nil {
		return
	}
	if err := g.submitter.SubmitToolResult(ctx, call.SessionID, call.CallID, result); err != nil {
		g.logEvent(logging.LevelWarn, "result_submit_failed", "tool result submission failed", map[string]any{
			"call_id": call.CallID,
			"tool":    call.ToolName,
			"error":   err.Error(),
		})
	}
}

// Get returns a tracked call by id.
func (g *Gate) Get(callID string) (PendingToolCall, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.calls[callID]
	if !ok {
		return PendingToolCall{}, false
	}
	return entry.call, true
}

// Pending lists the calls still awaiting a decision, oldest first.
func (g *Gate) Pending() []PendingToolCall {
	g.mu.Lock()
	pending := make([]PendingToolCall, 0, len(g.calls))
	for _, entry := range g.calls {
		if entry.call.State == StatePending {
			pending = append(pending, entry.call)
		}
	}
	g.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CallID < pending[j].CallID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// AllowAlways inserts a tool name into the always-allowed set without
// a call attached, for the console's allow command.
func (g *Gate) AllowAlways(toolName string) {
	if toolName == "" {
		return
	}
	g.mu.Lock()
	g.alwaysAllow[toolName] = true
	g.mu.Unlock()
}

// IsAlwaysAllowed reports whether calls to toolName skip approval.
func (g *Gate) IsAlwaysAllowed(toolName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alwaysAllow[toolName]
}

// AlwaysAllowed returns the always-allowed tool names, sorted.
func (g *Gate) AlwaysAllowed() []string {
	g.mu.Lock()
	names := make([]string, 0, len(g.alwaysAllow))
	for name := range g.alwaysAllow {
		names = append(names, name)
	}
	g.mu.Unlock()
	sort.Strings(names)
	return names
}

// decodeArgs parses the model's argument JSON. Malformed JSON decodes
// to an empty map so dispatch still goes through the registry and the
// tool's own argument validation produces the user-visible failure.
func decodeArgs(argsJSON string) map[string]any {
	if argsJSON == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func (g *Gate) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if g.logger == nil {
		return
	}
	g.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryApproval,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}
