// Package orchestrator runs one conversation turn end to end: context
// files are folded into the prompt, the user message is persisted, the
// backend stream is dispatched into per-turn accumulators and the event
// sink, host tool calls pass through the approval gate, and the
// accumulated outcome is written back to the conversation log.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagehand-dev/stagehand/pkg/approval"
	"github.com/stagehand-dev/stagehand/pkg/backend"
	"github.com/stagehand-dev/stagehand/pkg/config"
	"github.com/stagehand-dev/stagehand/pkg/conversation"
	"github.com/stagehand-dev/stagehand/pkg/cost"
	"github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/image"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
)

// ErrTurnInFlight is returned by Send while another turn is running.
var ErrTurnInFlight = errors.New(errors.ErrCodeTurnBusy, "a turn is already in flight")

// Streamer issues the turn request and blocks while dispatching stream
// events. backend.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, req backend.TurnRequest, handler backend.StreamHandler)
}

// SettingsSource supplies the current settings snapshot per turn, so a
// hot-reloaded settings file takes effect on the next Send.
type SettingsSource interface {
	Current() *config.Settings
}

// TurnInput is one user turn.
type TurnInput struct {
	Text         string
	Images       []*image.Image
	ContextFiles []string
	Agent        string
	Model        string
}

// Orchestrator drives turns one at a time against a single conversation
// manager. Approval decisions must come in through Resolve so host tool
// results feed the active turn's accumulator.
type Orchestrator struct {
	client   Streamer
	manager  *conversation.Manager
	gate     *approval.Gate
	settings SettingsSource
	costs    *cost.Tracker
	sink     EventSink
	logger   *logging.Logger

	defaultAgent string
	defaultModel string

	mu   sync.Mutex
	turn *turnState
}

// turnState is the mutable state of one in-flight turn. Everything but
// gated is guarded by the orchestrator mutex; the accumulator is fed
// from the streaming goroutine and from Resolve.
type turnState struct {
	acc            *backend.TurnAccumulator
	awaiting       map[string]bool
	gated          sync.WaitGroup
	conversationID int64
	errMsg         string
	complete       bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets the event sink. Defaults to NopSink.
func WithSink(sink EventSink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithLogger attaches a logger for turn events.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithSettings attaches the settings source consulted at the start of
// each turn.
func WithSettings(source SettingsSource) Option {
	return func(o *Orchestrator) { o.settings = source }
}

// WithCostTracker attaches a tracker fed from cost events.
func WithCostTracker(tracker *cost.Tracker) Option {
	return func(o *Orchestrator) { o.costs = tracker }
}

// WithDefaults sets the agent and model used when TurnInput leaves them
// empty.
func WithDefaults(agent, model string) Option {
	return func(o *Orchestrator) {
		o.defaultAgent = agent
		o.defaultModel = model
	}
}

// New creates an orchestrator. The gate's registry executes host tools;
// its submitter posts results back to the backend.
func New(client Streamer, manager *conversation.Manager, gate *approval.Gate, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		manager: manager,
		gate:    gate,
		sink:    NopSink{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a turn is currently in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn != nil
}

// Gate returns the approval gate, for pending-call listing and the
// always-allow set. Decisions still go through Resolve.
func (o *Orchestrator) Gate() *approval.Gate {
	return o.gate
}

// Send runs one turn and blocks until it is over. It returns
// ErrTurnInFlight when a turn is already running, or an input error
// when a context file cannot be read; every failure past that point is
// reported through the sink and persisted as an error turn, not
// returned.
func (o *Orchestrator) Send(ctx context.Context, input TurnInput) error {
	o.mu.Lock()
	if o.turn != nil {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	st := &turnState{
		acc:      backend.NewTurnAccumulator(),
		awaiting: make(map[string]bool),
	}
	o.turn = st
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.turn = nil
		o.mu.Unlock()
	}()

	ctx, span := telemetry.StartSpan(ctx, "turn")
	defer span.End()

	prompt, err := o.buildPrompt(ctx, input)
	if err != nil {
		// Nothing was sent or persisted; the caller shows the failure.
		return err
	}

	agent := input.Agent
	if agent == "" {
		agent = o.defaultAgent
	}
	model := input.Model
	if model == "" {
		model = o.defaultModel
	}

	// History excludes the user turn being sent; the backend receives it
	// in the prompt.
	history := o.manager.Messages()
	o.manager.AppendMessage(backend.Message{
		Role:    "user",
		Content: prompt,
		Images:  imageAttachments(input.Images),
	})
	st.conversationID = o.manager.CurrentID()
	telemetry.SetAttributes(ctx,
		telemetry.AttrConversationID.Int64(st.conversationID),
		telemetry.AttrModel.String(model),
		telemetry.AttrAgent.String(agent),
	)
	o.sink.OnUserMessage(prompt)

	if o.costs != nil {
		o.costs.BeginTurn(st.conversationID)
	}

	req := backend.TurnRequest{
		Prompt:   prompt,
		Agent:    agent,
		Model:    model,
		Messages: history,
		Settings: o.currentSettings().ForModel(model),
	}
	if len(input.Images) > 0 {
		req.Content = contentParts(prompt, input.Images)
	}

	started := time.Now()
	recordTurnStart()
	o.logEvent(logging.LevelInfo, "turn_started", "", map[string]any{
		"conversation_id": st.conversationID,
		"model":           model,
		"context_files":   len(input.ContextFiles),
		"images":          len(input.Images),
		"history_tokens":  conversation.CountMessageTokens(history),
	})

	o.sink.OnAssistantStart()
	o.client.Stream(ctx, req, &turnHandler{o: o, st: st, ctx: ctx})

	o.mu.Lock()
	errMsg := st.errMsg
	complete := st.complete
	o.mu.Unlock()

	if errMsg != "" {
		o.manager.AppendMessage(backend.Message{Role: "assistant", Content: "Error: " + errMsg})
		recordTurnFailure(time.Since(started))
		telemetry.RecordError(ctx, errors.New(errors.ErrCodeBackendStream, errMsg))
		o.logEvent(logging.LevelError, "turn_failed", errMsg, map[string]any{
			"conversation_id": st.conversationID,
		})
		return nil
	}

	if !complete {
		// Transport EOF without a final event. Persist what arrived.
		telemetry.AddEvent(ctx, "stream_incomplete")
		o.logEvent(logging.LevelWarn, "stream_incomplete", "stream ended without final event", map[string]any{
			"conversation_id": st.conversationID,
		})
	}

	// The backend holds the final event until every host tool result has
	// been posted, so this wait is normally immediate. It closes the race
	// with a Resolve still feeding the accumulator on another goroutine.
	gatedDone := make(chan struct{})
	go func() {
		st.gated.Wait()
		close(gatedDone)
	}()
	select {
	case <-gatedDone:
	case <-ctx.Done():
	}

	o.persistOutcome(st)
	o.sink.OnAssistantEnd()
	recordTurnCompletion(time.Since(started))

	o.mu.Lock()
	toolCalls := len(st.acc.ToolCalls())
	turnCost := st.acc.Cost()
	o.mu.Unlock()
	o.logEvent(logging.LevelInfo, "turn_completed", "", map[string]any{
		"conversation_id": st.conversationID,
		"tool_calls":      toolCalls,
		"cost":            turnCost,
	})
	return nil
}

// Resolve applies an approval decision to a pending host tool call and
// feeds the outcome to the active turn. Safe to call from any
// goroutine; decisions on calls from an ended turn still execute, but
// their results are no longer persisted.
func (o *Orchestrator) Resolve(ctx context.Context, callID string, decision approval.Decision) error {
	outcome, err := o.gate.Resolve(ctx, callID, decision)
	if err != nil {
		return err
	}

	o.mu.Lock()
	st := o.turn
	mine := st != nil && st.awaiting[callID]
	if mine {
		delete(st.awaiting, callID)
		st.acc.AddToolResult(callID, outcome.Result)
	}
	o.mu.Unlock()

	o.sink.OnToolResult(callID, outcome.Result)
	if mine {
		st.gated.Done()
	}
	return nil
}

// persistOutcome writes the accumulated turn to the conversation log:
// an assistant message carrying the tool calls, a tool message per
// result in arrival order, then the content as a trailing assistant
// message; without tool calls, a single assistant message.
func (o *Orchestrator) persistOutcome(st *turnState) {
	o.mu.Lock()
	content := st.acc.Content()
	calls := st.acc.ToolCalls()
	results := st.acc.Results()
	o.mu.Unlock()

	if len(calls) == 0 {
		o.manager.AppendMessage(backend.Message{Role: "assistant", Content: content})
		return
	}

	o.manager.AppendMessage(backend.Message{Role: "assistant", ToolCalls: calls})
	for _, r := range results {
		o.manager.AppendMessage(backend.Message{
			Role:       "tool",
			ToolCallID: r.CallID,
			Content:    r.Result,
		})
	}
	if content != "" {
		o.manager.AppendMessage(backend.Message{Role: "assistant", Content: content})
	}
}

// buildPrompt loads context files concurrently and folds them into the
// prompt in input order. With no context files the text passes through
// untouched.
func (o *Orchestrator) buildPrompt(ctx context.Context, input TurnInput) (string, error) {
	if len(input.ContextFiles) == 0 {
		return input.Text, nil
	}

	contents := make([]string, len(input.ContextFiles))
	var g errgroup.Group
	for i, path := range input.ContextFiles {
		i, path := i, path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInvalidInput, "reading context file").
					WithContext("path", path)
			}
			contents[i] = string(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	for i, path := range input.ContextFiles {
		fmt.Fprintf(&b, "--- File: %s ---\n%s\n", path, contents[i])
	}
	b.WriteString("--- User Message ---\n")
	b.WriteString(input.Text)
	return b.String(), nil
}

func (o *Orchestrator) currentSettings() *config.Settings {
	if o.settings == nil {
		return nil
	}
	return o.settings.Current()
}

func (o *Orchestrator) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if o.logger == nil {
		return
	}
	o.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryTurn,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// imageAttachments converts loaded images to the persisted wire shape.
func imageAttachments(images []*image.Image) []backend.ImageAttachment {
	if len(images) == 0 {
		return nil
	}
	out := make([]backend.ImageAttachment, len(images))
	for i, img := range images {
		out[i] = backend.ImageAttachment{
			Base64Payload: img.Base64(),
			MimeType:      img.MimeType,
		}
	}
	return out
}

// contentParts builds the multimodal request body: the prompt as a text
// part when non-empty, then one image part per attachment.
func contentParts(prompt string, images []*image.Image) []backend.ContentPart {
	parts := make([]backend.ContentPart, 0, len(images)+1)
	if prompt != "" {
		parts = append(parts, backend.ContentPart{Type: "text", Text: prompt})
	}
	for _, img := range images {
		parts = append(parts, backend.ContentPart{
			Type:     "image_url",
			ImageURL: &backend.ImageURL{URL: img.DataURI()},
		})
	}
	return parts
}

// turnHandler adapts stream events onto the turn state and sink. It
// runs on the goroutine inside Stream.
type turnHandler struct {
	o   *Orchestrator
	st  *turnState
	ctx context.Context
}

func (h *turnHandler) OnContent(chunk string) {
	recordStreamEvent("content")
	h.o.mu.Lock()
	h.st.acc.AddContent(chunk)
	h.o.mu.Unlock()
	h.o.sink.OnContentChunk(chunk)
}

// OnReasoning forwards reasoning to the sink only; it is accumulated
// for dumps but never persisted into history.
func (h *turnHandler) OnReasoning(chunk string) {
	recordStreamEvent("reasoning")
	h.o.mu.Lock()
	h.st.acc.AddReasoning(chunk)
	h.o.mu.Unlock()
	h.o.sink.OnReasoningChunk(chunk)
}

func (h *turnHandler) OnBackendTool(name, argsJSON, callID string) {
	recordStreamEvent("tool_call_backend")
	recordToolCall("backend")
	h.o.mu.Lock()
	h.st.acc.AddToolCall(name, argsJSON, callID)
	h.o.mu.Unlock()
	h.o.sink.OnToolCall(name, argsJSON, callID, false)
}

func (h *turnHandler) OnHostTool(sessionID, name, argsJSON, callID string) {
	recordStreamEvent("tool_call_host")
	recordToolCall("host")
	// Park before submitting: a relay client may resolve the call the
	// moment the gate exposes it.
	h.o.mu.Lock()
	h.st.acc.AddToolCall(name, argsJSON, callID)
	h.st.awaiting[callID] = true
	h.st.gated.Add(1)
	h.o.mu.Unlock()

	requires, outcome, err := h.o.gate.Submit(h.ctx, sessionID, callID, name, argsJSON)
	if err != nil {
		h.unpark(callID)
		h.o.logEvent(logging.LevelWarn, "tool_call_dropped", err.Error(), map[string]any{
			"call_id": callID,
			"tool":    name,
		})
		h.o.sink.OnToolCall(name, argsJSON, callID, false)
		return
	}

	if !requires {
		h.unpark(callID)
		h.o.sink.OnToolCall(name, argsJSON, callID, false)
		h.o.mu.Lock()
		h.st.acc.AddToolResult(callID, outcome.Result)
		h.o.mu.Unlock()
		h.o.sink.OnToolResult(callID, outcome.Result)
		return
	}

	h.o.sink.OnToolCall(name, argsJSON, callID, true)
}

func (h *turnHandler) unpark(callID string) {
	h.o.mu.Lock()
	delete(h.st.awaiting, callID)
	h.o.mu.Unlock()
	h.st.gated.Done()
}

func (h *turnHandler) OnToolResult(callID, result string) {
	recordStreamEvent("tool_result")
	h.o.mu.Lock()
	h.st.acc.AddToolResult(callID, result)
	h.o.mu.Unlock()
	h.o.sink.OnToolResult(callID, result)
}

func (h *turnHandler) OnCost(amount float64) {
	recordStreamEvent("cost")
	h.o.mu.Lock()
	h.st.acc.AddCost(amount)
	h.o.mu.Unlock()
	if h.o.costs != nil {
		h.o.costs.Record(h.st.conversationID, amount)
	}
	h.o.sink.OnCost(amount)
}

func (h *turnHandler) OnComplete() {
	h.o.mu.Lock()
	h.st.complete = true
	h.o.mu.Unlock()
}

func (h *turnHandler) OnError(message string) {
	h.o.mu.Lock()
	h.st.errMsg = message
	h.o.mu.Unlock()
	h.o.sink.OnError(message)
}
