package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/stagehand-dev/stagehand/pkg/approval"
	"github.com/stagehand-dev/stagehand/pkg/terminal"
)

// turnResolver is the slice of the orchestrator the console needs to
// answer approval prompts.
type turnResolver interface {
	Resolve(ctx context.Context, callID string, decision approval.Decision) error
}

// consoleSink renders turn events for the interactive console. Content
// chunks stream as they arrive; the spinner covers the gaps while the
// model thinks or a tool runs. Host tool calls that need approval
// prompt on the console's own reader, which is idle for the whole turn
// because Send blocks the command loop.
type consoleSink struct {
	w        *terminal.Writer
	spinner  *terminal.Spinner
	input    *bufio.Reader
	resolver turnResolver

	mu       sync.Mutex
	streamed bool

	promptMu sync.Mutex
}

func newConsoleSink(w *terminal.Writer, spinner *terminal.Spinner, input *bufio.Reader) *consoleSink {
	return &consoleSink{w: w, spinner: spinner, input: input}
}

func (s *consoleSink) OnUserMessage(content string) {}

func (s *consoleSink) OnAssistantStart() {
	s.spinner.Start()
}

func (s *consoleSink) OnContentChunk(chunk string) {
	s.spinner.Stop()
	s.markStreamed()
	s.w.Stream(chunk)
}

func (s *consoleSink) OnReasoningChunk(chunk string) {
	if quietMode {
		return
	}
	s.spinner.Stop()
	s.markStreamed()
	s.w.Reasoning(chunk)
}

func (s *consoleSink) OnToolCall(name, argsJSON, callID string, requiresApproval bool) {
	s.spinner.Stop()
	s.endStream()
	s.w.Box("Tool call: "+name, formatToolArgs(argsJSON))
	if !requiresApproval {
		s.spinner.Start()
		return
	}
	go s.promptApproval(callID, name)
}

func (s *consoleSink) OnToolResult(callID, result string) {
	s.spinner.Stop()
	s.w.Dim("→ %s", resultPreview(result))
	s.spinner.Start()
}

func (s *consoleSink) OnAssistantEnd() {
	s.spinner.Stop()
	s.endStream()
	s.w.Newline()
}

func (s *consoleSink) OnCost(amount float64) {}

func (s *consoleSink) OnError(msg string) {
	s.spinner.Stop()
	s.endStream()
	s.w.Error("%s", msg)
}

func (s *consoleSink) markStreamed() {
	s.mu.Lock()
	s.streamed = true
	s.mu.Unlock()
}

// endStream terminates the streamed line, but only when something
// actually streamed since the last end.
func (s *consoleSink) endStream() {
	s.mu.Lock()
	was := s.streamed
	s.streamed = false
	s.mu.Unlock()
	if was {
		s.w.StreamEnd()
	}
}

// promptApproval runs off the stream goroutine so SSE parsing keeps
// draining while the user decides. Prompts serialize; the turn cannot
// finish until every decision lands.
func (s *consoleSink) promptApproval(callID, name string) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	s.spinner.Stop()
	decision := s.readDecision(name)
	if err := s.resolver.Resolve(context.Background(), callID, decision); err != nil {
		s.w.Error("%v", err)
		return
	}
	if decision == approval.AlwaysAllow {
		s.w.Dim("%s is now always allowed for this run", name)
	}
}

func (s *consoleSink) readDecision(name string) approval.Decision {
	for {
		s.w.Print("Allow %s? [a]ccept / [A]lways allow / [r]eject: ", name)
		line, err := s.input.ReadString('\n')
		if err != nil {
			s.w.Newline()
			return approval.Reject
		}
		raw := strings.TrimSpace(line)
		// ParseDecision lowercases, so the always-allow shorthand is
		// checked against the raw input first.
		if raw == "A" {
			return approval.AlwaysAllow
		}
		decision, err := approval.ParseDecision(raw)
		if err != nil {
			s.w.Warn("answer a, A, or r")
			continue
		}
		return decision
	}
}

func formatToolArgs(argsJSON string) string {
	trimmed := strings.TrimSpace(argsJSON)
	if trimmed == "" || trimmed == "{}" {
		return "(no arguments)"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return trimmed
	}
	return buf.String()
}

func resultPreview(result string) string {
	const max = 400
	result = strings.TrimSpace(result)
	if len(result) <= max {
		return result
	}
	return runewidth.Truncate(result, max, "…")
}
