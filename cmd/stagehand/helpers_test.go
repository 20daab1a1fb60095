package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stagehand-dev/stagehand/pkg/approval"
	"github.com/stagehand-dev/stagehand/pkg/config"
	"github.com/stagehand-dev/stagehand/pkg/conversation"
	"github.com/stagehand-dev/stagehand/pkg/cost"
	"github.com/stagehand-dev/stagehand/pkg/terminal"
	"github.com/stagehand-dev/stagehand/pkg/tool"
)

// syncBuffer lets sinks write from the stream goroutine while the test
// reads the accumulated output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recordingResolver captures Resolve calls so tests can assert on the
// decision a sink made.
type recordingResolver struct {
	mu        sync.Mutex
	callIDs   []string
	decisions []approval.Decision
	resolved  chan struct{}
}

func newRecordingResolver() *recordingResolver {
	return &recordingResolver{resolved: make(chan struct{}, 8)}
}

func (r *recordingResolver) Resolve(_ context.Context, callID string, decision approval.Decision) error {
	r.mu.Lock()
	r.callIDs = append(r.callIDs, callID)
	r.decisions = append(r.decisions, decision)
	r.mu.Unlock()
	r.resolved <- struct{}{}
	return nil
}

func (r *recordingResolver) last(t *testing.T) (string, approval.Decision) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.callIDs) == 0 {
		t.Fatal("no Resolve call recorded")
	}
	return r.callIDs[len(r.callIDs)-1], r.decisions[len(r.decisions)-1]
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its arguments" }
func (echoTool) Execute(args map[string]any) tool.Result {
	text, _ := args["text"].(string)
	return tool.Result{Success: true, Output: text}
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Backend.APIKey = "test-key"
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.SearchIndex = false
	return cfg
}

// newTestRepl builds a repl over a real manager in a temp directory,
// with scripted console input and captured output.
func newTestRepl(t *testing.T, input string) (*repl, *syncBuffer) {
	t.Helper()

	store, err := conversation.NewStore(filepath.Join(t.TempDir(), "Conversations"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	registry := tool.NewRegistry()
	registry.Register(echoTool{})

	a := &app{
		cfg:      newTestConfig(t),
		runID:    "20260825-test",
		manager:  conversation.NewManager(store),
		registry: registry,
		costs:    cost.NewTracker(),
	}
	a.gate = approval.NewGate(registry)

	out := &syncBuffer{}
	r := &repl{
		app:   a,
		w:     terminal.NewWithOutput(out),
		input: bufio.NewReader(strings.NewReader(input)),
	}
	return r, out
}

// writePNGFixture drops a minimal PNG-magic file for attachment tests.
func writePNGFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shot.png")
	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x01}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
