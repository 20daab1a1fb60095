package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	stagerrors "github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/tool"
)

type stubTool struct {
	name     string
	result   tool.Result
	calls    int
	lastArgs map[string]any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }

func (s *stubTool) Execute(args map[string]any) tool.Result {
	s.calls++
	s.lastArgs = args
	return s.result
}

type submission struct {
	sessionID string
	callID    string
	result    string
}

type recordingSubmitter struct {
	mu          sync.Mutex
	submissions []submission
	err         error
}

func (r *recordingSubmitter) SubmitToolResult(ctx context.Context, sessionID, callID, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, submission{sessionID, callID, result})
	return r.err
}

func (r *recordingSubmitter) last(t *testing.T) submission {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.submissions) == 0 {
		t.Fatal("expected a submitted result")
	}
	return r.submissions[len(r.submissions)-1]
}

func newTestGate(tools ...tool.Tool) (*Gate, *recordingSubmitter) {
	registry := tool.NewRegistry()
	registry.RegisterAll(tools...)
	sub := &recordingSubmitter{}
	return NewGate(registry, WithSubmitter(sub)), sub
}

func TestGate_SubmitParksPending(t *testing.T) {
	st := &stubTool{name: "write_file", result: tool.Result{Success: true, Output: "done"}}
	g, _ := newTestGate(st)

	requires, outcome, err := g.Submit(context.Background(), "sess-1", "call-1", "write_file", `{"path":"a.txt"}`)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !requires {
		t.Error("expected approval to be required")
	}
	if outcome != nil {
		t.Errorf("expected no outcome yet, got %#v", outcome)
	}
	if st.calls != 0 {
		t.Error("expected tool not to run before a decision")
	}

	call, ok := g.Get("call-1")
	if !ok {
		t.Fatal("expected call to be tracked")
	}
	if call.State != StatePending {
		t.Errorf("state = %q, want %q", call.State, StatePending)
	}
	if call.SessionID != "sess-1" || call.ToolName != "write_file" {
		t.Errorf("unexpected call fields: %#v", call)
	}

	pending := g.Pending()
	if len(pending) != 1 || pending[0].CallID != "call-1" {
		t.Errorf("Pending() = %#v, want the submitted call", pending)
	}
}

func TestGate_AcceptExecutesAndSubmits(t *testing.T) {
	st := &stubTool{name: "read_file", result: tool.Result{Success: true, Output: "file contents"}}
	g, sub := newTestGate(st)

	_, _, err := g.Submit(context.Background(), "sess-1", "call-1", "read_file", `{"path":"a.txt"}`)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	outcome, err := g.Resolve(context.Background(), "call-1", Accept)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if outcome.Call.State != StateCompleted {
		t.Errorf("state = %q, want %q", outcome.Call.State, StateCompleted)
	}
	if outcome.Result != "file contents" {
		t.Errorf("result = %q, want the tool output verbatim", outcome.Result)
	}
	if st.calls != 1 {
		t.Errorf("tool calls = %d, want 1", st.calls)
	}
	if got := st.lastArgs["path"]; got != "a.txt" {
		t.Errorf("args path = %v, want a.txt", got)
	}

	last := sub.last(t)
	if last.sessionID != "sess-1" || last.callID != "call-1" || last.result != "file contents" {
		t.Errorf("submitted = %#v", last)
	}

	// Accept alone must not widen the always-allowed set
	if g.IsAlwaysAllowed("read_file") {
		t.Error("accept must not add the tool to the always-allowed set")
	}
}

func TestGate_FailedToolResultPassesThrough(t *testing.T) {
	st := &stubTool{name: "read_file", result: tool.Result{Success: false, Output: "read_file: no such file"}}
	g, sub := newTestGate(st)

	g.Submit(context.Background(), "s", "call-1", "read_file", "{}")
	outcome, err := g.Resolve(context.Background(), "call-1", Accept)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if outcome.Call.State != StateFailed {
		t.Errorf("state = %q, want %q", outcome.Call.State, StateFailed)
	}
	if outcome.Result != "read_file: no such file" {
		t.Errorf("result = %q, want the failure output verbatim", outcome.Result)
	}
	if sub.last(t).result != "read_file: no such file" {
		t.Errorf("submitted %q, want the failure output", sub.last(t).result)
	}
}

func TestGate_RejectNeverRunsTool(t *testing.T) {
	st := &stubTool{name: "write_file", result: tool.Result{Success: true, Output: "written"}}
	g, sub := newTestGate(st)

	g.Submit(context.Background(), "sess-9", "call-1", "write_file", `{"path":"a"}`)
	outcome, err := g.Resolve(context.Background(), "call-1", Reject)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if outcome.Call.State != StateRejected {
		t.Errorf("state = %q, want %q", outcome.Call.State, StateRejected)
	}
	if outcome.Result != RejectedResult {
		t.Errorf("result = %q, want %q", outcome.Result, RejectedResult)
	}
	if st.calls != 0 {
		t.Error("expected the tool to never run")
	}

	last := sub.last(t)
	if last.result != `{"error":"Tool execution rejected by user"}` {
		t.Errorf("submitted %q, want the rejection payload exactly", last.result)
	}
	if g.IsAlwaysAllowed("write_file") {
		t.Error("rejection must not touch the always-allowed set")
	}
}

func TestGate_AlwaysAllowPersistsForProcess(t *testing.T) {
	st := &stubTool{name: "list_dir", result: tool.Result{Success: true, Output: "a/\nb.txt"}}
	g, _ := newTestGate(st)

	g.Submit(context.Background(), "s", "call-1", "list_dir", "{}")
	outcome, err := g.Resolve(context.Background(), "call-1", AlwaysAllow)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if outcome.Call.State != StateCompleted {
		t.Errorf("state = %q, want %q", outcome.Call.State, StateCompleted)
	}
	if !g.IsAlwaysAllowed("list_dir") {
		t.Fatal("expected list_dir in the always-allowed set")
	}

	// The next call to the same tool skips approval entirely
	requires, auto, err := g.Submit(context.Background(), "s", "call-2", "list_dir", "{}")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if requires {
		t.Error("expected no approval for an always-allowed tool")
	}
	if auto == nil || auto.Call.State != StateCompleted {
		t.Fatalf("expected an immediate completed outcome, got %#v", auto)
	}
	if st.calls != 2 {
		t.Errorf("tool calls = %d, want 2", st.calls)
	}

	// A failing run keeps the allowance
	st.result = tool.Result{Success: false, Output: "list_dir: gone"}
	_, auto, err = g.Submit(context.Background(), "s", "call-3", "list_dir", "{}")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if auto.Call.State != StateFailed {
		t.Errorf("state = %q, want %q", auto.Call.State, StateFailed)
	}
	if !g.IsAlwaysAllowed("list_dir") {
		t.Error("failure must not remove the allowance")
	}
}

func TestGate_RejectionOfOtherToolLeavesSetAlone(t *testing.T) {
	allowed := &stubTool{name: "read_file", result: tool.Result{Success: true, Output: "x"}}
	other := &stubTool{name: "write_file", result: tool.Result{Success: true, Output: "y"}}
	g, _ := newTestGate(allowed, other)

	g.AllowAlways("read_file")
	g.Submit(context.Background(), "s", "call-1", "write_file", "{}")
	if _, err := g.Resolve(context.Background(), "call-1", Reject); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if !g.IsAlwaysAllowed("read_file") {
		t.Error("rejecting another tool must not shrink the set")
	}
	if g.IsAlwaysAllowed("write_file") {
		t.Error("rejected tool must not join the set")
	}
}

func TestGate_ResolveUnknownCall(t *testing.T) {
	g, _ := newTestGate()

	_, err := g.Resolve(context.Background(), "ghost", Accept)
	if err == nil {
		t.Fatal("expected error for unknown call")
	}
	if !stagerrors.IsCode(err, stagerrors.ErrCodeApprovalUnknown) {
		t.Errorf("error code = %v, want %v", stagerrors.GetCode(err), stagerrors.ErrCodeApprovalUnknown)
	}
}

func TestGate_TerminalStatesAreFinal(t *testing.T) {
	st := &stubTool{name: "read_file", result: tool.Result{Success: true, Output: "once"}}
	g, _ := newTestGate(st)

	g.Submit(context.Background(), "s", "call-1", "read_file", "{}")
	if _, err := g.Resolve(context.Background(), "call-1", Accept); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	_, err := g.Resolve(context.Background(), "call-1", Reject)
	if err == nil {
		t.Fatal("expected error resolving a decided call")
	}
	if !stagerrors.IsCode(err, stagerrors.ErrCodeApprovalDecided) {
		t.Errorf("error code = %v, want %v", stagerrors.GetCode(err), stagerrors.ErrCodeApprovalDecided)
	}
	if st.calls != 1 {
		t.Errorf("tool calls = %d, want 1", st.calls)
	}

	call, _ := g.Get("call-1")
	if call.State != StateCompleted {
		t.Errorf("state = %q, want %q", call.State, StateCompleted)
	}
}

func TestGate_DuplicateCallID(t *testing.T) {
	st := &stubTool{name: "read_file", result: tool.Result{Success: true}}
	g, _ := newTestGate(st)

	g.Submit(context.Background(), "s", "call-1", "read_file", "{}")
	_, _, err := g.Submit(context.Background(), "s", "call-1", "read_file", "{}")
	if err == nil {
		t.Fatal("expected error for duplicate call id")
	}
}

func TestGate_MalformedArgsStillDispatch(t *testing.T) {
	st := &stubTool{name: "read_file", result: tool.Result{Success: false, Output: "read_file: path argument is required"}}
	g, _ := newTestGate(st)

	g.Submit(context.Background(), "s", "call-1", "read_file", `{"path": truncat`)
	outcome, err := g.Resolve(context.Background(), "call-1", Accept)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if st.calls != 1 {
		t.Fatal("expected dispatch despite malformed args")
	}
	if len(st.lastArgs) != 0 {
		t.Errorf("expected empty args, got %#v", st.lastArgs)
	}
	if outcome.Call.State != StateFailed {
		t.Errorf("state = %q, want %q", outcome.Call.State, StateFailed)
	}
}

func TestGate_SubmitterFailureIsSwallowed(t *testing.T) {
	st := &stubTool{name: "read_file", result: tool.Result{Success: true, Output: "ok"}}
	registry := tool.NewRegistry()
	registry.Register(st)
	sub := &recordingSubmitter{err: errors.New("backend down")}
	g := NewGate(registry, WithSubmitter(sub))

	g.Submit(context.Background(), "s", "call-1", "read_file", "{}")
	outcome, err := g.Resolve(context.Background(), "call-1", Accept)
	if err != nil {
		t.Fatalf("Resolve() error = %v, submission failures must not surface", err)
	}
	if outcome.Call.State != StateCompleted {
		t.Errorf("state = %q, want %q", outcome.Call.State, StateCompleted)
	}
}

func TestGate_PendingOrderOldestFirst(t *testing.T) {
	st := &stubTool{name: "read_file", result: tool.Result{Success: true}}
	g, _ := newTestGate(st)

	g.Submit(context.Background(), "s", "call-a", "read_file", "{}")
	time.Sleep(5 * time.Millisecond)
	g.Submit(context.Background(), "s", "call-b", "read_file", "{}")
	time.Sleep(5 * time.Millisecond)
	g.Submit(context.Background(), "s", "call-c", "read_file", "{}")

	pending := g.Pending()
	if len(pending) != 3 {
		t.Fatalf("len(Pending()) = %d, want 3", len(pending))
	}
	for i, want := range []string{"call-a", "call-b", "call-c"} {
		if pending[i].CallID != want {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].CallID, want)
		}
	}
}

func TestGate_AlwaysAllowedListing(t *testing.T) {
	g, _ := newTestGate()
	g.AllowAlways("zeta")
	g.AllowAlways("alpha")
	g.AllowAlways("")

	got := g.AlwaysAllowed()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("AlwaysAllowed() = %v, want [alpha zeta]", got)
	}
}
