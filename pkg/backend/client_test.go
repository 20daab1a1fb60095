package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-dev/stagehand/pkg/config"
)

// captureHandler records every callback in arrival order so tests can
// assert the exact event sequence a stream produced.
type captureHandler struct {
	events []string
}

func (h *captureHandler) OnContent(chunk string)   { h.events = append(h.events, "content:"+chunk) }
func (h *captureHandler) OnReasoning(chunk string) { h.events = append(h.events, "reasoning:"+chunk) }

func (h *captureHandler) OnBackendTool(name, argsJSON, callID string) {
	h.events = append(h.events, fmt.Sprintf("backend_tool:%s:%s:%s", name, callID, argsJSON))
}

func (h *captureHandler) OnHostTool(sessionID, name, argsJSON, callID string) {
	h.events = append(h.events, fmt.Sprintf("host_tool:%s:%s:%s:%s", sessionID, name, callID, argsJSON))
}

func (h *captureHandler) OnToolResult(callID, result string) {
	h.events = append(h.events, fmt.Sprintf("tool_result:%s:%s", callID, result))
}

func (h *captureHandler) OnCost(amount float64) {
	h.events = append(h.events, fmt.Sprintf("cost:%g", amount))
}

func (h *captureHandler) OnComplete()             { h.events = append(h.events, "complete") }
func (h *captureHandler) OnError(message string)  { h.events = append(h.events, "error:"+message) }

type capturedRequest struct {
	path   string
	method string
	header http.Header
	body   []byte
}

// newStreamServer serves the given SSE payload for every request and
// captures the most recent request for assertions.
func newStreamServer(t *testing.T, payload string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.path = r.URL.Path
		captured.method = r.Method
		captured.header = r.Header.Clone()
		captured.body = body

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, payload)
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func sseBody(records ...string) string {
	var b strings.Builder
	for _, record := range records {
		b.WriteString("data: ")
		b.WriteString(record)
		b.WriteString("\n\n")
	}
	return b.String()
}

// TestClient_Stream_EventOrder tests that events arrive in stream order and
// that the turn request carries the protocol headers.
func TestClient_Stream_EventOrder(t *testing.T) {
	records := []string{
		`{"type":"content","content":"he"}`,
		`{"type":"content","content":"llo"}`,
		`{"type":"cost","cost":0.0001}`,
		`{"type":"final"}`,
	}

	var header http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ai" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		header = r.Header.Clone()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, record := range records {
			fmt.Fprintf(w, "data: %s\n\n", record)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	handler := &captureHandler{}
	client.Stream(context.Background(), TurnRequest{Prompt: "hello"}, handler)

	want := []string{"content:he", "content:llo", "cost:0.0001", "complete"}
	if !reflect.DeepEqual(handler.events, want) {
		t.Errorf("events = %q, want %q", handler.events, want)
	}

	if got := header.Get("X-API-Key"); got != "test-key" {
		t.Errorf("X-API-Key = %q, want %q", got, "test-key")
	}
	if got := header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
	if got := header.Get("Accept"); got != "text/event-stream" {
		t.Errorf("Accept = %q, want %q", got, "text/event-stream")
	}
}

// TestClient_Stream_Dispatch tests routing of each event type to its callback
func TestClient_Stream_Dispatch(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   []string
	}{
		{
			name:   "content",
			record: `{"type":"content","content":"hi"}`,
			want:   []string{"content:hi"},
		},
		{
			name:   "reasoning",
			record: `{"type":"reasoning","reasoning":"hmm"}`,
			want:   []string{"reasoning:hmm"},
		},
		{
			name:   "backend_tool",
			record: `{"type":"tool_call_backend","tool":"search","call_id":"c1","args":{"q":"go"}}`,
			want:   []string{`backend_tool:search:c1:{"q":"go"}`},
		},
		{
			name:   "backend_tool_without_args",
			record: `{"type":"tool_call_backend","tool":"noop","call_id":"c2"}`,
			want:   []string{"backend_tool:noop:c2:{}"},
		},
		{
			name:   "host_tool_with_session",
			record: `{"type":"tool_call_host","tool":"write_file","call_id":"c3","session_id":"s9","args":{"path":"a.txt"}}`,
			want:   []string{`host_tool:s9:write_file:c3:{"path":"a.txt"}`},
		},
		{
			name:   "host_tool_falls_back_to_turn_session",
			record: `{"type":"tool_call_host","tool":"read_file","call_id":"c4","args":{"path":"b.txt"}}`,
			want:   []string{`host_tool:turn-session:read_file:c4:{"path":"b.txt"}`},
		},
		{
			name:   "tool_result",
			record: `{"type":"tool_result","call_id":"c1","result":"done"}`,
			want:   []string{"tool_result:c1:done"},
		},
		{
			name:   "cost",
			record: `{"type":"cost","cost":0.25}`,
			want:   []string{"cost:0.25"},
		},
		{
			name:   "final",
			record: `{"type":"final"}`,
			want:   []string{"complete"},
		},
		{
			name:   "error_event_is_logged_not_dispatched",
			record: `{"type":"error","content":"backend hiccup"}`,
			want:   nil,
		},
		{
			name:   "unknown_type_dropped",
			record: `{"type":"telemetry_blob","content":"x"}`,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newStreamServer(t, sseBody(tt.record))

			client := NewClient(server.URL, "test-key")
			handler := &captureHandler{}
			client.Stream(context.Background(), TurnRequest{Prompt: "x", SessionID: "turn-session"}, handler)

			if !reflect.DeepEqual(handler.events, tt.want) {
				t.Errorf("events = %q, want %q", handler.events, tt.want)
			}
		})
	}
}

// TestClient_Stream_ServerError tests the error text for non-200 responses
func TestClient_Stream_ServerError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       string
	}{
		{
			name:       "internal_error",
			statusCode: http.StatusInternalServerError,
			body:       "oops",
			want:       "error:Server error: 500 - oops",
		},
		{
			name:       "unauthorized",
			statusCode: http.StatusUnauthorized,
			body:       `{"detail":"bad key"}`,
			want:       `error:Server error: 401 - {"detail":"bad key"}`,
		},
		{
			name:       "body_whitespace_trimmed",
			statusCode: http.StatusBadGateway,
			body:       "\n  upstream down  \n",
			want:       "error:Server error: 502 - upstream down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			handler := &captureHandler{}
			client.Stream(context.Background(), TurnRequest{Prompt: "x"}, handler)

			if !reflect.DeepEqual(handler.events, []string{tt.want}) {
				t.Errorf("events = %q, want [%q]", handler.events, tt.want)
			}
		})
	}
}

// TestClient_Stream_NotConfigured tests that a missing URL or key surfaces
// through OnError without any request being issued.
func TestClient_Stream_NotConfigured(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	tests := []struct {
		name    string
		baseURL string
		apiKey  string
		want    string
	}{
		{
			name:    "missing_url",
			baseURL: "",
			apiKey:  "test-key",
			want:    "error:Backend URL is not configured",
		},
		{
			name:    "missing_key",
			baseURL: server.URL,
			apiKey:  "",
			want:    "error:API key is not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.baseURL, tt.apiKey)
			handler := &captureHandler{}
			client.Stream(context.Background(), TurnRequest{Prompt: "x"}, handler)

			if !reflect.DeepEqual(handler.events, []string{tt.want}) {
				t.Errorf("events = %q, want [%q]", handler.events, tt.want)
			}
		})
	}

	if requested {
		t.Error("request was issued despite missing configuration")
	}
}

// TestClient_Stream_SessionIDs tests session id stamping: fresh UUID per
// turn when absent, caller's id kept when present.
func TestClient_Stream_SessionIDs(t *testing.T) {
	server, captured := newStreamServer(t, sseBody(`{"type":"final"}`))
	client := NewClient(server.URL, "test-key")

	sessionID := func() string {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(captured.body, &req); err != nil {
			t.Fatalf("decoding captured body: %v", err)
		}
		return req.SessionID
	}

	client.Stream(context.Background(), TurnRequest{Prompt: "one"}, NopHandler{})
	first := sessionID()
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("session_id %q is not a UUID: %v", first, err)
	}

	client.Stream(context.Background(), TurnRequest{Prompt: "two"}, NopHandler{})
	second := sessionID()
	if second == first {
		t.Errorf("second turn reused session_id %q", second)
	}

	client.Stream(context.Background(), TurnRequest{Prompt: "three", SessionID: "fixed"}, NopHandler{})
	if got := sessionID(); got != "fixed" {
		t.Errorf("session_id = %q, want %q", got, "fixed")
	}
}

// TestClient_Stream_RequestBody tests the wire shape of the turn request
func TestClient_Stream_RequestBody(t *testing.T) {
	server, captured := newStreamServer(t, sseBody(`{"type":"final"}`))
	client := NewClient(server.URL, "test-key")

	req := TurnRequest{
		Prompt: "describe this",
		Agent:  "assistant",
		Model:  "claude-sonnet-4-5",
		Content: []ContentPart{
			{Type: "text", Text: "describe this"},
			{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,AAAA"}},
		},
		Settings: &config.RequestSettings{MaxTokens: 2000, ReasoningEffort: "high"},
	}
	client.Stream(context.Background(), req, NopHandler{})

	var got struct {
		Prompt   string           `json:"prompt"`
		Agent    string           `json:"agent"`
		Model    string           `json:"model"`
		Messages []map[string]any `json:"messages"`
		Content  []map[string]any `json:"content"`
		Settings map[string]any   `json:"settings"`
	}
	if err := json.Unmarshal(captured.body, &got); err != nil {
		t.Fatalf("decoding captured body: %v", err)
	}

	if got.Prompt != "describe this" {
		t.Errorf("prompt = %q, want %q", got.Prompt, "describe this")
	}
	if got.Agent != "assistant" {
		t.Errorf("agent = %q, want %q", got.Agent, "assistant")
	}
	if got.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q, want %q", got.Model, "claude-sonnet-4-5")
	}
	if len(got.Content) != 2 {
		t.Fatalf("content has %d parts, want 2", len(got.Content))
	}
	if got.Content[0]["type"] != "text" || got.Content[1]["type"] != "image_url" {
		t.Errorf("content part types = %v, %v", got.Content[0]["type"], got.Content[1]["type"])
	}
	if got.Settings["max_tokens"] != float64(2000) {
		t.Errorf("settings.max_tokens = %v, want 2000", got.Settings["max_tokens"])
	}

	// History must serialize as an empty array, never null.
	if !strings.Contains(string(captured.body), `"messages":[]`) {
		t.Errorf("body does not contain empty messages array: %s", captured.body)
	}
}

// TestClient_Stream_MalformedRecordSkipped tests that an unparseable record
// is skipped and the stream continues
func TestClient_Stream_MalformedRecordSkipped(t *testing.T) {
	server, _ := newStreamServer(t, sseBody(
		`{"type":"content","content":"a"}`,
		`{broken`,
		`{"type":"content","content":"b"}`,
		`{"type":"final"}`,
	))

	client := NewClient(server.URL, "test-key")
	handler := &captureHandler{}
	client.Stream(context.Background(), TurnRequest{Prompt: "x"}, handler)

	want := []string{"content:a", "content:b", "complete"}
	if !reflect.DeepEqual(handler.events, want) {
		t.Errorf("events = %q, want %q", handler.events, want)
	}
}

// TestClient_Stream_ErrorEventContinues tests that a backend error event
// does not end the stream
func TestClient_Stream_ErrorEventContinues(t *testing.T) {
	server, _ := newStreamServer(t, sseBody(
		`{"type":"error","content":"backend hiccup"}`,
		`{"type":"content","content":"still here"}`,
		`{"type":"final"}`,
	))

	client := NewClient(server.URL, "test-key")
	handler := &captureHandler{}
	client.Stream(context.Background(), TurnRequest{Prompt: "x"}, handler)

	want := []string{"content:still here", "complete"}
	if !reflect.DeepEqual(handler.events, want) {
		t.Errorf("events = %q, want %q", handler.events, want)
	}
}

// TestClient_Stream_MultiLineRecord tests that a record split across data
// lines is reassembled before decoding
func TestClient_Stream_MultiLineRecord(t *testing.T) {
	payload := "data: {\"type\":\"content\",\ndata: \"content\":\"split\"}\n\n" +
		sseBody(`{"type":"final"}`)
	server, _ := newStreamServer(t, payload)

	client := NewClient(server.URL, "test-key")
	handler := &captureHandler{}
	client.Stream(context.Background(), TurnRequest{Prompt: "x"}, handler)

	want := []string{"content:split", "complete"}
	if !reflect.DeepEqual(handler.events, want) {
		t.Errorf("events = %q, want %q", handler.events, want)
	}
}

// TestClient_Stream_ContextCancelled tests that cancellation mid-stream
// surfaces through OnError after the events already delivered
func TestClient_Stream_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"content\",\"content\":\"hi\"}\n\n")
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, "test-key")
	handler := &captureHandler{}
	client.Stream(ctx, TurnRequest{Prompt: "x"}, handler)

	if len(handler.events) < 2 {
		t.Fatalf("events = %q, want content then error", handler.events)
	}
	if handler.events[0] != "content:hi" {
		t.Errorf("first event = %q, want %q", handler.events[0], "content:hi")
	}
	last := handler.events[len(handler.events)-1]
	if !strings.HasPrefix(last, "error:") {
		t.Errorf("last event = %q, want an error", last)
	}
}

// TestClient_Stream_CircuitBreaker tests that repeated failures open the
// circuit and block further turn requests
func TestClient_Stream_CircuitBreaker(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "down")
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, "test-key", Options{
		CircuitBreakerConfig: &CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute},
	})

	for i := 0; i < 2; i++ {
		handler := &captureHandler{}
		client.Stream(context.Background(), TurnRequest{Prompt: "x"}, handler)
		want := []string{"error:Server error: 500 - down"}
		if !reflect.DeepEqual(handler.events, want) {
			t.Fatalf("events = %q, want %q", handler.events, want)
		}
	}

	if got := client.CircuitBreakerState(); got != "open" {
		t.Fatalf("circuit breaker state = %q, want open", got)
	}

	handler := &captureHandler{}
	client.Stream(context.Background(), TurnRequest{Prompt: "x"}, handler)
	if len(handler.events) != 1 || !strings.HasPrefix(handler.events[0], "error:circuit breaker is open") {
		t.Errorf("events = %q, want circuit breaker error", handler.events)
	}
	if callCount != 2 {
		t.Errorf("backend saw %d requests, want 2", callCount)
	}

	client.ResetCircuitBreaker()
	if got := client.CircuitBreakerState(); got != "closed" {
		t.Errorf("circuit breaker state after reset = %q, want closed", got)
	}
}

// TestClient_SubmitToolResult tests the tool result POST
func TestClient_SubmitToolResult(t *testing.T) {
	server, captured := newStreamServer(t, "")
	client := NewClient(server.URL, "test-key")

	err := client.SubmitToolResult(context.Background(), "s1", "c1", "file written")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.path != "/ai/tool-result" {
		t.Errorf("path = %q, want %q", captured.path, "/ai/tool-result")
	}
	if captured.method != http.MethodPost {
		t.Errorf("method = %q, want POST", captured.method)
	}
	if got := captured.header.Get("X-API-Key"); got != "test-key" {
		t.Errorf("X-API-Key = %q, want %q", got, "test-key")
	}

	var got ToolResultSubmission
	if err := json.Unmarshal(captured.body, &got); err != nil {
		t.Fatalf("decoding captured body: %v", err)
	}
	want := ToolResultSubmission{SessionID: "s1", CallID: "c1", Result: "file written"}
	if got != want {
		t.Errorf("submission = %+v, want %+v", got, want)
	}
}

// TestClient_SubmitToolResult_ServerError tests the non-200 error path
func TestClient_SubmitToolResult_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "nope")
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.SubmitToolResult(context.Background(), "s1", "c1", "out")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err.Error() != "Server error: 404 - nope" {
		t.Errorf("error = %q, want %q", err.Error(), "Server error: 404 - nope")
	}

	unconfigured := NewClient("", "test-key")
	if err := unconfigured.SubmitToolResult(context.Background(), "s1", "c1", "out"); err == nil {
		t.Error("expected error for missing backend URL, got nil")
	}
}

// TestClient_TrimsTrailingSlash tests base URL normalization
func TestClient_TrimsTrailingSlash(t *testing.T) {
	server, captured := newStreamServer(t, sseBody(`{"type":"final"}`))

	client := NewClient(server.URL+"/", "test-key")
	client.Stream(context.Background(), TurnRequest{Prompt: "x"}, NopHandler{})

	if captured.path != "/ai" {
		t.Errorf("path = %q, want %q", captured.path, "/ai")
	}
}
