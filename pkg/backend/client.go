package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
)

const (
	turnPath       = "/ai"
	toolResultPath = "/ai/tool-result"

	defaultTimeout = 5 * time.Minute

	// One request per second with small bursts keeps an agent backend from
	// being flooded by rapid-fire turns and tool results.
	defaultRateLimit = rate.Limit(1)
	defaultBurstSize = 10
)

// DefaultTransport returns an http.Transport with tuned connection pool settings.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Client speaks the backend's streaming turn protocol: one POST per turn
// whose response is an SSE stream, plus a second POST per tool result.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	transport      *LoggingTransport
	rateLimiter    *rate.Limiter
	circuitBreaker *CircuitBreaker
	logger         *logging.Logger
}

// Options tune client construction. The zero value gives library defaults.
type Options struct {
	NetworkLogsEnabled bool
	Timeout            time.Duration
	RateLimit          rate.Limit
	Burst              int
	// CircuitBreakerConfig is optional; if nil, default config is used
	CircuitBreakerConfig *CircuitBreakerConfig
	Logger               *logging.Logger
}

// NewClient creates a client with default options.
func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithOptions(baseURL, apiKey, Options{})
}

// NewClientWithOptions creates a client for the given backend.
func NewClientWithOptions(baseURL, apiKey string, opts Options) *Client {
	transport := NewLoggingTransport(DefaultTransport(), opts.NetworkLogsEnabled)

	var cbConfig CircuitBreakerConfig
	if opts.CircuitBreakerConfig != nil {
		cbConfig = *opts.CircuitBreakerConfig
	} else {
		cbConfig = DefaultCircuitBreakerConfig()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurstSize
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		transport:      transport,
		rateLimiter:    rate.NewLimiter(limit, burst),
		circuitBreaker: NewCircuitBreaker(cbConfig),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: opts.Logger,
	}
}

// Close closes the client and its resources
func (c *Client) Close() error {
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// CircuitBreakerState returns the current state of the circuit breaker
func (c *Client) CircuitBreakerState() string {
	if c.circuitBreaker != nil {
		return c.circuitBreaker.State()
	}
	return "disabled"
}

// ResetCircuitBreaker manually resets the circuit breaker to closed state
func (c *Client) ResetCircuitBreaker() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.Reset()
	}
}

// SetTimeout updates the underlying HTTP client timeout (0 disables timeout).
func (c *Client) SetTimeout(timeout time.Duration) {
	if c.httpClient != nil {
		c.httpClient.Timeout = timeout
	}
}

// Stream issues the turn POST and dispatches stream events to handler in
// arrival order, blocking until the stream ends. Failures do not escape as
// return values: a missing URL or key, a non-200 response and transport
// errors all surface through handler.OnError, and OnComplete fires only
// when the stream's final event arrives. A fresh session id is stamped at
// request start unless the caller supplied one.
//
// The turn POST is never retried. Replaying it could re-run a turn whose
// stream was already partially delivered.
func (c *Client) Stream(ctx context.Context, req TurnRequest, handler StreamHandler) {
	if handler == nil {
		handler = NopHandler{}
	}
	if strings.TrimSpace(c.baseURL) == "" {
		handler.OnError("Backend URL is not configured")
		return
	}
	if strings.TrimSpace(c.apiKey) == "" {
		handler.OnError("API key is not configured")
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Messages == nil {
		req.Messages = []Message{}
	}

	telemetry.RecordBackendRequest(req.Model)
	timer := telemetry.NewTimer()
	err := c.circuitBreaker.Call(func() error {
		return c.executeStream(ctx, req, handler)
	})
	telemetry.RecordBackendLatency(timer.Elapsed())

	if err != nil {
		c.logEvent(logging.LevelError, "stream_failed", err.Error(), map[string]any{
			"session_id": req.SessionID,
			"model":      req.Model,
		})
		handler.OnError(err.Error())
	}
}

func (c *Client) executeStream(ctx context.Context, req TurnRequest, handler StreamHandler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+turnPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.serverError(resp)
	}

	return c.readStream(ctx, resp.Body, req, handler)
}

// readStream reads the growing response body and feeds it to the
// progressive parser; transport completion only flushes tail records.
func (c *Client) readStream(ctx context.Context, r io.Reader, req TurnRequest, handler StreamHandler) error {
	var body strings.Builder
	parser := &sseParser{}
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			body.Write(buf[:n])
			for _, record := range parser.feed(body.String()) {
				c.dispatch(record, req, handler)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
	}

	for _, record := range parser.finish(body.String()) {
		c.dispatch(record, req, handler)
	}
	return nil
}

// dispatch decodes one SSE record and routes it by type. A record that
// fails to parse is logged and skipped; the stream continues.
func (c *Client) dispatch(record string, req TurnRequest, handler StreamHandler) {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(record), &ev); err != nil {
		c.logEvent(logging.LevelWarn, "stream_parse_error", err.Error(), map[string]any{
			"record": truncateBody(record),
		})
		return
	}

	telemetry.RecordStreamEvent(ev.Type)

	switch ev.Type {
	case EventContent:
		handler.OnContent(ev.Content)
	case EventReasoning:
		handler.OnReasoning(ev.Reasoning)
	case EventBackendTool:
		handler.OnBackendTool(ev.Tool, argsJSON(ev.Args), ev.CallID)
	case EventHostTool:
		session := ev.SessionID
		if session == "" {
			session = req.SessionID
		}
		handler.OnHostTool(session, ev.Tool, argsJSON(ev.Args), ev.CallID)
	case EventToolResult:
		handler.OnToolResult(ev.CallID, ev.Result)
	case EventCost:
		handler.OnCost(ev.Cost)
	case EventFinal:
		handler.OnComplete()
	case EventError:
		c.logEvent(logging.LevelWarn, "stream_error_event", ev.Content, map[string]any{
			"session_id": req.SessionID,
		})
	default:
		// Unknown event types are dropped so newer backends stay compatible.
	}
}

// SubmitToolResult posts one tool result back to the backend, correlated by
// the session and call ids from the originating host tool call. Callers log
// and ignore failures; the stream does not depend on this POST succeeding.
func (c *Client) SubmitToolResult(ctx context.Context, sessionID, callID, result string) error {
	if strings.TrimSpace(c.baseURL) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "backend URL is not configured")
	}

	body, err := json.Marshal(ToolResultSubmission{
		SessionID: sessionID,
		CallID:    callID,
		Result:    result,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBackendRequest, "encoding tool result")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+toolResultPath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBackendRequest, "creating tool result request")
	}
	c.setHeaders(httpReq)

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.ErrCodeBackendRequest, "rate limit wait")
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBackendRequest, "posting tool result").
			WithContext("call_id", callID).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.serverError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) serverError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// setHeaders sets common request headers
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
}

func (c *Client) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryBackend,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

func argsJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
