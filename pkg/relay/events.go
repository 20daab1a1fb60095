package relay

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/stagehand-dev/stagehand/pkg/bus"
	"github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/orchestrator"
)

const (
	eventBuffer       = 128
	heartbeatInterval = 30 * time.Second
)

// controlEvent is the frame for connection lifecycle signals. Turn
// events pass through from the bus verbatim.
type controlEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Filter    string    `json:"filter,omitempty"`
}

// handleEvents streams turn events over SSE. Frames use the same
// "data: <json>" framing the backend stream uses, so panels can share
// a parser with the client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeInternal, "event bus unavailable"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, stdliberrors.New("streaming unsupported"))
		return
	}
	if !s.streams.acquire() {
		respondError(w, http.StatusTooManyRequests, stdliberrors.New("too many stream clients"))
		return
	}
	defer s.streams.release()
	metricStreamClients.Inc()
	defer metricStreamClients.Dec()

	ctx := r.Context()
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = orchestrator.TurnSubjectAll
	}

	events := make(chan []byte, eventBuffer)
	sub, err := s.eventBus.Subscribe(ctx, filter, func(msg *bus.Message) []byte {
		select {
		case events <- msg.Data:
		default:
			// Drop rather than stall the bus on a slow panel.
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeFrame := func(data []byte) bool {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	connected, _ := json.Marshal(controlEvent{Type: "connected", Timestamp: time.Now().UTC(), Filter: filter})
	if !writeFrame(connected) {
		return
	}
	s.logEvent(logging.LevelDebug, "sse_client_connected", "", map[string]any{"filter": filter})

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat, _ := json.Marshal(controlEvent{Type: "heartbeat", Timestamp: time.Now().UTC()})
			if !writeFrame(beat) {
				return
			}
		case data := <-events:
			if !writeFrame(data) {
				return
			}
		}
	}
}

// handleWebSocket streams the same events over a websocket, for panels
// that need bidirectional traffic.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeInternal, "event bus unavailable"))
		return
	}
	if !s.streams.acquire() {
		respondError(w, http.StatusTooManyRequests, stdliberrors.New("too many stream clients"))
		return
	}
	defer s.streams.release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		// Accept already wrote the handshake failure.
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closed")
	metricStreamClients.Inc()
	defer metricStreamClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = orchestrator.TurnSubjectAll
	}

	events := make(chan []byte, eventBuffer)
	sub, err := s.eventBus.Subscribe(ctx, filter, func(msg *bus.Message) []byte {
		select {
		case events <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := wsjson.Write(ctx, conn, controlEvent{Type: "connected", Timestamp: time.Now().UTC(), Filter: filter}); err != nil {
		return
	}
	s.logEvent(logging.LevelDebug, "ws_client_connected", "", map[string]any{"filter": filter})

	// Read loop answers pings and cancels the stream when the peer
	// goes away.
	go func() {
		defer cancel()
		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				_ = wsjson.Write(ctx, conn, controlEvent{Type: "pong", Timestamp: time.Now().UTC()})
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, controlEvent{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		case data := <-events:
			if err := wsjson.Write(ctx, conn, json.RawMessage(data)); err != nil {
				return
			}
		}
	}
}
