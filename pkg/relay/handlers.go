package relay

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagehand-dev/stagehand/pkg/approval"
	"github.com/stagehand-dev/stagehand/pkg/backend"
	"github.com/stagehand-dev/stagehand/pkg/conversation"
	"github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/image"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/orchestrator"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
)

type messageRequest struct {
	Text           string         `json:"text"`
	ConversationID int64          `json:"conversation_id,omitempty"`
	ContextFiles   []string       `json:"context_files,omitempty"`
	Agent          string         `json:"agent,omitempty"`
	Model          string         `json:"model,omitempty"`
	Images         []imagePayload `json:"images,omitempty"`
}

// imagePayload carries one attached image; Data is base64 in JSON.
type imagePayload struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

type approvalRequest struct {
	Decision string `json:"decision"`
}

// handleSendMessage starts a turn for the posted message and returns
// immediately; progress streams over /events and /ws. A turn already in
// flight answers 409.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesMessage, false); err != nil {
		respondError(w, status, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		respondError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "text or images required"))
		return
	}
	if s.orch.Busy() {
		respondError(w, http.StatusConflict, errors.New(errors.ErrCodeTurnBusy, "a turn is already in flight"))
		return
	}
	if req.ConversationID > 0 && req.ConversationID != s.manager.CurrentID() {
		if err := s.manager.SetCurrent(req.ConversationID); err != nil {
			respondError(w, statusForError(err), err)
			return
		}
	}

	input := orchestrator.TurnInput{
		Text:         req.Text,
		ContextFiles: req.ContextFiles,
		Agent:        req.Agent,
		Model:        req.Model,
	}
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			continue
		}
		input.Images = append(input.Images, &image.Image{
			Data:     img.Data,
			MimeType: img.MimeType,
			Source:   "relay",
		})
	}

	// 0 means the turn will open a fresh conversation.
	conversationID := s.manager.CurrentID()

	// The turn outlives the request; errors reach clients as error
	// events and the persisted error message.
	go func() {
		if err := s.orch.Send(context.Background(), input); err != nil {
			s.logEvent(logging.LevelWarn, "turn_error", err.Error(), map[string]any{
				"conversation_id": conversationID,
			})
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":          "accepted",
		"conversation_id": conversationID,
	})
}

// handleApproval resolves a pending tool call with the posted decision.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "callID"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "call id required"))
		return
	}
	var req approvalRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall, false); err != nil {
		respondError(w, status, err)
		return
	}
	decision, err := approval.ParseDecision(req.Decision)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.Resolve(r.Context(), callID, decision); err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "resolved",
		"call_id":  callID,
		"decision": decision.String(),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"conversations": s.manager.List(),
		"current":       s.manager.CurrentID(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall, true); err != nil {
		respondError(w, status, err)
		return
	}
	if s.orch.Busy() {
		// Switching the open conversation mid-turn would land the reply
		// in the wrong log.
		respondError(w, http.StatusConflict, errors.New(errors.ErrCodeTurnBusy, "a turn is already in flight"))
		return
	}
	id := s.manager.Create(strings.TrimSpace(req.Title))
	meta, _ := s.manager.Get(id)
	respondJSON(w, http.StatusCreated, map[string]any{"conversation": meta})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := conversationIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	meta, ok := s.manager.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, conversationNotFound(id))
		return
	}
	messages, err := s.manager.Store().LoadMessages(id)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	if messages == nil {
		messages = []backend.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation": meta,
		"messages":     messages,
	})
}

func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	id, err := conversationIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if s.orch.Busy() {
		respondError(w, http.StatusConflict, errors.New(errors.ErrCodeTurnBusy, "a turn is already in flight"))
		return
	}
	if err := s.manager.SetCurrent(id); err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	meta, _ := s.manager.Get(id)
	messages := s.manager.Messages()
	if messages == nil {
		messages = []backend.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation": meta,
		"messages":     messages,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := conversationIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if s.orch.Busy() {
		respondError(w, http.StatusConflict, errors.New(errors.ErrCodeTurnBusy, "a turn is already in flight"))
		return
	}
	if err := s.manager.Delete(id); err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeInternal, "search index unavailable"))
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "query parameter q required"))
		return
	}
	conversationID := parseInt64Default(r.URL.Query().Get("conversation_id"), 0)
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit > 100 {
		limit = 100
	}
	results, err := s.search.Search(r.Context(), query, conversationID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []conversation.SearchResult{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

// handleStatus reports the live state a panel needs to render its
// header: busy flag, open conversation, budget, pending approvals,
// plus the in-process metrics snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	gate := s.orch.Gate()
	payload := map[string]any{
		"status":            "ok",
		"time":              time.Now().UTC().Format(time.RFC3339),
		"busy":              s.orch.Busy(),
		"conversation_id":   s.manager.CurrentID(),
		"pending_approvals": gate.Pending(),
		"always_allowed":    gate.AlwaysAllowed(),
		"memory":            telemetry.GetMemoryStats(),
	}
	if s.cfg.Version != "" {
		payload["version"] = s.cfg.Version
	}
	if s.costs != nil {
		payload["cost"] = s.costs.CurrentStatus()
	}
	if s.backend != nil {
		payload["backend"] = map[string]string{
			"circuit_breaker": s.backend.CircuitBreakerState(),
		}
	}
	if r.URL.Query().Get("metrics") == "1" {
		payload["metrics"] = telemetry.DefaultRegistry.Export()
	}
	respondJSON(w, http.StatusOK, payload)
}

func conversationIDParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "conversationID"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "invalid conversation id").
			WithContext("conversation_id", raw)
	}
	return id, nil
}

func conversationNotFound(id int64) error {
	return errors.New(errors.ErrCodeConversationGone, "conversation not found").
		WithContext("conversation_id", id)
}

// statusForError maps structured error codes onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.IsCode(err, errors.ErrCodeTurnBusy),
		errors.IsCode(err, errors.ErrCodeApprovalDecided):
		return http.StatusConflict
	case errors.IsCode(err, errors.ErrCodeConversationGone),
		errors.IsCode(err, errors.ErrCodeApprovalUnknown),
		errors.IsCode(err, errors.ErrCodeToolNotFound):
		return http.StatusNotFound
	case errors.IsCode(err, errors.ErrCodeInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	body := struct {
		Error     string         `json:"error"`
		Status    int            `json:"status"`
		Code      string         `json:"code,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
		Retryable bool           `json:"retryable,omitempty"`
		Timestamp string         `json:"timestamp"`
	}{
		Status:    status,
		Error:     http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	var appErr *errors.Error
	if stdliberrors.As(err, &appErr) {
		body.Code = string(appErr.Code)
		body.Error = appErr.Message
		body.Details = appErr.Context
		body.Retryable = appErr.Retryable
	} else if err != nil {
		body.Error = err.Error()
	}
	respondJSON(w, status, body)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, allowEmpty bool) (int, error) {
	if r.Body == nil {
		if allowEmpty {
			return 0, nil
		}
		return http.StatusBadRequest, stdliberrors.New("request body required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if allowEmpty && stdliberrors.Is(err, io.EOF) {
			return 0, nil
		}
		var maxErr *http.MaxBytesError
		if stdliberrors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBytes)
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}

func parseInt64Default(raw string, def int64) int64 {
	if raw == "" {
		return def
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
		return v
	}
	return def
}
