package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// handleExecuteWorkflow starts a manual run. The body is optional and may
// carry {"initialData": {...}}.
func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["id"]

	var body struct {
		InitialData map[string]any `json:"initialData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.deps.Metrics.WebhookReceived(SourceManual, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if _, err := s.deps.Store.GetWorkflow(ctx, workflowID); err != nil {
		s.deps.Metrics.WebhookReceived(SourceManual, statusFor(schema.ErrorCode(err)))
		writeFlowError(w, err)
		return
	}

	event := schema.TriggerEvent{
		ID:   uuid.New().String(),
		Name: schema.EventExecuteWorkflow,
		Data: schema.TriggerData{WorkflowID: workflowID, InitialData: body.InitialData},
	}
	if err := s.deps.Queue.Enqueue(ctx, event); err != nil {
		s.deps.Logger.ErrorContext(ctx, "manual trigger enqueue failed", "workflow_id", workflowID, "error", err)
		s.deps.Metrics.WebhookReceived(SourceManual, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}

	s.deps.Metrics.WebhookReceived(SourceManual, http.StatusAccepted)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"eventId":    event.ID,
		"workflowId": workflowID,
	})
}

// handleGetExecution returns one execution record.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Store.GetExecution(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleListExecutions lists a workflow's executions, newest first.
// Query: status, limit, offset.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["id"]

	filter := store.ExecutionFilter{
		WorkflowID: workflowID,
		Limit:      queryInt(r, "limit", defaultPageSize),
		Offset:     queryInt(r, "offset", 0),
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := schema.ExecutionStatus(v)
		if st != schema.ExecutionStatusRunning && !st.Terminal() {
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		filter.Status = &st
	}

	execs, err := s.deps.Store.ListExecutions(ctx, filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if execs == nil {
		execs = []*store.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": execs,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}
