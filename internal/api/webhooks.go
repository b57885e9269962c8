package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Webhook sources, also used as metric labels.
const (
	SourceGoogleForm = "google-form"
	SourceStripe     = "stripe"
	SourceManual     = "manual"
)

// webhookResponse is the body of every webhook reply.
type webhookResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// handleGoogleForm accepts a Google Apps Script form submission and starts
// the workflow with it under initialData.googleForm.
func (s *Server) handleGoogleForm(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, SourceGoogleForm, "googleForm", func(body map[string]any) map[string]any {
		return map[string]any{
			"formId":          body["formId"],
			"formTitle":       body["formTitle"],
			"responseId":      body["responseId"],
			"timestamp":       body["timestamp"],
			"respondentEmail": body["respondentEmail"],
			"responses":       body["responses"],
			"raw":             body,
		}
	})
}

// handleStripe accepts a Stripe event and starts the workflow with it under
// initialData.stripe.
func (s *Server) handleStripe(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, SourceStripe, "stripe", func(body map[string]any) map[string]any {
		var object any
		if data, ok := body["data"].(map[string]any); ok {
			object = data["object"]
		}
		return map[string]any{
			"eventId":   body["id"],
			"eventType": body["type"],
			"timestamp": body["created"],
			"livemode":  body["livemode"],
			"raw":       object,
		}
	})
}

// handleWebhook decodes the payload, normalizes it and enqueues an execute
// event. A missing workflowId is a 400; anything else that fails is a 500.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, source, key string, normalize func(map[string]any) map[string]any) {
	ctx := r.Context()
	logger := s.deps.Logger.With("source", source)

	reply := func(status int, errMsg string) {
		s.deps.Metrics.WebhookReceived(source, status)
		writeJSON(w, status, webhookResponse{Success: status == http.StatusOK, Error: errMsg})
	}

	workflowID := r.URL.Query().Get("workflowId")
	if workflowID == "" {
		reply(http.StatusBadRequest, "workflowId is required")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.WarnContext(ctx, "webhook payload rejected", "workflow_id", workflowID, "error", err)
		reply(http.StatusInternalServerError, "failed to process "+source+" webhook")
		return
	}

	event := schema.TriggerEvent{
		ID:   uuid.New().String(),
		Name: schema.EventExecuteWorkflow,
		Data: schema.TriggerData{
			WorkflowID:  workflowID,
			InitialData: map[string]any{key: normalize(body)},
		},
	}
	if err := s.deps.Queue.Enqueue(ctx, event); err != nil {
		logger.ErrorContext(ctx, "webhook enqueue failed", "workflow_id", workflowID, "error", err)
		reply(http.StatusInternalServerError, "failed to process "+source+" webhook")
		return
	}

	logger.InfoContext(ctx, "webhook accepted", "workflow_id", workflowID, "event_id", event.ID)
	reply(http.StatusOK, "")
}
