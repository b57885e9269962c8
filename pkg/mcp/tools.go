package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// watchTimeout bounds how long status of an asynchronous run is forwarded.
const watchTimeout = 10 * time.Minute

// handleExecute runs a workflow. By default it waits for the run and returns
// its output; with async it queues the run and streams node status to the
// calling session.
func (s *NodeflowServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	event := schema.TriggerEvent{
		ID:   uuid.New().String(),
		Name: schema.EventExecuteWorkflow,
		Data: schema.TriggerData{
			WorkflowID:  workflowID,
			InitialData: mcp.ParseStringMap(req, "initial_data", nil),
		},
	}

	if req.GetBool("async", false) {
		return s.executeAsync(ctx, event)
	}

	if s.runner == nil {
		return mcp.NewToolResultError("synchronous runs are not enabled"), nil
	}
	out, runErr := s.runner.Execute(ctx, event)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}

	return marshalResult(map[string]any{
		"event_id":     event.ID,
		"execution_id": out.ExecutionID,
		"workflowId":   out.WorkflowID,
		"result":       out.Result,
	})
}

func (s *NodeflowServer) executeAsync(ctx context.Context, event schema.TriggerEvent) (*mcp.CallToolResult, error) {
	if s.queue == nil {
		return mcp.NewToolResultError("asynchronous runs are not enabled"), nil
	}

	// Subscribe before enqueueing so no status is missed.
	var stopWatch context.CancelFunc
	if session := server.ClientSessionFromContext(ctx); session != nil && s.hub != nil {
		g, err := s.store.LoadGraph(ctx, event.Data.WorkflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
		}
		stopWatch = s.watch(session.SessionID(), event, g)
	}

	if err := s.queue.Enqueue(ctx, event); err != nil {
		if stopWatch != nil {
			stopWatch()
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to queue workflow: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"event_id":   event.ID,
		"workflowId": event.Data.WorkflowID,
		"queued":     true,
		"watching":   stopWatch != nil,
	})
}

// watch forwards the status of the workflow's nodes to sessionID until every
// node succeeded, one failed, the session left or watchTimeout passed. It
// returns nil when the hub subscription fails.
func (s *NodeflowServer) watch(sessionID string, event schema.TriggerEvent, g *schema.Graph) context.CancelFunc {
	ctx, cancel := context.WithTimeout(context.Background(), watchTimeout)
	ch, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{Topic: schema.StatusTopic})
	if err != nil {
		cancel()
		s.logger.Warn("status watch subscribe failed", "event_id", event.ID, "error", err)
		return nil
	}
	s.sessions.Register(sessionID, event.ID, cancel)

	pending := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		pending[n.ID] = true
	}

	go func() {
		defer func() {
			unsubscribe()
			cancel()
			s.sessions.Done(sessionID, event.ID)
		}()
		for ev := range ch {
			if _, ok := pending[ev.Data.NodeID]; !ok {
				continue
			}
			err := s.notifier.Notify(ctx, sessionID, map[string]any{
				"event_id":   event.ID,
				"workflowId": event.Data.WorkflowID,
				"channel":    ev.Channel,
				"nodeId":     ev.Data.NodeID,
				"status":     string(ev.Data.Status),
			})
			if err != nil {
				s.logger.Warn("status notification failed", "event_id", event.ID, "error", err)
			}
			switch ev.Data.Status {
			case schema.NodeStatusSuccess:
				delete(pending, ev.Data.NodeID)
				if len(pending) == 0 {
					return
				}
			case schema.NodeStatusError:
				return
			}
		}
	}()
	return cancel
}

// handleStatus returns one execution, looked up by execution or event ID.
func (s *NodeflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID := req.GetString("execution_id", "")
	eventID := req.GetString("event_id", "")

	var exec *store.Execution
	var err error
	switch {
	case executionID != "":
		exec, err = s.store.GetExecution(ctx, executionID)
	case eventID != "":
		exec, err = s.store.GetExecutionByEventID(ctx, eventID)
	default:
		return mcp.NewToolResultError("execution_id or event_id is required"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	return marshalResult(exec)
}

// handleQuery lists workflows or executions based on filters.
func (s *NodeflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *NodeflowServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if userID, ok := filter["user_id"].(string); ok {
		wf.UserID = userID
	}

	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *NodeflowServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if wfID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = wfID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		ef.Status = &es
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	execs, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

// handleDiagram draws a workflow in the requested format.
func (s *NodeflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "svg" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, svg, or image"), nil
	}

	g, gErr := s.store.LoadGraph(ctx, workflowID)
	if gErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", gErr)), nil
	}

	var statuses map[string]schema.NodeStatus
	if s.board != nil && req.GetBool("include_status", true) {
		ids := make([]string, len(g.Nodes))
		for i, n := range g.Nodes {
			ids[i] = n.ID
		}
		statuses = s.board.Snapshot(ids...)
	}

	model, buildErr := diagram.Build(g, statuses)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "svg":
		svg, imgErr := diagram.RenderImage(ctx, model, diagram.FormatSVG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(string(svg)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
