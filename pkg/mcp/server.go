package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Store is the slice of the persistence layer the tools read.
type Store interface {
	LoadGraph(ctx context.Context, workflowID string) (*schema.Graph, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error)
	GetExecution(ctx context.Context, id string) (*store.Execution, error)
	GetExecutionByEventID(ctx context.Context, eventID string) (*store.Execution, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.Execution, error)
}

// Enqueuer accepts trigger events for asynchronous execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, event schema.TriggerEvent) error
}

// ServerDeps holds the dependencies for creating a NodeflowServer.
type ServerDeps struct {
	Runner engine.Runner // synchronous runs
	Queue  Enqueuer      // asynchronous runs; nil disables them
	Store  Store
	Hub    streaming.EventHub     // live status for asynchronous runs
	Board  *streaming.StatusBoard // diagram status overlay
	Logger *slog.Logger
}

// NodeflowServer wraps an MCP server with the nodeflow tool handlers.
type NodeflowServer struct {
	runner    engine.Runner
	queue     Enqueuer
	store     Store
	hub       streaming.EventHub
	board     *streaming.StatusBoard
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewNodeflowServer creates a NodeflowServer with all tools registered.
func NewNodeflowServer(deps ServerDeps) *NodeflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &NodeflowServer{
		runner:   deps.Runner,
		queue:    deps.Queue,
		store:    deps.Store,
		hub:      deps.Hub,
		board:    deps.Board,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("nodeflow runs workflow graphs of trigger and action nodes. Use nodeflow.execute to run a workflow, nodeflow.status to read an execution, nodeflow.query to list workflows and executions, and nodeflow.diagram to draw a workflow in execution order."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *NodeflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *NodeflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *NodeflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("nodeflow.execute",
		mcp.WithDescription("Execute a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithObject("initial_data", mcp.Description("Trigger payload that seeds the run context")),
		mcp.WithBoolean("async", mcp.Description("Queue the run and stream node status as notifications instead of waiting (default: false)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("nodeflow.status",
		mcp.WithDescription("Get an execution record"),
		mcp.WithString("execution_id", mcp.Description("ID of the execution")),
		mcp.WithString("event_id", mcp.Description("ID of the trigger event that started the execution")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("nodeflow.query",
		mcp.WithDescription("Query workflows or executions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (user_id, workflow_id, status, since, limit, offset)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nodeflow.diagram",
		mcp.WithDescription("Generate a diagram of a workflow in execution order. Returns ASCII art, Mermaid flowchart syntax, SVG markup or a base64-encoded PNG image"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to draw")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "svg", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), svg, or image (base64 PNG)"),
		),
		mcp.WithBoolean("include_status", mcp.Description("Overlay the last known node status (default: true)")),
	)
}
