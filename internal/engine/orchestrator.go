package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// ExecutorLookup resolves the executor of a node type. Satisfied by
// *nodes.Registry.
type ExecutorLookup interface {
	Get(t schema.NodeType) (nodes.Executor, error)
}

// ExecutorConfig holds configuration for the orchestrator.
type ExecutorConfig struct {
	// ParallelLevels is reserved for running independent nodes of one
	// dependency level concurrently. Runs are sequential; setting it is
	// rejected.
	ParallelLevels bool
}

// RunOutput is the result of a successful run.
type RunOutput struct {
	Result      schema.Context `json:"result"`
	WorkflowID  string         `json:"workflowId"`
	ExecutionID string         `json:"executionId"`
}

// Orchestrator runs workflows. One call to Execute is one run: the graph is
// loaded, sorted and every node executed in order, threading the context
// from node to node. Runs share no mutable state, so Execute may be called
// concurrently.
type Orchestrator struct {
	store    store.Store
	registry ExecutorLookup
	status   nodes.StatusPublisher
	fsm      *ExecutionFSM
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records run, node and step metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator. status may be nil to disable live
// status.
func NewOrchestrator(s store.Store, registry ExecutorLookup, status nodes.StatusPublisher, cfg ExecutorConfig, opts ...Option) (*Orchestrator, error) {
	if cfg.ParallelLevels {
		return nil, schema.NewError(schema.ErrCodeValidation, "parallel level execution is not supported")
	}
	o := &Orchestrator{
		store:    s,
		registry: registry,
		status:   status,
		fsm:      NewExecutionFSM(s),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Execute runs the workflow named by a workflows/execute.workflow event.
//
// The execution record is keyed by the event ID: a second delivery of the
// same event resumes the same record and its step log, so completed steps
// are not repeated. Delivering an event whose execution already finished
// returns the recorded outcome.
//
// A run ignores the caller's cancellation and deadline: once started it runs
// to SUCCESS or FAILED. ctx only contributes its values.
func (o *Orchestrator) Execute(ctx context.Context, event schema.TriggerEvent) (*RunOutput, error) {
	ctx = context.WithoutCancel(ctx)
	if event.Name != "" && event.Name != schema.EventExecuteWorkflow {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported event %q", event.Name)
	}
	workflowID := event.Data.WorkflowID
	if workflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "event is missing workflowId")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	ctx = logging.WithWorkflowID(ctx, workflowID)

	exec, err := o.begin(ctx, event)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithExecutionID(ctx, exec.ID)

	switch exec.Status {
	case schema.ExecutionStatusSuccess:
		return recordedOutput(exec)
	case schema.ExecutionStatusFailed:
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "execution %s already failed: %s", exec.ID, exec.Error).
			WithDetails(map[string]any{"execution_id": exec.ID})
	}

	o.metrics.RunStarted()
	start := time.Now()
	o.logger.InfoContext(ctx, "run started", "event_id", event.ID)

	result, runErr := o.run(ctx, event, NewStepLog(o.store, exec.ID, o.metrics))

	if runErr != nil {
		o.metrics.RunFinished(string(schema.ExecutionStatusFailed), time.Since(start))
		o.logger.ErrorContext(ctx, "run failed", "error", runErr, "code", schema.ErrorCode(runErr))
		if err := o.fsm.Fail(ctx, exec.ID, runErr); err != nil {
			o.logger.ErrorContext(ctx, "persist failed execution", "error", err)
		}
		return nil, runErr
	}

	if err := o.fsm.Succeed(ctx, exec.ID, result); err != nil {
		o.metrics.RunFinished(string(schema.ExecutionStatusFailed), time.Since(start))
		return nil, err
	}
	o.metrics.RunFinished(string(schema.ExecutionStatusSuccess), time.Since(start))
	o.logger.InfoContext(ctx, "run completed", "duration", time.Since(start))

	return &RunOutput{Result: result, WorkflowID: workflowID, ExecutionID: exec.ID}, nil
}

// begin returns the execution of the event, creating it RUNNING on first
// delivery.
func (o *Orchestrator) begin(ctx context.Context, event schema.TriggerEvent) (*store.Execution, error) {
	exec, err := o.store.GetExecutionByEventID(ctx, event.ID)
	if err == nil {
		if exec.WorkflowID != event.Data.WorkflowID {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "event %s already started workflow %s", event.ID, exec.WorkflowID)
		}
		return exec, nil
	}
	if !schema.HasCode(err, schema.ErrCodeNotFound) {
		return nil, storeError("find execution", err)
	}

	if _, err := o.store.GetWorkflow(ctx, event.Data.WorkflowID); err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
		return nil, storeError("load workflow", err)
	}

	exec = &store.Execution{
		ID:         uuid.NewString(),
		WorkflowID: event.Data.WorkflowID,
		Status:     schema.ExecutionStatusRunning,
		EventID:    event.ID,
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		if schema.HasCode(err, schema.ErrCodeConflict) {
			// A concurrent delivery created it first.
			return o.store.GetExecutionByEventID(ctx, event.ID)
		}
		return nil, storeError("create execution", err)
	}
	return exec, nil
}

// run executes the graph and returns the final context.
func (o *Orchestrator) run(ctx context.Context, event schema.TriggerEvent, steps *StepLog) (schema.Context, error) {
	var graph schema.Graph
	err := steps.Step(ctx, "prepare-workflow", func(ctx context.Context) (any, error) {
		return o.store.LoadGraph(ctx, event.Data.WorkflowID)
	}, &graph)
	if err != nil {
		return schema.Context{}, err
	}

	order, err := TopologicalSort(graph.Nodes, graph.Connections)
	if err != nil {
		return schema.Context{}, err
	}

	data, err := schema.NewContext(event.Data.InitialData)
	if err != nil {
		return schema.Context{}, err
	}

	for _, n := range order {
		exec, err := o.registry.Get(n.Type)
		if err != nil {
			return schema.Context{}, withNode(err, n.ID)
		}

		start := time.Now()
		next, err := exec.Execute(ctx, nodes.Params{
			NodeID:  n.ID,
			Config:  n.Config,
			Context: data,
			UserID:  graph.Workflow.UserID,
			Status:  o.status,
			Steps:   steps,
		})
		if err != nil {
			o.metrics.NodeExecuted(string(n.Type), string(schema.NodeStatusError), time.Since(start))
			return schema.Context{}, withNode(err, n.ID)
		}
		o.metrics.NodeExecuted(string(n.Type), string(schema.NodeStatusSuccess), time.Since(start))
		o.logger.DebugContext(logging.WithNodeID(ctx, n.ID), "node completed", "node_type", string(n.Type))
		data = next
	}
	return data, nil
}

// withNode tags the first FlowError of err's chain with the failing node.
func withNode(err error, nodeID string) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) && fe.NodeID == "" {
		fe.WithNode(nodeID)
	}
	return err
}

func recordedOutput(exec *store.Execution) (*RunOutput, error) {
	out := &RunOutput{WorkflowID: exec.WorkflowID, ExecutionID: exec.ID}
	if len(exec.Output) > 0 {
		if err := json.Unmarshal(exec.Output, &out.Result); err != nil {
			return nil, storeError("decode execution output", err)
		}
	}
	return out, nil
}

func storeError(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}
