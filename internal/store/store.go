package store

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	GraphLoader

	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Graph (replaced wholesale on every editor save)
	SaveGraph(ctx context.Context, workflowID string, nodes []schema.Node, conns []schema.Connection) error

	// Executions
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	GetExecutionByEventID(ctx context.Context, eventID string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// Credentials
	CreateCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]*Credential, error)
	DeleteCredential(ctx context.Context, id, userID string) error

	// Step memoization log (append-only)
	StepLogStore

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// GraphLoader fetches a workflow's nodes and connections. It returns a
// NOT_FOUND error when the workflow does not exist.
type GraphLoader interface {
	LoadGraph(ctx context.Context, workflowID string) (*schema.Graph, error)
}

// StepLogStore persists memoized step results.
type StepLogStore interface {
	// GetStep returns the recorded step or a NOT_FOUND error.
	GetStep(ctx context.Context, runID, name string) (*StepRecord, error)
	// RecordStep inserts rec unless (RunID, Name) is already recorded. It
	// reports whether rec was written.
	RecordStep(ctx context.Context, rec *StepRecord) (bool, error)
	ListSteps(ctx context.Context, runID string) ([]*StepRecord, error)
}
