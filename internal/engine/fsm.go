package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// ExecutionStore is the slice of the Store the FSM persists through.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*store.Execution, error)
	UpdateExecution(ctx context.Context, id string, update store.ExecutionUpdate) error
}

type executionHookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM guards the execution record lifecycle: created RUNNING,
// completed exactly once as SUCCESS or FAILED, immutable afterward.
type ExecutionFSM struct {
	mu     sync.Mutex
	store  ExecutionStore
	before map[executionHookKey][]TransitionHook
	after  map[executionHookKey][]TransitionHook
}

// NewExecutionFSM creates an FSM persisting through s.
func NewExecutionFSM(s ExecutionStore) *ExecutionFSM {
	return &ExecutionFSM{
		store:  s,
		before: make(map[executionHookKey][]TransitionHook),
		after:  make(map[executionHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before an execution transition. A hook
// error aborts the transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := executionHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after an execution transition is persisted.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := executionHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Succeed completes a running execution with the final context.
func (f *ExecutionFSM) Succeed(ctx context.Context, executionID string, output schema.Context) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode execution output: %v", err).WithCause(err)
	}
	return f.Transition(ctx, executionID, schema.ExecutionStatusSuccess, store.ExecutionUpdate{Output: raw})
}

// Fail completes a running execution with the error message and its stack.
func (f *ExecutionFSM) Fail(ctx context.Context, executionID string, cause error) error {
	msg := cause.Error()
	stack := schema.ErrorStack(cause)
	return f.Transition(ctx, executionID, schema.ExecutionStatusFailed, store.ExecutionUpdate{
		Error:      &msg,
		ErrorStack: &stack,
	})
}

// Transition validates and persists a transition of the stored execution to
// the target status. Status and completion time are set on update.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, to schema.ExecutionStatus, update store.ExecutionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exec, err := f.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	from := exec.Status
	if !isValidExecutionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := executionHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	update.Status = &to
	if to.Terminal() && update.CompletedAt == nil {
		now := time.Now().UTC()
		update.CompletedAt = &now
	}
	if err := f.store.UpdateExecution(ctx, executionID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist execution %s: %s", executionID, err.Error()).WithCause(err)
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func isValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// ValidExecutionTransitions defines the allowed state transitions for executions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusRunning: {schema.ExecutionStatusSuccess, schema.ExecutionStatusFailed},
	schema.ExecutionStatusSuccess: {},
	schema.ExecutionStatusFailed:  {},
}
