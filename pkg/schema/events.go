package schema

// EventExecuteWorkflow is the name of the event that starts a run.
const EventExecuteWorkflow = "workflows/execute.workflow"

// TriggerEvent is the sole entry point of the orchestrator. ID correlates the
// event with the execution record it produces.
type TriggerEvent struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Data TriggerData `json:"data"`
}

// TriggerData carries the workflow to run and the payload that seeds its
// context.
type TriggerData struct {
	WorkflowID  string         `json:"workflowId"`
	InitialData map[string]any `json:"initialData,omitempty"`
}

// ExecutionStatus is the lifecycle state of a run record.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
)

// Terminal reports whether no further transition is possible from s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// NodeStatus is the live status of a node published on its status channel.
type NodeStatus string

const (
	NodeStatusIdle    NodeStatus = "idle"
	NodeStatusLoading NodeStatus = "loading"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

// StatusTopic is the single topic carried by every node status channel.
const StatusTopic = "status"

// StatusMessage is the payload published on a node status channel.
type StatusMessage struct {
	NodeID string     `json:"nodeId"`
	Status NodeStatus `json:"status"`
}
