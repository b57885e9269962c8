package nodes

import (
	"sort"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Registry maps node types to their executors. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.NodeType]Executor
}

// ExecutorInfo is a summary of a registered executor for listing.
type ExecutorInfo struct {
	Type    schema.NodeType `json:"type"`
	Channel string          `json:"channel"`
	Trigger bool            `json:"trigger"`
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.NodeType]Executor),
	}
}

// Register adds an executor. Returns error on a duplicate node type.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	t := exec.Type()
	if !t.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for %q already registered", t)
	}
	r.executors[t] = exec
	return nil
}

// Get retrieves the executor of a node type.
func (r *Registry) Get(t schema.NodeType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "no executor found for node type %q", t).
			WithDetails(map[string]any{"node_type": string(t)})
	}
	return exec, nil
}

// List returns info for all registered executors, sorted by type.
func (r *Registry) List() []ExecutorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ExecutorInfo, 0, len(r.executors))
	for t, e := range r.executors {
		infos = append(infos, ExecutorInfo{
			Type:    t,
			Channel: e.Channel(),
			Trigger: t.IsTrigger(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// Has checks if a node type has an executor.
func (r *Registry) Has(t schema.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[t]
	return ok
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
