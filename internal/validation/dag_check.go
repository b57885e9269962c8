package validation

import (
	"errors"
	"fmt"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// validateDAG sorts the graph the way a run would (cycles are errors) and
// warns about nodes no trigger leads to.
func validateDAG(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	dag, err := engine.BuildDAG(g.Nodes, g.Connections)
	if err != nil {
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			result.AddError("connections", fe.Code, fe.Message)
		} else {
			result.AddError("connections", schema.ErrCodeCycleDetected, err.Error())
		}
		return result
	}

	var roots []string
	for _, id := range dag.Sorted {
		if dag.Nodes[id].Type.IsTrigger() {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return result
	}

	reachable := make(map[string]bool, len(dag.Sorted))
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		reachable[r] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range dag.Reverse[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, id := range dag.Sorted {
		if !reachable[id] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", id), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is not reachable from any trigger", id))
		}
	}
	return result
}
