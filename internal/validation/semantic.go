package validation

import (
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// validateSemantic checks what the document schema cannot express: unique
// node ids, connections between existing nodes, and trigger placement.
func validateSemantic(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]schema.NodeType, len(g.Nodes))
	triggers := 0
	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if _, dup := ids[n.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		ids[n.ID] = n.Type
		if !n.Type.Valid() {
			result.AddError(path+".type", schema.ErrCodeUnknownNodeType, fmt.Sprintf("unknown node type %q", n.Type))
		}
		if n.Type.IsTrigger() {
			triggers++
		}
	}
	if len(g.Nodes) > 0 && triggers == 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation, "workflow has no trigger node")
	}

	type edge struct{ from, to string }
	seen := make(map[edge]bool, len(g.Connections))
	for i, c := range g.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		if _, ok := ids[c.FromNodeID]; !ok {
			result.AddError(path+".from", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", c.FromNodeID))
		}
		toType, ok := ids[c.ToNodeID]
		if !ok {
			result.AddError(path+".to", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", c.ToNodeID))
		}
		if c.FromNodeID == c.ToNodeID {
			result.AddError(path, schema.ErrCodeCycleDetected, fmt.Sprintf("node %q is connected to itself", c.FromNodeID))
		}
		e := edge{c.FromNodeID, c.ToNodeID}
		if seen[e] {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate connection %s -> %s", c.FromNodeID, c.ToNodeID))
		}
		seen[e] = true
		if ok && toType.IsTrigger() {
			result.AddWarning(path+".to", schema.ErrCodeValidation,
				fmt.Sprintf("trigger node %q has an incoming connection", c.ToNodeID))
		}
	}
	return result
}
