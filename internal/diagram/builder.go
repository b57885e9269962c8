package diagram

import (
	"fmt"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Build constructs a DiagramModel from a workflow graph, sorted the way a run
// would execute it. statuses, keyed by node ID, overlays live node status and
// may be nil.
func Build(g *schema.Graph, statuses map[string]schema.NodeStatus) (*DiagramModel, error) {
	dag, err := engine.BuildDAG(g.Nodes, g.Connections)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	nodes := make([]*Node, 0, len(dag.Sorted))
	for i, id := range dag.Sorted {
		n := dag.Nodes[id]
		node := &Node{
			ID:    n.ID,
			Label: nodeLabel(n, i+1),
			Type:  n.Type,
			Kind:  KindOf(n.Type),
			Order: i + 1,
		}
		if st, ok := statuses[n.ID]; ok {
			node.Status = &StatusOverlay{Status: st}
		}
		nodes = append(nodes, node)
	}

	return &DiagramModel{
		Title:  title(g.Workflow),
		Nodes:  nodes,
		Edges:  buildEdges(dag, g.Connections),
		Levels: dag.Levels,
	}, nil
}

// nodeLabel renders "1. name\n(TYPE)"; the name falls back to the node ID.
func nodeLabel(n schema.Node, order int) string {
	name := n.Name
	if name == "" {
		name = n.ID
	}
	return fmt.Sprintf("%d. %s\n(%s)", order, name, n.Type)
}

// buildEdges keeps connections in stored order, dropping duplicates and ends
// that match no node.
func buildEdges(dag *engine.DAG, conns []schema.Connection) []Edge {
	seen := make(map[Edge]bool, len(conns))
	edges := make([]Edge, 0, len(conns))
	for _, c := range conns {
		e := Edge{From: c.FromNodeID, To: c.ToNodeID}
		if seen[e] {
			continue
		}
		if _, ok := dag.Nodes[e.From]; !ok {
			continue
		}
		if _, ok := dag.Nodes[e.To]; !ok {
			continue
		}
		seen[e] = true
		edges = append(edges, e)
	}
	return edges
}

func title(wf schema.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	return "Workflow"
}
