package engine

import (
	"github.com/rendis/nodeflow/pkg/schema"
)

// DAG is the in-memory dependency graph of a workflow, built from its nodes
// and connections and used by the Orchestrator to determine execution order.
//
// Vertices are ordered by first appearance in the edge list: every connection
// in order, then a (id, id) registration edge for each node no connection
// touches. That order breaks ties between nodes that become ready together.
type DAG struct {
	Nodes   map[string]schema.Node // node ID → node
	Edges   map[string][]string    // vertex → dependencies
	Reverse map[string][]string    // vertex → dependents
	Sorted  []string               // topological order of node IDs
	Roots   []string               // nodes with no dependencies
	Levels  [][]string             // nodes grouped by dependency depth

	vertices []string // every vertex in first-appearance order
}

// TopologicalSort returns the nodes in an order where every node comes after
// all nodes it depends on. Each node appears exactly once, including nodes
// with no connections. Connection ends that match no node are ordered but
// dropped from the result. A cycle, including a node connected to itself,
// fails with CYCLE_DETECTED and no partial order.
func TopologicalSort(nodes []schema.Node, connections []schema.Connection) ([]schema.Node, error) {
	dag, err := BuildDAG(nodes, connections)
	if err != nil {
		return nil, err
	}
	return dag.Ordered(), nil
}

// BuildDAG builds the dependency graph and sorts it with Kahn's algorithm.
func BuildDAG(nodes []schema.Node, connections []schema.Connection) (*DAG, error) {
	dag := &DAG{
		Nodes:   make(map[string]schema.Node, len(nodes)),
		Edges:   make(map[string][]string, len(nodes)),
		Reverse: make(map[string][]string, len(nodes)),
	}

	// Duplicate node IDs keep the first node.
	var nodeOrder []string
	for _, n := range nodes {
		if _, exists := dag.Nodes[n.ID]; exists {
			continue
		}
		dag.Nodes[n.ID] = n
		nodeOrder = append(nodeOrder, n.ID)
	}

	rank := make(map[string]int, len(nodes))
	register := func(id string) {
		if _, ok := rank[id]; !ok {
			rank[id] = len(dag.vertices)
			dag.vertices = append(dag.vertices, id)
		}
	}

	type edge struct{ from, to string }
	seen := make(map[edge]bool, len(connections))
	for _, c := range connections {
		register(c.FromNodeID)
		register(c.ToNodeID)
		e := edge{c.FromNodeID, c.ToNodeID}
		if seen[e] {
			continue
		}
		seen[e] = true
		if c.FromNodeID == c.ToNodeID {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s is connected to itself", c.FromNodeID).
				WithNode(c.FromNodeID)
		}
		dag.Edges[c.ToNodeID] = append(dag.Edges[c.ToNodeID], c.FromNodeID)
		dag.Reverse[c.FromNodeID] = append(dag.Reverse[c.FromNodeID], c.ToNodeID)
	}
	// Registration edges for unconnected nodes add a vertex and no dependency.
	for _, id := range nodeOrder {
		register(id)
	}

	inDegree := make(map[string]int, len(dag.vertices))
	for _, v := range dag.vertices {
		inDegree[v] = len(dag.Edges[v])
	}

	ready := newReadySet(rank)
	for _, v := range dag.vertices {
		if inDegree[v] == 0 {
			ready.push(v)
		}
	}

	order := make([]string, 0, len(dag.vertices))
	for ready.len() > 0 {
		v := ready.pop()
		order = append(order, v)
		for _, dep := range dag.Reverse[v] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready.push(dep)
			}
		}
	}

	if len(order) != len(dag.vertices) {
		var stuck []string
		for _, v := range dag.vertices {
			if inDegree[v] > 0 {
				stuck = append(stuck, v)
			}
		}
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle").
			WithDetails(map[string]any{"nodes": stuck})
	}

	for _, v := range order {
		if _, ok := dag.Nodes[v]; ok {
			dag.Sorted = append(dag.Sorted, v)
		}
	}
	for _, id := range dag.Sorted {
		if len(dag.Edges[id]) == 0 {
			dag.Roots = append(dag.Roots, id)
		}
	}
	dag.Levels = computeLevels(dag, order)
	return dag, nil
}

// Ordered returns the nodes in topological order.
func (d *DAG) Ordered() []schema.Node {
	out := make([]schema.Node, 0, len(d.Sorted))
	for _, id := range d.Sorted {
		out = append(out, d.Nodes[id])
	}
	return out
}

// computeLevels groups nodes by dependency depth. Nodes of one level have all
// dependencies satisfied by earlier levels.
func computeLevels(dag *DAG, order []string) [][]string {
	depth := make(map[string]int, len(order))
	maxLevel := 0
	for _, id := range order {
		d := 0
		for _, dep := range dag.Edges[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	// Levels made only of unknown connection ends are dropped.
	out := levels[:0]
	for _, l := range levels {
		if len(l) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// readySet yields ready vertices lowest rank first.
type readySet struct {
	rank  map[string]int
	items []string
}

func newReadySet(rank map[string]int) *readySet {
	return &readySet{rank: rank}
}

func (r *readySet) len() int { return len(r.items) }

func (r *readySet) push(v string) {
	i := len(r.items)
	r.items = append(r.items, v)
	for i > 0 && r.rank[r.items[i-1]] > r.rank[v] {
		r.items[i] = r.items[i-1]
		i--
	}
	r.items[i] = v
}

func (r *readySet) pop() string {
	v := r.items[0]
	r.items = r.items[1:]
	return v
}
