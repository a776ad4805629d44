// Package dag implements a mutable directed acyclic graph of node names.
// The graph never owns tasks or other payloads — it carries only node
// identity and edges between them. All operations accept an explicit
// *Graph so a caller can pass a snapshot instead of the live graph.
package dag

import "errors"

// Errors returned by graph operations. Callers should match with errors.Is.
var (
	ErrDuplicateNode = errors.New("dag: duplicate node")
	ErrMissingNode   = errors.New("dag: missing node")
	ErrMissingEdge   = errors.New("dag: missing edge")
	ErrCycleDetected = errors.New("dag: cycle detected")
	ErrCyclic        = errors.New("dag: graph is cyclic")
)

// Graph is an adjacency map from node name to the set of its downstream
// node names (the edges pointing away from it).
type Graph struct {
	nodes map[string]map[string]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]map[string]struct{})}
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	out := New()
	for n, edges := range g.nodes {
		clone := make(map[string]struct{}, len(edges))
		for e := range edges {
			clone[e] = struct{}{}
		}
		out.nodes[n] = clone
	}
	return out
}

// HasNode reports whether n is present in the graph.
func (g *Graph) HasNode(n string) bool {
	_, ok := g.nodes[n]
	return ok
}

// Nodes returns all node names in the graph, in no particular order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// AddNode adds a new node with no edges. Fails with ErrDuplicateNode if n
// already exists.
func (g *Graph) AddNode(n string) error {
	if g.HasNode(n) {
		return ErrDuplicateNode
	}
	g.nodes[n] = make(map[string]struct{})
	return nil
}

// DeleteNode removes n and any edges pointing to it from other nodes.
func (g *Graph) DeleteNode(n string) error {
	if !g.HasNode(n) {
		return ErrMissingNode
	}
	delete(g.nodes, n)
	for _, edges := range g.nodes {
		delete(edges, n)
	}
	return nil
}

// AddEdge adds an edge u -> v. Both endpoints must already exist. The edge
// is added to a trial copy and validated before being committed; if the
// resulting graph would be cyclic, the live graph is left untouched and
// ErrCycleDetected is returned.
func (g *Graph) AddEdge(u, v string) error {
	if !g.HasNode(u) || !g.HasNode(v) {
		return ErrMissingNode
	}

	trial := g.Clone()
	trial.nodes[u][v] = struct{}{}
	if ok, _ := Validate(trial); !ok {
		return ErrCycleDetected
	}

	g.nodes[u][v] = struct{}{}
	return nil
}

// DeleteEdge removes the edge u -> v.
func (g *Graph) DeleteEdge(u, v string) error {
	edges, ok := g.nodes[u]
	if !ok {
		return ErrMissingNode
	}
	if _, ok := edges[v]; !ok {
		return ErrMissingEdge
	}
	delete(edges, v)
	return nil
}

// RenameEdges replaces every edge reference (as source or destination) to
// oldName with newName. oldName must exist as a node.
func (g *Graph) RenameEdges(oldName, newName string) error {
	if !g.HasNode(oldName) {
		return ErrMissingNode
	}
	edges := g.nodes[oldName]
	g.nodes[newName] = edges
	delete(g.nodes, oldName)

	for _, e := range g.nodes {
		if _, ok := e[oldName]; ok {
			delete(e, oldName)
			e[newName] = struct{}{}
		}
	}
	return nil
}

// Downstream returns the nodes reachable from n via a single outgoing edge.
func (g *Graph) Downstream(n string) ([]string, error) {
	edges, ok := g.nodes[n]
	if !ok {
		return nil, ErrMissingNode
	}
	out := make([]string, 0, len(edges))
	for e := range edges {
		out = append(out, e)
	}
	return out, nil
}

// Predecessors returns the nodes with an outgoing edge to n.
func (g *Graph) Predecessors(n string) ([]string, error) {
	if !g.HasNode(n) {
		return nil, ErrMissingNode
	}
	var out []string
	for candidate, edges := range g.nodes {
		if _, ok := edges[n]; ok {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// IndNodes returns the nodes with no predecessors — the independent nodes
// that a run starts from.
func (g *Graph) IndNodes() []string {
	hasPred := make(map[string]bool, len(g.nodes))
	for _, edges := range g.nodes {
		for e := range edges {
			hasPred[e] = true
		}
	}
	var out []string
	for n := range g.nodes {
		if !hasPred[n] {
			out = append(out, n)
		}
	}
	return out
}

// AllLeaves returns the nodes with no outgoing edges.
func (g *Graph) AllLeaves() []string {
	var out []string
	for n, edges := range g.nodes {
		if len(edges) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// TopologicalSort returns a Kahn ordering of the graph's nodes. It fails
// with ErrCyclic if any node remains unvisited (i.e. the graph has a cycle).
func TopologicalSort(g *Graph) ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for n := range g.nodes {
		inDegree[n] = 0
	}
	for _, edges := range g.nodes {
		for e := range edges {
			inDegree[e]++
		}
	}

	queue := make([]string, 0)
	for n, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, n)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		for e := range g.nodes[n] {
			inDegree[e]--
			if inDegree[e] == 0 {
				queue = append(queue, e)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, ErrCyclic
	}
	return order, nil
}

// Validate reports whether g is a valid run graph: it must have at least
// one independent node and admit a topological sort. On failure it returns
// a human-readable reason.
func Validate(g *Graph) (bool, string) {
	if len(g.IndNodes()) == 0 {
		return false, "graph has no independent nodes"
	}
	if _, err := TopologicalSort(g); err != nil {
		return false, "graph contains a cycle"
	}
	return true, ""
}
