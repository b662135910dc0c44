package scheduler

import (
	"sort"

	"github.com/zjrosen/syscore/internal/registry"
	"github.com/zjrosen/syscore/internal/unit"
)

// Node is one unit in a compiled graph. Nodes are immutable; per-run state
// lives in the scheduler.
type Node struct {
	Name string
	Kind unit.Kind
	Unit unit.Unit

	index        int
	successors   []*Node
	predecessors []*Node
}

// Successors returns the names of nodes that wait on this one.
func (n *Node) Successors() []string {
	return names(n.successors)
}

// Predecessors returns the names of nodes this one waits on.
func (n *Node) Predecessors() []string {
	return names(n.predecessors)
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

// Graph is a validated, acyclic execution graph compiled from a registry
// snapshot. It is safe to share between runs.
type Graph struct {
	nodes       []*Node
	byName      map[string]*Node
	edges       []registry.Edge
	fingerprint string
}

// Compile builds an execution graph from snap. Duplicate edges are
// collapsed. An edge naming an unregistered unit or a cycle among edges
// fails compilation with a *GraphError.
func Compile(snap registry.Snapshot) (*Graph, error) {
	g := &Graph{
		nodes:       make([]*Node, 0, len(snap.Units)),
		byName:      make(map[string]*Node, len(snap.Units)),
		fingerprint: snap.Fingerprint,
	}
	for i, reg := range snap.Units {
		n := &Node{Name: reg.Name, Kind: reg.Kind, Unit: reg.Unit, index: i}
		g.nodes = append(g.nodes, n)
		g.byName[reg.Name] = n
	}

	seen := make(map[registry.Edge]struct{}, len(snap.Edges))
	for _, edge := range snap.Edges {
		before, ok := g.byName[edge.Before]
		if !ok {
			return nil, unknownUnitError(edge, edge.Before)
		}
		after, ok := g.byName[edge.After]
		if !ok {
			return nil, unknownUnitError(edge, edge.After)
		}
		if _, dup := seen[edge]; dup {
			continue
		}
		seen[edge] = struct{}{}
		before.successors = append(before.successors, after)
		after.predecessors = append(after.predecessors, before)
		g.edges = append(g.edges, edge)
	}

	for _, n := range g.nodes {
		sortByIndex(n.successors)
		sortByIndex(n.predecessors)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, cycleError(cycle)
	}
	return g, nil
}

func sortByIndex(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].index < nodes[j].index })
}

// findCycle runs a DFS over nodes in name order and returns the first
// cycle found as a closed path, or nil when the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		for _, next := range g.nodes[u].successors {
			v := next.index
			switch color[v] {
			case white:
				parent[v] = u
				if visit(v) {
					return true
				}
			case gray:
				// Back edge u -> v closes v ... u -> v
				cycle = append(cycle, v)
				for cur := u; cur != v && cur != -1; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && visit(i) {
			break
		}
	}
	if cycle == nil {
		return nil
	}

	out := make([]string, len(cycle))
	for i := range cycle {
		out[i] = g.nodes[cycle[len(cycle)-1-i]].Name
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns nodes in name order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node returns the node registered under name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Edges returns the distinct edges in declaration order.
func (g *Graph) Edges() []registry.Edge {
	out := make([]registry.Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Roots returns nodes with no predecessors, in name order.
func (g *Graph) Roots() []*Node {
	var roots []*Node
	for _, n := range g.nodes {
		if len(n.predecessors) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// TopoOrder returns node names in a deterministic topological order:
// Kahn's algorithm, breaking ties by name.
func (g *Graph) TopoOrder() []string {
	indeg := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n.index] = len(n.predecessors)
	}

	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		out = append(out, g.nodes[i].Name)
		for _, s := range g.nodes[i].successors {
			indeg[s.index]--
			if indeg[s.index] == 0 {
				ready = append(ready, s.index)
			}
		}
	}
	return out
}

// Fingerprint identifies the registry version the graph was compiled from.
func (g *Graph) Fingerprint() string {
	return g.fingerprint
}
