package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/nodejit/internal/ir"
)

// CycleWarning reports a cycle in the input edges of a graph.
//
// Every cycle of a well-formed graph passes through a loop: a Loop node
// closes the control cycle and phis on that loop close the value and
// effect cycles. Those are reported at level "info". A cycle that closes
// anywhere else is reported at level "warning"; no pass can order it.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["#3 Phi", "#5 NumberAdd", "#3 Phi"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds the strongly connected components of the graph
// reachable from End, following input edges, and reports each one that
// forms a cycle. A DAG returns an empty list.
func AnalyzeCycles(g *ir.Graph) []CycleWarning {
	graph := buildDependencyGraph(g)
	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(g, scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps a node to its inputs, in input order.
type dependencyGraph struct {
	order []ir.NodeID
	edges map[ir.NodeID][]ir.NodeID
}

func buildDependencyGraph(g *ir.Graph) dependencyGraph {
	graph := dependencyGraph{edges: make(map[ir.NodeID][]ir.NodeID)}
	for _, n := range g.DumpNodes() {
		graph.order = append(graph.order, n.ID())
		for i := 0; i < n.InputCount(); i++ {
			graph.edges[n.ID()] = append(graph.edges[n.ID()], n.InputID(i))
		}
	}
	return graph
}

func hasSelfLoop(node ir.NodeID, graph dependencyGraph) bool {
	return slices.Contains(graph.edges[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Each component is sorted by node ID and components are ordered by their
// smallest node.
func tarjanSCC(graph dependencyGraph) [][]ir.NodeID {
	var (
		index   = 0
		stack   []ir.NodeID
		indices = make(map[ir.NodeID]int)
		lowlink = make(map[ir.NodeID]int)
		onStack = make(map[ir.NodeID]bool)
		sccs    [][]ir.NodeID
	)

	var strongConnect func(ir.NodeID)
	strongConnect = func(v ir.NodeID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of a component.
		if lowlink[v] == indices[v] {
			var scc []ir.NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range graph.order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	slices.SortFunc(sccs, func(a, b []ir.NodeID) int { return int(a[0] - b[0]) })
	return sccs
}

// closedByLoop reports whether a component is a loop: it holds a Loop
// node or a phi controlled by one.
func closedByLoop(g *ir.Graph, scc []ir.NodeID) bool {
	for _, id := range scc {
		n := g.Node(id)
		switch n.Opcode() {
		case ir.OpLoop:
			return true
		case ir.OpPhi, ir.OpEffectPhi:
			if n.InputCount() > 0 && n.ControlInput(0).Opcode() == ir.OpLoop {
				return true
			}
		}
	}
	return false
}

func cycleSCCToWarning(g *ir.Graph, scc []ir.NodeID, graph dependencyGraph) CycleWarning {
	var ids []ir.NodeID
	if len(scc) == 1 {
		ids = []ir.NodeID{scc[0], scc[0]}
	} else {
		ids = reconstructCyclePath(scc, graph)
	}
	path := make([]string, len(ids))
	for i, id := range ids {
		path[i] = fmt.Sprintf("#%d %s", id, g.Node(id).Opcode())
	}

	if closedByLoop(g, scc) {
		return CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("loop of %d nodes: %s", len(scc), strings.Join(path, " → ")),
			Level:   "info",
		}
	}
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("cycle does not pass through a loop: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks input edges inside the component from its
// first node until it returns there.
func reconstructCyclePath(scc []ir.NodeID, graph dependencyGraph) []ir.NodeID {
	if len(scc) == 0 {
		return []ir.NodeID{}
	}

	inSCC := make(map[ir.NodeID]bool, len(scc))
	for _, id := range scc {
		inSCC[id] = true
	}

	start := scc[0]
	current := start
	path := []ir.NodeID{current}
	visited := make(map[ir.NodeID]bool)
	for {
		visited[current] = true

		next, found := ir.NodeID(0), false
		for _, w := range graph.edges[current] {
			if inSCC[w] && (!visited[w] || w == start) {
				next, found = w, true
				break
			}
		}
		if !found {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
