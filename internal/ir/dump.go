package ir

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/tools/container/intsets"

	"github.com/roach88/nodejit/internal/heap"
)

// Reachable returns the IDs of nodes reachable from End through inputs.
// Graphs without an End node report every live node.
func (g *Graph) Reachable() *intsets.Sparse {
	var seen intsets.Sparse
	if g.end == nil {
		for _, n := range g.nodes {
			if !n.dead {
				seen.Insert(int(n.id))
			}
		}
		return &seen
	}
	stack := []*Node{g.end}
	seen.Insert(int(g.end.id))
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, id := range n.inputs {
			if seen.Insert(int(id)) {
				stack = append(stack, g.nodes[id])
			}
		}
	}
	return &seen
}

// DumpNodes returns the reachable nodes in ID order.
func (g *Graph) DumpNodes() []*Node {
	var ids []int
	ids = g.Reachable().AppendTo(ids)
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// Dump renders the reachable graph one node per line:
//
//	#7 NumberAdd(#3, #4) : Number
//
// Inputs are listed in layout order. The type bound is printed only for
// typed nodes.
func Dump(g *Graph) string {
	var b strings.Builder
	for _, n := range g.DumpNodes() {
		fmt.Fprintf(&b, "#%d %s", n.id, n.op)
		if len(n.inputs) > 0 {
			b.WriteByte('(')
			for i, id := range n.inputs {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "#%d", id)
			}
			b.WriteByte(')')
		}
		if n.typed {
			fmt.Fprintf(&b, " : %s", n.typ)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// DumpObject is the canonical-JSON form of the reachable graph.
func DumpObject(g *Graph) map[string]any {
	nodes := make([]any, 0)
	for _, n := range g.DumpNodes() {
		inputs := make([]any, len(n.inputs))
		for i, id := range n.inputs {
			inputs[i] = id
		}
		obj := map[string]any{
			"id":     n.id,
			"op":     n.op.Opcode.String(),
			"inputs": inputs,
		}
		if n.op.Param != nil {
			obj["param"] = paramString(n.op.Param)
		}
		if n.typed {
			obj["type"] = n.typ.String()
		}
		nodes = append(nodes, obj)
	}
	out := map[string]any{"nodes": nodes}
	if g.start != nil {
		out["start"] = g.start.id
	}
	if g.end != nil {
		out["end"] = g.end.id
	}
	return out
}

func paramString(p any) string {
	switch v := p.(type) {
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case *heap.Object:
		return v.Kind.String() + ":" + v.Name
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(p)
}
