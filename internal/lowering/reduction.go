package lowering

import "github.com/roach88/nodejit/internal/ir"

// Reduction is the answer of a Reducer for one node.
//
// A zero Reduction means no change. Changed(n) with n being the reduced
// node means it was edited in place; any other node is a replacement
// for it.
type Reduction struct {
	replacement *ir.Node
}

// NoChange leaves the node alone.
func NoChange() Reduction { return Reduction{} }

// Changed reports an in-place edit of node.
func Changed(node *ir.Node) Reduction { return Reduction{replacement: node} }

// Replace asks the driver to redirect every use of the reduced node to
// replacement.
func Replace(replacement *ir.Node) Reduction { return Reduction{replacement: replacement} }

// Changed reports whether anything happened.
func (r Reduction) Changed() bool { return r.replacement != nil }

// Replacement is the node to use in place of the reduced one.
func (r Reduction) Replacement() *ir.Node { return r.replacement }

// Reducer rewrites single nodes.
type Reducer interface {
	Name() string
	Reduce(node *ir.Node) Reduction
}

// Editor lets a reducer edit the graph beyond the node it was given.
type Editor interface {
	// Replace redirects every use of node to replacement.
	Replace(node, replacement *ir.Node)

	// Revisit schedules node to be reduced again.
	Revisit(node *ir.Node)

	// ReplaceWithValue redirects value, effect and control uses of node
	// separately. A nil effect or control means the node's own effect or
	// control input. IfSuccess users are replaced by the control and
	// IfException users are cut off to Dead.
	ReplaceWithValue(node, value, effect, control *ir.Node)
}
