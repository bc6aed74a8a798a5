package ir

import (
	"fmt"
	"slices"

	"github.com/roach88/nodejit/internal/types"
)

// NodeID is the stable index of a node in its graph. IDs are never reused.
type NodeID int32

// Use is a reverse edge: input Index of node User refers to the used node.
type Use struct {
	User  NodeID
	Index int
}

// EdgeKind classifies an input slot by the operator's input layout:
// values, then frame state, then effects, then controls.
type EdgeKind int

const (
	ValueEdge EdgeKind = iota
	FrameStateEdge
	EffectEdge
	ControlEdge
)

func (k EdgeKind) String() string {
	switch k {
	case ValueEdge:
		return "value"
	case FrameStateEdge:
		return "frame-state"
	case EffectEdge:
		return "effect"
	default:
		return "control"
	}
}

// Node is one operation in a Graph. Nodes are owned by their graph and
// must only be edited through the methods below so that use-lists stay in
// sync with inputs.
type Node struct {
	g      *Graph
	id     NodeID
	op     *Operator
	inputs []NodeID
	uses   []Use
	typ    types.Type
	typed  bool
	dead   bool
}

// Graph is an arena of nodes addressed by NodeID.
type Graph struct {
	nodes []*Node
	start *Node
	end   *Node
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NewNode creates a node. The number of inputs must match the operator.
func (g *Graph) NewNode(op *Operator, inputs ...*Node) *Node {
	if len(inputs) != op.InputCount() {
		panic(fmt.Sprintf("ir: %s wants %d inputs, got %d", op, op.InputCount(), len(inputs)))
	}
	n := &Node{g: g, id: NodeID(len(g.nodes)), op: op, inputs: make([]NodeID, len(inputs))}
	g.nodes = append(g.nodes, n)
	for i, in := range inputs {
		if in == nil {
			panic(fmt.Sprintf("ir: nil input %d to %s", i, op))
		}
		n.inputs[i] = in.id
		in.uses = append(in.uses, Use{User: n.id, Index: i})
	}
	return n
}

// Node returns the node with the given id, or nil if out of range.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// NodeCount is the number of node slots ever allocated, dead ones included.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// LiveNodes returns the nodes that have not been killed, in ID order.
func (g *Graph) LiveNodes() []*Node {
	live := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if !n.dead {
			live = append(live, n)
		}
	}
	return live
}

func (g *Graph) Start() *Node { return g.start }
func (g *Graph) End() *Node { return g.end }
func (g *Graph) SetStart(start *Node) { g.start = start }
func (g *Graph) SetEnd(end *Node) { g.end = end }

func (n *Node) ID() NodeID { return n.id }
func (n *Node) Op() *Operator { return n.op }
func (n *Node) Opcode() Opcode { return n.op.Opcode }
func (n *Node) Graph() *Graph { return n.g }
func (n *Node) IsDead() bool { return n.dead }
func (n *Node) InputCount() int { return len(n.inputs) }
func (n *Node) UseCount() int { return len(n.uses) }
func (n *Node) String() string { return fmt.Sprintf("#%d:%s", n.id, n.op) }
func (n *Node) InputID(i int) NodeID { return n.inputs[i] }

// InputAt returns input i.
func (n *Node) InputAt(i int) *Node { return n.g.nodes[n.inputs[i]] }

// Inputs returns a fresh slice of the node's inputs.
func (n *Node) Inputs() []*Node {
	ins := make([]*Node, len(n.inputs))
	for i, id := range n.inputs {
		ins[i] = n.g.nodes[id]
	}
	return ins
}

// Uses returns a copy of the use-list, safe to iterate while editing.
func (n *Node) Uses() []Use { return slices.Clone(n.uses) }

// Users returns the distinct nodes using n, in first-use order.
func (n *Node) Users() []*Node {
	var users []*Node
	seen := make(map[NodeID]bool, len(n.uses))
	for _, u := range n.uses {
		if !seen[u.User] {
			seen[u.User] = true
			users = append(users, n.g.nodes[u.User])
		}
	}
	return users
}

// OwnedBy reports whether from is the single use of n.
func (n *Node) OwnedBy(from *Node) bool {
	return len(n.uses) == 1 && n.uses[0].User == from.id
}

// Type returns the node's type bound; untyped nodes are Any.
func (n *Node) Type() types.Type {
	if !n.typed {
		return types.Any
	}
	return n.typ
}

// IsTyped reports whether a type bound was attached.
func (n *Node) IsTyped() bool { return n.typed }

func (n *Node) SetType(t types.Type) {
	n.typ, n.typed = t, true
}

// RemoveType drops the type bound.
func (n *Node) RemoveType() {
	n.typ, n.typed = types.Type{}, false
}

func (n *Node) addUse(user NodeID, index int) {
	n.uses = append(n.uses, Use{User: user, Index: index})
}

func (n *Node) removeUse(user NodeID, index int) {
	for i, u := range n.uses {
		if u.User == user && u.Index == index {
			n.uses = slices.Delete(n.uses, i, i+1)
			return
		}
	}
	panic(fmt.Sprintf("ir: #%d has no use by #%d at %d", n.id, user, index))
}

func (n *Node) retargetUse(user NodeID, from, to int) {
	for i, u := range n.uses {
		if u.User == user && u.Index == from {
			n.uses[i].Index = to
			return
		}
	}
	panic(fmt.Sprintf("ir: #%d has no use by #%d at %d", n.id, user, from))
}

// ReplaceInput sets input i to v.
func (n *Node) ReplaceInput(i int, v *Node) {
	old := n.g.nodes[n.inputs[i]]
	if old == v {
		return
	}
	old.removeUse(n.id, i)
	n.inputs[i] = v.id
	v.addUse(n.id, i)
}

// AppendInput adds v as the last input.
func (n *Node) AppendInput(v *Node) {
	n.inputs = append(n.inputs, v.id)
	v.addUse(n.id, len(n.inputs)-1)
}

// InsertInput inserts v before input i, shifting later inputs up.
func (n *Node) InsertInput(i int, v *Node) {
	for j := len(n.inputs) - 1; j >= i; j-- {
		n.g.nodes[n.inputs[j]].retargetUse(n.id, j, j+1)
	}
	n.inputs = slices.Insert(n.inputs, i, v.id)
	v.addUse(n.id, i)
}

// RemoveInput deletes input i, shifting later inputs down.
func (n *Node) RemoveInput(i int) {
	n.g.nodes[n.inputs[i]].removeUse(n.id, i)
	for j := i + 1; j < len(n.inputs); j++ {
		n.g.nodes[n.inputs[j]].retargetUse(n.id, j, j-1)
	}
	n.inputs = slices.Delete(n.inputs, i, i+1)
}

// TrimInputCount drops every input from count on.
func (n *Node) TrimInputCount(count int) {
	for j := len(n.inputs) - 1; j >= count; j-- {
		n.g.nodes[n.inputs[j]].removeUse(n.id, j)
	}
	n.inputs = n.inputs[:count]
}

// ReplaceInputs sets all inputs at once.
func (n *Node) ReplaceInputs(inputs ...*Node) {
	n.TrimInputCount(0)
	for _, v := range inputs {
		n.AppendInput(v)
	}
}

// ChangeOp swaps the operator in place. Inputs are left alone; callers fix
// them before or after so the count matches again.
func (n *Node) ChangeOp(op *Operator) {
	n.op = op
}

// ReplaceUses redirects every use of n to by.
func (n *Node) ReplaceUses(by *Node) {
	if by == n {
		return
	}
	for _, u := range n.uses {
		user := n.g.nodes[u.User]
		user.inputs[u.Index] = by.id
		by.uses = append(by.uses, u)
	}
	n.uses = nil
}

// ReplaceUsesByKind redirects value, effect and control uses of n
// separately. Frame state uses follow the value replacement. A nil
// replacement for a kind that has uses panics.
func (n *Node) ReplaceUsesByKind(value, effect, control *Node) {
	for _, u := range n.Uses() {
		user := n.g.nodes[u.User]
		var by *Node
		switch user.EdgeKindAt(u.Index) {
		case ValueEdge, FrameStateEdge:
			by = value
		case EffectEdge:
			by = effect
		case ControlEdge:
			by = control
		}
		if by == nil {
			panic(fmt.Sprintf("ir: no %s replacement for use of %s by %s", user.EdgeKindAt(u.Index), n, user))
		}
		user.ReplaceInput(u.Index, by)
	}
}

// Kill removes every input of n and tombstones its slot. Remaining uses of
// n are left dangling for the verifier to report.
func (n *Node) Kill() {
	n.TrimInputCount(0)
	n.dead = true
}

// EdgeKindAt classifies input i by the operator's layout. Inputs appended
// past the operator's count are controls.
func (n *Node) EdgeKindAt(i int) EdgeKind {
	op := n.op
	switch {
	case i < op.ValueIn:
		return ValueEdge
	case i < op.ValueIn+op.FrameStateIn:
		return FrameStateEdge
	case i < op.ValueIn+op.FrameStateIn+op.EffectIn:
		return EffectEdge
	}
	return ControlEdge
}

func (n *Node) firstFrameStateIndex() int { return n.op.ValueIn }
func (n *Node) firstEffectIndex() int { return n.op.ValueIn + n.op.FrameStateIn }
func (n *Node) firstControlIndex() int {
	return n.op.ValueIn + n.op.FrameStateIn + n.op.EffectIn
}

func (n *Node) ValueInput(i int) *Node {
	if i >= n.op.ValueIn {
		panic(fmt.Sprintf("ir: %s has no value input %d", n, i))
	}
	return n.InputAt(i)
}

func (n *Node) FrameStateInput() *Node {
	if n.op.FrameStateIn == 0 {
		panic(fmt.Sprintf("ir: %s has no frame state input", n))
	}
	return n.InputAt(n.firstFrameStateIndex())
}

func (n *Node) EffectInput(i int) *Node {
	if i >= n.op.EffectIn {
		panic(fmt.Sprintf("ir: %s has no effect input %d", n, i))
	}
	return n.InputAt(n.firstEffectIndex() + i)
}

func (n *Node) ControlInput(i int) *Node {
	if i >= n.op.ControlIn {
		panic(fmt.Sprintf("ir: %s has no control input %d", n, i))
	}
	return n.InputAt(n.firstControlIndex() + i)
}

func (n *Node) ReplaceValueInput(i int, v *Node) {
	if i >= n.op.ValueIn {
		panic(fmt.Sprintf("ir: %s has no value input %d", n, i))
	}
	n.ReplaceInput(i, v)
}

func (n *Node) ReplaceFrameStateInput(v *Node) {
	if n.op.FrameStateIn == 0 {
		panic(fmt.Sprintf("ir: %s has no frame state input", n))
	}
	n.ReplaceInput(n.firstFrameStateIndex(), v)
}

func (n *Node) ReplaceEffectInput(i int, v *Node) {
	if i >= n.op.EffectIn {
		panic(fmt.Sprintf("ir: %s has no effect input %d", n, i))
	}
	n.ReplaceInput(n.firstEffectIndex()+i, v)
}

func (n *Node) ReplaceControlInput(i int, v *Node) {
	if i >= n.op.ControlIn {
		panic(fmt.Sprintf("ir: %s has no control input %d", n, i))
	}
	n.ReplaceInput(n.firstControlIndex()+i, v)
}

// RemoveNonValueInputs keeps only the value inputs.
func (n *Node) RemoveNonValueInputs() {
	n.TrimInputCount(n.op.ValueIn)
}

// FindProjection returns the projection of n with the given index.
func (n *Node) FindProjection(index int) *Node {
	for _, u := range n.uses {
		user := n.g.nodes[u.User]
		if user.op.Opcode == OpProjection && ParamOf[int](user) == index {
			return user
		}
	}
	return nil
}

// CollectControlProjections returns the IfSuccess and IfException uses of
// a throwing node; either may be nil.
func (n *Node) CollectControlProjections() (ifSuccess, ifException *Node) {
	for _, u := range n.uses {
		user := n.g.nodes[u.User]
		switch user.op.Opcode {
		case OpIfSuccess:
			ifSuccess = user
		case OpIfException:
			ifException = user
		}
	}
	return ifSuccess, ifException
}
