// Package schedule holds the basic-block structure the linearizer walks.
//
// Schedules are produced outside the compiler core (by the graph loader or
// by tests); this package only records blocks, their edges and the order
// to visit them.
package schedule

import (
	"fmt"

	"github.com/roach88/nodejit/internal/ir"
)

// ControlKind says how a block hands control to its successors.
type ControlKind int

const (
	ControlNone ControlKind = iota
	ControlGoto
	ControlBranch
	ControlSwitch
	ControlCall
	ControlTailCall
	ControlReturn
	ControlDeoptimize
	ControlThrow
)

var controlKindNames = [...]string{
	ControlNone:       "none",
	ControlGoto:       "goto",
	ControlBranch:     "branch",
	ControlSwitch:     "switch",
	ControlCall:       "call",
	ControlTailCall:   "tailcall",
	ControlReturn:     "return",
	ControlDeoptimize: "deoptimize",
	ControlThrow:      "throw",
}

func (k ControlKind) String() string {
	if k < 0 || int(k) >= len(controlKindNames) {
		return fmt.Sprintf("ControlKind(%d)", int(k))
	}
	return controlKindNames[k]
}

// ParseControlKind is the inverse of ControlKind.String.
func ParseControlKind(s string) (ControlKind, error) {
	for k, name := range controlKindNames {
		if name == s {
			return ControlKind(k), nil
		}
	}
	return ControlNone, fmt.Errorf("unknown block control %q", s)
}

// BasicBlock is a straight-line run of nodes.
//
// Nodes[0] is the block's control entry (Start, Merge, Loop, IfTrue,
// IfFalse, IfSuccess, IfException, IfValue, IfDefault or End). Phis and
// EffectPhis follow, then the ordinary nodes. ControlInput, when set, is
// the node that ends the block; it is not part of Nodes.
type BasicBlock struct {
	ID           int
	RPO          int
	Nodes        []*ir.Node
	Control      ControlKind
	ControlInput *ir.Node

	preds []*BasicBlock
	succs []*BasicBlock
}

func (b *BasicBlock) String() string { return fmt.Sprintf("B%d", b.ID) }

// NodeAt returns the i-th node of the block.
func (b *BasicBlock) NodeAt(i int) *ir.Node { return b.Nodes[i] }

func (b *BasicBlock) NodeCount() int                  { return len(b.Nodes) }
func (b *BasicBlock) PredecessorCount() int           { return len(b.preds) }
func (b *BasicBlock) PredecessorAt(i int) *BasicBlock { return b.preds[i] }
func (b *BasicBlock) Predecessors() []*BasicBlock     { return b.preds }
func (b *BasicBlock) SuccessorCount() int             { return len(b.succs) }
func (b *BasicBlock) SuccessorAt(i int) *BasicBlock   { return b.succs[i] }
func (b *BasicBlock) Successors() []*BasicBlock       { return b.succs }

// HasIncomingBackEdges reports whether any predecessor is visited at or
// after b in reverse post-order. Only loop headers have such edges.
func (b *BasicBlock) HasIncomingBackEdges() bool {
	for _, p := range b.preds {
		if p.RPO >= b.RPO {
			return true
		}
	}
	return false
}

// Schedule is a control-flow graph of basic blocks over an ir.Graph.
type Schedule struct {
	blocks []*BasicBlock
	rpo    []*BasicBlock
	start  *BasicBlock
	end    *BasicBlock
}

// New returns a schedule with an empty start and end block.
func New() *Schedule {
	s := &Schedule{}
	s.start = s.NewBlock()
	s.end = s.NewBlock()
	return s
}

func (s *Schedule) Start() *BasicBlock { return s.start }
func (s *Schedule) End() *BasicBlock   { return s.end }

// Blocks returns every block in creation order.
func (s *Schedule) Blocks() []*BasicBlock { return s.blocks }

// NewBlock appends an empty block.
func (s *Schedule) NewBlock() *BasicBlock {
	b := &BasicBlock{ID: len(s.blocks), RPO: -1}
	s.blocks = append(s.blocks, b)
	s.rpo = nil
	return b
}

// AddNode appends n to b.
func (s *Schedule) AddNode(b *BasicBlock, n *ir.Node) {
	b.Nodes = append(b.Nodes, n)
}

func (s *Schedule) addSuccessor(from, to *BasicBlock) {
	from.succs = append(from.succs, to)
	to.preds = append(to.preds, from)
	s.rpo = nil
}

func (s *Schedule) setControl(b *BasicBlock, kind ControlKind, input *ir.Node) {
	if b.Control != ControlNone {
		panic(fmt.Sprintf("schedule: %s already ends with %s", b, b.Control))
	}
	b.Control = kind
	b.ControlInput = input
}

// AddGoto ends from with an unconditional jump to to. Predecessor order
// of to follows the order of calls, which must match the input order of
// its Merge or Loop.
func (s *Schedule) AddGoto(from, to *BasicBlock) {
	s.setControl(from, ControlGoto, nil)
	s.addSuccessor(from, to)
}

// AddBranch ends b with branch; ifTrue is successor 0.
func (s *Schedule) AddBranch(b *BasicBlock, branch *ir.Node, ifTrue, ifFalse *BasicBlock) {
	s.setControl(b, ControlBranch, branch)
	s.addSuccessor(b, ifTrue)
	s.addSuccessor(b, ifFalse)
}

// AddSwitch ends b with sw and one successor per case.
func (s *Schedule) AddSwitch(b *BasicBlock, sw *ir.Node, succs ...*BasicBlock) {
	s.setControl(b, ControlSwitch, sw)
	for _, succ := range succs {
		s.addSuccessor(b, succ)
	}
}

// AddCall ends b with a call that has an exceptional continuation.
func (s *Schedule) AddCall(b *BasicBlock, call *ir.Node, success, exception *BasicBlock) {
	s.setControl(b, ControlCall, call)
	s.addSuccessor(b, success)
	s.addSuccessor(b, exception)
}

// AddReturn, AddDeoptimize, AddThrow and AddTailCall end b with a
// terminator whose only successor is the end block.
func (s *Schedule) AddReturn(b *BasicBlock, ret *ir.Node) { s.addExit(b, ControlReturn, ret) }

func (s *Schedule) AddDeoptimize(b *BasicBlock, n *ir.Node) { s.addExit(b, ControlDeoptimize, n) }
func (s *Schedule) AddThrow(b *BasicBlock, n *ir.Node)      { s.addExit(b, ControlThrow, n) }
func (s *Schedule) AddTailCall(b *BasicBlock, n *ir.Node)   { s.addExit(b, ControlTailCall, n) }

func (s *Schedule) addExit(b *BasicBlock, kind ControlKind, n *ir.Node) {
	s.setControl(b, kind, n)
	s.addSuccessor(b, s.end)
}

// AddExit dispatches to the terminator helper matching kind.
func (s *Schedule) AddExit(b *BasicBlock, kind ControlKind, n *ir.Node) {
	switch kind {
	case ControlReturn, ControlDeoptimize, ControlThrow, ControlTailCall:
		s.addExit(b, kind, n)
	default:
		panic(fmt.Sprintf("schedule: %s is not an exit", kind))
	}
}

// RPOOrder returns the blocks reachable from start in reverse post-order,
// numbering each block's RPO field. Unreachable blocks get RPO -1.
func (s *Schedule) RPOOrder() []*BasicBlock {
	if s.rpo != nil {
		return s.rpo
	}
	for _, b := range s.blocks {
		b.RPO = -1
	}

	type frame struct {
		block *BasicBlock
		next  int
	}
	visited := make([]bool, len(s.blocks))
	var post []*BasicBlock
	stack := []frame{{block: s.start}}
	visited[s.start.ID] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.block.succs) {
			succ := top.block.succs[top.next]
			top.next++
			if !visited[succ.ID] {
				visited[succ.ID] = true
				stack = append(stack, frame{block: succ})
			}
			continue
		}
		post = append(post, top.block)
		stack = stack[:len(stack)-1]
	}

	rpo := make([]*BasicBlock, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}
	// The end block is visited last regardless of where DFS finished it.
	for i, b := range rpo {
		if b == s.end && i != len(rpo)-1 {
			rpo = append(append(rpo[:i:i], rpo[i+1:]...), b)
			break
		}
	}
	for i, b := range rpo {
		b.RPO = i
	}
	s.rpo = rpo
	return rpo
}

// BlockOf returns the block whose entry node is n.
func (s *Schedule) BlockOf(n *ir.Node) *BasicBlock {
	for _, b := range s.blocks {
		if len(b.Nodes) > 0 && b.Nodes[0] == n {
			return b
		}
	}
	return nil
}
