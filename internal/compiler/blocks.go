package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
)

type blockSpec struct {
	id      string
	nodes   []string
	control string
	input   string
	succs   []string
	val     cue.Value
}

// loadBlocks builds the schedule of a description:
//
//	blocks: [
//		{id: "entry", nodes: ["start", "a", "b"], control: "branch", input: "br", succs: ["t", "f"]},
//		{id: "t", nodes: ["if_true"], control: "goto", succs: ["join"]},
//		...
//	]
//
// The first block is the start block. The End node is placed in the end
// block, which every exit (return, deoptimize, throw, tailcall) jumps to.
// Predecessors of a block are ordered as their blocks are listed, which
// must match the input order of its Merge or Loop.
func (g *Graph) loadBlocks(v cue.Value) (*schedule.Schedule, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []blockSpec
	for i := 0; iter.Next(); i++ {
		bv := iter.Value()
		id, err := requireString(bv, "id", fmt.Sprintf("blocks[%d]", i))
		if err != nil {
			return nil, err
		}
		spec := blockSpec{id: id, val: bv}
		if spec.nodes, err = optStrings(bv, "nodes"); err != nil {
			return nil, err
		}
		if spec.succs, err = optStrings(bv, "succs"); err != nil {
			return nil, err
		}
		if spec.control, _, err = optString(bv, "control"); err != nil {
			return nil, err
		}
		if spec.input, _, err = optString(bv, "input"); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, &LoadError{Field: "blocks", Message: "at least one block is required", Pos: v.Pos()}
	}

	s := schedule.New()
	blocks := make(map[string]*schedule.BasicBlock, len(specs))
	for i, spec := range specs {
		field := "blocks." + spec.id
		if _, dup := blocks[spec.id]; dup {
			return nil, &LoadError{Field: field, Message: "duplicate block id", Pos: spec.val.Pos()}
		}
		b := s.Start()
		if i > 0 {
			b = s.NewBlock()
		}
		blocks[spec.id] = b
		for _, id := range spec.nodes {
			n, ok := g.Nodes[id]
			if !ok {
				return nil, &LoadError{Field: field + ".nodes", Message: fmt.Sprintf("unknown node %q", id), Pos: spec.val.Pos()}
			}
			if n.Opcode() == ir.OpEnd {
				return nil, &LoadError{Field: field + ".nodes", Message: "End belongs to the end block", Pos: spec.val.Pos()}
			}
			s.AddNode(b, n)
		}
	}

	for _, spec := range specs {
		if err := g.setBlockControl(s, blocks, spec); err != nil {
			return nil, err
		}
	}
	s.AddNode(s.End(), g.JSGraph.End())
	return s, nil
}

func (g *Graph) setBlockControl(s *schedule.Schedule, blocks map[string]*schedule.BasicBlock, spec blockSpec) error {
	field := "blocks." + spec.id
	fail := func(format string, args ...any) error {
		return &LoadError{Field: field, Message: fmt.Sprintf(format, args...), Pos: spec.val.Pos()}
	}

	control := spec.control
	if control == "" {
		if len(spec.succs) != 1 {
			return fail("control is required")
		}
		control = "goto"
	}
	kind, err := schedule.ParseControlKind(control)
	if err != nil {
		return fail("%v", err)
	}

	succs := make([]*schedule.BasicBlock, len(spec.succs))
	for i, id := range spec.succs {
		b, ok := blocks[id]
		if !ok {
			return fail("unknown successor %q", id)
		}
		succs[i] = b
	}

	var input *ir.Node
	if kind != schedule.ControlGoto && kind != schedule.ControlNone {
		if spec.input == "" {
			return fail("%s needs an input node", kind)
		}
		n, ok := g.Nodes[spec.input]
		if !ok {
			return fail("unknown input node %q", spec.input)
		}
		input = n
	}

	want := map[schedule.ControlKind]int{
		schedule.ControlNone:       0,
		schedule.ControlGoto:       1,
		schedule.ControlBranch:     2,
		schedule.ControlCall:       2,
		schedule.ControlReturn:     0,
		schedule.ControlDeoptimize: 0,
		schedule.ControlThrow:      0,
		schedule.ControlTailCall:   0,
	}
	if n, ok := want[kind]; ok && len(succs) != n {
		return fail("%s takes %d successors, got %d", kind, n, len(succs))
	}

	b := blocks[spec.id]
	switch kind {
	case schedule.ControlNone:
	case schedule.ControlGoto:
		s.AddGoto(b, succs[0])
	case schedule.ControlBranch:
		s.AddBranch(b, input, succs[0], succs[1])
	case schedule.ControlCall:
		s.AddCall(b, input, succs[0], succs[1])
	case schedule.ControlSwitch:
		if len(succs) == 0 {
			return fail("switch needs successors")
		}
		s.AddSwitch(b, input, succs...)
	default:
		s.AddExit(b, kind, input)
	}
	return nil
}

var exitKinds = map[ir.Opcode]schedule.ControlKind{
	ir.OpReturn:     schedule.ControlReturn,
	ir.OpDeoptimize: schedule.ControlDeoptimize,
	ir.OpThrow:      schedule.ControlThrow,
	ir.OpTailCall:   schedule.ControlTailCall,
}

// straightLine schedules a graph without control splits into the start
// block, in node order, ending with its only exit. It returns nil for any
// other graph.
func straightLine(jsg *ir.JSGraph) *schedule.Schedule {
	end := jsg.End()
	if end == nil || end.InputCount() != 1 {
		return nil
	}
	exit := end.InputAt(0)
	kind, ok := exitKinds[exit.Opcode()]
	if !ok {
		return nil
	}

	nodes := jsg.DumpNodes()
	for _, n := range nodes {
		switch n.Opcode() {
		case ir.OpBranch, ir.OpSwitch, ir.OpMerge, ir.OpLoop, ir.OpIfException:
			return nil
		}
	}

	s := schedule.New()
	start := s.Start()
	s.AddNode(start, jsg.Start())
	for _, n := range nodes {
		if n == jsg.Start() || n == end || n == exit {
			continue
		}
		s.AddNode(start, n)
	}
	s.AddExit(start, kind, exit)
	s.AddNode(s.End(), end)
	return s
}
