package linearize

import (
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
)

// tryCloneBranch pushes a branch on a phi up into the predecessors of the
// phi's merge:
//
//	       B0  B1                 B0      B1
//	        \ /                   |        |
//	   Merge, Phi(c0,c1)   =>   Branch(c0) Branch(c1)
//	          |                  | \      / |
//	        Branch               |  \    /  |
//	       /      \              |   \  /   |
//	   IfTrue   IfFalse        Merge(T0,T1) Merge(F0,F1)
//
// It only fires when everything else hanging off the merge is a phi whose
// uses sit directly under IfTrue or IfFalse, so each of them splits into a
// true and a false phi without any other node moving.
func (l *Linearizer) tryCloneBranch(branch *ir.Node, block *schedule.BasicBlock, states edgeStates) {
	cond := branch.ValueInput(0)
	if cond.Opcode() != ir.OpPhi || !cond.OwnedBy(branch) {
		return
	}
	merge := branch.ControlInput(0)
	if merge.Opcode() != ir.OpMerge || merge.InputCount() < 2 || cond.ControlInput(0) != merge {
		return
	}

	var ifTrue, ifFalse *ir.Node
	for _, u := range branch.Users() {
		switch u.Opcode() {
		case ir.OpIfTrue:
			ifTrue = u
		case ir.OpIfFalse:
			ifFalse = u
		}
	}
	if ifTrue == nil || ifFalse == nil {
		return
	}

	// controlOf returns the control a use of a phi depends on, looking
	// through phis to the matching merge input.
	g := branch.Graph()
	controlOf := func(u ir.Use) *ir.Node {
		user := g.Node(u.User)
		if user.Op().ControlIn != 1 {
			return nil
		}
		control := user.ControlInput(0)
		if op := user.Opcode(); op == ir.OpPhi || op == ir.OpEffectPhi {
			if u.Index >= control.Op().ControlIn {
				return nil
			}
			control = control.ControlInput(u.Index)
		}
		return control
	}

	var phis []*ir.Node
	for _, use := range merge.Users() {
		if use == branch || use == cond {
			continue
		}
		if op := use.Opcode(); op != ir.OpPhi && op != ir.OpEffectPhi {
			return
		}
		for _, u := range use.Uses() {
			if c := controlOf(u); c != ifTrue && c != ifFalse {
				return
			}
		}
		phis = append(phis, use)
	}

	n := merge.Op().ControlIn
	trueInputs := make([]*ir.Node, n)
	falseInputs := make([]*ir.Node, n)
	for i := 0; i < n; i++ {
		trueInputs[i], falseInputs[i] = l.branch(cond.ValueInput(i), merge.ControlInput(i))
	}

	// The projections become the merges of the cloned branches so that
	// their blocks keep the same entry node.
	mergeTrue, mergeFalse := ifTrue, ifFalse
	mergeTrue.ReplaceInputs(trueInputs...)
	mergeTrue.ChangeOp(ir.Merge(n))
	mergeFalse.ReplaceInputs(falseInputs...)
	mergeFalse.ChangeOp(ir.Merge(n))

	trueIndex := 0
	if block.SuccessorAt(0).NodeAt(0) != mergeTrue {
		trueIndex = 1
	}
	trueState := states.at(block, block.SuccessorAt(trueIndex))
	falseState := states.at(block, block.SuccessorAt(trueIndex^1))

	for _, phi := range phis {
		inputs := phi.Inputs()[:n]
		phiTrue := g.NewNode(phi.Op(), append(inputs[:n:n], mergeTrue)...)
		phiFalse := g.NewNode(phi.Op(), append(inputs[:n:n], mergeFalse)...)
		for _, u := range phi.Uses() {
			by := phiFalse
			if controlOf(u) == mergeTrue {
				by = phiTrue
			}
			g.Node(u.User).ReplaceInput(u.Index, by)
		}
		if phi.Opcode() == ir.OpEffectPhi {
			trueState.effect = phiTrue
			falseState.effect = phiFalse
		}
		phi.Kill()
	}

	if branch == block.ControlInput {
		trueState.control = mergeTrue
		falseState.control = mergeFalse
	}

	branch.Kill()
	cond.Kill()
	merge.Kill()
	l.stats.ClonedBranches++
}
