package linearize

import (
	"log/slog"

	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
)

// Linearizer wires every scheduled node into one explicit effect chain and
// one explicit control chain, following the block order of a schedule.
//
// While walking the blocks in reverse post order it tracks the current
// effect, control and frame state. Nodes that need their own control flow
// (tagging, untagging, checks) are expanded into machine-level diamonds
// and deoptimization guards on the way.
type Linearizer struct {
	jsg      *ir.JSGraph
	schedule *schedule.Schedule
	logger   *slog.Logger

	cloneBranches bool
	roundDown     bool

	observability ir.RegionObservability
	stats         Stats
}

// Stats summarizes one Run.
type Stats struct {
	Blocks         int
	Lowered        int
	EffectPhis     int
	ClonedBranches int
}

// Option configures a Linearizer.
type Option func(*Linearizer)

// WithLogger sets the logger for run boundaries.
func WithLogger(l *slog.Logger) Option {
	return func(lin *Linearizer) {
		lin.logger = l
	}
}

// WithBranchCloning enables the branch cloning peephole. It is on by
// default.
func WithBranchCloning(enabled bool) Option {
	return func(lin *Linearizer) {
		lin.cloneBranches = enabled
	}
}

// WithFloat64RoundDown tells the linearizer the target has a native
// round-down instruction. Without it Float64Floor is expanded inline.
func WithFloat64RoundDown(supported bool) Option {
	return func(lin *Linearizer) {
		lin.roundDown = supported
	}
}

// New creates a linearizer for jsg scheduled by s.
func New(jsg *ir.JSGraph, s *schedule.Schedule, opts ...Option) *Linearizer {
	l := &Linearizer{
		jsg:           jsg,
		schedule:      s,
		logger:        slog.Default(),
		cloneBranches: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stats returns the counters of the last Run.
func (l *Linearizer) Stats() Stats { return l.stats }

// edge identifies a control edge between two blocks.
type edge struct {
	from, to int
}

// edgeState is what flows along a block edge.
type edgeState struct {
	effect     *ir.Node
	control    *ir.Node
	frameState *ir.Node
}

type edgeStates map[edge]*edgeState

func (m edgeStates) at(from, to *schedule.BasicBlock) *edgeState {
	k := edge{from.ID, to.ID}
	s, ok := m[k]
	if !ok {
		s = &edgeState{}
		m[k] = s
	}
	return s
}

type pendingEffectPhi struct {
	phi   *ir.Node
	block *schedule.BasicBlock
}

// Run linearizes the graph. A graph that violates the scheduling
// invariants yields an *InvariantError and is left half rewritten.
func (l *Linearizer) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InvariantError)
			if !ok {
				panic(r)
			}
			l.logger.Warn("linearization aborted", "code", ie.Code, "error", ie.Message)
			err = ie
		}
	}()

	l.stats = Stats{}
	l.observability = ir.RegionObservable
	l.run()
	l.logger.Debug("linearization finished",
		"blocks", l.stats.Blocks,
		"lowered", l.stats.Lowered,
		"effect_phis", l.stats.EffectPhis,
		"cloned_branches", l.stats.ClonedBranches,
	)
	return nil
}

func (l *Linearizer) run() {
	var (
		states          = make(edgeStates)
		pendingPhis     []pendingEffectPhi
		pendingControls []*schedule.BasicBlock
	)

	for _, block := range l.schedule.RPOOrder() {
		l.stats.Blocks++
		if block.NodeCount() == 0 {
			violation(ErrCodeMalformedBlock, nil, block.ID, "block has no control node")
		}

		// The first node of a block is its control entry.
		instr := 0
		control := block.NodeAt(instr)
		if control.Op().ControlOut == 0 && control.Opcode() != ir.OpEnd {
			violation(ErrCodeMalformedBlock, control, block.ID, "%s does not start a block", control.Op())
		}
		if block.HasIncomingBackEdges() {
			pendingControls = append(pendingControls, block)
		} else {
			l.updateBlockControl(block, states)
		}
		instr++

		// Phis follow the control entry. Effect phis become the block's
		// entry effect.
		var effect, terminate *ir.Node
	phis:
		for ; instr < block.NodeCount(); instr++ {
			node := block.NodeAt(instr)
			switch node.Opcode() {
			case ir.OpEffectPhi:
				if effect != nil {
					violation(ErrCodeMalformedBlock, node, block.ID, "second effect phi in block")
				}
				if control.Opcode() == ir.OpIfException {
					violation(ErrCodeMalformedBlock, node, block.ID, "effect phi in an exception handler")
				}
				effect = node
				if block.HasIncomingBackEdges() {
					pendingPhis = append(pendingPhis, pendingEffectPhi{node, block})
				} else {
					l.updateEffectPhi(node, block, states)
				}
			case ir.OpPhi:
			case ir.OpTerminate:
				terminate = node
			default:
				break phis
			}
		}

		if effect == nil {
			switch {
			case block == l.schedule.Start():
				effect = l.jsg.Start()
			case block == l.schedule.End():
				// End only collects exits.
			default:
				effect = commonEffect(block, states)
				if effect == nil && control.Opcode() == ir.OpIfException {
					violation(ErrCodeMalformedBlock, control, block.ID, "exception handler reached with %d effects", block.PredecessorCount())
				}
				if effect == nil {
					// Predecessors disagree: join them with a fresh effect phi.
					// Back edges are filled in once the loop body is done.
					n := block.PredecessorCount()
					inputs := make([]*ir.Node, 0, n+1)
					for i := 0; i < n; i++ {
						inputs = append(inputs, l.jsg.Dead())
					}
					inputs = append(inputs, control)
					effect = l.jsg.NewNode(ir.EffectPhi(n), inputs...)
					l.stats.EffectPhis++
					if block.HasIncomingBackEdges() {
						pendingPhis = append(pendingPhis, pendingEffectPhi{effect, block})
					} else {
						l.updateEffectPhi(effect, block, states)
					}
				} else if control.Opcode() == ir.OpIfException {
					// The exception edge carries the effect of the throwing
					// call into the handler.
					control.ReplaceEffectInput(0, effect)
					effect = control
				}
			}
		}

		if terminate != nil {
			terminate.ReplaceEffectInput(0, effect)
		}

		// The entry frame state is known only when every predecessor
		// leaves with the same one.
		var frameState *ir.Node
		if block != l.schedule.Start() {
			frameState = commonFrameState(block, states)
		}

		for ; instr < block.NodeCount(); instr++ {
			l.processNode(block.NodeAt(instr), &frameState, &effect, &control)
		}

		switch block.Control {
		case schedule.ControlGoto, schedule.ControlNone:
		case schedule.ControlCall, schedule.ControlTailCall, schedule.ControlSwitch,
			schedule.ControlReturn, schedule.ControlDeoptimize, schedule.ControlThrow:
			l.processNode(block.ControlInput, &frameState, &effect, &control)
		case schedule.ControlBranch:
			if block.SuccessorCount() != 2 {
				violation(ErrCodeMalformedBlock, block.ControlInput, block.ID, "branch with %d successors", block.SuccessorCount())
			}
			l.processNode(block.ControlInput, &frameState, &effect, &control)
			if l.cloneBranches {
				l.tryCloneBranch(block.ControlInput, block, states)
			}
		}

		// Cloning may already have decided the outgoing effect and control
		// of an edge; the frame state always flows unchanged.
		for _, succ := range block.Successors() {
			s := states.at(block, succ)
			if s.effect == nil {
				s.effect = effect
			}
			if s.control == nil {
				s.control = control
			}
			s.frameState = frameState
		}
	}

	for _, p := range pendingPhis {
		l.updateEffectPhi(p.phi, p.block, states)
	}
	for _, b := range pendingControls {
		l.updateBlockControl(b, states)
	}
}

func commonEffect(block *schedule.BasicBlock, states edgeStates) *ir.Node {
	if block.PredecessorCount() == 0 {
		violation(ErrCodeMissingEffect, nil, block.ID, "block has no predecessor to take an effect from")
	}
	effect := states.at(block.PredecessorAt(0), block).effect
	for _, pred := range block.Predecessors()[1:] {
		if states.at(pred, block).effect != effect {
			return nil
		}
	}
	return effect
}

func commonFrameState(block *schedule.BasicBlock, states edgeStates) *ir.Node {
	if block.PredecessorCount() == 0 {
		return nil
	}
	fs := states.at(block.PredecessorAt(0), block).frameState
	for _, pred := range block.Predecessors()[1:] {
		if states.at(pred, block).frameState != fs {
			return nil
		}
	}
	return fs
}

// updateEffectPhi sets input i of phi to the effect leaving predecessor i.
func (l *Linearizer) updateEffectPhi(phi *ir.Node, block *schedule.BasicBlock, states edgeStates) {
	if phi.Op().EffectIn != block.PredecessorCount() {
		violation(ErrCodeArity, phi, block.ID, "effect phi has %d inputs for %d predecessors",
			phi.Op().EffectIn, block.PredecessorCount())
	}
	for i, pred := range block.Predecessors() {
		effect := states.at(pred, block).effect
		if effect == nil {
			violation(ErrCodeMissingEffect, phi, block.ID, "no effect leaves %s", pred)
		}
		phi.ReplaceEffectInput(i, effect)
	}
}

// updateBlockControl sets control input i of the block's entry node to the
// control leaving predecessor i.
func (l *Linearizer) updateBlockControl(block *schedule.BasicBlock, states edgeStates) {
	control := block.NodeAt(0)
	if control.Opcode() == ir.OpEnd {
		return
	}
	if control.Op().ControlIn != block.PredecessorCount() {
		// Branch cloning already rewired a merge that lost its
		// predecessors; anything else is a broken schedule.
		if control.Opcode() != ir.OpMerge {
			violation(ErrCodeArity, control, block.ID, "%d control inputs for %d predecessors",
				control.Op().ControlIn, block.PredecessorCount())
		}
		return
	}
	for i, pred := range block.Predecessors() {
		c := states.at(pred, block).control
		if c == nil {
			violation(ErrCodeMissingEffect, control, block.ID, "no control leaves %s", pred)
		}
		control.ReplaceControlInput(i, c)
	}
}

func (l *Linearizer) processNode(node *ir.Node, frameState, effect, control **ir.Node) {
	switch node.Opcode() {
	case ir.OpPhi:
		// Lowering may turn an ordinary node into a phi; it keeps its merge.
		if c := node.ControlInput(0); !c.Opcode().IsMerge() {
			violation(ErrCodeMalformedBlock, node, -1, "phi on %s", c)
		}
		return
	case ir.OpEffectPhi:
		violation(ErrCodeMalformedBlock, node, -1, "effect phi among ordinary nodes")
	}

	if l.tryWireInStateEffect(node, *frameState, effect, control) {
		return
	}

	// A visible write must be followed by a checkpoint before the next
	// eager deoptimization point.
	if l.observability == ir.RegionObservable && !node.Op().Has(ir.PropNoWrite) {
		*frameState = nil
	}

	switch node.Opcode() {
	case ir.OpFinishRegion:
		l.observability = ir.RegionObservable
		removeRegionNode(node)
		return
	case ir.OpBeginRegion:
		if l.observability != ir.RegionObservable {
			violation(ErrCodeRegion, node, -1, "nested region")
		}
		l.observability = ir.ParamOf[ir.RegionObservability](node)
		removeRegionNode(node)
		return
	case ir.OpCheckpoint:
		// The checkpoint drops out of the effect chain: later nodes take
		// the incoming effect. Its frame state serves the next guards.
		if l.observability != ir.RegionObservable {
			violation(ErrCodeRegion, node, -1, "checkpoint inside unobservable region")
		}
		*frameState = node.FrameStateInput()
		return
	case ir.OpIfSuccess:
		// Scheduled together with its call.
		return
	}

	op := node.Op()
	if op.EffectIn > 0 {
		if op.EffectIn != 1 {
			violation(ErrCodeEffectChain, node, -1, "%d effect inputs on a non-phi", op.EffectIn)
		}
		node.ReplaceEffectInput(0, *effect)
		if op.EffectOut > 0 {
			*effect = node
		}
	} else if op.EffectOut > 0 {
		violation(ErrCodeEffectChain, node, -1, "%s starts a new effect chain", op)
	}

	for i := 0; i < op.ControlIn; i++ {
		node.ReplaceControlInput(i, *control)
	}

	if op.ControlOut > 0 {
		*control = node
		if node.Opcode() == ir.OpCall {
			if ifSuccess, ifException := node.CollectControlProjections(); ifException == nil && ifSuccess != nil {
				*control = ifSuccess
			}
		}
	}
}

// removeRegionNode bypasses a region marker: effect uses move to its
// effect input and value uses to its first input.
func removeRegionNode(node *ir.Node) {
	g := node.Graph()
	for _, u := range node.Uses() {
		user := g.Node(u.User)
		if user.EdgeKindAt(u.Index) == ir.EffectEdge {
			user.ReplaceInput(u.Index, node.EffectInput(0))
		} else {
			user.ReplaceInput(u.Index, node.InputAt(0))
		}
	}
	node.Kill()
}
