package compiler

import (
	"fmt"

	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
)

// Graph verification error codes (E201-E299)
const (
	ErrDanglingInput      = "E201" // input is killed or the Dead placeholder
	ErrUnresolvedEffect   = "E202" // effect input is Dead, a checkpoint or a region marker
	ErrRegionSurvives     = "E203" // BeginRegion/FinishRegion left after linearization
	ErrControlArity       = "E204" // block entry or phi arity differs from predecessors
	ErrMissingFrameState  = "E205" // deopt guard without a frame state
	ErrInputCountMismatch = "E206" // node inputs differ from operator arity
)

// ValidationError is one problem found in a graph.
type ValidationError struct {
	Field   string    `json:"field"`
	Message string    `json:"message"`
	Code    string    `json:"code"`
	Node    ir.NodeID `json:"node"`
	Block   int       `json:"block,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Block > 0 {
		return fmt.Sprintf("[%s] B%d: %s: %s", e.Code, e.Block, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

func nodeError(n *ir.Node, code, format string, args ...any) ValidationError {
	return ValidationError{
		Field:   fmt.Sprintf("#%d %s", n.ID(), n.Opcode()),
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Node:    n.ID(),
	}
}

// ValidateScheduled checks a graph against the schedule it is about to be
// linearized with. It returns every problem found.
func ValidateScheduled(g *ir.Graph, s *schedule.Schedule) []ValidationError {
	errs := validateNodes(g, false)
	if s != nil {
		errs = append(errs, validateSchedule(s)...)
	}
	return errs
}

// ValidateLinear checks a linearized graph: every effect input must be a
// concrete effect and no region markers may remain. It returns every
// problem found.
func ValidateLinear(g *ir.Graph) []ValidationError {
	return validateNodes(g, true)
}

func validateNodes(g *ir.Graph, linear bool) []ValidationError {
	var errs []ValidationError
	for _, n := range g.DumpNodes() {
		if n.IsDead() {
			continue
		}
		op := n.Op()

		// E206: arity
		if n.InputCount() != op.InputCount() {
			errs = append(errs, nodeError(n, ErrInputCountMismatch,
				"%d inputs for %s, which takes %d", n.InputCount(), op, op.InputCount()))
			continue
		}

		for i := 0; i < n.InputCount(); i++ {
			in := n.InputAt(i)
			kind := n.EdgeKindAt(i)
			switch {
			case in.IsDead():
				// E201: the producer was killed
				errs = append(errs, nodeError(n, ErrDanglingInput, "%s input %d refers to killed node #%d", kind, i, in.ID()))
			case kind == ir.EffectEdge && unresolvedEffect(in.Opcode(), linear):
				// E202: effect input is not a concrete effect
				errs = append(errs, nodeError(n, ErrUnresolvedEffect, "effect input %d is %s", i, in))
			case in.Opcode() == ir.OpDead && kind != ir.EffectEdge:
				// E201: no producer was ever wired
				errs = append(errs, nodeError(n, ErrDanglingInput, "%s input %d is Dead", kind, i))
			}
		}

		switch code := n.Opcode(); {
		case linear && (code == ir.OpBeginRegion || code == ir.OpFinishRegion):
			// E203
			errs = append(errs, nodeError(n, ErrRegionSurvives, "region marker survived linearization"))
		case code.IsDeoptGuard():
			// E205
			if fs := n.FrameStateInput(); fs.Opcode() != ir.OpFrameState {
				errs = append(errs, nodeError(n, ErrMissingFrameState, "frame state input is %s", fs))
			}
		case code.IsPhi():
			// E204: a phi hangs off a merge with one control per input
			arity := op.ValueIn
			if code == ir.OpEffectPhi {
				arity = op.EffectIn
			}
			switch c := n.ControlInput(0); {
			case c.IsDead() || c.Opcode() == ir.OpDead:
			case !c.Opcode().IsMerge():
				errs = append(errs, nodeError(n, ErrControlArity, "control input is %s, not a merge", c))
			case c.Op().ControlIn != arity:
				errs = append(errs, nodeError(n, ErrControlArity, "%d inputs on %s with %d controls", arity, c, c.Op().ControlIn))
			}
		}
	}
	return errs
}

func unresolvedEffect(code ir.Opcode, linear bool) bool {
	switch code {
	case ir.OpDead:
		return true
	case ir.OpCheckpoint, ir.OpBeginRegion, ir.OpFinishRegion:
		return linear
	}
	return false
}

// validateSchedule checks that every merge, loop and phi has one input
// per block predecessor (E204).
func validateSchedule(s *schedule.Schedule) []ValidationError {
	var errs []ValidationError
	for _, b := range s.RPOOrder() {
		blockErr := func(n *ir.Node, format string, args ...any) {
			e := nodeError(n, ErrControlArity, format, args...)
			e.Block = b.ID
			errs = append(errs, e)
		}
		if b.NodeCount() == 0 {
			errs = append(errs, ValidationError{
				Field:   b.String(),
				Message: "block has no control node",
				Code:    ErrControlArity,
				Node:    -1,
				Block:   b.ID,
			})
			continue
		}
		if b == s.Start() || b == s.End() {
			continue
		}

		preds := b.PredecessorCount()
		entry := b.NodeAt(0)
		if entry.Opcode().IsMerge() {
			if entry.Op().ControlIn != preds {
				blockErr(entry, "%d control inputs for %d predecessors", entry.Op().ControlIn, preds)
			}
		} else if preds != 1 {
			blockErr(entry, "%s entry with %d predecessors", entry.Opcode(), preds)
		}

		for _, n := range b.Nodes[1:] {
			switch n.Opcode() {
			case ir.OpPhi:
				if n.Op().ValueIn != preds {
					blockErr(n, "%d values for %d predecessors", n.Op().ValueIn, preds)
				}
			case ir.OpEffectPhi:
				if n.Op().EffectIn != preds {
					blockErr(n, "%d effects for %d predecessors", n.Op().EffectIn, preds)
				}
			}
		}
	}
	return errs
}
