package pipeline

import (
	"fmt"

	"github.com/roach88/nodejit/internal/ir"
)

// DeoptPoint describes one guard of a compiled graph: where it is, why it
// exits to the baseline tier and where the baseline resumes.
type DeoptPoint struct {
	Node      ir.NodeID `json:"node"`
	Kind      string    `json:"kind"` // Deoptimize, DeoptimizeIf or DeoptimizeUnless
	Reason    string    `json:"reason"`
	BailoutID int       `json:"bailout_id"` // -1 without a frame state

	// Condition is the guarded value; -1 for an unconditional Deoptimize.
	Condition   ir.NodeID `json:"condition"`
	ConditionOp string    `json:"condition_op,omitempty"`
}

func (d DeoptPoint) String() string {
	if d.Condition < 0 {
		return fmt.Sprintf("#%d %s %s bailout:%d", d.Node, d.Kind, d.Reason, d.BailoutID)
	}
	return fmt.Sprintf("#%d %s %s bailout:%d on #%d %s",
		d.Node, d.Kind, d.Reason, d.BailoutID, d.Condition, d.ConditionOp)
}

// CollectDeopts lists the deopt guards reachable in g in node ID order.
func CollectDeopts(g *ir.Graph) []DeoptPoint {
	points := []DeoptPoint{}
	for _, n := range g.DumpNodes() {
		if !n.Opcode().IsDeoptGuard() {
			continue
		}
		p := DeoptPoint{
			Node:      n.ID(),
			Kind:      n.Opcode().String(),
			Reason:    ir.ParamOf[ir.DeoptReason](n).String(),
			BailoutID: -1,
			Condition: -1,
		}
		if fs := n.FrameStateInput(); fs.Opcode() == ir.OpFrameState {
			p.BailoutID = ir.ParamOf[ir.FrameStateInfo](fs).BailoutID
		}
		if n.Op().ValueIn > 0 {
			cond := n.ValueInput(0)
			p.Condition = cond.ID()
			p.ConditionOp = cond.Opcode().String()
		}
		points = append(points, p)
	}
	return points
}
