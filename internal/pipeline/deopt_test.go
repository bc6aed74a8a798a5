package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/ir"
)

func TestCollectDeopts(t *testing.T) {
	jsg := ir.NewJSGraph(ir.NewGraph(), true)
	start := jsg.NewNode(ir.Op(ir.OpStart))
	jsg.SetStart(start)
	p := jsg.NewNode(ir.Parameter(0), start)
	fs := jsg.NewNode(ir.FrameState(ir.FrameStateInfo{BailoutID: 9}, 0))

	guard := jsg.NewNode(ir.DeoptimizeUnless(ir.DeoptNotASmi), p, fs, start, start)
	deopt := jsg.NewNode(ir.Deoptimize(ir.DeoptWrongMap), p, guard, guard)
	jsg.SetEnd(jsg.NewNode(ir.End(1), deopt))

	points := CollectDeopts(jsg.Graph)
	require.Len(t, points, 2)

	assert.Equal(t, DeoptPoint{
		Node:        guard.ID(),
		Kind:        "DeoptimizeUnless",
		Reason:      "not a Smi",
		BailoutID:   9,
		Condition:   p.ID(),
		ConditionOp: "Parameter",
	}, points[0])

	// The unconditional deopt was handed a parameter for a frame state.
	assert.Equal(t, DeoptPoint{
		Node:      deopt.ID(),
		Kind:      "Deoptimize",
		Reason:    "wrong map",
		BailoutID: -1,
		Condition: -1,
	}, points[1])
	assert.Contains(t, points[1].String(), "Deoptimize wrong map bailout:-1")
	assert.Contains(t, points[0].String(), "on #1 Parameter")
}

func TestCollectDeoptsEmpty(t *testing.T) {
	jsg := ir.NewJSGraph(ir.NewGraph(), true)
	start := jsg.NewNode(ir.Op(ir.OpStart))
	jsg.SetStart(start)
	ret := jsg.NewNode(ir.Op(ir.OpReturn), start, start, start)
	jsg.SetEnd(jsg.NewNode(ir.End(1), ret))

	points := CollectDeopts(jsg.Graph)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}
