package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
)

type graphFixture struct {
	jsg   *ir.JSGraph
	start *ir.Node
	param *ir.Node
}

func newGraphFixture() *graphFixture {
	jsg := ir.NewJSGraph(ir.NewGraph(), true)
	start := jsg.NewNode(ir.Op(ir.OpStart))
	jsg.SetStart(start)
	return &graphFixture{jsg: jsg, start: start, param: jsg.NewNode(ir.Parameter(0), start)}
}

// ret ends the graph with Return(value, effect, start).
func (f *graphFixture) ret(value, effect *ir.Node) *ir.Node {
	r := f.jsg.NewNode(ir.Op(ir.OpReturn), value, effect, f.start)
	f.jsg.SetEnd(f.jsg.NewNode(ir.End(1), r))
	return r
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateLoadedGraph(t *testing.T) {
	for _, tc := range []struct{ src, path string }{
		{checkedAdd, "graph.add"},
		{diamond, "graph.select"},
	} {
		g, err := LoadGraph(compile(t, tc.src, tc.path), 64)
		require.NoError(t, err)
		assert.Empty(t, ValidateScheduled(g.JSGraph.Graph, g.Schedule), tc.path)
	}
}

func TestValidateDanglingInput(t *testing.T) {
	f := newGraphFixture()
	not := f.jsg.NewNode(ir.Op(ir.OpBooleanNot), f.param)
	f.ret(not, f.start)
	f.param.Kill()

	errs := ValidateLinear(f.jsg.Graph)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDanglingInput, errs[0].Code)
	assert.Equal(t, not.ID(), errs[0].Node)
	assert.Contains(t, errs[0].Message, "killed")
}

func TestValidateDeadPlaceholderInput(t *testing.T) {
	f := newGraphFixture()
	not := f.jsg.NewNode(ir.Op(ir.OpBooleanNot), f.jsg.Dead())
	f.ret(not, f.start)

	errs := ValidateScheduled(f.jsg.Graph, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDanglingInput, errs[0].Code)
	assert.Contains(t, errs[0].Message, "value input 0 is Dead")
}

func TestValidateUnresolvedEffect(t *testing.T) {
	tests := []struct {
		name      string
		effect    func(f *graphFixture) *ir.Node
		scheduled []string
		linear    []string
	}{
		{
			name: "checkpoint",
			effect: func(f *graphFixture) *ir.Node {
				fs := f.jsg.NewNode(ir.FrameState(ir.FrameStateInfo{BailoutID: 1}, 0))
				return f.jsg.NewNode(ir.Op(ir.OpCheckpoint), fs, f.start, f.start)
			},
			linear: []string{ErrUnresolvedEffect},
		},
		{
			name: "region",
			effect: func(f *graphFixture) *ir.Node {
				return f.jsg.NewNode(ir.BeginRegion(ir.RegionObservable), f.start)
			},
			linear: []string{ErrUnresolvedEffect, ErrRegionSurvives},
		},
		{
			name: "dead",
			effect: func(f *graphFixture) *ir.Node {
				return f.jsg.Dead()
			},
			scheduled: []string{ErrUnresolvedEffect},
			linear:    []string{ErrUnresolvedEffect},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGraphFixture()
			f.ret(f.param, tt.effect(f))

			assert.ElementsMatch(t, tt.scheduled, codes(ValidateScheduled(f.jsg.Graph, nil)))
			assert.ElementsMatch(t, tt.linear, codes(ValidateLinear(f.jsg.Graph)))
		})
	}
}

func TestValidateGuardWithoutFrameState(t *testing.T) {
	f := newGraphFixture()
	guard := f.jsg.NewNode(ir.DeoptimizeIf(ir.DeoptOverflow), f.param, f.param, f.start, f.start)
	f.ret(f.param, guard)

	errs := ValidateLinear(f.jsg.Graph)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrMissingFrameState, errs[0].Code)
	assert.Equal(t, guard.ID(), errs[0].Node)
}

func TestValidateInputCountMismatch(t *testing.T) {
	f := newGraphFixture()
	n := f.jsg.NewNode(ir.Op(ir.OpBooleanNot), f.param)
	n.ChangeOp(ir.Op(ir.OpNumberAdd))
	f.ret(n, f.start)

	errs := ValidateScheduled(f.jsg.Graph, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInputCountMismatch, errs[0].Code)
	assert.Contains(t, errs[0].Message, "1 inputs")
}

func TestValidateControlArity(t *testing.T) {
	f := newGraphFixture()
	s := schedule.New()
	s.AddNode(s.Start(), f.start)
	s.AddNode(s.Start(), f.param)

	b := s.NewBlock()
	merge := f.jsg.NewNode(ir.Merge(2), f.start, f.start)
	phi := f.jsg.NewNode(ir.Phi(access.RepTagged, 2), f.param, f.param, merge)
	s.AddNode(b, merge)
	s.AddNode(b, phi)
	s.AddGoto(s.Start(), b)

	r := f.jsg.NewNode(ir.Op(ir.OpReturn), phi, f.start, merge)
	f.jsg.SetEnd(f.jsg.NewNode(ir.End(1), r))
	s.AddReturn(b, r)
	s.AddNode(s.End(), f.jsg.End())

	errs := ValidateScheduled(f.jsg.Graph, s)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, ErrControlArity, e.Code)
		assert.Equal(t, b.ID, e.Block)
	}
	assert.Equal(t, merge.ID(), errs[0].Node)
	assert.Equal(t, phi.ID(), errs[1].Node)
	assert.Contains(t, errs[0].Error(), "2 control inputs for 1 predecessors")
}

func TestValidatePhiControl(t *testing.T) {
	tests := []struct {
		name  string
		build func(f *graphFixture) (value, effect *ir.Node)
		want  []string
	}{
		{
			name: "phi on a merge",
			build: func(f *graphFixture) (*ir.Node, *ir.Node) {
				merge := f.jsg.NewNode(ir.Merge(2), f.start, f.start)
				return f.jsg.NewNode(ir.Phi(access.RepTagged, 2), f.param, f.param, merge), f.start
			},
		},
		{
			name: "phi on a non-merge",
			build: func(f *graphFixture) (*ir.Node, *ir.Node) {
				return f.jsg.NewNode(ir.Phi(access.RepTagged, 1), f.param, f.start), f.start
			},
			want: []string{ErrControlArity},
		},
		{
			name: "phi wider than its merge",
			build: func(f *graphFixture) (*ir.Node, *ir.Node) {
				merge := f.jsg.NewNode(ir.Merge(2), f.start, f.start)
				return f.jsg.NewNode(ir.Phi(access.RepTagged, 3), f.param, f.param, f.param, merge), f.start
			},
			want: []string{ErrControlArity},
		},
		{
			name: "effect phi on a loop",
			build: func(f *graphFixture) (*ir.Node, *ir.Node) {
				loop := f.jsg.NewNode(ir.Loop(2), f.start, f.start)
				return f.param, f.jsg.NewNode(ir.EffectPhi(2), f.start, f.start, loop)
			},
		},
		{
			name: "effect phi on a non-merge",
			build: func(f *graphFixture) (*ir.Node, *ir.Node) {
				return f.param, f.jsg.NewNode(ir.EffectPhi(1), f.start, f.start)
			},
			want: []string{ErrControlArity},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGraphFixture()
			f.ret(tt.build(f))

			assert.ElementsMatch(t, tt.want, codes(ValidateLinear(f.jsg.Graph)))
			assert.ElementsMatch(t, tt.want, codes(ValidateScheduled(f.jsg.Graph, nil)))
		})
	}
}

func TestValidationErrorFormatting(t *testing.T) {
	e := ValidationError{Field: "#4 Return", Message: "bad", Code: ErrDanglingInput}
	assert.Equal(t, "[E201] #4 Return: bad", e.Error())

	e.Block = 3
	assert.Equal(t, "[E201] B3: #4 Return: bad", e.Error())
}
