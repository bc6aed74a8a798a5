package linearize

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
	"github.com/roach88/nodejit/internal/types"
)

// fixture builds a graph and its schedule side by side. Nodes added with
// add land in the given block.
type fixture struct {
	jsg   *ir.JSGraph
	s     *schedule.Schedule
	start *ir.Node
	fs    *ir.Node
}

func newFixture() *fixture {
	jsg := ir.NewJSGraph(ir.NewGraph(), true)
	start := jsg.NewNode(ir.Op(ir.OpStart))
	jsg.SetStart(start)
	s := schedule.New()
	s.AddNode(s.Start(), start)
	fs := jsg.NewNode(ir.FrameState(ir.FrameStateInfo{BailoutID: 7}, 0))
	return &fixture{jsg: jsg, s: s, start: start, fs: fs}
}

func (f *fixture) add(b *schedule.BasicBlock, op *ir.Operator, inputs ...*ir.Node) *ir.Node {
	n := f.jsg.NewNode(op, inputs...)
	f.s.AddNode(b, n)
	return n
}

func (f *fixture) param(i int, t types.Type) *ir.Node {
	p := f.add(f.s.Start(), ir.Parameter(i), f.start)
	p.SetType(t)
	return p
}

func (f *fixture) checkpoint(b *schedule.BasicBlock) *ir.Node {
	return f.add(b, ir.Op(ir.OpCheckpoint), f.fs, f.start, f.start)
}

// ret ends b with Return and wires End to the given returns.
func (f *fixture) ret(b *schedule.BasicBlock, value, effect, control *ir.Node) *ir.Node {
	r := f.jsg.NewNode(ir.Op(ir.OpReturn), value, effect, control)
	f.s.AddReturn(b, r)
	return r
}

func (f *fixture) end(returns ...*ir.Node) {
	end := f.jsg.NewNode(ir.End(len(returns)), returns...)
	f.jsg.SetEnd(end)
	f.s.AddNode(f.s.End(), end)
}

func (f *fixture) run(t *testing.T, opts ...Option) *Linearizer {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	l := New(f.jsg, f.s, opts...)
	require.NoError(t, l.Run())
	return l
}

func (f *fixture) reachable(code ir.Opcode) []*ir.Node {
	var out []*ir.Node
	for _, n := range f.jsg.DumpNodes() {
		if n.Opcode() == code {
			out = append(out, n)
		}
	}
	return out
}

// diamond branches on cond in the start block and joins in a merge block.
func (f *fixture) diamond(cond *ir.Node) (ifTrue, ifFalse, merge *ir.Node, bt, bf, bm *schedule.BasicBlock) {
	bt, bf, bm = f.s.NewBlock(), f.s.NewBlock(), f.s.NewBlock()
	branch := f.jsg.NewNode(ir.Op(ir.OpBranch), cond, f.start)
	ifTrue = f.add(bt, ir.Op(ir.OpIfTrue), branch)
	ifFalse = f.add(bf, ir.Op(ir.OpIfFalse), branch)
	merge = f.add(bm, ir.Merge(2), ifTrue, ifFalse)
	f.s.AddBranch(f.s.Start(), branch, bt, bf)
	f.s.AddGoto(bt, bm)
	f.s.AddGoto(bf, bm)
	return ifTrue, ifFalse, merge, bt, bf, bm
}

func TestSameEffectOnBothEdgesNeedsNoPhi(t *testing.T) {
	f := newFixture()
	p := f.param(0, types.Boolean)
	obj := f.param(1, types.Receiver)
	_, _, merge, _, _, bm := f.diamond(p)
	load := f.add(bm, ir.LoadField(access.ForJSObjectProperties()), obj, f.start, f.start)
	r := f.ret(bm, load, load, merge)
	f.end(r)

	f.run(t)

	assert.Same(t, f.start, load.EffectInput(0))
	assert.Same(t, merge, load.ControlInput(0))
	assert.Empty(t, f.reachable(ir.OpEffectPhi))
}

func TestDifferentEffectsGetOneEffectPhi(t *testing.T) {
	f := newFixture()
	p := f.param(0, types.Boolean)
	obj := f.param(1, types.Receiver)
	ifTrue, _, merge, bt, _, bm := f.diamond(p)
	store := f.add(bt, ir.StoreField(access.ForJSObjectProperties()), obj, obj, f.start, ifTrue)
	load := f.add(bm, ir.LoadField(access.ForJSObjectProperties()), obj, f.start, f.start)
	r := f.ret(bm, load, load, merge)
	f.end(r)

	l := f.run(t)

	phis := f.reachable(ir.OpEffectPhi)
	require.Len(t, phis, 1)
	phi := phis[0]
	assert.Same(t, phi, load.EffectInput(0))
	assert.Same(t, store, phi.EffectInput(0))
	assert.Same(t, f.start, phi.EffectInput(1))
	assert.Same(t, merge, phi.ControlInput(0))
	assert.Equal(t, 1, l.Stats().EffectPhis)

	for _, n := range f.jsg.DumpNodes() {
		if n.Opcode() == ir.OpEffectPhi {
			continue
		}
		assert.LessOrEqual(t, n.Op().EffectIn, 1, "%s", n)
		for i := 0; i < n.Op().EffectIn; i++ {
			code := n.EffectInput(i).Opcode()
			assert.NotEqual(t, ir.OpDead, code, "%s", n)
			assert.NotEqual(t, ir.OpCheckpoint, code, "%s", n)
		}
	}
}

func TestCheckedInt32AddDeoptimizesOnOverflow(t *testing.T) {
	f := newFixture()
	a, b := f.param(0, types.Signed32), f.param(1, types.Signed32)
	f.checkpoint(f.s.Start())
	add := f.add(f.s.Start(), ir.Op(ir.OpCheckedInt32Add), a, b, f.start, f.start)
	r := f.ret(f.s.Start(), add, add, f.start)
	f.end(r)

	l := f.run(t)

	sum := r.ValueInput(0)
	require.Equal(t, ir.OpProjection, sum.Opcode())
	assert.Equal(t, 0, ir.ParamOf[int](sum))
	pair := sum.InputAt(0)
	assert.Equal(t, ir.OpInt32AddWithOverflow, pair.Opcode())
	assert.Equal(t, []*ir.Node{a, b}, pair.Inputs())

	guard := r.EffectInput(0)
	require.Equal(t, ir.OpDeoptimizeIf, guard.Opcode())
	assert.Equal(t, ir.DeoptOverflow, ir.ParamOf[ir.DeoptReason](guard))
	assert.Same(t, f.fs, guard.FrameStateInput())
	assert.Same(t, pair, guard.ValueInput(0).InputAt(0))
	assert.Equal(t, 1, ir.ParamOf[int](guard.ValueInput(0)))
	assert.Same(t, guard, r.ControlInput(0))
	assert.Same(t, f.start, guard.EffectInput(0))

	assert.True(t, add.IsDead())
	assert.Equal(t, 1, l.Stats().Lowered)
}

func TestGuardWithoutCheckpointFails(t *testing.T) {
	f := newFixture()
	a, b := f.param(0, types.Signed32), f.param(1, types.Signed32)
	add := f.add(f.s.Start(), ir.Op(ir.OpCheckedInt32Add), a, b, f.start, f.start)
	f.end(f.ret(f.s.Start(), add, add, f.start))

	err := New(f.jsg, f.s, WithLogger(slog.New(slog.DiscardHandler))).Run()

	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrCodeMissingFrameState, ie.Code)
	assert.Equal(t, add.ID(), ie.Node)
	assert.True(t, IsInvariantError(fmt.Errorf("compile: %w", err)))
}

func TestObservableWriteClearsFrameState(t *testing.T) {
	f := newFixture()
	obj := f.param(0, types.Receiver)
	v := f.param(1, types.Signed32)
	f.checkpoint(f.s.Start())
	store := f.add(f.s.Start(), ir.StoreField(access.ForJSObjectProperties()), obj, v, f.start, f.start)
	check := f.add(f.s.Start(), ir.Op(ir.OpCheckTaggedSigned), v, store, f.start)
	f.end(f.ret(f.s.Start(), check, check, f.start))

	err := New(f.jsg, f.s, WithLogger(slog.New(slog.DiscardHandler))).Run()

	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrCodeMissingFrameState, ie.Code)
}

func TestCheckpointIsUnlinked(t *testing.T) {
	f := newFixture()
	v := f.param(0, types.Any)
	cp := f.checkpoint(f.s.Start())
	check := f.add(f.s.Start(), ir.Op(ir.OpCheckHeapObject), v, cp, f.start)
	r := f.ret(f.s.Start(), check, check, f.start)
	f.end(r)

	f.run(t)

	guard := r.EffectInput(0)
	require.Equal(t, ir.OpDeoptimizeIf, guard.Opcode())
	assert.Equal(t, ir.DeoptSmi, ir.ParamOf[ir.DeoptReason](guard))
	assert.Same(t, f.start, guard.EffectInput(0))
	assert.Same(t, v, r.ValueInput(0))
	assert.Empty(t, f.reachable(ir.OpCheckpoint))
}

func TestRegionMarkersAreRemoved(t *testing.T) {
	f := newFixture()
	begin := f.add(f.s.Start(), ir.BeginRegion(ir.RegionNotObservable), f.start)
	alloc := f.add(f.s.Start(), ir.Op(ir.OpAllocate), f.jsg.Int32Constant(16), begin, f.start)
	store := f.add(f.s.Start(), ir.StoreField(access.ForMap()), alloc, f.jsg.HeapNumberMapConstant(), alloc, f.start)
	finish := f.add(f.s.Start(), ir.Op(ir.OpFinishRegion), alloc, store)
	r := f.ret(f.s.Start(), finish, finish, f.start)
	f.end(r)

	f.run(t)

	assert.Same(t, alloc, r.ValueInput(0))
	assert.Same(t, store, r.EffectInput(0))
	assert.Same(t, f.start, alloc.EffectInput(0))
	assert.Empty(t, f.reachable(ir.OpBeginRegion))
	assert.Empty(t, f.reachable(ir.OpFinishRegion))
}

func TestNestedRegionFails(t *testing.T) {
	f := newFixture()
	outer := f.add(f.s.Start(), ir.BeginRegion(ir.RegionNotObservable), f.start)
	inner := f.add(f.s.Start(), ir.BeginRegion(ir.RegionObservable), outer)
	f.end(f.ret(f.s.Start(), f.jsg.ZeroConstant(), inner, f.start))

	err := New(f.jsg, f.s, WithLogger(slog.New(slog.DiscardHandler))).Run()

	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrCodeRegion, ie.Code)
}

func TestCallAdoptsIfSuccess(t *testing.T) {
	f := newFixture()
	target := f.param(0, types.Any)
	call := f.add(f.s.Start(), ir.Call(1), target, f.start, f.start)
	ifSuccess := f.add(f.s.Start(), ir.Op(ir.OpIfSuccess), call)
	r := f.ret(f.s.Start(), call, call, ifSuccess)
	f.end(r)

	f.run(t)

	assert.Same(t, call, r.EffectInput(0))
	assert.Same(t, ifSuccess, r.ControlInput(0))
	assert.Same(t, f.start, call.ControlInput(0))
}

func TestChangeInt32ToTagged(t *testing.T) {
	tests := []struct {
		name string
		is64 bool
		want ir.Opcode
	}{
		{"64-bit shifts into the upper half", true, ir.OpWordShl},
		{"32-bit boxes on overflow", false, ir.OpPhi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.jsg.Is64 = tt.is64
			p := f.param(0, types.Signed32)
			change := f.add(f.s.Start(), ir.Op(ir.OpChangeInt32ToTagged), p)
			r := f.ret(f.s.Start(), change, f.start, f.start)
			f.end(r)

			f.run(t)

			assert.Equal(t, tt.want, r.ValueInput(0).Opcode())
			assert.True(t, change.IsDead())
			if !tt.is64 {
				assert.Len(t, f.reachable(ir.OpAllocate), 1)
				assert.Equal(t, ir.OpMerge, r.ControlInput(0).Opcode())
			}
		})
	}
}

func TestChangeTaggedToFloat64SplitsOnSmi(t *testing.T) {
	f := newFixture()
	p := f.param(0, types.Number)
	change := f.add(f.s.Start(), ir.Op(ir.OpChangeTaggedToFloat64), p)
	r := f.ret(f.s.Start(), change, f.start, f.start)
	f.end(r)

	f.run(t)

	phi := r.ValueInput(0)
	require.Equal(t, ir.OpPhi, phi.Opcode())
	assert.Equal(t, access.RepFloat64, ir.ParamOf[access.Representation](phi))
	assert.Equal(t, ir.OpChangeInt32ToFloat64, phi.ValueInput(0).Opcode())
	assert.Equal(t, ir.OpLoadField, phi.ValueInput(1).Opcode())

	// The heap number load is an effect on the false side only.
	ephi := r.EffectInput(0)
	require.Equal(t, ir.OpEffectPhi, ephi.Opcode())
	assert.Same(t, f.start, ephi.EffectInput(0))
	assert.Same(t, phi.ValueInput(1), ephi.EffectInput(1))
}

func TestCheckMaps(t *testing.T) {
	tests := []struct {
		name      string
		maps      []*heap.Object
		wantMerge bool
	}{
		{"single map", []*heap.Object{heap.HeapNumberMap}, false},
		{"two maps", []*heap.Object{heap.HeapNumberMap, heap.StringMap}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			obj := f.param(0, types.Any)
			f.checkpoint(f.s.Start())
			inputs := []*ir.Node{obj}
			for _, m := range tt.maps {
				inputs = append(inputs, f.jsg.HeapConstant(m))
			}
			inputs = append(inputs, f.start, f.start)
			check := f.add(f.s.Start(), ir.CheckMaps(len(tt.maps)), inputs...)
			r := f.ret(f.s.Start(), obj, check, f.start)
			f.end(r)

			f.run(t)

			guards := f.reachable(ir.OpDeoptimizeUnless)
			require.Len(t, guards, 1)
			assert.Equal(t, ir.DeoptWrongMap, ir.ParamOf[ir.DeoptReason](guards[0]))
			if tt.wantMerge {
				assert.Equal(t, ir.OpMerge, r.ControlInput(0).Opcode())
				assert.Equal(t, ir.OpEffectPhi, r.EffectInput(0).Opcode())
			} else {
				assert.Same(t, guards[0], r.ControlInput(0))
				assert.Same(t, guards[0], r.EffectInput(0))
			}
		})
	}
}

func TestCheckedInt32DivGuards(t *testing.T) {
	f := newFixture()
	a, b := f.param(0, types.Signed32), f.param(1, types.Signed32)
	f.checkpoint(f.s.Start())
	div := f.add(f.s.Start(), ir.Op(ir.OpCheckedInt32Div), a, b, f.start, f.start)
	f.end(f.ret(f.s.Start(), div, div, f.start))

	f.run(t)

	reasons := map[ir.DeoptReason]int{}
	for _, code := range []ir.Opcode{ir.OpDeoptimizeIf, ir.OpDeoptimizeUnless} {
		for _, g := range f.reachable(code) {
			reasons[ir.ParamOf[ir.DeoptReason](g)]++
			assert.Same(t, f.fs, g.FrameStateInput())
		}
	}
	assert.Equal(t, map[ir.DeoptReason]int{
		ir.DeoptDivisionByZero: 1,
		ir.DeoptMinusZero:      1,
		ir.DeoptOverflow:       1,
		ir.DeoptLostPrecision:  1,
	}, reasons)
	assert.Len(t, f.reachable(ir.OpInt32Div), 2)
}

func TestFloat64Floor(t *testing.T) {
	t.Run("native round down", func(t *testing.T) {
		f := newFixture()
		p := f.param(0, types.Number)
		floor := f.add(f.s.Start(), ir.Op(ir.OpFloat64Floor), p)
		r := f.ret(f.s.Start(), floor, f.start, f.start)
		f.end(r)

		f.run(t, WithFloat64RoundDown(true))

		assert.Equal(t, ir.OpFloat64RoundDown, r.ValueInput(0).Opcode())
		assert.Same(t, f.start, r.ControlInput(0))
	})

	t.Run("inline expansion", func(t *testing.T) {
		f := newFixture()
		p := f.param(0, types.Number)
		floor := f.add(f.s.Start(), ir.Op(ir.OpFloat64Floor), p)
		r := f.ret(f.s.Start(), floor, f.start, f.start)
		f.end(r)

		f.run(t, WithFloat64RoundDown(false))

		assert.Empty(t, f.reachable(ir.OpFloat64RoundDown))
		assert.Equal(t, ir.OpPhi, r.ValueInput(0).Opcode())
		assert.Same(t, f.start, r.EffectInput(0))
		assert.Len(t, f.reachable(ir.OpBranch), 6)
	})
}

func TestObjectIsSmiStaysBranchFree(t *testing.T) {
	f := newFixture()
	p := f.param(0, types.Any)
	is := f.add(f.s.Start(), ir.Op(ir.OpObjectIsSmi), p)
	r := f.ret(f.s.Start(), is, f.start, f.start)
	f.end(r)

	f.run(t)

	assert.Equal(t, ir.OpWordEqual, r.ValueInput(0).Opcode())
	assert.Empty(t, f.reachable(ir.OpBranch))
}

func TestLoopBackEdgesAreFilledLast(t *testing.T) {
	f := newFixture()
	p := f.param(0, types.Boolean)
	obj := f.param(1, types.Receiver)

	header, body, exit := f.s.NewBlock(), f.s.NewBlock(), f.s.NewBlock()
	loop := f.add(header, ir.Loop(2), f.start, f.start)
	ephi := f.add(header, ir.EffectPhi(2), f.start, f.start, loop)
	branch := f.jsg.NewNode(ir.Op(ir.OpBranch), p, loop)
	ifTrue := f.add(body, ir.Op(ir.OpIfTrue), branch)
	store := f.add(body, ir.StoreField(access.ForJSObjectProperties()), obj, obj, ephi, ifTrue)
	ifFalse := f.add(exit, ir.Op(ir.OpIfFalse), branch)
	f.s.AddGoto(f.s.Start(), header)
	f.s.AddBranch(header, branch, body, exit)
	f.s.AddGoto(body, header)
	r := f.ret(exit, obj, ephi, ifFalse)
	f.end(r)

	f.run(t)

	assert.Same(t, f.start, loop.ControlInput(0))
	assert.Same(t, ifTrue, loop.ControlInput(1))
	assert.Same(t, f.start, ephi.EffectInput(0))
	assert.Same(t, store, ephi.EffectInput(1))
	assert.Same(t, ephi, r.EffectInput(0))
	assert.Same(t, ifFalse, r.ControlInput(0))
}

// cloneFixture branches on a phi of two booleans right after they merge.
func cloneFixture() (*fixture, *ir.Node, *ir.Node, *ir.Node, *ir.Node) {
	f := newFixture()
	p := f.param(0, types.Boolean)
	q := f.param(1, types.Boolean)
	_, _, merge, _, _, bm := f.diamond(p)
	cond := f.add(bm, ir.Phi(access.RepBit, 2), q, f.jsg.Int32Constant(0), merge)
	branch := f.jsg.NewNode(ir.Op(ir.OpBranch), cond, merge)

	bt, bf := f.s.NewBlock(), f.s.NewBlock()
	ifTrue := f.add(bt, ir.Op(ir.OpIfTrue), branch)
	ifFalse := f.add(bf, ir.Op(ir.OpIfFalse), branch)
	f.s.AddBranch(bm, branch, bt, bf)
	rt := f.ret(bt, f.jsg.Int32Constant(1), f.start, ifTrue)
	rf := f.ret(bf, f.jsg.Int32Constant(2), f.start, ifFalse)
	f.end(rt, rf)
	return f, merge, branch, ifTrue, ifFalse
}

func TestBranchCloning(t *testing.T) {
	f, merge, branch, ifTrue, ifFalse := cloneFixture()

	l := f.run(t)

	assert.Equal(t, 1, l.Stats().ClonedBranches)
	assert.True(t, merge.IsDead())
	assert.True(t, branch.IsDead())
	require.Equal(t, ir.OpMerge, ifTrue.Opcode())
	require.Equal(t, ir.OpMerge, ifFalse.Opcode())
	assert.Equal(t, 2, ifTrue.InputCount())
	assert.Equal(t, 2, ifFalse.InputCount())
	for i := 0; i < 2; i++ {
		assert.Equal(t, ir.OpIfTrue, ifTrue.ControlInput(i).Opcode())
		assert.Equal(t, ir.OpIfFalse, ifFalse.ControlInput(i).Opcode())
	}
	assert.Empty(t, f.reachable(ir.OpPhi))
	assert.Len(t, f.reachable(ir.OpBranch), 3)
}

func TestBranchCloningDisabled(t *testing.T) {
	f, merge, branch, ifTrue, _ := cloneFixture()

	l := f.run(t, WithBranchCloning(false))

	assert.Zero(t, l.Stats().ClonedBranches)
	assert.False(t, merge.IsDead())
	assert.Same(t, merge, branch.ControlInput(0))
	assert.Equal(t, ir.OpIfTrue, ifTrue.Opcode())
}

func TestBranchCloningNeedsPhiCondition(t *testing.T) {
	f := newFixture()
	p := f.param(0, types.Boolean)
	_, _, merge, _, _, bm := f.diamond(p)
	branch := f.jsg.NewNode(ir.Op(ir.OpBranch), p, merge)
	bt, bf := f.s.NewBlock(), f.s.NewBlock()
	ifTrue := f.add(bt, ir.Op(ir.OpIfTrue), branch)
	ifFalse := f.add(bf, ir.Op(ir.OpIfFalse), branch)
	f.s.AddBranch(bm, branch, bt, bf)
	f.end(
		f.ret(bt, f.jsg.Int32Constant(1), f.start, ifTrue),
		f.ret(bf, f.jsg.Int32Constant(2), f.start, ifFalse),
	)

	l := f.run(t)

	assert.Zero(t, l.Stats().ClonedBranches)
	assert.False(t, branch.IsDead())
}

// phiBranch is a diamond whose true side stores to an object, joined by a
// merge with an effect phi and a branch on a phi of q and false. The
// branch's successors have no terminators yet.
type phiBranch struct {
	merge, ephi, cond, branch, ifTrue, ifFalse, store *ir.Node
	bm, bt, bf                                       *schedule.BasicBlock
}

func newPhiBranch(f *fixture) *phiBranch {
	p := f.param(0, types.Boolean)
	q := f.param(1, types.Boolean)
	obj := f.param(2, types.Receiver)
	ifTrue, _, merge, bt, _, bm := f.diamond(p)

	pb := &phiBranch{merge: merge, bm: bm}
	pb.store = f.add(bt, ir.StoreField(access.ForJSObjectProperties()), obj, obj, f.start, ifTrue)
	pb.ephi = f.add(bm, ir.EffectPhi(2), pb.store, f.start, merge)
	pb.cond = f.add(bm, ir.Phi(access.RepBit, 2), q, f.jsg.Int32Constant(0), merge)
	pb.branch = f.jsg.NewNode(ir.Op(ir.OpBranch), pb.cond, merge)
	pb.bt, pb.bf = f.s.NewBlock(), f.s.NewBlock()
	pb.ifTrue = f.add(pb.bt, ir.Op(ir.OpIfTrue), pb.branch)
	pb.ifFalse = f.add(pb.bf, ir.Op(ir.OpIfFalse), pb.branch)
	f.s.AddBranch(bm, pb.branch, pb.bt, pb.bf)
	return pb
}

// valuePhi adds a phi of 1 and 0 to the merge of pb.
func (pb *phiBranch) valuePhi(f *fixture) *ir.Node {
	return f.add(pb.bm, ir.Phi(access.RepTagged, 2), f.jsg.OneConstant(), f.jsg.ZeroConstant(), pb.merge)
}

func TestBranchCloningSplitsPhis(t *testing.T) {
	f := newFixture()
	pb := newPhiBranch(f)
	value := pb.valuePhi(f)
	rt := f.ret(pb.bt, value, pb.ephi, pb.ifTrue)
	rf := f.ret(pb.bf, value, pb.ephi, pb.ifFalse)
	f.end(rt, rf)

	l := f.run(t)

	require.Equal(t, 1, l.Stats().ClonedBranches)
	assert.True(t, value.IsDead())
	assert.True(t, pb.ephi.IsDead())

	tests := []struct {
		name  string
		ret   *ir.Node
		merge *ir.Node
	}{
		{"true side", rt, pb.ifTrue},
		{"false side", rf, pb.ifFalse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, ir.OpMerge, tt.merge.Opcode())

			v := tt.ret.ValueInput(0)
			require.Equal(t, ir.OpPhi, v.Opcode())
			assert.Same(t, tt.merge, v.ControlInput(0))
			assert.Same(t, f.jsg.OneConstant(), v.ValueInput(0))
			assert.Same(t, f.jsg.ZeroConstant(), v.ValueInput(1))

			e := tt.ret.EffectInput(0)
			require.Equal(t, ir.OpEffectPhi, e.Opcode())
			assert.Same(t, tt.merge, e.ControlInput(0))
			assert.Same(t, pb.store, e.EffectInput(0))
			assert.Same(t, f.start, e.EffectInput(1))
			assert.Same(t, tt.merge, tt.ret.ControlInput(0))
		})
	}
}

func TestBranchCloningRefusals(t *testing.T) {
	tests := []struct {
		name  string
		build func(f *fixture, pb *phiBranch)
	}{
		{
			name: "phi used after the join",
			build: func(f *fixture, pb *phiBranch) {
				value := pb.valuePhi(f)
				bj := f.s.NewBlock()
				join := f.add(bj, ir.Merge(2), pb.ifTrue, pb.ifFalse)
				f.s.AddGoto(pb.bt, bj)
				f.s.AddGoto(pb.bf, bj)
				f.end(f.ret(bj, value, pb.ephi, join))
			},
		},
		{
			name: "condition has another use",
			build: func(f *fixture, pb *phiBranch) {
				f.end(
					f.ret(pb.bt, pb.cond, pb.ephi, pb.ifTrue),
					f.ret(pb.bf, f.jsg.Int32Constant(2), pb.ephi, pb.ifFalse),
				)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			pb := newPhiBranch(f)
			tt.build(f, pb)

			l := f.run(t)

			assert.Zero(t, l.Stats().ClonedBranches)
			assert.False(t, pb.branch.IsDead())
			assert.False(t, pb.cond.IsDead())
			assert.Same(t, pb.merge, pb.branch.ControlInput(0))
			assert.Equal(t, ir.OpIfTrue, pb.ifTrue.Opcode())
		})
	}
}

func TestPhiAmongOrdinaryNodesKeepsItsMerge(t *testing.T) {
	f := newFixture()
	p := f.param(0, types.Boolean)
	obj := f.param(1, types.Receiver)
	_, _, merge, _, _, bm := f.diamond(p)
	f.checkpoint(bm)
	check := f.add(bm, ir.Op(ir.OpCheckIf), p, f.start, f.start)
	phi := f.add(bm, ir.Phi(access.RepTagged, 2), obj, obj, merge)
	r := f.ret(bm, phi, check, merge)
	f.end(r)

	f.run(t)

	guard := r.ControlInput(0)
	require.Equal(t, ir.OpDeoptimizeUnless, guard.Opcode())
	assert.Same(t, merge, phi.ControlInput(0))
	assert.Same(t, phi, r.ValueInput(0))
}

func TestMisplacedBlockNodes(t *testing.T) {
	tests := []struct {
		name  string
		build func(f *fixture) (bad *ir.Node, block int)
	}{
		{
			name: "effect phi among ordinary nodes",
			build: func(f *fixture) (*ir.Node, int) {
				obj := f.param(0, types.Receiver)
				_, _, merge, _, _, bm := f.diamond(f.param(1, types.Boolean))
				load := f.add(bm, ir.LoadField(access.ForJSObjectProperties()), obj, f.start, f.start)
				ephi := f.add(bm, ir.EffectPhi(2), f.start, f.start, merge)
				f.end(f.ret(bm, load, ephi, merge))
				return ephi, -1
			},
		},
		{
			name: "effect phi in an exception handler",
			build: func(f *fixture) (*ir.Node, int) {
				target := f.param(0, types.Any)
				call := f.jsg.NewNode(ir.Call(1), target, f.start, f.start)
				bs, be := f.s.NewBlock(), f.s.NewBlock()
				ifSuccess := f.add(bs, ir.Op(ir.OpIfSuccess), call)
				ifException := f.add(be, ir.Op(ir.OpIfException), call, call)
				ephi := f.add(be, ir.EffectPhi(1), ifException, ifException)
				f.s.AddCall(f.s.Start(), call, bs, be)
				f.end(
					f.ret(bs, call, call, ifSuccess),
					f.ret(be, ifException, ephi, ifException),
				)
				return ephi, be.ID
			},
		},
		{
			name: "branch with one successor",
			build: func(f *fixture) (*ir.Node, int) {
				p := f.param(0, types.Boolean)
				b := f.s.NewBlock()
				branch := f.jsg.NewNode(ir.Op(ir.OpBranch), p, f.start)
				ifTrue := f.add(b, ir.Op(ir.OpIfTrue), branch)
				f.s.AddGoto(f.s.Start(), b)
				f.s.Start().Control = schedule.ControlBranch
				f.s.Start().ControlInput = branch
				f.end(f.ret(b, p, f.start, ifTrue))
				return branch, f.s.Start().ID
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			bad, block := tt.build(f)

			err := New(f.jsg, f.s, WithLogger(slog.New(slog.DiscardHandler))).Run()

			var ie *InvariantError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, ErrCodeMalformedBlock, ie.Code)
			assert.Equal(t, bad.ID(), ie.Node)
			assert.Equal(t, block, ie.Block)
		})
	}
}

func TestInvariantErrorMessage(t *testing.T) {
	tests := []struct {
		err  InvariantError
		want string
	}{
		{InvariantError{Code: ErrCodeArity, Message: "m", Node: 3, Block: 2}, "ARITY_MISMATCH: m (node=#3, block=B2)"},
		{InvariantError{Code: ErrCodeRegion, Message: "m", Node: 3, Block: -1}, "BAD_REGION: m (node=#3)"},
		{InvariantError{Code: ErrCodeMissingEffect, Message: "m", Node: -1, Block: 4}, "MISSING_EFFECT: m (block=B4)"},
		{InvariantError{Code: ErrCodeEffectChain, Message: "m", Node: -1, Block: -1}, "BAD_EFFECT_CHAIN: m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestLowersCoversEveryRoutine(t *testing.T) {
	assert.Len(t, pureLowerings, 19)
	assert.Len(t, guardLowerings, 23)
	assert.True(t, Lowers(ir.OpCheckedInt32Mod))
	assert.True(t, Lowers(ir.OpFloat64Floor))
	assert.False(t, Lowers(ir.OpNumberAdd))
}
