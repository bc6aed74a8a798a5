package compiler

import (
	"math"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
	"github.com/roach88/nodejit/internal/types"
)

const checkedAdd = `
graph: add: {
	word_size: 64
	nodes: [
		{id: "start", op: "Start"},
		{id: "a", op: "Parameter", index: 0, inputs: ["start"], type: "Signed32"},
		{id: "b", op: "Parameter", index: 1, inputs: ["start"], type: "Signed32"},
		{id: "fs", op: "FrameState", bailout: 3},
		{id: "cp", op: "Checkpoint", inputs: ["fs", "start", "start"]},
		{id: "sum", op: "CheckedInt32Add", inputs: ["a", "b", "cp", "start"]},
		{id: "ret", op: "Return", inputs: ["sum", "sum", "start"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
}
`

const diamond = `
graph: select: {
	nodes: [
		{id: "start", op: "Start"},
		{id: "c", op: "Parameter", index: 0, inputs: ["start"], type: "Boolean"},
		{id: "br", op: "Branch", inputs: ["c", "start"]},
		{id: "t", op: "IfTrue", inputs: ["br"]},
		{id: "f", op: "IfFalse", inputs: ["br"]},
		{id: "m", op: "Merge", inputs: ["t", "f"]},
		{id: "one", op: "NumberConstant", value: 1},
		{id: "two", op: "NumberConstant", value: 2},
		{id: "phi", op: "Phi", rep: "tagged", inputs: ["one", "two", "m"]},
		{id: "ret", op: "Return", inputs: ["phi", "start", "m"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
	blocks: [
		{id: "entry", nodes: ["start", "c"], control: "branch", input: "br", succs: ["bt", "bf"]},
		{id: "bt", nodes: ["t"], succs: ["join"]},
		{id: "bf", nodes: ["f"], succs: ["join"]},
		{id: "join", nodes: ["m", "phi"], control: "return", input: "ret"},
	]
}
`

func compile(t *testing.T, src, path string) cue.Value {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return v.LookupPath(cue.ParsePath(path))
}

func TestLoadGraphStraightLine(t *testing.T) {
	g, err := LoadGraph(compile(t, checkedAdd, "graph.add"), 32)
	require.NoError(t, err)

	assert.Equal(t, "add", g.Name)
	assert.True(t, g.JSGraph.Is64, "word_size overrides the default")
	assert.Same(t, g.Node("start"), g.JSGraph.Start())
	assert.Same(t, g.Node("end"), g.JSGraph.End())

	sum := g.Node("sum")
	require.NotNil(t, sum)
	assert.Equal(t, ir.OpCheckedInt32Add, sum.Opcode())
	assert.Same(t, g.Node("cp"), sum.EffectInput(0))
	assert.Equal(t, 3, ir.ParamOf[ir.FrameStateInfo](g.Node("fs")).BailoutID)
	assert.True(t, g.Node("a").Type().Is(types.Signed32))

	// Without blocks, a graph with no control splits lands in one block.
	require.NotNil(t, g.Schedule)
	start := g.Schedule.Start()
	assert.Same(t, g.JSGraph.Start(), start.NodeAt(0))
	assert.Equal(t, schedule.ControlReturn, start.Control)
	assert.Same(t, g.Node("ret"), start.ControlInput)
	assert.Same(t, g.JSGraph.End(), g.Schedule.End().NodeAt(0))
}

func TestLoadGraphBlocks(t *testing.T) {
	g, err := LoadGraph(compile(t, diamond, "graph.select"), 64)
	require.NoError(t, err)
	require.NotNil(t, g.Schedule)

	blocks := g.Schedule.RPOOrder()
	require.Len(t, blocks, 5)
	entry := g.Schedule.Start()
	assert.Equal(t, schedule.ControlBranch, entry.Control)
	assert.Same(t, g.Node("br"), entry.ControlInput)
	require.Equal(t, 2, entry.SuccessorCount())
	assert.Same(t, g.Node("t"), entry.SuccessorAt(0).NodeAt(0))

	join := g.Schedule.BlockOf(g.Node("m"))
	require.NotNil(t, join)
	assert.Equal(t, 2, join.PredecessorCount())
	assert.Equal(t, schedule.ControlReturn, join.Control)

	phi := g.Node("phi")
	assert.Equal(t, 2, phi.Op().ValueIn)
	v, ok := ir.NumberValue(phi.ValueInput(1))
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestLoadGraphDiamondWithoutBlocksHasNoSchedule(t *testing.T) {
	src := `
graph: g: {
	nodes: [
		{id: "start", op: "Start"},
		{id: "c", op: "Parameter", index: 0, inputs: ["start"]},
		{id: "br", op: "Branch", inputs: ["c", "start"]},
		{id: "t", op: "IfTrue", inputs: ["br"]},
		{id: "f", op: "IfFalse", inputs: ["br"]},
		{id: "m", op: "Merge", inputs: ["t", "f"]},
		{id: "ret", op: "Return", inputs: ["c", "start", "m"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
}
`
	g, err := LoadGraph(compile(t, src, "graph.g"), 64)
	require.NoError(t, err)
	assert.Nil(t, g.Schedule)
}

func TestLoadGraphForwardReference(t *testing.T) {
	src := `
graph: loop: {
	nodes: [
		{id: "start", op: "Start"},
		{id: "loop", op: "Loop", inputs: ["start", "back"]},
		{id: "c", op: "Parameter", index: 0, inputs: ["start"]},
		{id: "br", op: "Branch", inputs: ["c", "loop"]},
		{id: "back", op: "IfTrue", inputs: ["br"]},
		{id: "exit", op: "IfFalse", inputs: ["br"]},
		{id: "ret", op: "Return", inputs: ["c", "start", "exit"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
}
`
	g, err := LoadGraph(compile(t, src, "graph.loop"), 64)
	require.NoError(t, err)
	loop := g.Node("loop")
	assert.Same(t, g.Node("back"), loop.ControlInput(1))
	for _, n := range g.JSGraph.DumpNodes() {
		assert.NotEqual(t, ir.OpDead, n.Opcode(), "placeholder must not stay reachable")
	}
}

func TestLoadGraphConstants(t *testing.T) {
	src := `
graph: k: {
	word_size: 32
	nodes: [
		{id: "start", op: "Start"},
		{id: "i", op: "Int32Constant", value: -7},
		{id: "nan", op: "Float64Constant", value: "NaN"},
		{id: "mz", op: "NumberConstant", value: "-0"},
		{id: "u", op: "HeapConstant", heap: "undefined"},
		{id: "s", op: "HeapConstant", str: "abc"},
		{id: "s2", op: "HeapConstant", str: "abc"},
		{id: "hn", op: "HeapConstant", heap_number: 1.5},
		{id: "ta", op: "HeapConstant", typed_array: {type: "Int32Array", length: 4}},
		{id: "ret", op: "Return", inputs: ["u", "start", "start"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
}
`
	g, err := LoadGraph(compile(t, src, "graph.k"), 64)
	require.NoError(t, err)
	assert.False(t, g.JSGraph.Is64)

	assert.Equal(t, int32(-7), ir.ParamOf[int32](g.Node("i")))
	assert.True(t, math.IsNaN(ir.ParamOf[float64](g.Node("nan"))))
	mz, ok := ir.NumberValue(g.Node("mz"))
	require.True(t, ok)
	assert.True(t, math.Signbit(mz))
	assert.True(t, ir.IsConstantOf(g.Node("u"), heap.Undefined))
	assert.Same(t, g.Node("s"), g.Node("s2"), "equal strings are interned")

	hn := ir.ParamOf[*heap.Object](g.Node("hn"))
	assert.Equal(t, heap.KindHeapNumber, hn.Kind)
	assert.Equal(t, 1.5, hn.Number)

	ta := ir.ParamOf[*heap.Object](g.Node("ta"))
	assert.Equal(t, heap.Int32Array, ta.ArrayType)
	assert.Equal(t, int64(4), ta.Length)
}

func TestLoadGraphParameterizedOperators(t *testing.T) {
	src := `
graph: p: {
	nodes: [
		{id: "start", op: "Start"},
		{id: "o", op: "Parameter", index: 0, inputs: ["start"]},
		{id: "ld", op: "LoadField", field: "fixed_array_slot", slot: 2, inputs: ["o", "start", "start"]},
		{id: "ctx", op: "JSLoadContext", depth: 1, slot: 4, immutable: true, inputs: ["o", "ld"]},
		{id: "fs", op: "FrameState", bailout: 9},
		{id: "d", op: "DeoptimizeUnless", reason: "not a Smi", inputs: ["o", "fs", "ctx", "start"]},
		{id: "cm", op: "CheckMaps", inputs: ["o", "o", "o", "d", "start"]},
		{id: "br", op: "BeginRegion", observability: "not-observable", inputs: ["cm"]},
		{id: "ret", op: "Return", inputs: ["o", "br", "start"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
}
`
	g, err := LoadGraph(compile(t, src, "graph.p"), 64)
	require.NoError(t, err)

	ca := ir.ParamOf[ir.ContextAccess](g.Node("ctx"))
	assert.Equal(t, ir.ContextAccess{Depth: 1, Index: 4, Immutable: true}, ca)
	assert.Equal(t, ir.DeoptNotASmi, ir.ParamOf[ir.DeoptReason](g.Node("d")))
	assert.Equal(t, 2, ir.ParamOf[int](g.Node("cm")))
	assert.Equal(t, ir.RegionNotObservable, ir.ParamOf[ir.RegionObservability](g.Node("br")))
}

func TestLoadGraphErrors(t *testing.T) {
	tests := []struct {
		name  string
		nodes string
		field string
		msg   string
	}{
		{
			name:  "unknown operator",
			nodes: `{id: "start", op: "Frobnicate"}`,
			field: "nodes.start.op",
			msg:   "unknown operator",
		},
		{
			name:  "duplicate id",
			nodes: `{id: "start", op: "Start"}, {id: "start", op: "Start"}`,
			field: "nodes.start",
			msg:   "duplicate",
		},
		{
			name:  "unknown input",
			nodes: `{id: "start", op: "Start"}, {id: "end", op: "End", inputs: ["nowhere"]}`,
			field: "nodes.end.inputs",
			msg:   `unknown node "nowhere"`,
		},
		{
			name:  "arity",
			nodes: `{id: "start", op: "Start"}, {id: "x", op: "NumberAdd", inputs: ["start"]}`,
			field: "nodes.x.inputs",
			msg:   "wants 2 inputs, got 1",
		},
		{
			name:  "missing parameter",
			nodes: `{id: "start", op: "Start"}, {id: "p", op: "Parameter", inputs: ["start"]}`,
			field: "nodes.p.index",
			msg:   "index is required",
		},
		{
			name:  "bad type",
			nodes: `{id: "start", op: "Start", type: "Wobbly"}`,
			field: "nodes.start.type",
			msg:   "unknown type",
		},
		{
			name:  "bad reason",
			nodes: `{id: "start", op: "Start"}, {id: "fs", op: "FrameState", bailout: 1}, {id: "d", op: "Deoptimize", reason: "bored", inputs: ["fs", "start", "start"]}`,
			field: "nodes.d.reason",
			msg:   "unknown deopt reason",
		},
		{
			name:  "int32 range",
			nodes: `{id: "k", op: "Int32Constant", value: 4294967296}`,
			field: "nodes.k.value",
			msg:   "does not fit",
		},
		{
			name:  "no end",
			nodes: `{id: "start", op: "Start"}`,
			field: "nodes",
			msg:   "no End node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := compile(t, "graph: g: nodes: ["+tt.nodes+"]", "graph.g")
			_, err := LoadGraph(v, 64)
			require.Error(t, err)

			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.field, le.Field)
			assert.Contains(t, le.Message, tt.msg)
		})
	}
}

func TestLoadGraphBlockErrors(t *testing.T) {
	tests := []struct {
		name   string
		blocks string
		msg    string
	}{
		{
			name:   "unknown node",
			blocks: `{id: "entry", nodes: ["start", "ghost"], control: "return", input: "ret"}`,
			msg:    `unknown node "ghost"`,
		},
		{
			name:   "unknown successor",
			blocks: `{id: "entry", nodes: ["start"], succs: ["nowhere"]}`,
			msg:    `unknown successor "nowhere"`,
		},
		{
			name:   "exit with successors",
			blocks: `{id: "entry", nodes: ["start"], control: "return", input: "ret", succs: ["entry"]}`,
			msg:    "return takes 0 successors",
		},
		{
			name:   "missing input",
			blocks: `{id: "entry", nodes: ["start"], control: "return"}`,
			msg:    "needs an input node",
		},
		{
			name:   "end listed",
			blocks: `{id: "entry", nodes: ["start", "end"], control: "return", input: "ret"}`,
			msg:    "End belongs to the end block",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `graph: g: {
	nodes: [
		{id: "start", op: "Start"},
		{id: "ret", op: "Return", inputs: ["start", "start", "start"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
	blocks: [` + tt.blocks + `]
}`
			_, err := LoadGraph(compile(t, src, "graph.g"), 64)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Contains(t, le.Message, tt.msg)
		})
	}
}

func TestLoadGraphWordSize(t *testing.T) {
	v := compile(t, `graph: g: {word_size: 16, nodes: []}`, "graph.g")
	_, err := LoadGraph(v, 64)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "word_size", le.Field)
	assert.Contains(t, le.Error(), "word size must be 32 or 64")
}

func TestLoadErrorFormatting(t *testing.T) {
	err := &LoadError{Field: "nodes.x", Message: "bad"}
	assert.Equal(t, "nodes.x: bad", err.Error())
}
