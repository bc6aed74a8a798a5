package testutil

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/compiler"
)

// CheckedAddGraph adds two Signed32 parameters with an overflow check
// behind a checkpoint resuming at bailout 3. It has no blocks; the loader
// schedules it as one straight line.
const CheckedAddGraph = `
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

// NumberAddGraph is a generic JSAdd whose operands are typed Number.
const NumberAddGraph = `
graph: plus: {
	word_size: 64
	nodes: [
		{id: "start", op: "Start"},
		{id: "a", op: "Parameter", index: 0, inputs: ["start"], type: "Number"},
		{id: "b", op: "Parameter", index: 1, inputs: ["start"], type: "Number"},
		{id: "fs", op: "FrameState", bailout: 1},
		{id: "add", op: "JSAdd", inputs: ["a", "b", "fs", "start", "start"]},
		{id: "ret", op: "Return", inputs: ["add", "add", "start"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
}
`

// SelectGraph returns 1 or 2 depending on a Boolean parameter. Its blocks
// are given explicitly.
const SelectGraph = `
graph: select: {
	word_size: 64
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

// UnguardedGraph has a checked operation with no checkpoint before it,
// so linearization cannot give its guard a frame state.
const UnguardedGraph = `
graph: unguarded: {
	word_size: 64
	nodes: [
		{id: "start", op: "Start"},
		{id: "a", op: "Parameter", index: 0, inputs: ["start"], type: "Signed32"},
		{id: "b", op: "Parameter", index: 1, inputs: ["start"], type: "Signed32"},
		{id: "sum", op: "CheckedInt32Add", inputs: ["a", "b", "start", "start"]},
		{id: "ret", op: "Return", inputs: ["sum", "sum", "start"]},
		{id: "end", op: "End", inputs: ["ret"]},
	]
}
`

// LoadGraph compiles src and loads the description at graph.<name>. Each
// call builds a fresh graph, so a test can compile one copy and keep the
// other as a reference.
func LoadGraph(t testing.TB, src, name string) *compiler.Graph {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	g, err := compiler.LoadGraph(v.LookupPath(cue.MakePath(cue.Str("graph"), cue.Str(name))), 64)
	require.NoError(t, err)
	return g
}
