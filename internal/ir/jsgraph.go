package ir

import (
	"math"

	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/types"
)

// JSGraph wraps a Graph with a canonicalizing constant cache. Asking twice
// for the same constant returns the same node as long as it is alive.
type JSGraph struct {
	*Graph

	// Is64 selects 64-bit pointer-sized constants.
	Is64 bool

	int32s   map[int32]*Node
	int64s   map[int64]*Node
	float64s map[uint64]*Node
	numbers  map[uint64]*Node
	heaps    map[*heap.Object]*Node
	strings  map[string]*heap.Object
	dead     *Node
}

// NewJSGraph wraps g.
func NewJSGraph(g *Graph, is64 bool) *JSGraph {
	return &JSGraph{
		Graph:    g,
		Is64:     is64,
		int32s:   make(map[int32]*Node),
		int64s:   make(map[int64]*Node),
		float64s: make(map[uint64]*Node),
		numbers:  make(map[uint64]*Node),
		heaps:    make(map[*heap.Object]*Node),
		strings:  make(map[string]*heap.Object),
	}
}

func cached[K comparable](g *Graph, m map[K]*Node, key K, op func() *Operator, typ *types.Type) *Node {
	if n, ok := m[key]; ok && !n.IsDead() {
		return n
	}
	n := g.NewNode(op())
	if typ != nil {
		n.SetType(*typ)
	}
	m[key] = n
	return n
}

func (j *JSGraph) Int32Constant(v int32) *Node {
	return cached(j.Graph, j.int32s, v, func() *Operator { return Int32Constant(v) }, nil)
}

func (j *JSGraph) Int64Constant(v int64) *Node {
	return cached(j.Graph, j.int64s, v, func() *Operator { return Int64Constant(v) }, nil)
}

// IntPtrConstant is a pointer-sized integer constant.
func (j *JSGraph) IntPtrConstant(v int64) *Node {
	if j.Is64 {
		return j.Int64Constant(v)
	}
	return j.Int32Constant(int32(v))
}

// Float64Constant keys by bit pattern so -0 and NaN payloads stay distinct.
func (j *JSGraph) Float64Constant(v float64) *Node {
	return cached(j.Graph, j.float64s, math.Float64bits(v), func() *Operator { return Float64Constant(v) }, nil)
}

// NumberConstant is a tagged number constant typed by its value.
func (j *JSGraph) NumberConstant(v float64) *Node {
	t := types.NumberConstant(v)
	return cached(j.Graph, j.numbers, math.Float64bits(v), func() *Operator { return NumberConstant(v) }, &t)
}

// HeapConstant is a constant reference to a known heap object.
func (j *JSGraph) HeapConstant(o *heap.Object) *Node {
	t := types.Constant(o)
	return cached(j.Graph, j.heaps, o, func() *Operator { return HeapConstant(o) }, &t)
}

// InternString returns the canonical string object for s.
func (j *JSGraph) InternString(s string) *heap.Object {
	if o, ok := j.strings[s]; ok {
		return o
	}
	o := heap.NewString(s)
	j.strings[s] = o
	return o
}

// StringConstant is a HeapConstant of the interned string s.
func (j *JSGraph) StringConstant(s string) *Node {
	return j.HeapConstant(j.InternString(s))
}

func (j *JSGraph) TrueConstant() *Node { return j.HeapConstant(heap.True) }
func (j *JSGraph) FalseConstant() *Node { return j.HeapConstant(heap.False) }
func (j *JSGraph) UndefinedConstant() *Node { return j.HeapConstant(heap.Undefined) }
func (j *JSGraph) NullConstant() *Node { return j.HeapConstant(heap.Null) }
func (j *JSGraph) TheHoleConstant() *Node { return j.HeapConstant(heap.TheHole) }
func (j *JSGraph) HeapNumberMapConstant() *Node { return j.HeapConstant(heap.HeapNumberMap) }
func (j *JSGraph) NaNConstant() *Node { return j.NumberConstant(math.NaN()) }
func (j *JSGraph) ZeroConstant() *Node { return j.NumberConstant(0) }
func (j *JSGraph) OneConstant() *Node { return j.NumberConstant(1) }

// BooleanConstant is the true or false oddball.
func (j *JSGraph) BooleanConstant(b bool) *Node {
	if b {
		return j.TrueConstant()
	}
	return j.FalseConstant()
}

// Dead is the shared placeholder for inputs that have no producer yet.
func (j *JSGraph) Dead() *Node {
	if j.dead == nil || j.dead.IsDead() {
		j.dead = j.NewNode(Op(OpDead))
	}
	return j.dead
}

// IsConstantOf reports whether n is HeapConstant(o).
func IsConstantOf(n *Node, o *heap.Object) bool {
	return n.Opcode() == OpHeapConstant && ParamOf[*heap.Object](n) == o
}

// NumberValue returns the value of a NumberConstant or Float64Constant.
func NumberValue(n *Node) (float64, bool) {
	switch n.Opcode() {
	case OpNumberConstant, OpFloat64Constant:
		return ParamOf[float64](n), true
	}
	return 0, false
}
