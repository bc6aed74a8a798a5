package linearize

import (
	"math"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
)

// vec is the value, effect and control a lowering leaves behind. The
// lowered node's uses are redirected to it by edge kind.
type vec struct {
	value   *ir.Node
	effect  *ir.Node
	control *ir.Node
}

func (l *Linearizer) node(code ir.Opcode, inputs ...*ir.Node) *ir.Node {
	return l.jsg.NewNode(ir.Op(code), inputs...)
}

func (l *Linearizer) i32(v int32) *ir.Node { return l.jsg.Int32Constant(v) }

func (l *Linearizer) intPtr(v int64) *ir.Node { return l.jsg.IntPtrConstant(v) }

func (l *Linearizer) f64(v float64) *ir.Node { return l.jsg.Float64Constant(v) }

// branch splits control on cond.
func (l *Linearizer) branch(cond, control *ir.Node) (ifTrue, ifFalse *ir.Node) {
	b := l.jsg.NewNode(ir.Op(ir.OpBranch), cond, control)
	return l.node(ir.OpIfTrue, b), l.node(ir.OpIfFalse, b)
}

func (l *Linearizer) merge(controls ...*ir.Node) *ir.Node {
	return l.jsg.NewNode(ir.Merge(len(controls)), controls...)
}

func (l *Linearizer) phi(rep access.Representation, a, b, merge *ir.Node) *ir.Node {
	return l.jsg.NewNode(ir.Phi(rep, 2), a, b, merge)
}

// effectPhi joins two effects at merge, skipping the phi when both sides
// left the effect alone.
func (l *Linearizer) effectPhi(a, b, merge *ir.Node) *ir.Node {
	if a == b {
		return a
	}
	return l.jsg.NewNode(ir.EffectPhi(2), a, b, merge)
}

// join merges two paths into one vec with a value phi of rep.
func (l *Linearizer) join(rep access.Representation, t, f vec) vec {
	control := l.merge(t.control, f.control)
	return vec{
		value:   l.phi(rep, t.value, f.value, control),
		effect:  l.effectPhi(t.effect, f.effect, control),
		control: control,
	}
}

func (l *Linearizer) deoptimizeIf(reason ir.DeoptReason, cond, frameState, effect, control *ir.Node) *ir.Node {
	return l.jsg.NewNode(ir.DeoptimizeIf(reason), cond, frameState, effect, control)
}

func (l *Linearizer) deoptimizeUnless(reason ir.DeoptReason, cond, frameState, effect, control *ir.Node) *ir.Node {
	return l.jsg.NewNode(ir.DeoptimizeUnless(reason), cond, frameState, effect, control)
}

func (l *Linearizer) loadField(fa access.FieldAccess, object, effect, control *ir.Node) *ir.Node {
	return l.jsg.NewNode(ir.LoadField(fa), object, effect, control)
}

// Smi helpers. Small integers live in the upper half of a 64-bit word or
// shifted left by one in a 32-bit word.

func (l *Linearizer) smiShift() *ir.Node {
	if l.jsg.Is64 {
		return l.intPtr(32)
	}
	return l.intPtr(1)
}

func (l *Linearizer) smiMaxValue() *ir.Node {
	if l.jsg.Is64 {
		return l.i32(math.MaxInt32)
	}
	return l.i32(1<<30 - 1)
}

func (l *Linearizer) changeInt32ToSmi(value *ir.Node) *ir.Node {
	if l.jsg.Is64 {
		value = l.node(ir.OpChangeInt32ToInt64, value)
	}
	return l.node(ir.OpWordShl, value, l.smiShift())
}

func (l *Linearizer) changeSmiToInt32(value *ir.Node) *ir.Node {
	value = l.node(ir.OpWordSar, value, l.smiShift())
	if l.jsg.Is64 {
		value = l.node(ir.OpTruncateInt64ToInt32, value)
	}
	return value
}

func (l *Linearizer) objectIsSmi(value *ir.Node) *ir.Node {
	masked := l.node(ir.OpWordAnd, value, l.intPtr(heap.SmiTagMask))
	return l.node(ir.OpWordEqual, masked, l.intPtr(heap.SmiTag))
}

func (l *Linearizer) changeSmiToFloat64(value *ir.Node) *ir.Node {
	return l.node(ir.OpChangeInt32ToFloat64, l.changeSmiToInt32(value))
}

// allocateHeapNumber boxes a float64.
func (l *Linearizer) allocateHeapNumber(value, effect, control *ir.Node) vec {
	result := l.jsg.NewNode(ir.Op(ir.OpAllocate), l.i32(heap.HeapNumberSize), effect, control)
	effect = l.jsg.NewNode(ir.StoreField(access.ForMap()), result, l.jsg.HeapNumberMapConstant(), result, control)
	effect = l.jsg.NewNode(ir.StoreField(access.ForHeapNumberValue()), result, value, effect, control)
	return vec{result, effect, control}
}

// loadHeapNumberValue reads the float payload of a heap number.
func (l *Linearizer) loadHeapNumberValue(value, effect, control *ir.Node) (*ir.Node, *ir.Node) {
	v := l.loadField(access.ForHeapNumberValue(), value, effect, control)
	return v, v
}
