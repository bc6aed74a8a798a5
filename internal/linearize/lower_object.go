package linearize

import (
	"math"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
)

// lowerObjectIs tests a heap object with test; a Smi yields onSmi.
func (l *Linearizer) lowerObjectIs(node, effect, control *ir.Node, onSmi int32, test func(value, effect, control *ir.Node) (*ir.Node, *ir.Node)) vec {
	value := node.ValueInput(0)
	ifSmi, ifHeapObject := l.branch(l.objectIsSmi(value), control)
	vfalse, efalse := test(value, effect, ifHeapObject)
	return l.join(access.RepBit, vec{l.i32(onSmi), effect, ifSmi}, vec{vfalse, efalse, ifHeapObject})
}

func (l *Linearizer) loadMapBitField(value, effect, control *ir.Node) *ir.Node {
	valueMap := l.loadField(access.ForMap(), value, effect, control)
	return l.loadField(access.ForMapBitField(), valueMap, valueMap, control)
}

func (l *Linearizer) loadInstanceType(value, effect, control *ir.Node) *ir.Node {
	valueMap := l.loadField(access.ForMap(), value, effect, control)
	return l.loadField(access.ForMapInstanceType(), valueMap, valueMap, control)
}

func (l *Linearizer) lowerObjectIsCallable(node, effect, control *ir.Node) vec {
	return l.lowerObjectIs(node, effect, control, 0, func(v, e, c *ir.Node) (*ir.Node, *ir.Node) {
		bits := l.loadMapBitField(v, e, c)
		mask := l.i32(int32(heap.MapIsCallable | heap.MapIsUndetectable))
		is := l.node(ir.OpWord32Equal, l.i32(int32(heap.MapIsCallable)), l.node(ir.OpWord32And, bits, mask))
		return is, bits
	})
}

func (l *Linearizer) lowerObjectIsNumber(node, effect, control *ir.Node) vec {
	return l.lowerObjectIs(node, effect, control, 1, func(v, e, c *ir.Node) (*ir.Node, *ir.Node) {
		valueMap := l.loadField(access.ForMap(), v, e, c)
		return l.node(ir.OpWordEqual, valueMap, l.jsg.HeapNumberMapConstant()), valueMap
	})
}

func (l *Linearizer) lowerObjectIsReceiver(node, effect, control *ir.Node) vec {
	return l.lowerObjectIs(node, effect, control, 0, func(v, e, c *ir.Node) (*ir.Node, *ir.Node) {
		it := l.loadInstanceType(v, e, c)
		return l.node(ir.OpUint32LessThanOrEqual, l.i32(int32(heap.FirstReceiverType)), it), it
	})
}

func (l *Linearizer) lowerObjectIsSmi(node, effect, control *ir.Node) vec {
	return vec{l.objectIsSmi(node.ValueInput(0)), effect, control}
}

func (l *Linearizer) lowerObjectIsString(node, effect, control *ir.Node) vec {
	return l.lowerObjectIs(node, effect, control, 0, func(v, e, c *ir.Node) (*ir.Node, *ir.Node) {
		it := l.loadInstanceType(v, e, c)
		return l.node(ir.OpUint32LessThan, it, l.i32(int32(heap.FirstNonstringType))), it
	})
}

func (l *Linearizer) lowerObjectIsUndetectable(node, effect, control *ir.Node) vec {
	return l.lowerObjectIs(node, effect, control, 0, func(v, e, c *ir.Node) (*ir.Node, *ir.Node) {
		bits := l.loadMapBitField(v, e, c)
		masked := l.node(ir.OpWord32And, bits, l.i32(int32(heap.MapIsUndetectable)))
		zero := l.i32(0)
		return l.node(ir.OpWord32Equal, l.node(ir.OpWord32Equal, masked, zero), zero), bits
	})
}

// lowerFloat64Floor uses the native instruction when the target has one.
// Otherwise it rounds through 2^52, where doubles lose their fraction bits:
//
//	if 0 < x then
//	  if 2^52 <= x then x
//	  else t = (2^52 + x) - 2^52; if x < t then t - 1 else t
//	else if x == 0 then x
//	else if x <= -2^52 then x
//	else
//	  t1 = -0 - x
//	  t2 = (2^52 + t1) - 2^52
//	  -0 - (if t2 < t1 then t2 + 1 else t2)
func (l *Linearizer) lowerFloat64Floor(node, effect, control *ir.Node) vec {
	x := node.ValueInput(0)
	if l.roundDown {
		return vec{l.node(ir.OpFloat64RoundDown, x), effect, control}
	}

	zero, one := l.f64(0), l.f64(1)
	twoTo52, minusTwoTo52 := l.f64(1<<52), l.f64(-(1 << 52))
	minusZero := l.f64(math.Copysign(0, -1))

	// sel picks between two values computed on the current control.
	sel := func(cond, t, f, control *ir.Node) vec {
		ifTrue, ifFalse := l.branch(cond, control)
		return l.join(access.RepFloat64, vec{t, effect, ifTrue}, vec{f, effect, ifFalse})
	}

	ifPositive, ifNotPositive := l.branch(l.node(ir.OpFloat64LessThan, zero, x), control)

	ifLarge, ifSmall := l.branch(l.node(ir.OpFloat64LessThanOrEqual, twoTo52, x), ifPositive)
	t := l.node(ir.OpFloat64Sub, l.node(ir.OpFloat64Add, twoTo52, x), twoTo52)
	small := sel(l.node(ir.OpFloat64LessThan, x, t), l.node(ir.OpFloat64Sub, t, one), t, ifSmall)
	positive := l.join(access.RepFloat64, vec{x, effect, ifLarge}, small)

	ifZero, ifNegative := l.branch(l.node(ir.OpFloat64Equal, x, zero), ifNotPositive)
	ifHuge, ifFraction := l.branch(l.node(ir.OpFloat64LessThanOrEqual, x, minusTwoTo52), ifNegative)
	t1 := l.node(ir.OpFloat64Sub, minusZero, x)
	t2 := l.node(ir.OpFloat64Sub, l.node(ir.OpFloat64Add, twoTo52, t1), twoTo52)
	ceil := sel(l.node(ir.OpFloat64LessThan, t2, t1), l.node(ir.OpFloat64Add, t2, one), t2, ifFraction)
	fraction := vec{l.node(ir.OpFloat64Sub, minusZero, ceil.value), effect, ceil.control}
	negative := l.join(access.RepFloat64, vec{x, effect, ifHuge}, fraction)
	nonPositive := l.join(access.RepFloat64, vec{x, effect, ifZero}, negative)

	return l.join(access.RepFloat64, positive, nonPositive)
}
