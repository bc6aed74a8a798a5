package linearize

import (
	"math"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
)

// Check and checked lowerings guard their assumptions with eager
// deoptimization to frameState. Each guard is both the new effect and the
// new control.

func (l *Linearizer) lowerCheckBounds(node, frameState, effect, control *ir.Node) vec {
	index, limit := node.ValueInput(0), node.ValueInput(1)
	check := l.node(ir.OpUint32LessThan, index, limit)
	guard := l.deoptimizeUnless(ir.DeoptOutOfBounds, check, frameState, effect, control)
	return vec{index, guard, guard}
}

func (l *Linearizer) lowerCheckNumber(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	ifSmi, ifNotSmi := l.branch(l.objectIsSmi(value), control)

	valueMap := l.loadField(access.ForMap(), value, effect, ifNotSmi)
	check := l.node(ir.OpWordEqual, valueMap, l.jsg.HeapNumberMapConstant())
	guard := l.deoptimizeUnless(ir.DeoptNotAHeapNumber, check, frameState, valueMap, ifNotSmi)

	control = l.merge(ifSmi, guard)
	return vec{value, l.effectPhi(effect, guard, control), control}
}

func (l *Linearizer) lowerCheckString(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	guard := l.deoptimizeIf(ir.DeoptSmi, l.objectIsSmi(value), frameState, effect, control)

	valueMap := l.loadField(access.ForMap(), value, guard, guard)
	instanceType := l.loadField(access.ForMapInstanceType(), valueMap, valueMap, guard)
	check := l.node(ir.OpUint32LessThan, instanceType, l.i32(int32(heap.FirstNonstringType)))
	guard = l.deoptimizeUnless(ir.DeoptNotAString, check, frameState, instanceType, guard)
	return vec{value, guard, guard}
}

func (l *Linearizer) lowerCheckIf(node, frameState, effect, control *ir.Node) vec {
	guard := l.deoptimizeUnless(ir.DeoptNoReason, node.ValueInput(0), frameState, effect, control)
	return vec{nil, guard, guard}
}

func (l *Linearizer) lowerCheckHeapObject(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	guard := l.deoptimizeIf(ir.DeoptSmi, l.objectIsSmi(value), frameState, effect, control)
	return vec{value, guard, guard}
}

func (l *Linearizer) lowerCheckTaggedSigned(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	guard := l.deoptimizeUnless(ir.DeoptNotASmi, l.objectIsSmi(value), frameState, effect, control)
	return vec{value, guard, guard}
}

// lowerCheckMaps compares the object's map against each candidate in
// turn. Only the last comparison deoptimizes; earlier matches branch
// straight to the exit.
func (l *Linearizer) lowerCheckMaps(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	count := node.Op().ValueIn - 1
	if count < 1 {
		violation(ErrCodeArity, node, -1, "CheckMaps without candidate maps")
	}

	valueMap := l.loadField(access.ForMap(), value, effect, control)
	effect = valueMap

	controls := make([]*ir.Node, 0, count)
	effects := make([]*ir.Node, 0, count+1)
	for i := 0; i < count; i++ {
		check := l.node(ir.OpWordEqual, valueMap, node.ValueInput(1+i))
		if i == count-1 {
			guard := l.deoptimizeUnless(ir.DeoptWrongMap, check, frameState, effect, control)
			controls = append(controls, guard)
			effects = append(effects, guard)
			break
		}
		ifTrue, ifFalse := l.branch(check, control)
		controls = append(controls, ifTrue)
		effects = append(effects, effect)
		control = ifFalse
	}
	if count == 1 {
		return vec{value, effects[0], controls[0]}
	}
	control = l.merge(controls...)
	effects = append(effects, control)
	return vec{value, l.jsg.NewNode(ir.EffectPhi(count), effects...), control}
}

func (l *Linearizer) lowerCheckedInt32Add(node, frameState, effect, control *ir.Node) vec {
	return l.lowerCheckedOverflow(ir.OpInt32AddWithOverflow, node, frameState, effect, control)
}

func (l *Linearizer) lowerCheckedInt32Sub(node, frameState, effect, control *ir.Node) vec {
	return l.lowerCheckedOverflow(ir.OpInt32SubWithOverflow, node, frameState, effect, control)
}

func (l *Linearizer) lowerCheckedOverflow(code ir.Opcode, node, frameState, effect, control *ir.Node) vec {
	pair := l.node(code, node.ValueInput(0), node.ValueInput(1))
	ovf := l.jsg.NewNode(ir.Projection(1), pair)
	guard := l.deoptimizeIf(ir.DeoptOverflow, ovf, frameState, effect, control)
	return vec{l.jsg.NewNode(ir.Projection(0), pair), guard, guard}
}

func (l *Linearizer) lowerCheckedInt32Mul(node, frameState, effect, control *ir.Node) vec {
	lhs, rhs := node.ValueInput(0), node.ValueInput(1)
	zero := l.i32(0)

	r := l.lowerCheckedOverflow(ir.OpInt32MulWithOverflow, node, frameState, effect, control)
	value := r.value

	// A zero product is -0 when either factor is negative.
	ifZero, ifNotZero := l.branch(l.node(ir.OpWord32Equal, value, zero), r.control)
	checkOr := l.node(ir.OpInt32LessThan, l.node(ir.OpWord32Or, lhs, rhs), zero)
	guard := l.deoptimizeIf(ir.DeoptMinusZero, checkOr, frameState, r.effect, ifZero)

	control = l.merge(guard, ifNotZero)
	return vec{value, l.effectPhi(guard, r.effect, control), control}
}

func (l *Linearizer) lowerCheckedInt32Div(node, frameState, effect, control *ir.Node) vec {
	lhs, rhs := node.ValueInput(0), node.ValueInput(1)
	zero, minusOne, minInt := l.i32(0), l.i32(-1), l.i32(math.MinInt32)

	// A positive divisor needs no further checks.
	ifPositive, ifNotPositive := l.branch(l.node(ir.OpInt32LessThan, zero, rhs), control)
	vtrue := l.node(ir.OpInt32Div, lhs, rhs, ifPositive)

	// Otherwise rule out x/0, 0/-y (which is -0) and MinInt/-1.
	c := l.deoptimizeIf(ir.DeoptDivisionByZero, l.node(ir.OpWord32Equal, rhs, zero), frameState, effect, ifNotPositive)
	c = l.deoptimizeIf(ir.DeoptMinusZero, l.node(ir.OpWord32Equal, lhs, zero), frameState, c, c)

	ifMinInt, ifNotMinInt := l.branch(l.node(ir.OpWord32Equal, lhs, minInt), c)
	overflow := l.deoptimizeIf(ir.DeoptOverflow, l.node(ir.OpWord32Equal, rhs, minusOne), frameState, c, ifMinInt)
	ifNotPositive = l.merge(overflow, ifNotMinInt)
	efalse := l.effectPhi(overflow, c, ifNotPositive)
	vfalse := l.node(ir.OpInt32Div, lhs, rhs, ifNotPositive)

	r := l.join(access.RepWord32, vec{vtrue, effect, ifPositive}, vec{vfalse, efalse, ifNotPositive})

	// The division must be exact.
	check := l.node(ir.OpWord32Equal, lhs, l.node(ir.OpInt32Mul, rhs, r.value))
	guard := l.deoptimizeUnless(ir.DeoptLostPrecision, check, frameState, r.effect, r.control)
	return vec{r.value, guard, guard}
}

// lowerCheckedInt32Mod computes lhs % rhs as
//
//	if rhs <= 0 then rhs = -rhs; deopt if rhs == 0
//	if lhs < 0 then
//	  res = lhs % rhs; deopt if res == 0
//	else if rhs & (rhs - 1) == 0 then
//	  res = lhs & (rhs - 1)
//	else
//	  res = lhs % rhs
func (l *Linearizer) lowerCheckedInt32Mod(node, frameState, effect, control *ir.Node) vec {
	lhs, rhs := node.ValueInput(0), node.ValueInput(1)
	zero, one := l.i32(0), l.i32(1)

	ifNotPositive, ifPositive := l.branch(l.node(ir.OpInt32LessThanOrEqual, rhs, zero), control)
	negated := l.node(ir.OpInt32Sub, zero, rhs)
	guard := l.deoptimizeIf(ir.DeoptDivisionByZero, l.node(ir.OpWord32Equal, negated, zero), frameState, effect, ifNotPositive)
	r := l.join(access.RepWord32, vec{negated, guard, guard}, vec{rhs, effect, ifPositive})
	rhs, effect, control = r.value, r.effect, r.control

	ifNegative, ifNotNegative := l.branch(l.node(ir.OpInt32LessThan, lhs, zero), control)
	vneg := l.node(ir.OpInt32Mod, lhs, rhs, ifNegative)
	guard = l.deoptimizeIf(ir.DeoptMinusZero, l.node(ir.OpWord32Equal, vneg, zero), frameState, effect, ifNegative)

	mask := l.node(ir.OpInt32Sub, rhs, one)
	isPowerOfTwo := l.node(ir.OpWord32Equal, l.node(ir.OpWord32And, rhs, mask), zero)
	ifPow, ifNotPow := l.branch(isPowerOfTwo, ifNotNegative)
	vpow := l.node(ir.OpWord32And, lhs, mask)
	vmod := l.node(ir.OpInt32Mod, lhs, rhs, ifNotPow)
	nonNegative := l.join(access.RepWord32, vec{vpow, effect, ifPow}, vec{vmod, effect, ifNotPow})

	return l.join(access.RepWord32, vec{vneg, guard, guard}, nonNegative)
}

func (l *Linearizer) lowerCheckedUint32Div(node, frameState, effect, control *ir.Node) vec {
	lhs, rhs := node.ValueInput(0), node.ValueInput(1)
	guard := l.deoptimizeIf(ir.DeoptDivisionByZero, l.node(ir.OpWord32Equal, rhs, l.i32(0)), frameState, effect, control)
	value := l.node(ir.OpUint32Div, lhs, rhs, guard)
	check := l.node(ir.OpWord32Equal, lhs, l.node(ir.OpInt32Mul, rhs, value))
	guard = l.deoptimizeUnless(ir.DeoptLostPrecision, check, frameState, guard, guard)
	return vec{value, guard, guard}
}

func (l *Linearizer) lowerCheckedUint32Mod(node, frameState, effect, control *ir.Node) vec {
	lhs, rhs := node.ValueInput(0), node.ValueInput(1)
	guard := l.deoptimizeIf(ir.DeoptDivisionByZero, l.node(ir.OpWord32Equal, rhs, l.i32(0)), frameState, effect, control)
	return vec{l.node(ir.OpUint32Mod, lhs, rhs, guard), guard, guard}
}

func (l *Linearizer) lowerCheckedUint32ToInt32(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	check := l.node(ir.OpInt32LessThan, value, l.i32(0))
	guard := l.deoptimizeIf(ir.DeoptLostPrecision, check, frameState, effect, control)
	return vec{value, guard, guard}
}

func (l *Linearizer) lowerCheckedInt32ToTaggedSigned(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	if l.jsg.Is64 {
		return vec{l.changeInt32ToSmi(value), effect, control}
	}
	pair := l.node(ir.OpInt32AddWithOverflow, value, value)
	guard := l.deoptimizeIf(ir.DeoptOverflow, l.jsg.NewNode(ir.Projection(1), pair), frameState, effect, control)
	return vec{l.jsg.NewNode(ir.Projection(0), pair), guard, guard}
}

// checkedFloat64ToInt32 deoptimizes unless value is an int32 other than -0.
func (l *Linearizer) checkedFloat64ToInt32(value, frameState, effect, control *ir.Node) vec {
	zero := l.i32(0)
	value32 := l.node(ir.OpRoundFloat64ToInt32, value)
	checkSame := l.node(ir.OpFloat64Equal, value, l.node(ir.OpChangeInt32ToFloat64, value32))
	guard := l.deoptimizeUnless(ir.DeoptLostPrecisionOrNaN, checkSame, frameState, effect, control)

	ifZero, ifNotZero := l.branch(l.node(ir.OpWord32Equal, value32, zero), guard)
	checkNegative := l.node(ir.OpInt32LessThan, l.node(ir.OpFloat64ExtractHighWord32, value), zero)
	minusZero := l.deoptimizeIf(ir.DeoptMinusZero, checkNegative, frameState, guard, ifZero)

	control = l.merge(minusZero, ifNotZero)
	return vec{value32, l.effectPhi(minusZero, guard, control), control}
}

// checkedHeapNumberToFloat64 deoptimizes unless value is a heap number
// and loads its payload.
func (l *Linearizer) checkedHeapNumberToFloat64(value, frameState, effect, control *ir.Node) vec {
	valueMap := l.loadField(access.ForMap(), value, effect, control)
	check := l.node(ir.OpWordEqual, valueMap, l.jsg.HeapNumberMapConstant())
	guard := l.deoptimizeUnless(ir.DeoptNotAHeapNumber, check, frameState, valueMap, control)
	v, e := l.loadHeapNumberValue(value, guard, guard)
	return vec{v, e, guard}
}

func (l *Linearizer) lowerCheckedFloat64ToInt32(node, frameState, effect, control *ir.Node) vec {
	return l.checkedFloat64ToInt32(node.ValueInput(0), frameState, effect, control)
}

func (l *Linearizer) lowerCheckedTaggedSignedToInt32(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	guard := l.deoptimizeUnless(ir.DeoptNotASmi, l.objectIsSmi(value), frameState, effect, control)
	return vec{l.changeSmiToInt32(value), guard, guard}
}

// lowerCheckedTagged splits on Smi-ness; the heap object side is checked
// to be a heap number and converted by fromHeapNumber.
func (l *Linearizer) lowerCheckedTagged(
	node, frameState, effect, control *ir.Node,
	rep access.Representation,
	fromSmi func(*ir.Node) *ir.Node,
	fromHeapNumber func(value, effect, control *ir.Node) vec,
) vec {
	value := node.ValueInput(0)
	ifSmi, ifNotSmi := l.branch(l.objectIsSmi(value), control)
	number := l.checkedHeapNumberToFloat64(value, frameState, effect, ifNotSmi)
	return l.join(rep, vec{fromSmi(value), effect, ifSmi}, fromHeapNumber(number.value, number.effect, number.control))
}

func (l *Linearizer) lowerCheckedTaggedToInt32(node, frameState, effect, control *ir.Node) vec {
	return l.lowerCheckedTagged(node, frameState, effect, control, access.RepWord32, l.changeSmiToInt32,
		func(v, e, c *ir.Node) vec { return l.checkedFloat64ToInt32(v, frameState, e, c) })
}

func (l *Linearizer) lowerCheckedTaggedToFloat64(node, frameState, effect, control *ir.Node) vec {
	return l.lowerCheckedTagged(node, frameState, effect, control, access.RepFloat64, l.changeSmiToFloat64,
		func(v, e, c *ir.Node) vec { return vec{v, e, c} })
}

func (l *Linearizer) lowerCheckedTruncateTaggedToWord32(node, frameState, effect, control *ir.Node) vec {
	return l.lowerCheckedTagged(node, frameState, effect, control, access.RepWord32, l.changeSmiToInt32,
		func(v, e, c *ir.Node) vec { return vec{l.node(ir.OpTruncateFloat64ToWord32, v), e, c} })
}

func (l *Linearizer) lowerCheckedTaggedToTaggedSigned(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	guard := l.deoptimizeUnless(ir.DeoptNotASmi, l.objectIsSmi(value), frameState, effect, control)
	return vec{value, guard, guard}
}

func (l *Linearizer) lowerCheckedTaggedToTaggedPointer(node, frameState, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	guard := l.deoptimizeIf(ir.DeoptSmi, l.objectIsSmi(value), frameState, effect, control)
	return vec{value, guard, guard}
}
