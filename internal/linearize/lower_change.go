package linearize

import (
	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/ir"
)

func (l *Linearizer) lowerChangeBitToTagged(node, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	ifTrue, ifFalse := l.branch(value, control)
	control = l.merge(ifTrue, ifFalse)
	value = l.phi(access.RepTagged, l.jsg.TrueConstant(), l.jsg.FalseConstant(), control)
	return vec{value, effect, control}
}

func (l *Linearizer) lowerChangeInt31ToTaggedSigned(node, effect, control *ir.Node) vec {
	return vec{l.changeInt32ToSmi(node.ValueInput(0)), effect, control}
}

func (l *Linearizer) lowerChangeInt32ToTagged(node, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	if l.jsg.Is64 {
		return vec{l.changeInt32ToSmi(value), effect, control}
	}

	// Doubling the value is the Smi tag on 32-bit targets; overflow means
	// it needs a heap number.
	add := l.node(ir.OpInt32AddWithOverflow, value, value)
	ovf := l.jsg.NewNode(ir.Projection(1), add)
	ifTrue, ifFalse := l.branch(ovf, control)

	box := l.allocateHeapNumber(l.node(ir.OpChangeInt32ToFloat64, value), effect, ifTrue)
	smi := vec{l.jsg.NewNode(ir.Projection(0), add), effect, ifFalse}
	return l.join(access.RepTagged, box, smi)
}

func (l *Linearizer) lowerChangeUint32ToTagged(node, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	check := l.node(ir.OpUint32LessThanOrEqual, value, l.smiMaxValue())
	ifTrue, ifFalse := l.branch(check, control)

	var smi *ir.Node
	if l.jsg.Is64 {
		smi = l.changeInt32ToSmi(value)
	} else {
		smi = l.node(ir.OpWordShl, value, l.smiShift())
	}
	box := l.allocateHeapNumber(l.node(ir.OpChangeUint32ToFloat64, value), effect, ifFalse)
	return l.join(access.RepTagged, vec{smi, effect, ifTrue}, box)
}

func (l *Linearizer) lowerChangeFloat64ToTagged(node, effect, control *ir.Node) vec {
	value := node.ValueInput(0)
	zero := l.i32(0)

	value32 := l.node(ir.OpRoundFloat64ToInt32, value)
	checkSame := l.node(ir.OpFloat64Equal, value, l.node(ir.OpChangeInt32ToFloat64, value32))
	ifSmi, ifBox := l.branch(checkSame, control)

	// An integral zero may still be -0, which has no Smi form. The sign
	// lives in the high word.
	checkZero := l.node(ir.OpWord32Equal, value32, zero)
	ifZero, ifNotZero := l.branch(checkZero, ifSmi)
	checkNegative := l.node(ir.OpInt32LessThan, l.node(ir.OpFloat64ExtractHighWord32, value), zero)
	ifNegative, ifNotNegative := l.branch(checkNegative, ifZero)

	ifSmi = l.merge(ifNotZero, ifNotNegative)
	ifBox = l.merge(ifBox, ifNegative)

	var vsmi *ir.Node
	if l.jsg.Is64 {
		vsmi = l.changeInt32ToSmi(value32)
	} else {
		tagged := l.node(ir.OpInt32AddWithOverflow, value32, value32)
		ifOverflow, ifNoOverflow := l.branch(l.jsg.NewNode(ir.Projection(1), tagged), ifSmi)
		ifBox = l.merge(ifBox, ifOverflow)
		ifSmi = ifNoOverflow
		vsmi = l.jsg.NewNode(ir.Projection(0), tagged)
	}

	box := l.allocateHeapNumber(value, effect, ifBox)
	return l.join(access.RepTagged, vec{vsmi, effect, ifSmi}, box)
}

func (l *Linearizer) lowerChangeTaggedSignedToInt32(node, effect, control *ir.Node) vec {
	return vec{l.changeSmiToInt32(node.ValueInput(0)), effect, control}
}

func (l *Linearizer) lowerChangeTaggedToBit(node, effect, control *ir.Node) vec {
	value := l.node(ir.OpWordEqual, node.ValueInput(0), l.jsg.TrueConstant())
	return vec{value, effect, control}
}

// lowerTaggedToWord splits a tagged number into its Smi and heap number
// cases; fromSmi and fromFloat64 convert each side.
func (l *Linearizer) lowerTaggedToWord(
	node, effect, control *ir.Node,
	rep access.Representation,
	fromSmi func(*ir.Node) *ir.Node,
	fromFloat64 func(*ir.Node) *ir.Node,
) vec {
	value := node.ValueInput(0)
	ifTrue, ifFalse := l.branch(l.objectIsSmi(value), control)

	vtrue := fromSmi(value)
	vfalse, efalse := l.loadHeapNumberValue(value, effect, ifFalse)
	return l.join(rep, vec{vtrue, effect, ifTrue}, vec{fromFloat64(vfalse), efalse, ifFalse})
}

func (l *Linearizer) lowerChangeTaggedToInt32(node, effect, control *ir.Node) vec {
	return l.lowerTaggedToWord(node, effect, control, access.RepWord32, l.changeSmiToInt32,
		func(v *ir.Node) *ir.Node { return l.node(ir.OpChangeFloat64ToInt32, v) })
}

func (l *Linearizer) lowerChangeTaggedToUint32(node, effect, control *ir.Node) vec {
	return l.lowerTaggedToWord(node, effect, control, access.RepWord32, l.changeSmiToInt32,
		func(v *ir.Node) *ir.Node { return l.node(ir.OpChangeFloat64ToUint32, v) })
}

func (l *Linearizer) lowerChangeTaggedToFloat64(node, effect, control *ir.Node) vec {
	return l.lowerTruncateTaggedToFloat64(node, effect, control)
}

func (l *Linearizer) lowerTruncateTaggedToFloat64(node, effect, control *ir.Node) vec {
	return l.lowerTaggedToWord(node, effect, control, access.RepFloat64, l.changeSmiToFloat64,
		func(v *ir.Node) *ir.Node { return v })
}

func (l *Linearizer) lowerTruncateTaggedToWord32(node, effect, control *ir.Node) vec {
	return l.lowerTaggedToWord(node, effect, control, access.RepWord32, l.changeSmiToInt32,
		func(v *ir.Node) *ir.Node { return l.node(ir.OpTruncateFloat64ToWord32, v) })
}
