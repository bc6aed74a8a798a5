package linearize

import (
	"github.com/roach88/nodejit/internal/ir"
)

type (
	pureLowering  func(l *Linearizer, node, effect, control *ir.Node) vec
	guardLowering func(l *Linearizer, node, frameState, effect, control *ir.Node) vec
)

// pureLowerings expand representation changes and type tests. They never
// deoptimize.
var pureLowerings = map[ir.Opcode]pureLowering{
	ir.OpChangeBitToTagged:         (*Linearizer).lowerChangeBitToTagged,
	ir.OpChangeInt31ToTaggedSigned: (*Linearizer).lowerChangeInt31ToTaggedSigned,
	ir.OpChangeInt32ToTagged:       (*Linearizer).lowerChangeInt32ToTagged,
	ir.OpChangeUint32ToTagged:      (*Linearizer).lowerChangeUint32ToTagged,
	ir.OpChangeFloat64ToTagged:     (*Linearizer).lowerChangeFloat64ToTagged,
	ir.OpChangeTaggedSignedToInt32: (*Linearizer).lowerChangeTaggedSignedToInt32,
	ir.OpChangeTaggedToBit:         (*Linearizer).lowerChangeTaggedToBit,
	ir.OpChangeTaggedToInt32:       (*Linearizer).lowerChangeTaggedToInt32,
	ir.OpChangeTaggedToUint32:      (*Linearizer).lowerChangeTaggedToUint32,
	ir.OpChangeTaggedToFloat64:     (*Linearizer).lowerChangeTaggedToFloat64,
	ir.OpTruncateTaggedToFloat64:   (*Linearizer).lowerTruncateTaggedToFloat64,
	ir.OpTruncateTaggedToWord32:    (*Linearizer).lowerTruncateTaggedToWord32,
	ir.OpObjectIsCallable:          (*Linearizer).lowerObjectIsCallable,
	ir.OpObjectIsNumber:            (*Linearizer).lowerObjectIsNumber,
	ir.OpObjectIsReceiver:          (*Linearizer).lowerObjectIsReceiver,
	ir.OpObjectIsSmi:               (*Linearizer).lowerObjectIsSmi,
	ir.OpObjectIsString:            (*Linearizer).lowerObjectIsString,
	ir.OpObjectIsUndetectable:      (*Linearizer).lowerObjectIsUndetectable,
	ir.OpFloat64Floor:              (*Linearizer).lowerFloat64Floor,
}

// guardLowerings need the current frame state to deoptimize to.
var guardLowerings = map[ir.Opcode]guardLowering{
	ir.OpCheckBounds:                   (*Linearizer).lowerCheckBounds,
	ir.OpCheckNumber:                   (*Linearizer).lowerCheckNumber,
	ir.OpCheckString:                   (*Linearizer).lowerCheckString,
	ir.OpCheckIf:                       (*Linearizer).lowerCheckIf,
	ir.OpCheckHeapObject:               (*Linearizer).lowerCheckHeapObject,
	ir.OpCheckTaggedSigned:             (*Linearizer).lowerCheckTaggedSigned,
	ir.OpCheckMaps:                     (*Linearizer).lowerCheckMaps,
	ir.OpCheckedInt32Add:               (*Linearizer).lowerCheckedInt32Add,
	ir.OpCheckedInt32Sub:               (*Linearizer).lowerCheckedInt32Sub,
	ir.OpCheckedInt32Mul:               (*Linearizer).lowerCheckedInt32Mul,
	ir.OpCheckedInt32Div:               (*Linearizer).lowerCheckedInt32Div,
	ir.OpCheckedInt32Mod:               (*Linearizer).lowerCheckedInt32Mod,
	ir.OpCheckedUint32Div:              (*Linearizer).lowerCheckedUint32Div,
	ir.OpCheckedUint32Mod:              (*Linearizer).lowerCheckedUint32Mod,
	ir.OpCheckedUint32ToInt32:          (*Linearizer).lowerCheckedUint32ToInt32,
	ir.OpCheckedInt32ToTaggedSigned:    (*Linearizer).lowerCheckedInt32ToTaggedSigned,
	ir.OpCheckedFloat64ToInt32:         (*Linearizer).lowerCheckedFloat64ToInt32,
	ir.OpCheckedTaggedSignedToInt32:    (*Linearizer).lowerCheckedTaggedSignedToInt32,
	ir.OpCheckedTaggedToInt32:          (*Linearizer).lowerCheckedTaggedToInt32,
	ir.OpCheckedTaggedToFloat64:        (*Linearizer).lowerCheckedTaggedToFloat64,
	ir.OpCheckedTruncateTaggedToWord32: (*Linearizer).lowerCheckedTruncateTaggedToWord32,
	ir.OpCheckedTaggedToTaggedSigned:   (*Linearizer).lowerCheckedTaggedToTaggedSigned,
	ir.OpCheckedTaggedToTaggedPointer:  (*Linearizer).lowerCheckedTaggedToTaggedPointer,
}

// Lowers reports whether the linearizer expands nodes with opcode code.
func Lowers(code ir.Opcode) bool {
	_, pure := pureLowerings[code]
	_, guard := guardLowerings[code]
	return pure || guard
}

// tryWireInStateEffect expands node in place of the effect and control
// cursors. Uses of node move to the expansion by edge kind and node dies.
func (l *Linearizer) tryWireInStateEffect(node, frameState *ir.Node, effect, control **ir.Node) bool {
	var r vec
	if lower, ok := pureLowerings[node.Opcode()]; ok {
		r = lower(l, node, *effect, *control)
	} else if lower, ok := guardLowerings[node.Opcode()]; ok {
		if frameState == nil {
			violation(ErrCodeMissingFrameState, node, -1, "%s needs a checkpoint before it", node.Op())
		}
		r = lower(l, node, frameState, *effect, *control)
	} else {
		return false
	}

	l.stats.Lowered++
	node.ReplaceUsesByKind(r.value, r.effect, r.control)
	node.Kill()
	*effect = r.effect
	*control = r.control
	return true
}
