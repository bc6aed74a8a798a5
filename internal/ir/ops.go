package ir

import (
	"fmt"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
)

type shape struct {
	props               Properties
	vin, fsin, ein, cin int
	vout, eout, cout    int
}

var (
	pureUnary   = shape{props: PropPure, vin: 1, vout: 1}
	pureBinary  = shape{props: PropPure, vin: 2, vout: 1}
	commBinary  = shape{props: PropPure | PropCommutative, vin: 2, vout: 1}
	checkUnary  = shape{props: PropNoWrite | PropNoThrow, vin: 1, ein: 1, cin: 1, vout: 1, eout: 1}
	checkBinary = shape{props: PropNoWrite | PropNoThrow, vin: 2, ein: 1, cin: 1, vout: 1, eout: 1}
	jsBinary    = shape{vin: 2, fsin: 1, ein: 1, cin: 1, vout: 1, eout: 1, cout: 1}
	jsUnary     = shape{vin: 1, fsin: 1, ein: 1, cin: 1, vout: 1, eout: 1, cout: 1}
	controlLink = shape{props: PropNoWrite | PropNoThrow, cin: 1, cout: 1}
	divMod      = shape{props: PropPure, vin: 2, cin: 1, vout: 1}
)

// fixedShapes lists every operator that takes no parameter. Operators with
// a parameter are built by the constructor functions below.
var fixedShapes = map[Opcode]shape{
	OpStart:       {props: PropNoRead | PropNoWrite | PropNoThrow, vout: 1, eout: 1, cout: 1},
	OpDead:        {props: PropPure, vout: 1, eout: 1, cout: 1},
	OpBranch:      {props: PropNoWrite | PropNoThrow, vin: 1, cin: 1, cout: 2},
	OpIfTrue:      controlLink,
	OpIfFalse:     controlLink,
	OpIfSuccess:   controlLink,
	OpIfDefault:   controlLink,
	OpIfException: {props: PropNoWrite, ein: 1, cin: 1, vout: 1, eout: 1, cout: 1},
	OpReturn:      {props: PropNoThrow, vin: 1, ein: 1, cin: 1, cout: 1},
	OpThrow:       {vin: 1, ein: 1, cin: 1, cout: 1},
	OpTerminate:   {props: PropNoWrite | PropNoThrow, ein: 1, cin: 1, cout: 1},
	OpCheckpoint:  {props: PropNoWrite | PropNoThrow, fsin: 1, ein: 1, cin: 1, eout: 1},

	OpFinishRegion: {props: PropNoThrow, vin: 1, ein: 1, vout: 1, eout: 1},

	OpJSAdd:                jsBinary,
	OpJSSubtract:           jsBinary,
	OpJSMultiply:           jsBinary,
	OpJSDivide:             jsBinary,
	OpJSModulus:            jsBinary,
	OpJSBitwiseOr:          jsBinary,
	OpJSBitwiseXor:         jsBinary,
	OpJSBitwiseAnd:         jsBinary,
	OpJSShiftLeft:          jsBinary,
	OpJSShiftRight:         jsBinary,
	OpJSShiftRightLogical:  jsBinary,
	OpJSLessThan:           jsBinary,
	OpJSGreaterThan:        jsBinary,
	OpJSLessThanOrEqual:    jsBinary,
	OpJSGreaterThanOrEqual: jsBinary,
	OpJSEqual:              jsBinary,
	OpJSNotEqual:           jsBinary,
	OpJSStrictEqual:        commBinary,
	OpJSStrictNotEqual:     commBinary,
	OpJSToNumber:           jsUnary,
	OpJSToString:           jsUnary,
	OpJSToBoolean:          pureUnary,
	OpJSLoadProperty:       jsBinary,
	OpJSStoreProperty:      {vin: 3, fsin: 1, ein: 1, cin: 1, eout: 1, cout: 1},

	OpBooleanNot:              pureUnary,
	OpNumberEqual:             commBinary,
	OpNumberLessThan:          pureBinary,
	OpNumberLessThanOrEqual:   pureBinary,
	OpNumberAdd:               commBinary,
	OpNumberSubtract:          pureBinary,
	OpNumberMultiply:          commBinary,
	OpNumberDivide:            pureBinary,
	OpNumberModulus:           pureBinary,
	OpNumberBitwiseOr:         commBinary,
	OpNumberBitwiseXor:        commBinary,
	OpNumberBitwiseAnd:        commBinary,
	OpNumberShiftLeft:         pureBinary,
	OpNumberShiftRight:        pureBinary,
	OpNumberShiftRightLogical: pureBinary,
	OpNumberToInt32:           pureUnary,
	OpNumberToUint32:          pureUnary,
	OpPlainPrimitiveToNumber:  pureUnary,
	OpStringEqual:             commBinary,
	OpStringLessThan:          pureBinary,
	OpStringLessThanOrEqual:   pureBinary,
	OpStringConcat:            pureBinary,
	OpReferenceEqual:          commBinary,
	OpAllocate:                {props: PropNoThrow | PropNoDeopt, vin: 1, ein: 1, cin: 1, vout: 1, eout: 1},
	OpFloat64Floor:            pureUnary,

	OpChangeBitToTagged:         pureUnary,
	OpChangeInt31ToTaggedSigned: pureUnary,
	OpChangeInt32ToTagged:       pureUnary,
	OpChangeUint32ToTagged:      pureUnary,
	OpChangeFloat64ToTagged:     pureUnary,
	OpChangeTaggedSignedToInt32: pureUnary,
	OpChangeTaggedToBit:         pureUnary,
	OpChangeTaggedToInt32:       pureUnary,
	OpChangeTaggedToUint32:      pureUnary,
	OpChangeTaggedToFloat64:     pureUnary,
	OpTruncateTaggedToWord32:    pureUnary,
	OpTruncateTaggedToFloat64:   pureUnary,

	OpCheckBounds:       checkBinary,
	OpCheckNumber:       checkUnary,
	OpCheckString:       checkUnary,
	OpCheckIf:           {props: PropNoWrite | PropNoThrow, vin: 1, ein: 1, cin: 1, eout: 1},
	OpCheckHeapObject:   checkUnary,
	OpCheckTaggedSigned: checkUnary,

	OpCheckedInt32Add:               checkBinary,
	OpCheckedInt32Sub:               checkBinary,
	OpCheckedInt32Mul:               checkBinary,
	OpCheckedInt32Div:               checkBinary,
	OpCheckedInt32Mod:               checkBinary,
	OpCheckedUint32Div:              checkBinary,
	OpCheckedUint32Mod:              checkBinary,
	OpCheckedUint32ToInt32:          checkUnary,
	OpCheckedInt32ToTaggedSigned:    checkUnary,
	OpCheckedFloat64ToInt32:         checkUnary,
	OpCheckedTaggedSignedToInt32:    checkUnary,
	OpCheckedTaggedToInt32:          checkUnary,
	OpCheckedTaggedToFloat64:        checkUnary,
	OpCheckedTruncateTaggedToWord32: checkUnary,
	OpCheckedTaggedToTaggedSigned:   checkUnary,
	OpCheckedTaggedToTaggedPointer:  checkUnary,

	OpObjectIsCallable:     pureUnary,
	OpObjectIsNumber:       pureUnary,
	OpObjectIsReceiver:     pureUnary,
	OpObjectIsSmi:          pureUnary,
	OpObjectIsString:       pureUnary,
	OpObjectIsUndetectable: pureUnary,

	OpWord32And:                commBinary,
	OpWord32Or:                 commBinary,
	OpWord32Xor:                commBinary,
	OpWord32Shl:                pureBinary,
	OpWord32Shr:                pureBinary,
	OpWord32Sar:                pureBinary,
	OpWord32Equal:              commBinary,
	OpWordAnd:                  commBinary,
	OpWordShl:                  pureBinary,
	OpWordSar:                  pureBinary,
	OpWordEqual:                commBinary,
	OpInt32Add:                 commBinary,
	OpInt32Sub:                 pureBinary,
	OpInt32Mul:                 commBinary,
	OpInt32Div:                 divMod,
	OpInt32Mod:                 divMod,
	OpUint32Div:                divMod,
	OpUint32Mod:                divMod,
	OpInt32AddWithOverflow:     {props: PropPure | PropCommutative, vin: 2, vout: 2},
	OpInt32SubWithOverflow:     {props: PropPure, vin: 2, vout: 2},
	OpInt32MulWithOverflow:     {props: PropPure | PropCommutative, vin: 2, vout: 2},
	OpInt32LessThan:            pureBinary,
	OpInt32LessThanOrEqual:     pureBinary,
	OpUint32LessThan:           pureBinary,
	OpUint32LessThanOrEqual:    pureBinary,
	OpChangeInt32ToInt64:       pureUnary,
	OpTruncateInt64ToInt32:     pureUnary,
	OpChangeInt32ToFloat64:     pureUnary,
	OpChangeUint32ToFloat64:    pureUnary,
	OpChangeFloat64ToInt32:     pureUnary,
	OpChangeFloat64ToUint32:    pureUnary,
	OpTruncateFloat64ToWord32:  pureUnary,
	OpRoundFloat64ToInt32:      pureUnary,
	OpFloat64Add:               commBinary,
	OpFloat64Sub:               pureBinary,
	OpFloat64Mul:               commBinary,
	OpFloat64Div:               pureBinary,
	OpFloat64Mod:               pureBinary,
	OpFloat64Equal:             commBinary,
	OpFloat64LessThan:          pureBinary,
	OpFloat64LessThanOrEqual:   pureBinary,
	OpFloat64ExtractHighWord32: pureUnary,
	OpFloat64RoundDown:         pureUnary,
}

var fixedOps = func() map[Opcode]*Operator {
	m := make(map[Opcode]*Operator, len(fixedShapes))
	for code, s := range fixedShapes {
		m[code] = s.operator(code, nil)
	}
	return m
}()

func (s shape) operator(code Opcode, param any) *Operator {
	return &Operator{
		Opcode:       code,
		Properties:   s.props,
		ValueIn:      s.vin,
		FrameStateIn: s.fsin,
		EffectIn:     s.ein,
		ControlIn:    s.cin,
		ValueOut:     s.vout,
		EffectOut:    s.eout,
		ControlOut:   s.cout,
		Param:        param,
	}
}

// Op returns the shared operator for an opcode that takes no parameter.
// It panics for parameterized opcodes.
func Op(code Opcode) *Operator {
	op, ok := fixedOps[code]
	if !ok {
		panic(fmt.Sprintf("ir: %s needs a parameter", code))
	}
	return op
}

// HasFixedOp reports whether Op(code) is valid.
func HasFixedOp(code Opcode) bool {
	_, ok := fixedOps[code]
	return ok
}

func End(controls int) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, cin: controls}.operator(OpEnd, nil)
}

func Merge(controls int) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, cin: controls, cout: 1}.operator(OpMerge, nil)
}

// Loop joins the entry edge (input 0) with one or more back edges.
func Loop(controls int) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, cin: controls, cout: 1}.operator(OpLoop, nil)
}

func Switch(successors int) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, vin: 1, cin: 1, cout: successors}.operator(OpSwitch, nil)
}

func IfValue(value int64) *Operator {
	return controlLink.operator(OpIfValue, value)
}

func Deoptimize(reason DeoptReason) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, fsin: 1, ein: 1, cin: 1, cout: 1}.operator(OpDeoptimize, reason)
}

func DeoptimizeIf(reason DeoptReason) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, vin: 1, fsin: 1, ein: 1, cin: 1, eout: 1, cout: 1}.operator(OpDeoptimizeIf, reason)
}

func DeoptimizeUnless(reason DeoptReason) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, vin: 1, fsin: 1, ein: 1, cin: 1, eout: 1, cout: 1}.operator(OpDeoptimizeUnless, reason)
}

// Call calls the first value input with the remaining ones as arguments.
func Call(values int) *Operator {
	return shape{vin: values, ein: 1, cin: 1, vout: 1, eout: 1, cout: 1}.operator(OpCall, nil)
}

func TailCall(values int) *Operator {
	return shape{vin: values, ein: 1, cin: 1, cout: 1}.operator(OpTailCall, nil)
}

// Parameter reads incoming parameter index; its single input is Start.
func Parameter(index int) *Operator {
	return pureUnary.operator(OpParameter, index)
}

func Int32Constant(v int32) *Operator {
	return shape{props: PropPure, vout: 1}.operator(OpInt32Constant, v)
}

func Int64Constant(v int64) *Operator {
	return shape{props: PropPure, vout: 1}.operator(OpInt64Constant, v)
}

func Float64Constant(v float64) *Operator {
	return shape{props: PropPure, vout: 1}.operator(OpFloat64Constant, v)
}

func NumberConstant(v float64) *Operator {
	return shape{props: PropPure, vout: 1}.operator(OpNumberConstant, v)
}

func HeapConstant(o *heap.Object) *Operator {
	return shape{props: PropPure, vout: 1}.operator(OpHeapConstant, o)
}

// Phi selects one of values by the control predecessor of its merge, which
// is its last input.
func Phi(rep access.Representation, values int) *Operator {
	return shape{props: PropPure, vin: values, cin: 1, vout: 1}.operator(OpPhi, rep)
}

func EffectPhi(effects int) *Operator {
	return shape{props: PropPure, ein: effects, cin: 1, eout: 1}.operator(OpEffectPhi, nil)
}

func BeginRegion(obs RegionObservability) *Operator {
	return shape{props: PropNoThrow, ein: 1, eout: 1}.operator(OpBeginRegion, obs)
}

// FrameState captures values for resumption at info.BailoutID.
func FrameState(info FrameStateInfo, values int) *Operator {
	return shape{props: PropPure, vin: values, vout: 1}.operator(OpFrameState, info)
}

func Projection(index int) *Operator {
	return pureUnary.operator(OpProjection, index)
}

func JSLoadContext(ca ContextAccess) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, vin: 1, ein: 1, vout: 1, eout: 1}.operator(OpJSLoadContext, ca)
}

// JSStoreContext takes the context and then the value to store.
func JSStoreContext(ca ContextAccess) *Operator {
	return shape{props: PropNoRead | PropNoThrow, vin: 2, ein: 1, eout: 1}.operator(OpJSStoreContext, ca)
}

func LoadField(fa access.FieldAccess) *Operator {
	return shape{props: PropNoWrite | PropNoThrow | PropNoDeopt, vin: 1, ein: 1, cin: 1, vout: 1, eout: 1}.operator(OpLoadField, fa)
}

func StoreField(fa access.FieldAccess) *Operator {
	return shape{props: PropNoRead | PropNoThrow | PropNoDeopt, vin: 2, ein: 1, cin: 1, eout: 1}.operator(OpStoreField, fa)
}

func LoadElement(ea access.ElementAccess) *Operator {
	return shape{props: PropNoWrite | PropNoThrow | PropNoDeopt, vin: 2, ein: 1, cin: 1, vout: 1, eout: 1}.operator(OpLoadElement, ea)
}

func StoreElement(ea access.ElementAccess) *Operator {
	return shape{props: PropNoRead | PropNoThrow | PropNoDeopt, vin: 3, ein: 1, cin: 1, eout: 1}.operator(OpStoreElement, ea)
}

// LoadBuffer takes buffer, byte offset and byte length.
func LoadBuffer(ba access.BufferAccess) *Operator {
	return shape{props: PropNoWrite | PropNoThrow | PropNoDeopt, vin: 3, ein: 1, cin: 1, vout: 1, eout: 1}.operator(OpLoadBuffer, ba)
}

// StoreBuffer takes buffer, byte offset, byte length and value.
func StoreBuffer(ba access.BufferAccess) *Operator {
	return shape{props: PropNoRead | PropNoThrow | PropNoDeopt, vin: 4, ein: 1, cin: 1, eout: 1}.operator(OpStoreBuffer, ba)
}

// CheckMaps takes the object followed by maps candidate maps.
func CheckMaps(maps int) *Operator {
	return shape{props: PropNoWrite | PropNoThrow, vin: 1 + maps, ein: 1, cin: 1, eout: 1}.operator(OpCheckMaps, maps)
}
