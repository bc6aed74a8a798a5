package ir

import "fmt"

// Opcode identifies an operation.
type Opcode int

const (
	OpInvalid Opcode = iota

	// Common control and value plumbing.
	OpStart
	OpEnd
	OpDead
	OpMerge
	OpLoop
	OpBranch
	OpIfTrue
	OpIfFalse
	OpIfSuccess
	OpIfException
	OpSwitch
	OpIfValue
	OpIfDefault
	OpReturn
	OpThrow
	OpTerminate
	OpDeoptimize
	OpDeoptimizeIf
	OpDeoptimizeUnless
	OpCall
	OpTailCall
	OpParameter
	OpInt32Constant
	OpInt64Constant
	OpFloat64Constant
	OpNumberConstant
	OpHeapConstant
	OpPhi
	OpEffectPhi
	OpCheckpoint
	OpBeginRegion
	OpFinishRegion
	OpFrameState
	OpProjection

	// Generic JavaScript operators.
	OpJSAdd
	OpJSSubtract
	OpJSMultiply
	OpJSDivide
	OpJSModulus
	OpJSBitwiseOr
	OpJSBitwiseXor
	OpJSBitwiseAnd
	OpJSShiftLeft
	OpJSShiftRight
	OpJSShiftRightLogical
	OpJSLessThan
	OpJSGreaterThan
	OpJSLessThanOrEqual
	OpJSGreaterThanOrEqual
	OpJSEqual
	OpJSNotEqual
	OpJSStrictEqual
	OpJSStrictNotEqual
	OpJSToNumber
	OpJSToString
	OpJSToBoolean
	OpJSLoadProperty
	OpJSStoreProperty
	OpJSLoadContext
	OpJSStoreContext

	// Simplified operators.
	OpBooleanNot
	OpNumberEqual
	OpNumberLessThan
	OpNumberLessThanOrEqual
	OpNumberAdd
	OpNumberSubtract
	OpNumberMultiply
	OpNumberDivide
	OpNumberModulus
	OpNumberBitwiseOr
	OpNumberBitwiseXor
	OpNumberBitwiseAnd
	OpNumberShiftLeft
	OpNumberShiftRight
	OpNumberShiftRightLogical
	OpNumberToInt32
	OpNumberToUint32
	OpPlainPrimitiveToNumber
	OpStringEqual
	OpStringLessThan
	OpStringLessThanOrEqual
	OpStringConcat
	OpReferenceEqual
	OpAllocate
	OpLoadField
	OpStoreField
	OpLoadElement
	OpStoreElement
	OpLoadBuffer
	OpStoreBuffer
	OpFloat64Floor

	OpChangeBitToTagged
	OpChangeInt31ToTaggedSigned
	OpChangeInt32ToTagged
	OpChangeUint32ToTagged
	OpChangeFloat64ToTagged
	OpChangeTaggedSignedToInt32
	OpChangeTaggedToBit
	OpChangeTaggedToInt32
	OpChangeTaggedToUint32
	OpChangeTaggedToFloat64
	OpTruncateTaggedToWord32
	OpTruncateTaggedToFloat64

	OpCheckBounds
	OpCheckNumber
	OpCheckString
	OpCheckIf
	OpCheckHeapObject
	OpCheckTaggedSigned
	OpCheckMaps

	OpCheckedInt32Add
	OpCheckedInt32Sub
	OpCheckedInt32Mul
	OpCheckedInt32Div
	OpCheckedInt32Mod
	OpCheckedUint32Div
	OpCheckedUint32Mod
	OpCheckedUint32ToInt32
	OpCheckedInt32ToTaggedSigned
	OpCheckedFloat64ToInt32
	OpCheckedTaggedSignedToInt32
	OpCheckedTaggedToInt32
	OpCheckedTaggedToFloat64
	OpCheckedTruncateTaggedToWord32
	OpCheckedTaggedToTaggedSigned
	OpCheckedTaggedToTaggedPointer

	OpObjectIsCallable
	OpObjectIsNumber
	OpObjectIsReceiver
	OpObjectIsSmi
	OpObjectIsString
	OpObjectIsUndetectable

	// Machine operators. Word* operators are pointer sized.
	OpWord32And
	OpWord32Or
	OpWord32Xor
	OpWord32Shl
	OpWord32Shr
	OpWord32Sar
	OpWord32Equal
	OpWordAnd
	OpWordShl
	OpWordSar
	OpWordEqual
	OpInt32Add
	OpInt32Sub
	OpInt32Mul
	OpInt32Div
	OpInt32Mod
	OpUint32Div
	OpUint32Mod
	OpInt32AddWithOverflow
	OpInt32SubWithOverflow
	OpInt32MulWithOverflow
	OpInt32LessThan
	OpInt32LessThanOrEqual
	OpUint32LessThan
	OpUint32LessThanOrEqual
	OpChangeInt32ToInt64
	OpTruncateInt64ToInt32
	OpChangeInt32ToFloat64
	OpChangeUint32ToFloat64
	OpChangeFloat64ToInt32
	OpChangeFloat64ToUint32
	OpTruncateFloat64ToWord32
	OpRoundFloat64ToInt32
	OpFloat64Add
	OpFloat64Sub
	OpFloat64Mul
	OpFloat64Div
	OpFloat64Mod
	OpFloat64Equal
	OpFloat64LessThan
	OpFloat64LessThanOrEqual
	OpFloat64ExtractHighWord32
	OpFloat64RoundDown

	opcodeCount
)

var opcodeNames = [opcodeCount]string{
	OpInvalid:                       "Invalid",
	OpStart:                         "Start",
	OpEnd:                           "End",
	OpDead:                          "Dead",
	OpMerge:                         "Merge",
	OpLoop:                          "Loop",
	OpBranch:                        "Branch",
	OpIfTrue:                        "IfTrue",
	OpIfFalse:                       "IfFalse",
	OpIfSuccess:                     "IfSuccess",
	OpIfException:                   "IfException",
	OpSwitch:                        "Switch",
	OpIfValue:                       "IfValue",
	OpIfDefault:                     "IfDefault",
	OpReturn:                        "Return",
	OpThrow:                         "Throw",
	OpTerminate:                     "Terminate",
	OpDeoptimize:                    "Deoptimize",
	OpDeoptimizeIf:                  "DeoptimizeIf",
	OpDeoptimizeUnless:              "DeoptimizeUnless",
	OpCall:                          "Call",
	OpTailCall:                      "TailCall",
	OpParameter:                     "Parameter",
	OpInt32Constant:                 "Int32Constant",
	OpInt64Constant:                 "Int64Constant",
	OpFloat64Constant:               "Float64Constant",
	OpNumberConstant:                "NumberConstant",
	OpHeapConstant:                  "HeapConstant",
	OpPhi:                           "Phi",
	OpEffectPhi:                     "EffectPhi",
	OpCheckpoint:                    "Checkpoint",
	OpBeginRegion:                   "BeginRegion",
	OpFinishRegion:                  "FinishRegion",
	OpFrameState:                    "FrameState",
	OpProjection:                    "Projection",
	OpJSAdd:                         "JSAdd",
	OpJSSubtract:                    "JSSubtract",
	OpJSMultiply:                    "JSMultiply",
	OpJSDivide:                      "JSDivide",
	OpJSModulus:                     "JSModulus",
	OpJSBitwiseOr:                   "JSBitwiseOr",
	OpJSBitwiseXor:                  "JSBitwiseXor",
	OpJSBitwiseAnd:                  "JSBitwiseAnd",
	OpJSShiftLeft:                   "JSShiftLeft",
	OpJSShiftRight:                  "JSShiftRight",
	OpJSShiftRightLogical:           "JSShiftRightLogical",
	OpJSLessThan:                    "JSLessThan",
	OpJSGreaterThan:                 "JSGreaterThan",
	OpJSLessThanOrEqual:             "JSLessThanOrEqual",
	OpJSGreaterThanOrEqual:          "JSGreaterThanOrEqual",
	OpJSEqual:                       "JSEqual",
	OpJSNotEqual:                    "JSNotEqual",
	OpJSStrictEqual:                 "JSStrictEqual",
	OpJSStrictNotEqual:              "JSStrictNotEqual",
	OpJSToNumber:                    "JSToNumber",
	OpJSToString:                    "JSToString",
	OpJSToBoolean:                   "JSToBoolean",
	OpJSLoadProperty:                "JSLoadProperty",
	OpJSStoreProperty:               "JSStoreProperty",
	OpJSLoadContext:                 "JSLoadContext",
	OpJSStoreContext:                "JSStoreContext",
	OpBooleanNot:                    "BooleanNot",
	OpNumberEqual:                   "NumberEqual",
	OpNumberLessThan:                "NumberLessThan",
	OpNumberLessThanOrEqual:         "NumberLessThanOrEqual",
	OpNumberAdd:                     "NumberAdd",
	OpNumberSubtract:                "NumberSubtract",
	OpNumberMultiply:                "NumberMultiply",
	OpNumberDivide:                  "NumberDivide",
	OpNumberModulus:                 "NumberModulus",
	OpNumberBitwiseOr:               "NumberBitwiseOr",
	OpNumberBitwiseXor:              "NumberBitwiseXor",
	OpNumberBitwiseAnd:              "NumberBitwiseAnd",
	OpNumberShiftLeft:               "NumberShiftLeft",
	OpNumberShiftRight:              "NumberShiftRight",
	OpNumberShiftRightLogical:       "NumberShiftRightLogical",
	OpNumberToInt32:                 "NumberToInt32",
	OpNumberToUint32:                "NumberToUint32",
	OpPlainPrimitiveToNumber:        "PlainPrimitiveToNumber",
	OpStringEqual:                   "StringEqual",
	OpStringLessThan:                "StringLessThan",
	OpStringLessThanOrEqual:         "StringLessThanOrEqual",
	OpStringConcat:                  "StringConcat",
	OpReferenceEqual:                "ReferenceEqual",
	OpAllocate:                      "Allocate",
	OpLoadField:                     "LoadField",
	OpStoreField:                    "StoreField",
	OpLoadElement:                   "LoadElement",
	OpStoreElement:                  "StoreElement",
	OpLoadBuffer:                    "LoadBuffer",
	OpStoreBuffer:                   "StoreBuffer",
	OpFloat64Floor:                  "Float64Floor",
	OpChangeBitToTagged:             "ChangeBitToTagged",
	OpChangeInt31ToTaggedSigned:     "ChangeInt31ToTaggedSigned",
	OpChangeInt32ToTagged:           "ChangeInt32ToTagged",
	OpChangeUint32ToTagged:          "ChangeUint32ToTagged",
	OpChangeFloat64ToTagged:         "ChangeFloat64ToTagged",
	OpChangeTaggedSignedToInt32:     "ChangeTaggedSignedToInt32",
	OpChangeTaggedToBit:             "ChangeTaggedToBit",
	OpChangeTaggedToInt32:           "ChangeTaggedToInt32",
	OpChangeTaggedToUint32:          "ChangeTaggedToUint32",
	OpChangeTaggedToFloat64:         "ChangeTaggedToFloat64",
	OpTruncateTaggedToWord32:        "TruncateTaggedToWord32",
	OpTruncateTaggedToFloat64:       "TruncateTaggedToFloat64",
	OpCheckBounds:                   "CheckBounds",
	OpCheckNumber:                   "CheckNumber",
	OpCheckString:                   "CheckString",
	OpCheckIf:                       "CheckIf",
	OpCheckHeapObject:               "CheckHeapObject",
	OpCheckTaggedSigned:             "CheckTaggedSigned",
	OpCheckMaps:                     "CheckMaps",
	OpCheckedInt32Add:               "CheckedInt32Add",
	OpCheckedInt32Sub:               "CheckedInt32Sub",
	OpCheckedInt32Mul:               "CheckedInt32Mul",
	OpCheckedInt32Div:               "CheckedInt32Div",
	OpCheckedInt32Mod:               "CheckedInt32Mod",
	OpCheckedUint32Div:              "CheckedUint32Div",
	OpCheckedUint32Mod:              "CheckedUint32Mod",
	OpCheckedUint32ToInt32:          "CheckedUint32ToInt32",
	OpCheckedInt32ToTaggedSigned:    "CheckedInt32ToTaggedSigned",
	OpCheckedFloat64ToInt32:         "CheckedFloat64ToInt32",
	OpCheckedTaggedSignedToInt32:    "CheckedTaggedSignedToInt32",
	OpCheckedTaggedToInt32:          "CheckedTaggedToInt32",
	OpCheckedTaggedToFloat64:        "CheckedTaggedToFloat64",
	OpCheckedTruncateTaggedToWord32: "CheckedTruncateTaggedToWord32",
	OpCheckedTaggedToTaggedSigned:   "CheckedTaggedToTaggedSigned",
	OpCheckedTaggedToTaggedPointer:  "CheckedTaggedToTaggedPointer",
	OpObjectIsCallable:              "ObjectIsCallable",
	OpObjectIsNumber:                "ObjectIsNumber",
	OpObjectIsReceiver:              "ObjectIsReceiver",
	OpObjectIsSmi:                   "ObjectIsSmi",
	OpObjectIsString:                "ObjectIsString",
	OpObjectIsUndetectable:          "ObjectIsUndetectable",
	OpWord32And:                     "Word32And",
	OpWord32Or:                      "Word32Or",
	OpWord32Xor:                     "Word32Xor",
	OpWord32Shl:                     "Word32Shl",
	OpWord32Shr:                     "Word32Shr",
	OpWord32Sar:                     "Word32Sar",
	OpWord32Equal:                   "Word32Equal",
	OpWordAnd:                       "WordAnd",
	OpWordShl:                       "WordShl",
	OpWordSar:                       "WordSar",
	OpWordEqual:                     "WordEqual",
	OpInt32Add:                      "Int32Add",
	OpInt32Sub:                      "Int32Sub",
	OpInt32Mul:                      "Int32Mul",
	OpInt32Div:                      "Int32Div",
	OpInt32Mod:                      "Int32Mod",
	OpUint32Div:                     "Uint32Div",
	OpUint32Mod:                     "Uint32Mod",
	OpInt32AddWithOverflow:          "Int32AddWithOverflow",
	OpInt32SubWithOverflow:          "Int32SubWithOverflow",
	OpInt32MulWithOverflow:          "Int32MulWithOverflow",
	OpInt32LessThan:                 "Int32LessThan",
	OpInt32LessThanOrEqual:          "Int32LessThanOrEqual",
	OpUint32LessThan:                "Uint32LessThan",
	OpUint32LessThanOrEqual:         "Uint32LessThanOrEqual",
	OpChangeInt32ToInt64:            "ChangeInt32ToInt64",
	OpTruncateInt64ToInt32:          "TruncateInt64ToInt32",
	OpChangeInt32ToFloat64:          "ChangeInt32ToFloat64",
	OpChangeUint32ToFloat64:         "ChangeUint32ToFloat64",
	OpChangeFloat64ToInt32:          "ChangeFloat64ToInt32",
	OpChangeFloat64ToUint32:         "ChangeFloat64ToUint32",
	OpTruncateFloat64ToWord32:       "TruncateFloat64ToWord32",
	OpRoundFloat64ToInt32:           "RoundFloat64ToInt32",
	OpFloat64Add:                    "Float64Add",
	OpFloat64Sub:                    "Float64Sub",
	OpFloat64Mul:                    "Float64Mul",
	OpFloat64Div:                    "Float64Div",
	OpFloat64Mod:                    "Float64Mod",
	OpFloat64Equal:                  "Float64Equal",
	OpFloat64LessThan:               "Float64LessThan",
	OpFloat64LessThanOrEqual:        "Float64LessThanOrEqual",
	OpFloat64ExtractHighWord32:      "Float64ExtractHighWord32",
	OpFloat64RoundDown:              "Float64RoundDown",
}

func (o Opcode) String() string {
	if o < 0 || o >= opcodeCount {
		return fmt.Sprintf("Opcode(%d)", int(o))
	}
	return opcodeNames[o]
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, opcodeCount)
	for op := OpStart; op < opcodeCount; op++ {
		m[opcodeNames[op]] = op
	}
	return m
}()

// LookupOpcode returns the opcode with the given name.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// IsJS reports whether o is a generic JavaScript operator.
func (o Opcode) IsJS() bool { return o >= OpJSAdd && o <= OpJSStoreContext }

// IsMachine reports whether o is a machine-level operator.
func (o Opcode) IsMachine() bool { return o >= OpWord32And && o < opcodeCount }

// IsSimplified reports whether o sits between the JS and machine levels.
func (o Opcode) IsSimplified() bool { return o >= OpBooleanNot && o < OpWord32And }

// IsCommon reports whether o is shared plumbing such as control, phis and
// constants.
func (o Opcode) IsCommon() bool { return o > OpInvalid && o < OpJSAdd }

// IsConstant reports whether o is a leaf constant.
func (o Opcode) IsConstant() bool {
	switch o {
	case OpInt32Constant, OpInt64Constant, OpFloat64Constant, OpNumberConstant, OpHeapConstant:
		return true
	}
	return false
}

// IsMerge reports whether o joins control paths.
func (o Opcode) IsMerge() bool { return o == OpMerge || o == OpLoop }

// IsPhi reports whether o selects per control predecessor.
func (o Opcode) IsPhi() bool { return o == OpPhi || o == OpEffectPhi }

// IsBlockTerminator reports whether o ends a block with a control transfer
// to End.
func (o Opcode) IsBlockTerminator() bool {
	switch o {
	case OpReturn, OpThrow, OpDeoptimize, OpTailCall, OpTerminate:
		return true
	}
	return false
}

// IsDeoptGuard reports whether o can exit to the baseline tier.
func (o Opcode) IsDeoptGuard() bool {
	return o == OpDeoptimize || o == OpDeoptimizeIf || o == OpDeoptimizeUnless
}
