package interp

import (
	"math"

	"github.com/JohnCGriffin/overflow"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
)

func (s *state) compute(n *ir.Node) Value {
	switch code := n.Opcode(); {
	case code.IsCommon():
		return s.common(n)
	case code.IsJS():
		return s.js(n)
	case code.IsMachine():
		return s.machine(n)
	case code >= ir.OpChangeBitToTagged && code <= ir.OpTruncateTaggedToFloat64:
		return s.change(n)
	case code >= ir.OpCheckBounds && code <= ir.OpCheckedTaggedToTaggedPointer:
		return s.check(n)
	}
	return s.simplified(n)
}

func (s *state) input(n *ir.Node, i int) Value { return s.eval(n.ValueInput(i)) }

func (s *state) common(n *ir.Node) Value {
	switch n.Opcode() {
	case ir.OpStart, ir.OpCheckpoint, ir.OpBeginRegion:
		return Value{}
	case ir.OpFinishRegion:
		return s.input(n, 0)
	case ir.OpParameter:
		i := ir.ParamOf[int](n)
		if i < 0 || i >= len(s.args) {
			s.fail(n, "parameter %d of %d", i, len(s.args))
		}
		return s.args[i]
	case ir.OpInt32Constant:
		return Int32(ir.ParamOf[int32](n))
	case ir.OpInt64Constant:
		return Word(ir.ParamOf[int64](n))
	case ir.OpFloat64Constant, ir.OpNumberConstant:
		return Float(ir.ParamOf[float64](n))
	case ir.OpHeapConstant:
		return Ref(ir.ParamOf[*heap.Object](n))
	case ir.OpPhi:
		return s.input(n, s.selected(n))
	case ir.OpEffectPhi:
		s.eval(n.EffectInput(s.selected(n)))
		return Value{}
	case ir.OpProjection:
		pair, ok := s.pairs[n.ValueInput(0).ID()]
		if !ok {
			s.eval(n.ValueInput(0))
			pair, ok = s.pairs[n.ValueInput(0).ID()]
		}
		i := ir.ParamOf[int](n)
		if !ok || i > 1 {
			s.fail(n, "projection %d of %s", i, n.ValueInput(0).Op())
		}
		return pair[i]
	case ir.OpDeoptimizeIf, ir.OpDeoptimizeUnless:
		cond := s.input(n, 0).Truthy()
		if cond == (n.Opcode() == ir.OpDeoptimizeIf) {
			s.deopt(ir.ParamOf[ir.DeoptReason](n), n.FrameStateInput())
		}
		return Value{}
	}
	s.fail(n, "operator is not modeled")
	return Value{}
}

// Tagged values are Smi words or heap references.

func (s *state) isSmi(v Value) bool {
	return v.Kind == KindWord && v.Word&heap.SmiTagMask == heap.SmiTag
}

func (s *state) smi(v int32) Value { return Smi(v, s.is64) }

func (s *state) smiValue(v Value) int32 {
	if s.is64 {
		return int32(v.Word >> 32)
	}
	return int32(v.Word >> 1)
}

func (s *state) smiMax() int32 {
	if s.is64 {
		return math.MaxInt32
	}
	return 1<<30 - 1
}

// fitsSmi reports whether v has a Smi form on the target.
func (s *state) fitsSmi(v int32) bool {
	if s.is64 {
		return true
	}
	_, ok := overflow.Add32(v, v)
	return ok
}

func (s *state) box(f float64) Value { return Ref(heap.NewHeapNumber(f)) }

// object returns the heap object v points to.
func (s *state) object(n *ir.Node, v Value) *heap.Object {
	if v.Kind != KindRef || v.Ref == nil {
		s.fail(n, "%s is not a heap object", v)
	}
	return v.Ref
}

func (s *state) load(n *ir.Node, v Value, offset int) Value {
	o := s.object(n, v)
	if f, ok := s.fields[o]; ok {
		if v, ok := f[offset]; ok {
			return v
		}
	}
	switch {
	case offset == heap.MapOffset:
		return Ref(heap.MapOf(o))
	case offset == heap.HeapNumberValue && o.Kind == heap.KindHeapNumber:
		return Float(o.Number)
	case offset == heap.StringLength && o.Kind == heap.KindString:
		return s.smi(int32(len(o.Str)))
	case offset == heap.MapBitField && o.Kind == heap.KindMap:
		return Word(int64(o.BitField))
	case offset == heap.MapInstanceType && o.Kind == heap.KindMap:
		return Word(int64(o.InstanceType))
	}
	s.fail(n, "no field at offset %d of %s", offset, o)
	return Value{}
}

func (s *state) mapOf(n *ir.Node, v Value) *heap.Object {
	return s.load(n, v, heap.MapOffset).Ref
}

func (s *state) heapNumberValue(n *ir.Node, v Value) float64 {
	return s.load(n, v, heap.HeapNumberValue).Float
}

func (s *state) instanceType(n *ir.Node, v Value) heap.InstanceType {
	m := s.mapOf(n, v)
	return heap.InstanceType(s.load(n, Ref(m), heap.MapInstanceType).Word)
}

func (s *state) bitField(n *ir.Node, v Value) uint8 {
	m := s.mapOf(n, v)
	return uint8(s.load(n, Ref(m), heap.MapBitField).Word)
}

// Word32 values are kept sign-extended.

func w32(v uint32) Value { return Int32(int32(v)) }

func (s *state) i32(n *ir.Node, v Value) int32 {
	switch v.Kind {
	case KindWord:
		return int32(v.Word)
	case KindFloat:
		return toInt32(v.Float)
	}
	s.fail(n, "%s is not a word", v)
	return 0
}

func (s *state) f64(n *ir.Node, v Value) float64 {
	if v.Kind != KindFloat {
		s.fail(n, "%s is not a float", v)
	}
	return v.Float
}

// word reads a pointer-sized operand. Heap references only expose their
// tag bit.
func (s *state) word(v Value) int64 {
	if v.Kind == KindRef {
		return heap.HeapObjectTag
	}
	return v.Word
}

// truncWord narrows a pointer-sized result on 32-bit targets.
func (s *state) truncWord(w int64) Value {
	if s.is64 {
		return Word(w)
	}
	return Word(int64(int32(w)))
}

// toInt32 is the modular float-to-int32 conversion.
func toInt32(f float64) int32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 1<<32)
	if f < 0 {
		f += 1 << 32
	}
	return int32(uint32(f))
}

// roundToInt32 truncates f, mapping values without an int32 form to
// MinInt32.
func roundToInt32(f float64) int32 {
	if math.IsNaN(f) || f <= math.MinInt32-1 || f >= math.MaxInt32+1 {
		return math.MinInt32
	}
	return int32(f)
}

func (s *state) change(n *ir.Node) Value {
	v := s.input(n, 0)
	switch n.Opcode() {
	case ir.OpChangeBitToTagged:
		return Bool(v.Word != 0)
	case ir.OpChangeInt31ToTaggedSigned:
		return s.smi(s.i32(n, v))
	case ir.OpChangeInt32ToTagged:
		i := s.i32(n, v)
		if s.fitsSmi(i) {
			return s.smi(i)
		}
		return s.box(float64(i))
	case ir.OpChangeUint32ToTagged:
		u := uint32(s.i32(n, v))
		if u <= uint32(s.smiMax()) {
			return s.smi(int32(u))
		}
		return s.box(float64(u))
	case ir.OpChangeFloat64ToTagged:
		f := s.f64(n, v)
		i := roundToInt32(f)
		if float64(i) == f && !(i == 0 && math.Signbit(f)) && s.fitsSmi(i) {
			return s.smi(i)
		}
		return s.box(f)
	case ir.OpChangeTaggedSignedToInt32:
		return Int32(s.smiValue(v))
	case ir.OpChangeTaggedToBit:
		return bit(v.Kind == KindRef && v.Ref == heap.True)
	}

	// The remaining conversions read a tagged number.
	if s.isSmi(v) {
		i := s.smiValue(v)
		switch n.Opcode() {
		case ir.OpChangeTaggedToFloat64, ir.OpTruncateTaggedToFloat64:
			return Float(float64(i))
		}
		return Int32(i)
	}
	f := s.heapNumberValue(n, v)
	switch n.Opcode() {
	case ir.OpChangeTaggedToInt32, ir.OpTruncateTaggedToWord32:
		return Int32(toInt32(f))
	case ir.OpChangeTaggedToUint32:
		return w32(uint32(toInt32(f)))
	}
	return Float(f)
}

func (s *state) check(n *ir.Node) Value {
	fs := s.frameBefore(n)
	deoptIf := func(cond bool, reason ir.DeoptReason) {
		if cond {
			s.deopt(reason, fs)
		}
	}
	v := s.input(n, 0)

	switch n.Opcode() {
	case ir.OpCheckBounds:
		deoptIf(uint32(s.i32(n, v)) >= uint32(s.i32(n, s.input(n, 1))), ir.DeoptOutOfBounds)
		return v
	case ir.OpCheckNumber:
		if !s.isSmi(v) {
			deoptIf(s.mapOf(n, v) != heap.HeapNumberMap, ir.DeoptNotAHeapNumber)
		}
		return v
	case ir.OpCheckString:
		deoptIf(s.isSmi(v), ir.DeoptSmi)
		deoptIf(s.instanceType(n, v) >= heap.FirstNonstringType, ir.DeoptNotAString)
		return v
	case ir.OpCheckIf:
		deoptIf(!v.Truthy(), ir.DeoptNoReason)
		return Value{}
	case ir.OpCheckHeapObject, ir.OpCheckedTaggedToTaggedPointer:
		deoptIf(s.isSmi(v), ir.DeoptSmi)
		return v
	case ir.OpCheckTaggedSigned, ir.OpCheckedTaggedToTaggedSigned:
		deoptIf(!s.isSmi(v), ir.DeoptNotASmi)
		return v
	case ir.OpCheckMaps:
		m := s.mapOf(n, v)
		for i := 1; i < n.Op().ValueIn; i++ {
			if s.input(n, i).Ref == m {
				return Value{}
			}
		}
		s.deopt(ir.DeoptWrongMap, fs)
	case ir.OpCheckedUint32ToInt32:
		i := s.i32(n, v)
		deoptIf(i < 0, ir.DeoptLostPrecision)
		return Int32(i)
	case ir.OpCheckedInt32ToTaggedSigned:
		i := s.i32(n, v)
		deoptIf(!s.fitsSmi(i), ir.DeoptOverflow)
		return s.smi(i)
	case ir.OpCheckedFloat64ToInt32:
		return Int32(s.checkedFloat64ToInt32(s.f64(n, v), fs))
	case ir.OpCheckedTaggedSignedToInt32:
		deoptIf(!s.isSmi(v), ir.DeoptNotASmi)
		return Int32(s.smiValue(v))
	case ir.OpCheckedTaggedToInt32, ir.OpCheckedTaggedToFloat64, ir.OpCheckedTruncateTaggedToWord32:
		return s.checkedTagged(n, v, fs)
	}

	lhs, rhs := s.i32(n, v), s.i32(n, s.input(n, 1))
	switch n.Opcode() {
	case ir.OpCheckedInt32Add:
		r, ok := overflow.Add32(lhs, rhs)
		deoptIf(!ok, ir.DeoptOverflow)
		return Int32(r)
	case ir.OpCheckedInt32Sub:
		r, ok := overflow.Sub32(lhs, rhs)
		deoptIf(!ok, ir.DeoptOverflow)
		return Int32(r)
	case ir.OpCheckedInt32Mul:
		r, ok := overflow.Mul32(lhs, rhs)
		deoptIf(!ok, ir.DeoptOverflow)
		deoptIf(r == 0 && lhs|rhs < 0, ir.DeoptMinusZero)
		return Int32(r)
	case ir.OpCheckedInt32Div:
		if rhs <= 0 {
			deoptIf(rhs == 0, ir.DeoptDivisionByZero)
			deoptIf(lhs == 0, ir.DeoptMinusZero)
			deoptIf(lhs == math.MinInt32 && rhs == -1, ir.DeoptOverflow)
		}
		q := lhs / rhs
		deoptIf(lhs != rhs*q, ir.DeoptLostPrecision)
		return Int32(q)
	case ir.OpCheckedInt32Mod:
		if rhs <= 0 {
			rhs = -rhs
			deoptIf(rhs == 0, ir.DeoptDivisionByZero)
		}
		r := lhs % rhs
		deoptIf(lhs < 0 && r == 0, ir.DeoptMinusZero)
		return Int32(r)
	case ir.OpCheckedUint32Div:
		deoptIf(rhs == 0, ir.DeoptDivisionByZero)
		q := uint32(lhs) / uint32(rhs)
		deoptIf(uint32(lhs) != uint32(rhs)*q, ir.DeoptLostPrecision)
		return w32(q)
	case ir.OpCheckedUint32Mod:
		deoptIf(rhs == 0, ir.DeoptDivisionByZero)
		return w32(uint32(lhs) % uint32(rhs))
	}
	s.fail(n, "operator is not modeled")
	return Value{}
}

func (s *state) checkedFloat64ToInt32(f float64, fs *ir.Node) int32 {
	i := roundToInt32(f)
	if float64(i) != f {
		s.deopt(ir.DeoptLostPrecisionOrNaN, fs)
	}
	if i == 0 && math.Signbit(f) {
		s.deopt(ir.DeoptMinusZero, fs)
	}
	return i
}

func (s *state) checkedTagged(n *ir.Node, v Value, fs *ir.Node) Value {
	if s.isSmi(v) {
		i := s.smiValue(v)
		if n.Opcode() == ir.OpCheckedTaggedToFloat64 {
			return Float(float64(i))
		}
		return Int32(i)
	}
	if s.mapOf(n, v) != heap.HeapNumberMap {
		s.deopt(ir.DeoptNotAHeapNumber, fs)
	}
	f := s.heapNumberValue(n, v)
	switch n.Opcode() {
	case ir.OpCheckedTaggedToInt32:
		return Int32(s.checkedFloat64ToInt32(f, fs))
	case ir.OpCheckedTruncateTaggedToWord32:
		return Int32(toInt32(f))
	}
	return Float(f)
}

func (s *state) machine(n *ir.Node) Value {
	code := n.Opcode()
	switch code {
	case ir.OpChangeInt32ToInt64, ir.OpTruncateInt64ToInt32:
		return Int32(int32(s.input(n, 0).Word))
	case ir.OpChangeInt32ToFloat64:
		return Float(float64(s.i32(n, s.input(n, 0))))
	case ir.OpChangeUint32ToFloat64:
		return Float(float64(uint32(s.i32(n, s.input(n, 0)))))
	case ir.OpChangeFloat64ToInt32, ir.OpTruncateFloat64ToWord32:
		return Int32(toInt32(s.f64(n, s.input(n, 0))))
	case ir.OpChangeFloat64ToUint32:
		return w32(uint32(toInt32(s.f64(n, s.input(n, 0)))))
	case ir.OpRoundFloat64ToInt32:
		return Int32(roundToInt32(s.f64(n, s.input(n, 0))))
	case ir.OpFloat64ExtractHighWord32:
		return w32(uint32(math.Float64bits(s.f64(n, s.input(n, 0))) >> 32))
	case ir.OpFloat64RoundDown:
		return Float(math.Floor(s.f64(n, s.input(n, 0))))

	case ir.OpWordAnd:
		return s.truncWord(s.word(s.input(n, 0)) & s.word(s.input(n, 1)))
	case ir.OpWordShl:
		return s.truncWord(s.word(s.input(n, 0)) << uint(s.word(s.input(n, 1))))
	case ir.OpWordSar:
		a, b := s.word(s.input(n, 0)), uint(s.word(s.input(n, 1)))
		if !s.is64 {
			return Int32(int32(a) >> b)
		}
		return Word(a >> b)
	case ir.OpWordEqual:
		a, b := s.input(n, 0), s.input(n, 1)
		if a.Kind == KindRef || b.Kind == KindRef {
			return bit(a.Kind == b.Kind && a.Ref == b.Ref)
		}
		return bit(a.Word == b.Word)
	}

	if code >= ir.OpFloat64Add && code <= ir.OpFloat64LessThanOrEqual {
		a, b := s.f64(n, s.input(n, 0)), s.f64(n, s.input(n, 1))
		switch code {
		case ir.OpFloat64Add:
			return Float(a + b)
		case ir.OpFloat64Sub:
			return Float(a - b)
		case ir.OpFloat64Mul:
			return Float(a * b)
		case ir.OpFloat64Div:
			return Float(a / b)
		case ir.OpFloat64Mod:
			return Float(math.Mod(a, b))
		case ir.OpFloat64Equal:
			return bit(a == b)
		case ir.OpFloat64LessThan:
			return bit(a < b)
		default:
			return bit(a <= b)
		}
	}

	a, b := s.i32(n, s.input(n, 0)), s.i32(n, s.input(n, 1))
	switch code {
	case ir.OpWord32And:
		return Int32(a & b)
	case ir.OpWord32Or:
		return Int32(a | b)
	case ir.OpWord32Xor:
		return Int32(a ^ b)
	case ir.OpWord32Shl:
		return Int32(a << (uint32(b) & 31))
	case ir.OpWord32Shr:
		return w32(uint32(a) >> (uint32(b) & 31))
	case ir.OpWord32Sar:
		return Int32(a >> (uint32(b) & 31))
	case ir.OpWord32Equal:
		return bit(a == b)
	case ir.OpInt32Add:
		return Int32(a + b)
	case ir.OpInt32Sub:
		return Int32(a - b)
	case ir.OpInt32Mul:
		return Int32(a * b)
	case ir.OpInt32Div:
		if b == 0 {
			return Int32(0)
		}
		return Int32(a / b)
	case ir.OpInt32Mod:
		if b == 0 {
			return Int32(0)
		}
		return Int32(a % b)
	case ir.OpUint32Div:
		if b == 0 {
			return Int32(0)
		}
		return w32(uint32(a) / uint32(b))
	case ir.OpUint32Mod:
		if b == 0 {
			return Int32(0)
		}
		return w32(uint32(a) % uint32(b))
	case ir.OpInt32LessThan:
		return bit(a < b)
	case ir.OpInt32LessThanOrEqual:
		return bit(a <= b)
	case ir.OpUint32LessThan:
		return bit(uint32(a) < uint32(b))
	case ir.OpUint32LessThanOrEqual:
		return bit(uint32(a) <= uint32(b))
	case ir.OpInt32AddWithOverflow, ir.OpInt32SubWithOverflow, ir.OpInt32MulWithOverflow:
		var (
			r  int32
			ok bool
		)
		switch code {
		case ir.OpInt32AddWithOverflow:
			r, ok = overflow.Add32(a, b)
		case ir.OpInt32SubWithOverflow:
			r, ok = overflow.Sub32(a, b)
		default:
			r, ok = overflow.Mul32(a, b)
		}
		s.pairs[n.ID()] = [2]Value{Int32(r), bit(!ok)}
		return Value{}
	}
	s.fail(n, "operator is not modeled")
	return Value{}
}

func (s *state) simplified(n *ir.Node) Value {
	code := n.Opcode()
	switch code {
	case ir.OpBooleanNot:
		return Bool(!s.input(n, 0).Truthy())
	case ir.OpNumberToInt32:
		return Float(float64(toInt32(s.number(s.input(n, 0)))))
	case ir.OpNumberToUint32:
		return Float(float64(uint32(toInt32(s.number(s.input(n, 0))))))
	case ir.OpPlainPrimitiveToNumber:
		return Float(s.number(s.input(n, 0)))
	case ir.OpStringEqual, ir.OpStringLessThan, ir.OpStringLessThanOrEqual, ir.OpStringConcat:
		a, b := s.str(n, s.input(n, 0)), s.str(n, s.input(n, 1))
		switch code {
		case ir.OpStringEqual:
			return Bool(a == b)
		case ir.OpStringLessThan:
			return Bool(a < b)
		case ir.OpStringLessThanOrEqual:
			return Bool(a <= b)
		}
		return Ref(heap.NewString(a + b))
	case ir.OpReferenceEqual:
		a, b := s.input(n, 0), s.input(n, 1)
		return Bool(a.Kind == b.Kind && a.Ref == b.Ref && a.Word == b.Word)
	case ir.OpAllocate:
		o := &heap.Object{Kind: heap.KindObject, Name: "allocated"}
		s.fields[o] = make(map[int]Value)
		return Ref(o)
	case ir.OpLoadField:
		return s.load(n, s.input(n, 0), ir.ParamOf[access.FieldAccess](n).Offset)
	case ir.OpStoreField:
		o := s.object(n, s.input(n, 0))
		if s.fields[o] == nil {
			s.fields[o] = make(map[int]Value)
		}
		s.fields[o][ir.ParamOf[access.FieldAccess](n).Offset] = s.input(n, 1)
		return Value{}
	case ir.OpFloat64Floor:
		return Float(math.Floor(s.f64(n, s.input(n, 0))))
	case ir.OpObjectIsCallable, ir.OpObjectIsNumber, ir.OpObjectIsReceiver,
		ir.OpObjectIsSmi, ir.OpObjectIsString, ir.OpObjectIsUndetectable:
		return s.objectIs(n, s.input(n, 0))
	}

	if code >= ir.OpNumberEqual && code <= ir.OpNumberShiftRightLogical {
		return numberBinop(code, s.number(s.input(n, 0)), s.number(s.input(n, 1)))
	}
	s.fail(n, "operator is not modeled")
	return Value{}
}

func (s *state) objectIs(n *ir.Node, v Value) Value {
	if n.Opcode() == ir.OpObjectIsSmi {
		return bit(s.isSmi(v))
	}
	if s.isSmi(v) {
		return bit(n.Opcode() == ir.OpObjectIsNumber)
	}
	switch n.Opcode() {
	case ir.OpObjectIsCallable:
		return bit(s.bitField(n, v)&(heap.MapIsCallable|heap.MapIsUndetectable) == heap.MapIsCallable)
	case ir.OpObjectIsNumber:
		return bit(s.mapOf(n, v) == heap.HeapNumberMap)
	case ir.OpObjectIsReceiver:
		return bit(s.instanceType(n, v) >= heap.FirstReceiverType)
	case ir.OpObjectIsString:
		return bit(s.instanceType(n, v) < heap.FirstNonstringType)
	}
	return bit(s.bitField(n, v)&heap.MapIsUndetectable != 0)
}

// numberBinop covers the Number operators and the numeric side of the JS
// operators with the same names.
func numberBinop(code ir.Opcode, a, b float64) Value {
	switch code {
	case ir.OpNumberEqual:
		return Bool(a == b)
	case ir.OpNumberLessThan:
		return Bool(a < b)
	case ir.OpNumberLessThanOrEqual:
		return Bool(a <= b)
	case ir.OpNumberAdd:
		return Float(a + b)
	case ir.OpNumberSubtract:
		return Float(a - b)
	case ir.OpNumberMultiply:
		return Float(a * b)
	case ir.OpNumberDivide:
		return Float(a / b)
	case ir.OpNumberModulus:
		return Float(math.Mod(a, b))
	}
	x, y := toInt32(a), uint32(toInt32(b))&31
	switch code {
	case ir.OpNumberBitwiseOr:
		return Float(float64(x | toInt32(b)))
	case ir.OpNumberBitwiseXor:
		return Float(float64(x ^ toInt32(b)))
	case ir.OpNumberBitwiseAnd:
		return Float(float64(x & toInt32(b)))
	case ir.OpNumberShiftLeft:
		return Float(float64(x << y))
	case ir.OpNumberShiftRight:
		return Float(float64(x >> y))
	}
	return Float(float64(uint32(x) >> y))
}
