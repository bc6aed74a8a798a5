package lowering

import (
	"math"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/types"
)

// TypedLowering specializes JS operators whose inputs have narrow enough
// type bounds. Nodes it cannot prove anything about are left alone.
type TypedLowering struct {
	editor Editor
	jsg    *ir.JSGraph

	// shiftedInt32Ranges[k] holds the keys whose byte offset key<<k still
	// fits in int32.
	shiftedInt32Ranges [4]types.Type
}

// NewTypedLowering creates a reducer that edits through editor.
func NewTypedLowering(editor Editor, jsg *ir.JSGraph) *TypedLowering {
	l := &TypedLowering{editor: editor, jsg: jsg}
	for k := range l.shiftedInt32Ranges {
		l.shiftedInt32Ranges[k] = types.Range(
			float64(int32(math.MinInt32)>>k),
			float64(int32(math.MaxInt32)>>k),
		)
	}
	return l
}

func (l *TypedLowering) Name() string { return "TypedLowering" }

// Reduce implements Reducer.
func (l *TypedLowering) Reduce(node *ir.Node) Reduction {
	switch node.Opcode() {
	case ir.OpJSAdd:
		return l.reduceJSAdd(node)
	case ir.OpJSSubtract:
		return l.reduceNumberBinop(node, ir.OpNumberSubtract)
	case ir.OpJSMultiply:
		return l.reduceNumberBinop(node, ir.OpNumberMultiply)
	case ir.OpJSDivide:
		return l.reduceNumberBinop(node, ir.OpNumberDivide)
	case ir.OpJSModulus:
		return l.reduceNumberBinop(node, ir.OpNumberModulus)
	case ir.OpJSBitwiseOr:
		return l.reduceInt32Binop(node, ir.OpNumberBitwiseOr)
	case ir.OpJSBitwiseXor:
		return l.reduceInt32Binop(node, ir.OpNumberBitwiseXor)
	case ir.OpJSBitwiseAnd:
		return l.reduceInt32Binop(node, ir.OpNumberBitwiseAnd)
	case ir.OpJSShiftLeft:
		return l.reduceUI32Shift(node, signed, ir.OpNumberShiftLeft, types.Signed32)
	case ir.OpJSShiftRight:
		return l.reduceUI32Shift(node, signed, ir.OpNumberShiftRight, types.Signed32)
	case ir.OpJSShiftRightLogical:
		return l.reduceUI32Shift(node, unsigned, ir.OpNumberShiftRightLogical, types.Unsigned32)
	case ir.OpJSLessThan, ir.OpJSGreaterThan, ir.OpJSLessThanOrEqual, ir.OpJSGreaterThanOrEqual:
		return l.reduceJSComparison(node)
	case ir.OpJSEqual:
		return l.reduceJSEqual(node, false)
	case ir.OpJSNotEqual:
		return l.reduceJSEqual(node, true)
	case ir.OpJSStrictEqual:
		return l.reduceJSStrictEqual(node, false)
	case ir.OpJSStrictNotEqual:
		return l.reduceJSStrictEqual(node, true)
	case ir.OpJSToNumber:
		return l.reduceJSToNumber(node)
	case ir.OpJSToString:
		return l.reduceJSToString(node)
	case ir.OpJSToBoolean:
		return l.reduceJSToBoolean(node)
	case ir.OpJSLoadProperty:
		return l.reduceJSLoadProperty(node)
	case ir.OpJSStoreProperty:
		return l.reduceJSStoreProperty(node)
	case ir.OpJSLoadContext:
		return l.reduceJSLoadContext(node)
	case ir.OpJSStoreContext:
		return l.reduceJSStoreContext(node)
	}
	return NoChange()
}

func (l *TypedLowering) relaxEffectsAndControls(node *ir.Node) {
	l.editor.ReplaceWithValue(node, node, nil, nil)
}

func (l *TypedLowering) reduceJSAdd(node *ir.Node) Reduction {
	r := newBinop(l, node)
	if r.bothInputsAre(types.Number) {
		// JSAdd(x:number, y:number) => NumberAdd(x, y)
		return r.changeToPureOperator(ir.Op(ir.OpNumberAdd), types.Number)
	}
	if r.bothInputsAre(types.PlainPrimitive) && r.neitherInputCanBe(types.String) {
		// JSAdd(x:-string, y:-string) => NumberAdd(ToNumber(x), ToNumber(y))
		r.convertInputsToNumber()
		return r.changeToPureOperator(ir.Op(ir.OpNumberAdd), types.Number)
	}
	if r.bothInputsAre(types.String) {
		// JSAdd(x:string, y:string) => StringConcat(x, y)
		return r.changeToPureOperator(ir.Op(ir.OpStringConcat), types.String)
	}
	return NoChange()
}

func (l *TypedLowering) reduceNumberBinop(node *ir.Node, code ir.Opcode) Reduction {
	r := newBinop(l, node)
	if r.bothInputsAre(types.PlainPrimitive) {
		r.convertInputsToNumber()
		return r.changeToPureOperator(ir.Op(code), types.Number)
	}
	return NoChange()
}

func (l *TypedLowering) reduceInt32Binop(node *ir.Node, code ir.Opcode) Reduction {
	r := newBinop(l, node)
	if r.bothInputsAre(types.PlainPrimitive) {
		r.convertInputsToNumber()
		r.convertInputsToUI32(signed, signed)
		return r.changeToPureOperator(ir.Op(code), types.Signed32)
	}
	return NoChange()
}

func (l *TypedLowering) reduceUI32Shift(node *ir.Node, left signedness, code ir.Opcode, t types.Type) Reduction {
	r := newBinop(l, node)
	if r.bothInputsAre(types.PlainPrimitive) {
		r.convertInputsToNumber()
		r.convertInputsToUI32(left, unsigned)
		return r.changeToPureOperator(ir.Op(code), t)
	}
	return NoChange()
}

func (l *TypedLowering) reduceJSComparison(node *ir.Node) Reduction {
	r := newBinop(l, node)
	var lessThan, lessThanOrEqual ir.Opcode
	switch {
	case r.bothInputsAre(types.String):
		lessThan, lessThanOrEqual = ir.OpStringLessThan, ir.OpStringLessThanOrEqual
	case r.bothInputsAre(types.Signed32):
		lessThan, lessThanOrEqual = ir.OpInt32LessThan, ir.OpInt32LessThanOrEqual
	case r.bothInputsAre(types.Unsigned32):
		lessThan, lessThanOrEqual = ir.OpUint32LessThan, ir.OpUint32LessThanOrEqual
	case r.oneInputCannotBe(types.String) && r.bothInputsAre(types.PlainPrimitive):
		r.convertInputsToNumber()
		lessThan, lessThanOrEqual = ir.OpNumberLessThan, ir.OpNumberLessThanOrEqual
	default:
		return NoChange()
	}

	var code ir.Opcode
	switch node.Opcode() {
	case ir.OpJSLessThan:
		code = lessThan
	case ir.OpJSGreaterThan:
		// a > b => b < a
		code = lessThan
		r.swapInputs()
	case ir.OpJSLessThanOrEqual:
		code = lessThanOrEqual
	case ir.OpJSGreaterThanOrEqual:
		// a >= b => b <= a
		code = lessThanOrEqual
		r.swapInputs()
	}
	return r.changeToPureOperator(ir.Op(code), types.Boolean)
}

func (l *TypedLowering) reduceJSEqual(node *ir.Node, invert bool) Reduction {
	r := newBinop(l, node)
	if r.left() == r.right() && !r.leftType.Maybe(types.NaN) {
		// x == x is always true if x != NaN
		replacement := l.jsg.BooleanConstant(!invert)
		l.editor.ReplaceWithValue(node, replacement, nil, nil)
		return Replace(replacement)
	}
	switch {
	case r.bothInputsAre(types.Number):
		return r.changeToPureOperatorInverted(ir.Op(ir.OpNumberEqual), invert)
	case r.bothInputsAre(types.String):
		return r.changeToPureOperatorInverted(ir.Op(ir.OpStringEqual), invert)
	case r.bothInputsAre(types.Boolean), r.bothInputsAre(types.Receiver):
		return r.changeToPureOperatorInverted(ir.Op(ir.OpReferenceEqual), invert)
	}
	return NoChange()
}

func (l *TypedLowering) reduceJSStrictEqual(node *ir.Node, invert bool) Reduction {
	r := newBinop(l, node)
	if r.left() == r.right() && !r.leftType.Maybe(types.NaN) {
		// x === x is always true if x != NaN
		replacement := l.jsg.BooleanConstant(!invert)
		l.editor.ReplaceWithValue(node, replacement, nil, nil)
		return Replace(replacement)
	}
	if r.oneInputCannotBe(types.NumberOrString) && !r.leftType.Maybe(r.rightType) {
		// Values other than strings and numbers have a canonical
		// representation, so disjoint types cannot be strictly equal.
		replacement := l.jsg.BooleanConstant(invert)
		l.editor.ReplaceWithValue(node, replacement, nil, nil)
		return Replace(replacement)
	}
	for _, t := range []types.Type{types.Hole, types.Undefined, types.Null, types.Boolean, types.Object, types.Receiver} {
		if r.oneInputIs(t) {
			return r.changeToPureOperatorInverted(ir.Op(ir.OpReferenceEqual), invert)
		}
	}
	switch {
	case r.bothInputsAre(types.Unique):
		return r.changeToPureOperatorInverted(ir.Op(ir.OpReferenceEqual), invert)
	case r.bothInputsAre(types.String):
		return r.changeToPureOperatorInverted(ir.Op(ir.OpStringEqual), invert)
	case r.bothInputsAre(types.Number):
		return r.changeToPureOperatorInverted(ir.Op(ir.OpNumberEqual), invert)
	}
	return NoChange()
}

// reduceJSToNumberInput finds the number for input without a conversion
// node where possible. Changed(input) means input already is a number.
func (l *TypedLowering) reduceJSToNumberInput(input *ir.Node) Reduction {
	switch input.Opcode() {
	case ir.OpJSToNumber, ir.OpPlainPrimitiveToNumber, ir.OpNumberConstant:
		return Changed(input)
	}
	t := input.Type()
	if o, ok := t.HeapConstant(); ok && o.Kind == heap.KindString {
		return Replace(l.jsg.NumberConstant(heap.StringToNumber(o.Str)))
	}
	if o, ok := constantOf(input); ok {
		switch {
		case o == heap.True:
			return Replace(l.jsg.OneConstant())
		case o == heap.False, o == heap.Null:
			return Replace(l.jsg.ZeroConstant())
		case o == heap.Undefined:
			return Replace(l.jsg.NaNConstant())
		case o.Kind == heap.KindString:
			return Replace(l.jsg.NumberConstant(heap.StringToNumber(o.Str)))
		case o.Kind == heap.KindHeapNumber:
			return Replace(l.jsg.NumberConstant(o.Number))
		}
	}
	switch {
	case t.Is(types.Number):
		// JSToNumber(x:number) => x
		return Changed(input)
	case t.Is(types.Undefined):
		// JSToNumber(undefined) => #NaN
		return Replace(l.jsg.NaNConstant())
	case t.Is(types.Null):
		// JSToNumber(null) => #0
		return Replace(l.jsg.ZeroConstant())
	}
	return NoChange()
}

// convertPlainPrimitiveToNumber returns a number node for a plain
// primitive input, adding a pure conversion only when no cheaper form
// exists.
func (l *TypedLowering) convertPlainPrimitiveToNumber(input *ir.Node) *ir.Node {
	if red := l.reduceJSToNumberInput(input); red.Changed() {
		return red.Replacement()
	}
	conv := l.jsg.NewNode(ir.Op(ir.OpPlainPrimitiveToNumber), input)
	conv.SetType(types.Number)
	return conv
}

func (l *TypedLowering) reduceJSToNumber(node *ir.Node) Reduction {
	input := node.ValueInput(0)
	if red := l.reduceJSToNumberInput(input); red.Changed() {
		l.editor.ReplaceWithValue(node, red.Replacement(), nil, nil)
		return Replace(red.Replacement())
	}

	t := input.Type()
	if input.Opcode() == ir.OpPhi && t.Is(types.PlainPrimitive) {
		// JSToNumber(Phi(x1, ..., xn, merge)) => Phi(ToNumber(x1), ..., ToNumber(xn), merge)
		l.relaxEffectsAndControls(node)
		count := input.Op().ValueIn
		values := make([]*ir.Node, 0, count+1)
		for i := 0; i < count; i++ {
			values = append(values, l.convertPlainPrimitiveToNumber(input.ValueInput(i)))
		}
		values = append(values, input.ControlInput(0))
		node.ChangeOp(ir.Phi(access.RepTagged, count))
		node.ReplaceInputs(values...)
		node.SetType(types.Intersect(node.Type(), types.Number))
		return Changed(node)
	}

	if t.Is(types.PlainPrimitive) {
		// JSToNumber(x:plain-primitive) => PlainPrimitiveToNumber(x)
		l.relaxEffectsAndControls(node)
		node.RemoveNonValueInputs()
		node.ChangeOp(ir.Op(ir.OpPlainPrimitiveToNumber))
		node.SetType(types.Intersect(node.Type(), types.Number))
		return Changed(node)
	}
	return NoChange()
}

func (l *TypedLowering) reduceJSToStringInput(input *ir.Node) Reduction {
	if input.Opcode() == ir.OpJSToString {
		// JSToString(JSToString(x)) => JSToString(x)
		if red := l.reduceJSToStringInput(input.ValueInput(0)); red.Changed() {
			return red
		}
		return Changed(input)
	}
	t := input.Type()
	if t.Is(types.String) {
		// JSToString(x:string) => x
		return Changed(input)
	}
	if o, ok := constantOf(input); ok {
		switch o.Kind {
		case heap.KindOddball:
			if o != heap.TheHole {
				return Replace(l.jsg.StringConstant(o.Name))
			}
		case heap.KindHeapNumber:
			if s, ok := heap.NumberToString(o.Number); ok {
				return Replace(l.jsg.StringConstant(s))
			}
		}
	}
	if v, ok := ir.NumberValue(input); ok {
		if s, ok := heap.NumberToString(v); ok {
			return Replace(l.jsg.StringConstant(s))
		}
	}
	switch {
	case t.Is(types.Undefined):
		return Replace(l.jsg.StringConstant("undefined"))
	case t.Is(types.Null):
		return Replace(l.jsg.StringConstant("null"))
	}
	return NoChange()
}

func (l *TypedLowering) reduceJSToString(node *ir.Node) Reduction {
	red := l.reduceJSToStringInput(node.ValueInput(0))
	if red.Changed() {
		l.editor.ReplaceWithValue(node, red.Replacement(), nil, nil)
		return Replace(red.Replacement())
	}
	return NoChange()
}

func (l *TypedLowering) reduceJSToBoolean(node *ir.Node) Reduction {
	input := node.ValueInput(0)
	t := input.Type()
	if input.Opcode() == ir.OpJSToBoolean || t.Is(types.Boolean) {
		// JSToBoolean(x:boolean) => x
		return Replace(input)
	}
	if o, ok := constantOf(input); ok {
		if v, ok := o.BooleanValue(); ok {
			return Replace(l.jsg.BooleanConstant(v))
		}
	}
	if v, ok := ir.NumberValue(input); ok {
		return Replace(l.jsg.BooleanConstant(v != 0 && !math.IsNaN(v)))
	}

	switch {
	case t.Is(types.Union(types.NullOrUndefined, types.Undetectable)):
		return Replace(l.jsg.FalseConstant())
	case t.Is(types.DetectableReceiver):
		return Replace(l.jsg.TrueConstant())
	case t.Is(types.OrderedNumber):
		// JSToBoolean(x:ordered-number) => BooleanNot(NumberEqual(x, #0))
		cmp := l.jsg.NewNode(ir.Op(ir.OpNumberEqual), input, l.jsg.ZeroConstant())
		cmp.SetType(types.Boolean)
		node.ReplaceInput(0, cmp)
		node.ChangeOp(ir.Op(ir.OpBooleanNot))
		node.SetType(types.Boolean)
		return Changed(node)
	case t.Is(types.String):
		// JSToBoolean(x:string) => NumberLessThan(#0, x.length)
		start := l.jsg.Start()
		length := l.jsg.NewNode(ir.LoadField(access.ForStringLength()), input, start, start)
		length.SetType(access.ForStringLength().Type)
		node.ReplaceInput(0, l.jsg.ZeroConstant())
		node.AppendInput(length)
		node.ChangeOp(ir.Op(ir.OpNumberLessThan))
		node.SetType(types.Boolean)
		return Changed(node)
	}
	return NoChange()
}

// typedArrayAccess reports the typed array a keyed access can be
// specialized for, along with log2 of its element size.
func (l *TypedLowering) typedArrayAccess(node *ir.Node) (*heap.Object, int, bool) {
	array, ok := constantOf(node.ValueInput(0))
	if !ok || !array.IsTypedArray() || !array.External {
		return nil, 0, false
	}
	k := array.ArrayType.ElementSizeLog2()
	key := node.ValueInput(1).Type()
	if !key.Is(l.shiftedInt32Ranges[k]) || array.ByteLength() > math.MaxInt32 {
		return nil, 0, false
	}
	return array, k, true
}

// keyInBounds reports whether every value of key indexes into array.
func keyInBounds(key types.Type, array *heap.Object) bool {
	return key.Min() >= 0 && key.Max() < float64(array.Length)
}

func (l *TypedLowering) word32Shl(key *ir.Node, k int) *ir.Node {
	if k == 0 {
		return key
	}
	offset := l.jsg.NewNode(ir.Op(ir.OpWord32Shl), key, l.jsg.Int32Constant(int32(k)))
	offset.SetType(types.Signed32)
	return offset
}

func (l *TypedLowering) reduceJSLoadProperty(node *ir.Node) Reduction {
	array, k, ok := l.typedArrayAccess(node)
	if !ok {
		return NoChange()
	}
	key := node.ValueInput(1)
	buffer := l.jsg.IntPtrConstant(int64(array.BackingStore))
	effect, control := node.EffectInput(0), node.ControlInput(0)

	var load *ir.Node
	if keyInBounds(key.Type(), array) {
		ea := access.ForTypedArrayElement(array.ArrayType, true)
		load = l.jsg.NewNode(ir.LoadElement(ea), buffer, key, effect, control)
		load.SetType(ea.Type)
	} else {
		ba := access.ForBufferAccess(array.ArrayType)
		offset := l.word32Shl(key, k)
		length := l.jsg.Int32Constant(int32(array.ByteLength()))
		load = l.jsg.NewNode(ir.LoadBuffer(ba), buffer, offset, length, effect, control)
		load.SetType(types.Union(ba.Type(), types.Undefined))
	}
	l.editor.ReplaceWithValue(node, load, load, nil)
	return Replace(load)
}

func (l *TypedLowering) reduceJSStoreProperty(node *ir.Node) Reduction {
	array, k, ok := l.typedArrayAccess(node)
	if !ok || array.ArrayType == heap.Uint8ClampedArray {
		return NoChange()
	}
	key, value := node.ValueInput(1), node.ValueInput(2)
	if !key.Type().Is(types.Unsigned32) {
		return NoChange()
	}
	switch {
	case value.Type().Is(types.Number):
	case value.Type().Is(types.PlainPrimitive):
		value = l.convertPlainPrimitiveToNumber(value)
	default:
		return NoChange()
	}

	buffer := l.jsg.IntPtrConstant(int64(array.BackingStore))
	effect, control := node.EffectInput(0), node.ControlInput(0)

	// The store keeps its effect uses; only control is relaxed.
	l.editor.ReplaceWithValue(node, node, node, nil)
	if keyInBounds(key.Type(), array) {
		node.ReplaceInputs(buffer, key, value, effect, control)
		node.ChangeOp(ir.StoreElement(access.ForTypedArrayElement(array.ArrayType, true)))
		return Changed(node)
	}
	offset := l.word32Shl(key, k)
	length := l.jsg.Int32Constant(int32(array.ByteLength()))
	node.ReplaceInputs(buffer, offset, length, value, effect, control)
	node.ChangeOp(ir.StoreBuffer(access.ForBufferAccess(array.ArrayType)))
	return Changed(node)
}

// walkContextChain loads the context depth levels above context. Context
// links are immutable, so the loads hang off Start for control.
func (l *TypedLowering) walkContextChain(context, effect *ir.Node, depth int) (*ir.Node, *ir.Node) {
	start := l.jsg.Start()
	for i := 0; i < depth; i++ {
		fa := access.ForContextSlot(heap.ContextPreviousIndex)
		context = l.jsg.NewNode(ir.LoadField(fa), context, effect, start)
		context.SetType(types.Internal)
		effect = context
	}
	return context, effect
}

func (l *TypedLowering) reduceJSLoadContext(node *ir.Node) Reduction {
	ca := ir.ParamOf[ir.ContextAccess](node)
	context, effect := l.walkContextChain(node.ValueInput(0), node.EffectInput(0), ca.Depth)
	node.ReplaceInputs(context, effect, l.jsg.Start())
	node.ChangeOp(ir.LoadField(access.ForContextSlot(ca.Index)))
	return Changed(node)
}

func (l *TypedLowering) reduceJSStoreContext(node *ir.Node) Reduction {
	ca := ir.ParamOf[ir.ContextAccess](node)
	value := node.ValueInput(1)
	context, effect := l.walkContextChain(node.ValueInput(0), node.EffectInput(0), ca.Depth)
	node.ReplaceInputs(context, value, effect, l.jsg.Start())
	node.ChangeOp(ir.StoreField(access.ForContextSlot(ca.Index)))
	return Changed(node)
}

// constantOf returns the heap object of a HeapConstant node.
func constantOf(n *ir.Node) (*heap.Object, bool) {
	if n.Opcode() != ir.OpHeapConstant {
		return nil, false
	}
	return ir.ParamOf[*heap.Object](n), true
}
