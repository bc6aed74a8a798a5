package interp

import (
	"math"
	"strconv"

	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
)

// jsNumberOps maps JS arithmetic to the Number operator with the same
// numeric behavior.
var jsNumberOps = map[ir.Opcode]ir.Opcode{
	ir.OpJSSubtract:          ir.OpNumberSubtract,
	ir.OpJSMultiply:          ir.OpNumberMultiply,
	ir.OpJSDivide:            ir.OpNumberDivide,
	ir.OpJSModulus:           ir.OpNumberModulus,
	ir.OpJSBitwiseOr:         ir.OpNumberBitwiseOr,
	ir.OpJSBitwiseXor:        ir.OpNumberBitwiseXor,
	ir.OpJSBitwiseAnd:        ir.OpNumberBitwiseAnd,
	ir.OpJSShiftLeft:         ir.OpNumberShiftLeft,
	ir.OpJSShiftRight:        ir.OpNumberShiftRight,
	ir.OpJSShiftRightLogical: ir.OpNumberShiftRightLogical,
}

// js evaluates the JS operators on primitive values. Objects, property
// access and contexts are not modeled.
func (s *state) js(n *ir.Node) Value {
	code := n.Opcode()
	switch code {
	case ir.OpJSToNumber:
		return Float(s.number(s.input(n, 0)))
	case ir.OpJSToString:
		return Ref(heap.NewString(s.toString(n, s.input(n, 0))))
	case ir.OpJSToBoolean:
		return Bool(s.truthy(s.input(n, 0)))
	case ir.OpJSLoadProperty, ir.OpJSStoreProperty, ir.OpJSLoadContext, ir.OpJSStoreContext:
		s.fail(n, "operator is not modeled")
	}

	a, b := s.input(n, 0), s.input(n, 1)
	if num, ok := jsNumberOps[code]; ok {
		return numberBinop(num, s.number(a), s.number(b))
	}
	switch code {
	case ir.OpJSAdd:
		if s.isString(a) || s.isString(b) {
			return Ref(heap.NewString(s.toString(n, a) + s.toString(n, b)))
		}
		return Float(s.number(a) + s.number(b))
	case ir.OpJSLessThan:
		return Bool(s.less(a, b, false))
	case ir.OpJSGreaterThan:
		return Bool(s.less(b, a, false))
	case ir.OpJSLessThanOrEqual:
		return Bool(s.less(a, b, true))
	case ir.OpJSGreaterThanOrEqual:
		return Bool(s.less(b, a, true))
	case ir.OpJSEqual:
		return Bool(s.looseEqual(a, b))
	case ir.OpJSNotEqual:
		return Bool(!s.looseEqual(a, b))
	case ir.OpJSStrictEqual:
		return Bool(s.strictEqual(a, b))
	case ir.OpJSStrictNotEqual:
		return Bool(!s.strictEqual(a, b))
	}
	s.fail(n, "operator is not modeled")
	return Value{}
}

func (s *state) isString(v Value) bool {
	return v.Kind == KindRef && v.Ref.Kind == heap.KindString
}

// isNumber reports whether v is a number in any representation.
func (s *state) isNumber(v Value) bool {
	switch v.Kind {
	case KindFloat:
		return true
	case KindWord:
		return s.isSmi(v)
	}
	if f, ok := s.fields[v.Ref]; ok {
		return f[heap.MapOffset].Ref == heap.HeapNumberMap
	}
	return v.Ref.Kind == heap.KindHeapNumber
}

func (s *state) str(n *ir.Node, v Value) string {
	if !s.isString(v) {
		s.fail(n, "%s is not a string", v)
	}
	return v.Ref.Str
}

// number is the ToNumber conversion of a primitive.
func (s *state) number(v Value) float64 {
	switch v.Kind {
	case KindFloat:
		return v.Float
	case KindWord:
		return float64(s.smiValue(v))
	}
	o := v.Ref
	if f, ok := s.fields[o]; ok {
		return f[heap.HeapNumberValue].Float
	}
	switch o.Kind {
	case heap.KindHeapNumber:
		return o.Number
	case heap.KindString:
		return heap.StringToNumber(o.Str)
	case heap.KindOddball:
		switch o.Oddball {
		case heap.OddballNull, heap.OddballFalse:
			return 0
		case heap.OddballTrue:
			return 1
		}
	}
	return math.NaN()
}

func (s *state) toString(n *ir.Node, v Value) string {
	if s.isString(v) {
		return v.Ref.Str
	}
	if v.Kind == KindRef && v.Ref.Kind == heap.KindOddball {
		return v.Ref.Name
	}
	f := s.number(v)
	if str, ok := heap.NumberToString(f); ok {
		return str
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (s *state) truthy(v Value) bool {
	if s.isNumber(v) {
		f := s.number(v)
		return f != 0 && !math.IsNaN(f)
	}
	return v.Truthy()
}

// less is the abstract relational comparison; orEqual selects <=.
func (s *state) less(a, b Value, orEqual bool) bool {
	if s.isString(a) && s.isString(b) {
		if orEqual {
			return a.Ref.Str <= b.Ref.Str
		}
		return a.Ref.Str < b.Ref.Str
	}
	x, y := s.number(a), s.number(b)
	if orEqual {
		return x <= y
	}
	return x < y
}

func (s *state) strictEqual(a, b Value) bool {
	switch {
	case s.isNumber(a) && s.isNumber(b):
		return s.number(a) == s.number(b)
	case s.isString(a) && s.isString(b):
		return a.Ref.Str == b.Ref.Str
	case a.Kind == KindRef && b.Kind == KindRef:
		return a.Ref == b.Ref
	}
	return false
}

func (s *state) looseEqual(a, b Value) bool {
	nullish := func(v Value) bool {
		return v.Kind == KindRef && (v.Ref == heap.Undefined || v.Ref == heap.Null)
	}
	switch {
	case nullish(a) || nullish(b):
		return nullish(a) && nullish(b)
	case s.isString(a) && s.isString(b):
		return a.Ref.Str == b.Ref.Str
	case a.Kind == KindRef && b.Kind == KindRef && a.Ref.Kind != heap.KindOddball &&
		b.Ref.Kind != heap.KindOddball && !s.isNumber(a) && !s.isNumber(b):
		return a.Ref == b.Ref
	}
	return s.number(a) == s.number(b)
}
