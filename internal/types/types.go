// Package types provides the type-bound lattice attached to graph nodes.
//
// A Type is the union of three parts:
//   - a bitset over disjoint value classes (oddballs, number subranges,
//     strings, receivers, ...),
//   - an optional closed integer range,
//   - an optional single heap constant.
//
// The zero Type is None. Types are small comparable values; operations never
// mutate their receivers. Every predicate errs on the safe side: Is may
// answer false for a true subtype relation and Maybe may answer true for
// disjoint types, never the reverse.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/nodejit/internal/heap"
)

type bitset uint32

const (
	bitNull bitset = 1 << iota
	bitUndefined
	bitBoolean
	bitUnsigned30
	bitNegative31
	bitOtherUnsigned31
	bitOtherSigned32
	bitOtherUnsigned32
	bitOtherNumber
	bitMinusZero
	bitNaN
	bitInternalizedString
	bitOtherString
	bitSymbol
	bitOtherObject
	bitFunction
	bitOtherUndetectable
	bitHole
	bitInternal

	bitAny = 1<<iota - 1
)

const (
	bitSigned31      = bitUnsigned30 | bitNegative31
	bitSigned32      = bitSigned31 | bitOtherUnsigned31 | bitOtherSigned32
	bitUnsigned31    = bitUnsigned30 | bitOtherUnsigned31
	bitUnsigned32    = bitUnsigned31 | bitOtherUnsigned32
	bitIntegral32    = bitSigned32 | bitUnsigned32
	bitPlainNumber   = bitIntegral32 | bitOtherNumber
	bitOrderedNumber = bitPlainNumber | bitMinusZero
	bitNumber        = bitOrderedNumber | bitNaN
	bitString        = bitInternalizedString | bitOtherString
	bitObject        = bitOtherObject | bitFunction | bitOtherUndetectable
	bitPrimitive     = bitNumber | bitString | bitSymbol | bitBoolean | bitNull | bitUndefined
	bitUnique        = bitBoolean | bitUndefined | bitNull | bitInternalizedString | bitSymbol | bitObject | bitHole
)

// Type is an element of the lattice.
type Type struct {
	bits     bitset
	hasRange bool
	min, max float64
	constant *heap.Object
}

func bitsType(b bitset) Type { return Type{bits: b} }

// Named lattice points.
var (
	None               = Type{}
	Null               = bitsType(bitNull)
	Undefined          = bitsType(bitUndefined)
	Boolean            = bitsType(bitBoolean)
	Unsigned30         = bitsType(bitUnsigned30)
	Negative31         = bitsType(bitNegative31)
	Signed31           = bitsType(bitSigned31)
	Signed32           = bitsType(bitSigned32)
	Unsigned31         = bitsType(bitUnsigned31)
	Unsigned32         = bitsType(bitUnsigned32)
	Integral32         = bitsType(bitIntegral32)
	OtherNumber        = bitsType(bitOtherNumber)
	MinusZero          = bitsType(bitMinusZero)
	NaN                = bitsType(bitNaN)
	PlainNumber        = bitsType(bitPlainNumber)
	OrderedNumber      = bitsType(bitOrderedNumber)
	Number             = bitsType(bitNumber)
	InternalizedString = bitsType(bitInternalizedString)
	String             = bitsType(bitString)
	Symbol             = bitsType(bitSymbol)
	Function           = bitsType(bitFunction)
	Callable           = bitsType(bitFunction)
	Object             = bitsType(bitObject)
	Receiver           = bitsType(bitObject)
	DetectableReceiver = bitsType(bitOtherObject | bitFunction)
	Undetectable       = bitsType(bitNull | bitUndefined | bitOtherUndetectable)
	Hole               = bitsType(bitHole)
	Internal           = bitsType(bitInternal)
	Primitive          = bitsType(bitPrimitive)
	PlainPrimitive     = bitsType(bitNumber | bitString | bitBoolean | bitNull | bitUndefined)
	Unique             = bitsType(bitUnique)
	NumberOrString     = bitsType(bitNumber | bitString)
	StringOrReceiver   = bitsType(bitString | bitObject)
	NullOrUndefined    = bitsType(bitNull | bitUndefined)
	NumberOrUndefined  = bitsType(bitNumber | bitUndefined)
	BooleanOrNumber    = bitsType(bitBoolean | bitNumber)
	Any                = bitsType(bitAny)
)

// numberBoundaries partitions the number line into the integral bitset
// classes. Each entry covers [min, next.min).
var numberBoundaries = []struct {
	bits bitset
	min  float64
}{
	{bitOtherNumber, math.Inf(-1)},
	{bitOtherSigned32, math.MinInt32},
	{bitNegative31, -(1 << 30)},
	{bitUnsigned30, 0},
	{bitOtherUnsigned31, 1 << 30},
	{bitOtherUnsigned32, 1 << 31},
	{bitOtherNumber, 1 << 32},
}

func boundaryMax(i int) float64 {
	if i+1 < len(numberBoundaries) {
		return numberBoundaries[i+1].min - 1
	}
	return math.Inf(1)
}

// rangeLub is the smallest bitset containing every integer in [min, max].
func rangeLub(min, max float64) bitset {
	var b bitset
	for i, nb := range numberBoundaries {
		if max < nb.min {
			break
		}
		if min <= boundaryMax(i) {
			b |= nb.bits
		}
	}
	return b
}

func constantLub(o *heap.Object) bitset {
	switch o.Kind {
	case heap.KindOddball:
		switch o.Oddball {
		case heap.OddballUndefined:
			return bitUndefined
		case heap.OddballNull:
			return bitNull
		case heap.OddballTrue, heap.OddballFalse:
			return bitBoolean
		default:
			return bitHole
		}
	case heap.KindString:
		return bitInternalizedString
	case heap.KindHeapNumber:
		return NumberConstant(o.Number).Bitset()
	case heap.KindFunction:
		return bitFunction
	case heap.KindObject, heap.KindTypedArray:
		return bitOtherObject
	default:
		return bitInternal
	}
}

// Range returns the type of integers in [min, max].
func Range(min, max float64) Type {
	if min > max || min != math.Trunc(min) || max != math.Trunc(max) {
		panic(fmt.Sprintf("types: invalid range [%v, %v]", min, max))
	}
	return Type{hasRange: true, min: min, max: max}
}

// NumberConstant returns the most precise type containing v.
func NumberConstant(v float64) Type {
	switch {
	case math.IsNaN(v):
		return NaN
	case v == 0 && math.Signbit(v):
		return MinusZero
	case !math.IsInf(v, 0) && v == math.Trunc(v) && math.Abs(v) <= 1<<53:
		return Range(v, v)
	}
	return OtherNumber
}

// Constant returns the singleton type of a heap object. Oddballs and heap
// numbers collapse to their bitset/range form.
func Constant(o *heap.Object) Type {
	switch o.Kind {
	case heap.KindOddball:
		return bitsType(constantLub(o))
	case heap.KindHeapNumber:
		return NumberConstant(o.Number)
	}
	return Type{constant: o}
}

// Bitset returns the least bitset type containing t.
func (t Type) Bitset() bitset {
	b := t.bits
	if t.hasRange {
		b |= rangeLub(t.min, t.max)
	}
	if t.constant != nil {
		b |= constantLub(t.constant)
	}
	return b
}

// IsNone reports whether t is the empty type.
func (t Type) IsNone() bool {
	return t.bits == 0 && !t.hasRange && t.constant == nil
}

// HeapConstant returns the heap object when t is exactly one constant.
func (t Type) HeapConstant() (*heap.Object, bool) {
	if t.constant != nil && t.bits == 0 && !t.hasRange {
		return t.constant, true
	}
	return nil, false
}

// RangeOf returns the range part when t is exactly a range.
func (t Type) RangeOf() (min, max float64, ok bool) {
	if t.hasRange && t.bits == 0 && t.constant == nil {
		return t.min, t.max, true
	}
	return 0, 0, false
}

func numericBounds(b bitset) (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	for i, nb := range numberBoundaries {
		if b&nb.bits == 0 {
			continue
		}
		lo, hi := nb.min, boundaryMax(i)
		if nb.bits == bitOtherNumber {
			lo, hi = math.Inf(-1), math.Inf(1)
		}
		min = math.Min(min, lo)
		max = math.Max(max, hi)
		ok = true
	}
	if b&bitMinusZero != 0 {
		min = math.Min(min, 0)
		max = math.Max(max, 0)
		ok = true
	}
	return min, max, ok
}

// Min is the least number in t, or +Inf when t has no ordered numbers.
func (t Type) Min() float64 {
	min, _, _ := numericBounds(t.bits)
	if t.hasRange {
		min = math.Min(min, t.min)
	}
	return min
}

// Max is the greatest number in t, or -Inf when t has no ordered numbers.
func (t Type) Max() float64 {
	_, max, _ := numericBounds(t.bits)
	if t.hasRange {
		max = math.Max(max, t.max)
	}
	return max
}

func sameValue(a, b *heap.Object) bool {
	if a == b {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case heap.KindString:
		return a.Str == b.Str
	case heap.KindHeapNumber:
		return a.Number == b.Number
	}
	return false
}

// Is reports whether every value of t is a value of u.
func (t Type) Is(u Type) bool {
	if t == u || t.IsNone() {
		return true
	}
	if missing := t.bits &^ u.bits; missing != 0 {
		if missing&^bitIntegral32 != 0 || !u.hasRange {
			return false
		}
		lo, hi, _ := numericBounds(missing)
		if lo < u.min || hi > u.max {
			return false
		}
	}
	if t.hasRange {
		inRange := u.hasRange && u.min <= t.min && t.max <= u.max
		if !inRange && rangeLub(t.min, t.max)&^u.bits != 0 {
			return false
		}
	}
	if t.constant != nil && t.constant != u.constant {
		if constantLub(t.constant)&^u.bits != 0 {
			return false
		}
	}
	return true
}

// Maybe reports whether t and u may share a value.
func (t Type) Maybe(u Type) bool {
	if t.bits&u.bits != 0 {
		return true
	}
	if t.hasRange {
		if u.hasRange && t.min <= u.max && u.min <= t.max {
			return true
		}
		if rangeLub(t.min, t.max)&u.bits != 0 {
			return true
		}
	}
	if u.hasRange && rangeLub(u.min, u.max)&t.bits != 0 {
		return true
	}
	if t.constant != nil {
		if u.constant != nil && sameValue(t.constant, u.constant) {
			return true
		}
		if constantLub(t.constant)&u.bits != 0 {
			return true
		}
	}
	if u.constant != nil && constantLub(u.constant)&t.bits != 0 {
		return true
	}
	return false
}

// Union returns a type containing both t and u.
func Union(t, u Type) Type {
	r := Type{bits: t.bits | u.bits}
	switch {
	case t.hasRange && u.hasRange:
		r.hasRange, r.min, r.max = true, math.Min(t.min, u.min), math.Max(t.max, u.max)
	case t.hasRange:
		r.hasRange, r.min, r.max = true, t.min, t.max
	case u.hasRange:
		r.hasRange, r.min, r.max = true, u.min, u.max
	}
	switch {
	case t.constant == nil:
		r.constant = u.constant
	case u.constant == nil || u.constant == t.constant:
		r.constant = t.constant
	default:
		r.bits |= constantLub(t.constant) | constantLub(u.constant)
	}
	return r
}

// Intersect returns a type contained in t that still contains every value
// shared by t and u. Retyping a node with Intersect never loosens it.
func Intersect(t, u Type) Type {
	if t.Is(u) {
		return t
	}
	if u.Is(t) {
		return u
	}
	r := Type{bits: t.bits & u.Bitset()}
	if t.hasRange {
		if u.hasRange && u.bits&bitNumber == 0 {
			lo, hi := math.Max(t.min, u.min), math.Min(t.max, u.max)
			if lo <= hi {
				r.hasRange, r.min, r.max = true, lo, hi
			}
		} else if Range(t.min, t.max).Maybe(u) {
			r.hasRange, r.min, r.max = true, t.min, t.max
		}
	}
	if t.constant != nil && Constant(t.constant).Maybe(u) {
		r.constant = t.constant
	}
	return r
}

// namedTypes drives String and Parse. Composite names come first so that
// String picks the shortest spelling.
var namedTypes = []struct {
	name string
	bits bitset
}{
	{"Any", bitAny},
	{"Primitive", bitPrimitive},
	{"Unique", bitUnique},
	{"Number", bitNumber},
	{"OrderedNumber", bitOrderedNumber},
	{"PlainNumber", bitPlainNumber},
	{"Integral32", bitIntegral32},
	{"Signed32", bitSigned32},
	{"Unsigned32", bitUnsigned32},
	{"Signed31", bitSigned31},
	{"Unsigned31", bitUnsigned31},
	{"Receiver", bitObject},
	{"String", bitString},
	{"Unsigned30", bitUnsigned30},
	{"Negative31", bitNegative31},
	{"OtherUnsigned31", bitOtherUnsigned31},
	{"OtherSigned32", bitOtherSigned32},
	{"OtherUnsigned32", bitOtherUnsigned32},
	{"OtherNumber", bitOtherNumber},
	{"MinusZero", bitMinusZero},
	{"NaN", bitNaN},
	{"InternalizedString", bitInternalizedString},
	{"OtherString", bitOtherString},
	{"Symbol", bitSymbol},
	{"Null", bitNull},
	{"Undefined", bitUndefined},
	{"Boolean", bitBoolean},
	{"OtherObject", bitOtherObject},
	{"Function", bitFunction},
	{"OtherUndetectable", bitOtherUndetectable},
	{"Hole", bitHole},
	{"Internal", bitInternal},
}

func (t Type) String() string {
	if t.IsNone() {
		return "None"
	}
	var parts []string
	rest := t.bits
	for _, nt := range namedTypes {
		if rest == 0 {
			break
		}
		if nt.bits&rest == nt.bits {
			parts = append(parts, nt.name)
			rest &^= nt.bits
		}
	}
	if t.hasRange {
		parts = append(parts, "Range("+formatBound(t.min)+", "+formatBound(t.max)+")")
	}
	if t.constant != nil {
		parts = append(parts, fmt.Sprintf("Constant(%s)", t.constant))
	}
	return strings.Join(parts, "|")
}

func formatBound(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Parse reads the String form back, except for Constant parts which
// cannot be named textually. Aliases Object, Callable, Boolean and the
// other exported composites are accepted.
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return None, nil
	}
	r := None
	for _, part := range splitUnion(s) {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "Range(") && strings.HasSuffix(part, ")") {
			lo, hi, err := parseRange(part[len("Range(") : len(part)-1])
			if err != nil {
				return None, fmt.Errorf("types: bad range %q: %w", part, err)
			}
			r = Union(r, Range(lo, hi))
			continue
		}
		b, ok := aliases[part]
		if !ok {
			return None, fmt.Errorf("types: unknown type %q", part)
		}
		r = Union(r, bitsType(b))
	}
	return r, nil
}

func parseRange(s string) (lo, hi float64, err error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("want two bounds")
	}
	if lo, err = strconv.ParseFloat(strings.TrimSpace(a), 64); err != nil {
		return 0, 0, err
	}
	if hi, err = strconv.ParseFloat(strings.TrimSpace(b), 64); err != nil {
		return 0, 0, err
	}
	if lo > hi || lo != math.Trunc(lo) || hi != math.Trunc(hi) {
		return 0, 0, fmt.Errorf("bounds must be ordered integers")
	}
	return lo, hi, nil
}

func splitUnion(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

var aliases = func() map[string]bitset {
	m := make(map[string]bitset, len(namedTypes)+12)
	for _, nt := range namedTypes {
		m[nt.name] = nt.bits
	}
	for name, t := range map[string]Type{
		"Object":             Object,
		"Callable":           Callable,
		"DetectableReceiver": DetectableReceiver,
		"Undetectable":       Undetectable,
		"PlainPrimitive":     PlainPrimitive,
		"NumberOrString":     NumberOrString,
		"StringOrReceiver":   StringOrReceiver,
		"NullOrUndefined":    NullOrUndefined,
		"NumberOrUndefined":  NumberOrUndefined,
		"BooleanOrNumber":    BooleanOrNumber,
	} {
		m[name] = t.bits
	}
	return m
}()
