package heap

import (
	"fmt"
	"math"
)

// Kind classifies a compile-time-known heap object.
type Kind int

const (
	KindOddball Kind = iota
	KindMap
	KindString
	KindHeapNumber
	KindTypedArray
	KindFunction
	KindObject
	KindPropertyCell
)

func (k Kind) String() string {
	switch k {
	case KindOddball:
		return "oddball"
	case KindMap:
		return "map"
	case KindString:
		return "string"
	case KindHeapNumber:
		return "heap-number"
	case KindTypedArray:
		return "typed-array"
	case KindFunction:
		return "function"
	case KindObject:
		return "object"
	case KindPropertyCell:
		return "property-cell"
	default:
		return "unknown"
	}
}

// OddballKind distinguishes the singleton oddball values.
type OddballKind int

const (
	OddballUndefined OddballKind = iota
	OddballNull
	OddballTrue
	OddballFalse
	OddballTheHole
)

// Object is a heap object whose identity and contents are known while
// compiling. Objects are compared by pointer identity.
type Object struct {
	Kind Kind
	Name string

	// Map overrides the default map of the object's kind.
	Map *Object

	Oddball OddballKind
	Str     string
	Number  float64

	// Maps.
	InstanceType InstanceType
	BitField     uint8

	// Typed arrays.
	ArrayType    ExternalArrayType
	Length       int64
	External     bool
	BackingStore uintptr
}

// Well-known singletons shared by every graph.
var (
	Undefined = &Object{Kind: KindOddball, Name: "undefined", Oddball: OddballUndefined}
	Null      = &Object{Kind: KindOddball, Name: "null", Oddball: OddballNull}
	True      = &Object{Kind: KindOddball, Name: "true", Oddball: OddballTrue}
	False     = &Object{Kind: KindOddball, Name: "false", Oddball: OddballFalse}
	TheHole   = &Object{Kind: KindOddball, Name: "the_hole", Oddball: OddballTheHole}

	HeapNumberMap   = &Object{Kind: KindMap, Name: "heap_number_map", InstanceType: HeapNumberType}
	StringMap       = &Object{Kind: KindMap, Name: "string_map", InstanceType: StringType}
	OddballMap      = &Object{Kind: KindMap, Name: "oddball_map", InstanceType: OddballType}
	MetaMap         = &Object{Kind: KindMap, Name: "meta_map", InstanceType: MapType}
	ObjectMap       = &Object{Kind: KindMap, Name: "object_map", InstanceType: JSObjectType}
	FunctionMap     = &Object{Kind: KindMap, Name: "function_map", InstanceType: JSFunctionType, BitField: MapIsCallable}
	TypedArrayMap   = &Object{Kind: KindMap, Name: "typed_array_map", InstanceType: JSTypedArrayType}
	PropertyCellMap = &Object{Kind: KindMap, Name: "property_cell_map", InstanceType: FixedArrayType}
)

// MapOf returns the map word of o.
func MapOf(o *Object) *Object {
	if o.Map != nil {
		return o.Map
	}
	switch o.Kind {
	case KindOddball:
		return OddballMap
	case KindMap:
		return MetaMap
	case KindString:
		return StringMap
	case KindHeapNumber:
		return HeapNumberMap
	case KindTypedArray:
		return TypedArrayMap
	case KindFunction:
		return FunctionMap
	case KindPropertyCell:
		return PropertyCellMap
	}
	return ObjectMap
}

// NewString returns a fresh string object. Callers that need pointer
// equality between equal strings must intern through ir.JSGraph.
func NewString(s string) *Object {
	return &Object{Kind: KindString, Name: fmt.Sprintf("%q", s), Str: s}
}

// NewHeapNumber returns a boxed number.
func NewHeapNumber(v float64) *Object {
	return &Object{Kind: KindHeapNumber, Name: fmt.Sprintf("%v", v), Number: v}
}

// NewMap returns a map describing objects of the given instance type.
func NewMap(name string, t InstanceType, bitField uint8) *Object {
	return &Object{Kind: KindMap, Name: name, InstanceType: t, BitField: bitField}
}

// NewFunction returns a callable object.
func NewFunction(name string) *Object {
	return &Object{Kind: KindFunction, Name: name}
}

// NewTypedArray returns a typed array whose elements live in an external
// backing store at the given address.
func NewTypedArray(t ExternalArrayType, length int64, backingStore uintptr) *Object {
	if length < 0 {
		panic(fmt.Sprintf("heap: negative typed array length %d", length))
	}
	return &Object{
		Kind:         KindTypedArray,
		Name:         fmt.Sprintf("%s[%d]", t, length),
		ArrayType:    t,
		Length:       length,
		External:     true,
		BackingStore: backingStore,
	}
}

// ByteLength is Length scaled by the element size.
func (o *Object) ByteLength() int64 {
	return o.Length << o.ArrayType.ElementSizeLog2()
}

// IsTypedArray reports whether o is a typed array with an external store.
func (o *Object) IsTypedArray() bool {
	return o != nil && o.Kind == KindTypedArray
}

// BooleanValue reports the truthiness of oddballs, strings and numbers.
// ok is false for kinds whose truthiness is not statically known here.
func (o *Object) BooleanValue() (value bool, ok bool) {
	switch o.Kind {
	case KindOddball:
		return o.Oddball == OddballTrue, true
	case KindString:
		return o.Str != "", true
	case KindHeapNumber:
		return o.Number != 0 && !math.IsNaN(o.Number), true
	case KindFunction, KindObject, KindTypedArray:
		return true, true
	}
	return false, false
}

func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	return o.Name
}
