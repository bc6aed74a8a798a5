package heap

import "fmt"

// Object layout of the 64-bit heap. Offsets are in bytes from the tagged
// object start (before untagging).
const (
	PointerSize      = 8
	PointerSizeLog2  = 3
	HeapObjectTag    = 1
	SmiTagMask       = 1
	SmiTag           = 0
	MapOffset        = 0
	HeapNumberValue  = 8
	HeapNumberSize   = 16
	NameHashField    = 8
	StringLength     = 16
	ConsStringFirst  = 24
	ConsStringSecond = 32

	FixedArrayLength = 8
	FixedArrayHeader = 16

	FixedTypedArrayBasePointer     = 8
	FixedTypedArrayExternalPointer = 16
	FixedTypedArrayHeader          = 24

	PropertyCellValue = 8

	MapBitField     = 12
	MapInstanceType = 13

	JSObjectProperties     = 8
	JSObjectElements       = 16
	JSArrayLength          = 24
	JSArrayBufferViewBytes = 32
	JSTypedArrayLength     = 40
)

// Context slot indices.
const (
	ContextClosureIndex   = 0
	ContextPreviousIndex  = 1
	ContextExtensionIndex = 2
	ContextNativeIndex    = 3
	ContextMinSlots       = 4
)

// Map bit field flags.
const (
	MapIsCallable     uint8 = 1 << 1
	MapIsUndetectable uint8 = 1 << 4
)

// InstanceType is the per-map object type tag. All string types sort below
// FirstNonstringType; all receivers sort at or above FirstReceiverType.
type InstanceType uint16

const (
	InternalizedStringType InstanceType = 0
	StringType             InstanceType = 1
	ConsStringType         InstanceType = 2
	FirstNonstringType     InstanceType = 128
	SymbolType             InstanceType = 128
	HeapNumberType         InstanceType = 129
	OddballType            InstanceType = 131
	MapType                InstanceType = 132
	FixedArrayType         InstanceType = 140
	FirstReceiverType      InstanceType = 180
	JSObjectType           InstanceType = 181
	JSArrayType            InstanceType = 182
	JSTypedArrayType       InstanceType = 183
	JSFunctionType         InstanceType = 190
)

// ExternalArrayType is the element kind of a typed array.
type ExternalArrayType int

const (
	Int8Array ExternalArrayType = iota
	Uint8Array
	Uint8ClampedArray
	Int16Array
	Uint16Array
	Int32Array
	Uint32Array
	Float32Array
	Float64Array
)

var arrayTypeNames = [...]string{
	Int8Array:         "Int8Array",
	Uint8Array:        "Uint8Array",
	Uint8ClampedArray: "Uint8ClampedArray",
	Int16Array:        "Int16Array",
	Uint16Array:       "Uint16Array",
	Int32Array:        "Int32Array",
	Uint32Array:       "Uint32Array",
	Float32Array:      "Float32Array",
	Float64Array:      "Float64Array",
}

func (t ExternalArrayType) String() string {
	if t < 0 || int(t) >= len(arrayTypeNames) {
		return fmt.Sprintf("ExternalArrayType(%d)", int(t))
	}
	return arrayTypeNames[t]
}

// Valid reports whether t names a known element kind.
func (t ExternalArrayType) Valid() bool {
	return t >= Int8Array && t <= Float64Array
}

// ElementSizeLog2 is log2 of the element width in bytes.
func (t ExternalArrayType) ElementSizeLog2() int {
	switch t {
	case Int8Array, Uint8Array, Uint8ClampedArray:
		return 0
	case Int16Array, Uint16Array:
		return 1
	case Int32Array, Uint32Array, Float32Array:
		return 2
	case Float64Array:
		return 3
	}
	panic(fmt.Sprintf("heap: invalid external array type %d", int(t)))
}

// IsInteger reports whether elements are integers.
func (t ExternalArrayType) IsInteger() bool {
	return t != Float32Array && t != Float64Array
}

// IsSigned reports whether integer elements are signed.
func (t ExternalArrayType) IsSigned() bool {
	return t == Int8Array || t == Int16Array || t == Int32Array
}

// ParseExternalArrayType maps a constructor name back to its kind.
func ParseExternalArrayType(s string) (ExternalArrayType, error) {
	for i, name := range arrayTypeNames {
		if name == s {
			return ExternalArrayType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown typed array kind %q", s)
}
