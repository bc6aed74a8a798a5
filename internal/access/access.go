// Package access builds the memory-access descriptors used by load and
// store operators.
//
// Every factory is pure and returns a value type. Factories describe the
// 64-bit heap layout in package heap; passing an invalid slot index or
// element kind is a programming error and panics.
package access

import (
	"fmt"

	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/types"
)

// BaseTaggedness says whether the base pointer carries the heap object tag.
type BaseTaggedness int

const (
	UntaggedBase BaseTaggedness = iota
	TaggedBase
)

func (b BaseTaggedness) String() string {
	if b == TaggedBase {
		return "tagged"
	}
	return "untagged"
}

// WriteBarrierKind is the barrier a store through the access requires.
type WriteBarrierKind int

const (
	NoWriteBarrier WriteBarrierKind = iota
	MapWriteBarrier
	PointerWriteBarrier
	FullWriteBarrier
)

func (w WriteBarrierKind) String() string {
	switch w {
	case NoWriteBarrier:
		return "no-barrier"
	case MapWriteBarrier:
		return "map-barrier"
	case PointerWriteBarrier:
		return "pointer-barrier"
	case FullWriteBarrier:
		return "full-barrier"
	}
	return fmt.Sprintf("barrier(%d)", int(w))
}

// FieldAccess describes a field at a fixed offset from the base.
type FieldAccess struct {
	Base         BaseTaggedness
	Offset       int
	Name         string
	Type         types.Type
	Machine      MachineType
	WriteBarrier WriteBarrierKind
}

// String is the short form used in graph dumps.
func (a FieldAccess) String() string {
	return fmt.Sprintf("%s+%d", a.Name, a.Offset)
}

// ElementAccess describes indexed elements after a fixed-size header.
type ElementAccess struct {
	Base         BaseTaggedness
	HeaderSize   int
	Type         types.Type
	Machine      MachineType
	WriteBarrier WriteBarrierKind
}

func (a ElementAccess) String() string {
	return fmt.Sprintf("%s[%d+i*%d]", a.Base, a.HeaderSize, 1<<a.Machine.ElementSizeLog2())
}

// BufferAccess describes a bounds-checked raw buffer access. Out of bounds
// loads yield undefined (or NaN for float kinds) and stores are dropped.
type BufferAccess struct {
	ArrayType heap.ExternalArrayType
}

// Machine returns the machine type of one element.
func (a BufferAccess) Machine() MachineType {
	_, m := typedArrayElement(a.ArrayType)
	return m
}

// Type returns the type of a loaded element.
func (a BufferAccess) Type() types.Type {
	t, _ := typedArrayElement(a.ArrayType)
	return t
}

func (a BufferAccess) String() string { return a.ArrayType.String() }

const (
	stringMaxLength     = 1<<28 - 16
	fixedArrayMaxLength = 1<<27 - 3
)

// ForMap is the map word of any heap object.
func ForMap() FieldAccess {
	return FieldAccess{TaggedBase, heap.MapOffset, "map", types.Any, MachineAnyTagged, MapWriteBarrier}
}

// ForHeapNumberValue is the float payload of a boxed number.
func ForHeapNumberValue() FieldAccess {
	return FieldAccess{TaggedBase, heap.HeapNumberValue, "value", types.Number, MachineFloat64, NoWriteBarrier}
}

// ForStringLength is the Smi length of a string.
func ForStringLength() FieldAccess {
	return FieldAccess{TaggedBase, heap.StringLength, "length", types.Range(0, stringMaxLength), MachineTaggedSigned, NoWriteBarrier}
}

// ForConsStringFirst is the left half of a cons string.
func ForConsStringFirst() FieldAccess {
	return FieldAccess{TaggedBase, heap.ConsStringFirst, "first", types.String, MachineTaggedPtr, PointerWriteBarrier}
}

// ForConsStringSecond is the right half of a cons string.
func ForConsStringSecond() FieldAccess {
	return FieldAccess{TaggedBase, heap.ConsStringSecond, "second", types.String, MachineTaggedPtr, PointerWriteBarrier}
}

// ForFixedArrayLength is the Smi length of a fixed array.
func ForFixedArrayLength() FieldAccess {
	return FieldAccess{TaggedBase, heap.FixedArrayLength, "length", types.Range(0, fixedArrayMaxLength), MachineTaggedSigned, NoWriteBarrier}
}

// ForFixedArraySlot is slot index of a fixed array.
func ForFixedArraySlot(index int) FieldAccess {
	if index < 0 {
		panic(fmt.Sprintf("access: negative fixed array slot %d", index))
	}
	return FieldAccess{
		TaggedBase, heap.FixedArrayHeader + index*heap.PointerSize,
		fmt.Sprintf("slot%d", index), types.Any, MachineAnyTagged, FullWriteBarrier,
	}
}

// ForContextSlot is slot index of a context. Contexts share the fixed
// array layout.
func ForContextSlot(index int) FieldAccess {
	if index < 0 {
		panic(fmt.Sprintf("access: negative context slot %d", index))
	}
	name := fmt.Sprintf("context%d", index)
	switch index {
	case heap.ContextClosureIndex:
		name = "closure"
	case heap.ContextPreviousIndex:
		name = "previous"
	case heap.ContextExtensionIndex:
		name = "extension"
	case heap.ContextNativeIndex:
		name = "native"
	}
	return FieldAccess{
		TaggedBase, heap.FixedArrayHeader + index*heap.PointerSize,
		name, types.Any, MachineAnyTagged, FullWriteBarrier,
	}
}

// ForPropertyCellValue is the value held by a property cell.
func ForPropertyCellValue() FieldAccess {
	return ForPropertyCellValueOfType(types.Any)
}

// ForPropertyCellValueOfType narrows the representation when the cell is
// known to hold only small integers or only heap objects.
func ForPropertyCellValueOfType(t types.Type) FieldAccess {
	a := FieldAccess{TaggedBase, heap.PropertyCellValue, "value", t, MachineAnyTagged, FullWriteBarrier}
	switch {
	case t.Is(types.Signed31):
		a.Machine, a.WriteBarrier = MachineTaggedSigned, NoWriteBarrier
	case !t.Maybe(types.Signed31):
		a.Machine, a.WriteBarrier = MachineTaggedPtr, PointerWriteBarrier
	}
	return a
}

// ForMapInstanceType is the instance type byte of a map.
func ForMapInstanceType() FieldAccess {
	return FieldAccess{TaggedBase, heap.MapInstanceType, "instance_type", types.Range(0, 255), MachineUint8, NoWriteBarrier}
}

// ForMapBitField is the first bit field byte of a map.
func ForMapBitField() FieldAccess {
	return FieldAccess{TaggedBase, heap.MapBitField, "bit_field", types.Range(0, 255), MachineUint8, NoWriteBarrier}
}

func ForJSObjectProperties() FieldAccess {
	return FieldAccess{TaggedBase, heap.JSObjectProperties, "properties", types.Internal, MachineTaggedPtr, PointerWriteBarrier}
}

func ForJSObjectElements() FieldAccess {
	return FieldAccess{TaggedBase, heap.JSObjectElements, "elements", types.Internal, MachineTaggedPtr, PointerWriteBarrier}
}

func ForJSArrayLength() FieldAccess {
	return FieldAccess{TaggedBase, heap.JSArrayLength, "length", types.Unsigned32, MachineAnyTagged, FullWriteBarrier}
}

func ForJSTypedArrayLength() FieldAccess {
	return FieldAccess{TaggedBase, heap.JSTypedArrayLength, "length", types.Unsigned30, MachineTaggedSigned, NoWriteBarrier}
}

// ForExternalArrayPointer is the raw backing store address of a typed
// array's elements.
func ForExternalArrayPointer() FieldAccess {
	return FieldAccess{TaggedBase, heap.FixedTypedArrayExternalPointer, "external_pointer", types.Internal, MachinePointer, NoWriteBarrier}
}

// ForTypedArrayElement describes elements of the given kind. External
// stores are addressed from an untagged raw pointer with no header.
func ForTypedArrayElement(kind heap.ExternalArrayType, isExternal bool) ElementAccess {
	t, m := typedArrayElement(kind)
	a := ElementAccess{TaggedBase, heap.FixedTypedArrayHeader, t, m, NoWriteBarrier}
	if isExternal {
		a.Base, a.HeaderSize = UntaggedBase, 0
	}
	return a
}

// ForBufferAccess describes a bounds-checked access to elements of kind.
func ForBufferAccess(kind heap.ExternalArrayType) BufferAccess {
	typedArrayElement(kind)
	return BufferAccess{ArrayType: kind}
}

func typedArrayElement(kind heap.ExternalArrayType) (types.Type, MachineType) {
	switch kind {
	case heap.Int8Array:
		return types.Signed32, MachineInt8
	case heap.Uint8Array, heap.Uint8ClampedArray:
		return types.Unsigned32, MachineUint8
	case heap.Int16Array:
		return types.Signed32, MachineInt16
	case heap.Uint16Array:
		return types.Unsigned32, MachineUint16
	case heap.Int32Array:
		return types.Signed32, MachineInt32
	case heap.Uint32Array:
		return types.Unsigned32, MachineUint32
	case heap.Float32Array:
		return types.Number, MachineFloat32
	case heap.Float64Array:
		return types.Number, MachineFloat64
	}
	panic(fmt.Sprintf("access: invalid typed array kind %d", int(kind)))
}
