package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/types"
)

func TestFieldAccessLayouts(t *testing.T) {
	tests := []struct {
		name    string
		access  FieldAccess
		offset  int
		machine MachineType
		barrier WriteBarrierKind
	}{
		{"map", ForMap(), heap.MapOffset, MachineAnyTagged, MapWriteBarrier},
		{"heap number value", ForHeapNumberValue(), heap.HeapNumberValue, MachineFloat64, NoWriteBarrier},
		{"string length", ForStringLength(), heap.StringLength, MachineTaggedSigned, NoWriteBarrier},
		{"cons first", ForConsStringFirst(), heap.ConsStringFirst, MachineTaggedPtr, PointerWriteBarrier},
		{"cons second", ForConsStringSecond(), heap.ConsStringSecond, MachineTaggedPtr, PointerWriteBarrier},
		{"fixed array length", ForFixedArrayLength(), heap.FixedArrayLength, MachineTaggedSigned, NoWriteBarrier},
		{"fixed array slot 0", ForFixedArraySlot(0), 16, MachineAnyTagged, FullWriteBarrier},
		{"fixed array slot 3", ForFixedArraySlot(3), 40, MachineAnyTagged, FullWriteBarrier},
		{"context previous", ForContextSlot(heap.ContextPreviousIndex), 24, MachineAnyTagged, FullWriteBarrier},
		{"context slot 6", ForContextSlot(6), 64, MachineAnyTagged, FullWriteBarrier},
		{"property cell", ForPropertyCellValue(), heap.PropertyCellValue, MachineAnyTagged, FullWriteBarrier},
		{"instance type", ForMapInstanceType(), heap.MapInstanceType, MachineUint8, NoWriteBarrier},
		{"bit field", ForMapBitField(), heap.MapBitField, MachineUint8, NoWriteBarrier},
		{"properties", ForJSObjectProperties(), heap.JSObjectProperties, MachineTaggedPtr, PointerWriteBarrier},
		{"elements", ForJSObjectElements(), heap.JSObjectElements, MachineTaggedPtr, PointerWriteBarrier},
		{"array length", ForJSArrayLength(), heap.JSArrayLength, MachineAnyTagged, FullWriteBarrier},
		{"typed array length", ForJSTypedArrayLength(), heap.JSTypedArrayLength, MachineTaggedSigned, NoWriteBarrier},
		{"external pointer", ForExternalArrayPointer(), heap.FixedTypedArrayExternalPointer, MachinePointer, NoWriteBarrier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, TaggedBase, tt.access.Base)
			assert.Equal(t, tt.offset, tt.access.Offset)
			assert.Equal(t, tt.machine, tt.access.Machine)
			assert.Equal(t, tt.barrier, tt.access.WriteBarrier)
		})
	}
}

func TestContextSlotNames(t *testing.T) {
	assert.Equal(t, "previous", ForContextSlot(heap.ContextPreviousIndex).Name)
	assert.Equal(t, "context5", ForContextSlot(5).Name)
	assert.Equal(t, "previous+24", ForContextSlot(1).String())
}

func TestPropertyCellValueOfType(t *testing.T) {
	smi := ForPropertyCellValueOfType(types.Range(0, 10))
	assert.Equal(t, MachineTaggedSigned, smi.Machine)
	assert.Equal(t, NoWriteBarrier, smi.WriteBarrier)

	ptr := ForPropertyCellValueOfType(types.String)
	assert.Equal(t, MachineTaggedPtr, ptr.Machine)
	assert.Equal(t, PointerWriteBarrier, ptr.WriteBarrier)

	anyValue := ForPropertyCellValueOfType(types.Number)
	assert.Equal(t, MachineAnyTagged, anyValue.Machine)
	assert.Equal(t, FullWriteBarrier, anyValue.WriteBarrier)
}

func TestTypedArrayElement(t *testing.T) {
	tests := []struct {
		kind     heap.ExternalArrayType
		machine  MachineType
		typ      types.Type
		sizeLog2 int
	}{
		{heap.Int8Array, MachineInt8, types.Signed32, 0},
		{heap.Uint8Array, MachineUint8, types.Unsigned32, 0},
		{heap.Uint8ClampedArray, MachineUint8, types.Unsigned32, 0},
		{heap.Int16Array, MachineInt16, types.Signed32, 1},
		{heap.Uint16Array, MachineUint16, types.Unsigned32, 1},
		{heap.Int32Array, MachineInt32, types.Signed32, 2},
		{heap.Uint32Array, MachineUint32, types.Unsigned32, 2},
		{heap.Float32Array, MachineFloat32, types.Number, 2},
		{heap.Float64Array, MachineFloat64, types.Number, 3},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			external := ForTypedArrayElement(tt.kind, true)
			assert.Equal(t, UntaggedBase, external.Base)
			assert.Equal(t, 0, external.HeaderSize)
			assert.Equal(t, tt.machine, external.Machine)
			assert.Equal(t, tt.typ, external.Type)
			assert.Equal(t, NoWriteBarrier, external.WriteBarrier)

			onHeap := ForTypedArrayElement(tt.kind, false)
			assert.Equal(t, TaggedBase, onHeap.Base)
			assert.Equal(t, heap.FixedTypedArrayHeader, onHeap.HeaderSize)

			buf := ForBufferAccess(tt.kind)
			assert.Equal(t, tt.machine, buf.Machine())
			assert.Equal(t, tt.typ, buf.Type())
			assert.Equal(t, tt.sizeLog2, buf.Machine().ElementSizeLog2())
			assert.Equal(t, tt.kind.ElementSizeLog2(), buf.Machine().ElementSizeLog2())
		})
	}
}

func TestInvalidParametersPanic(t *testing.T) {
	assert.Panics(t, func() { ForFixedArraySlot(-1) })
	assert.Panics(t, func() { ForContextSlot(-2) })
	assert.Panics(t, func() { ForTypedArrayElement(heap.ExternalArrayType(42), true) })
	assert.Panics(t, func() { ForBufferAccess(heap.ExternalArrayType(-1)) })
}
