package interp

import (
	"fmt"
	"math"

	"github.com/roach88/nodejit/internal/heap"
)

// Kind says which field of a Value is meaningful.
type Kind int

const (
	// KindWord is a raw machine word. Bits, int32 and uint32 values and
	// tagged small integers are all words.
	KindWord Kind = iota
	// KindFloat is a float64, also used for every Number before
	// representation selection.
	KindFloat
	// KindRef is a pointer to a heap object.
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindFloat:
		return "float"
	case KindRef:
		return "ref"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one runtime value.
type Value struct {
	Kind  Kind
	Word  int64
	Float float64
	Ref   *heap.Object
}

func Word(w int64) Value       { return Value{Kind: KindWord, Word: w} }
func Int32(v int32) Value      { return Word(int64(v)) }
func Float(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func Ref(o *heap.Object) Value { return Value{Kind: KindRef, Ref: o} }

// Bool is a tagged boolean, the result of simplified comparisons.
func Bool(b bool) Value {
	if b {
		return Ref(heap.True)
	}
	return Ref(heap.False)
}

// bit is a machine boolean, the result of machine comparisons.
func bit(b bool) Value { return Word(b2i(b)) }

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Smi tags v as a small integer for the given word size.
func Smi(v int32, is64 bool) Value {
	if is64 {
		return Word(int64(v) << 32)
	}
	return Word(int64(v) << 1)
}

func (v Value) String() string {
	switch v.Kind {
	case KindWord:
		return fmt.Sprintf("w:%d", v.Word)
	case KindFloat:
		return fmt.Sprintf("f:%v", v.Float)
	case KindRef:
		return "ref:" + v.Ref.String()
	}
	return "?"
}

// Truthy is the branch interpretation of v: non-zero words, non-zero
// non-NaN floats and truthy heap objects.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindWord:
		return v.Word != 0
	case KindFloat:
		return v.Float != 0 && !math.IsNaN(v.Float)
	case KindRef:
		b, _ := v.Ref.BooleanValue()
		return b
	}
	return false
}

// SameValue compares two results observationally. Floats compare by bits
// except that all NaNs are equal. Heap numbers compare by value and
// strings by contents; other objects by identity.
func SameValue(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindWord:
		return a.Word == b.Word
	case KindFloat:
		if math.IsNaN(a.Float) && math.IsNaN(b.Float) {
			return true
		}
		return math.Float64bits(a.Float) == math.Float64bits(b.Float)
	}
	x, y := a.Ref, b.Ref
	switch {
	case x == y:
		return true
	case x.Kind == heap.KindHeapNumber && y.Kind == heap.KindHeapNumber:
		return SameValue(Float(x.Number), Float(y.Number))
	case x.Kind == heap.KindString && y.Kind == heap.KindString:
		return x.Str == y.Str
	}
	return false
}
