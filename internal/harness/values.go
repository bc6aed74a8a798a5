package harness

import (
	"fmt"

	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/interp"
)

var oddballs = map[string]*heap.Object{
	"undefined": heap.Undefined,
	"null":      heap.Null,
	"true":      heap.True,
	"false":     heap.False,
	"the_hole":  heap.TheHole,
}

// fields counts the set fields of a.
func (a Arg) fields() int {
	n := 0
	for _, set := range []bool{
		a.Int32 != nil, a.Word != nil, a.Smi != nil, a.Float != nil,
		a.Bool != nil, a.String != nil, a.Number != nil, a.Oddball != "",
	} {
		if set {
			n++
		}
	}
	return n
}

// value converts a to an interpreter value for a graph of the given word
// size. Each call allocates fresh heap objects.
func (a Arg) value(is64 bool) (interp.Value, error) {
	switch {
	case a.Int32 != nil:
		return interp.Int32(*a.Int32), nil
	case a.Word != nil:
		return interp.Word(*a.Word), nil
	case a.Smi != nil:
		return interp.Smi(*a.Smi, is64), nil
	case a.Float != nil:
		return interp.Float(*a.Float), nil
	case a.Bool != nil:
		return interp.Bool(*a.Bool), nil
	case a.String != nil:
		return interp.Ref(heap.NewString(*a.String)), nil
	case a.Number != nil:
		return interp.Ref(heap.NewHeapNumber(*a.Number)), nil
	case a.Oddball != "":
		o, ok := oddballs[a.Oddball]
		if !ok {
			return interp.Value{}, fmt.Errorf("unknown oddball %q", a.Oddball)
		}
		return interp.Ref(o), nil
	}
	return interp.Value{}, fmt.Errorf("empty argument")
}

func argValues(args []Arg, is64 bool) ([]interp.Value, error) {
	values := make([]interp.Value, len(args))
	for i, a := range args {
		v, err := a.value(is64)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}
