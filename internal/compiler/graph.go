package compiler

import (
	"fmt"
	"math"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/nodejit/internal/access"
	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/schedule"
	"github.com/roach88/nodejit/internal/types"
)

// Graph is a loaded graph description.
type Graph struct {
	Name    string
	JSGraph *ir.JSGraph
	// Schedule comes from the description's blocks, or is derived for
	// straight-line graphs. It is nil when neither applies.
	Schedule *schedule.Schedule
	// Nodes maps description ids to nodes.
	Nodes map[string]*ir.Node
}

// Node returns the node declared with id, or nil.
func (g *Graph) Node(id string) *ir.Node { return g.Nodes[id] }

// LoadGraph builds a graph from a CUE description:
//
//	graph: add: {
//		word_size: 64
//		nodes: [
//			{id: "start", op: "Start"},
//			{id: "a", op: "Parameter", index: 0, inputs: ["start"], type: "Signed32"},
//			...
//		]
//		blocks: [...]
//	}
//
// Inputs may name nodes declared later; loop back edges are written that
// way. wordSize applies when the description has no word_size.
func LoadGraph(v cue.Value, wordSize int) (*Graph, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	g := &Graph{Nodes: make(map[string]*ir.Node)}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		g.Name = labels[len(labels)-1].String()
	}

	if ws := v.LookupPath(cue.ParsePath("word_size")); ws.Exists() {
		n, err := ws.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		wordSize = int(n)
	}
	if wordSize != 32 && wordSize != 64 {
		return nil, &LoadError{
			Field:   "word_size",
			Message: fmt.Sprintf("word size must be 32 or 64, got %d", wordSize),
			Pos:     v.Pos(),
		}
	}
	g.JSGraph = ir.NewJSGraph(ir.NewGraph(), wordSize == 64)

	nodesVal := v.LookupPath(cue.ParsePath("nodes"))
	if !nodesVal.Exists() {
		return nil, &LoadError{Field: "nodes", Message: "nodes are required", Pos: v.Pos()}
	}
	if err := g.loadNodes(nodesVal); err != nil {
		return nil, err
	}

	blocksVal := v.LookupPath(cue.ParsePath("blocks"))
	if !blocksVal.Exists() {
		g.Schedule = straightLine(g.JSGraph)
		return g, nil
	}
	s, err := g.loadBlocks(blocksVal)
	if err != nil {
		return nil, err
	}
	g.Schedule = s
	return g, nil
}

// forwardRef is an input naming a node that was not declared yet.
type forwardRef struct {
	node  *ir.Node
	id    string
	index int
	ref   string
	pos   token.Pos
}

func (g *Graph) loadNodes(v cue.Value) error {
	iter, err := v.List()
	if err != nil {
		return formatCUEError(err)
	}

	var forward []forwardRef
	for i := 0; iter.Next(); i++ {
		nv := iter.Value()
		id, err := requireString(nv, "id", fmt.Sprintf("nodes[%d]", i))
		if err != nil {
			return err
		}
		field := "nodes." + id
		if _, dup := g.Nodes[id]; dup {
			return &LoadError{Field: field, Message: "duplicate node id", Pos: nv.Pos()}
		}

		refs, err := optStrings(nv, "inputs")
		if err != nil {
			return err
		}
		inputs := make([]*ir.Node, len(refs))
		var missing []forwardRef
		for j, ref := range refs {
			if in, ok := g.Nodes[ref]; ok {
				inputs[j] = in
				continue
			}
			inputs[j] = g.JSGraph.Dead()
			missing = append(missing, forwardRef{id: id, index: j, ref: ref, pos: nv.Pos()})
		}

		n, err := g.newNode(nv, field, inputs)
		if err != nil {
			return err
		}
		for _, m := range missing {
			m.node = n
			forward = append(forward, m)
		}

		if tv := nv.LookupPath(cue.ParsePath("type")); tv.Exists() {
			s, err := tv.String()
			if err != nil {
				return formatCUEError(err)
			}
			t, err := types.Parse(s)
			if err != nil {
				return &LoadError{Field: field + ".type", Message: err.Error(), Pos: tv.Pos()}
			}
			n.SetType(t)
		}

		switch n.Opcode() {
		case ir.OpStart:
			g.JSGraph.SetStart(n)
		case ir.OpEnd:
			g.JSGraph.SetEnd(n)
		}
		g.Nodes[id] = n
	}

	for _, f := range forward {
		in, ok := g.Nodes[f.ref]
		if !ok {
			return &LoadError{
				Field:   fmt.Sprintf("nodes.%s.inputs", f.id),
				Message: fmt.Sprintf("unknown node %q", f.ref),
				Pos:     f.pos,
			}
		}
		f.node.ReplaceInput(f.index, in)
	}

	if g.JSGraph.Start() == nil {
		return &LoadError{Field: "nodes", Message: "graph has no Start node", Pos: v.Pos()}
	}
	if g.JSGraph.End() == nil {
		return &LoadError{Field: "nodes", Message: "graph has no End node", Pos: v.Pos()}
	}
	return nil
}

// newNode creates the node for one description entry. Constants go
// through the JSGraph cache, so equal constants share a node.
func (g *Graph) newNode(v cue.Value, field string, inputs []*ir.Node) (*ir.Node, error) {
	name, err := requireString(v, "op", field)
	if err != nil {
		return nil, err
	}
	code, ok := ir.LookupOpcode(name)
	if !ok {
		return nil, &LoadError{Field: field + ".op", Message: fmt.Sprintf("unknown operator %q", name), Pos: v.Pos()}
	}

	jsg := g.JSGraph
	if code.IsConstant() {
		if len(inputs) > 0 {
			return nil, &LoadError{Field: field + ".inputs", Message: "constants take no inputs", Pos: v.Pos()}
		}
		switch code {
		case ir.OpInt32Constant:
			x, err := requireInt(v, "value", field)
			if err != nil {
				return nil, err
			}
			if x < math.MinInt32 || x > math.MaxInt32 {
				return nil, &LoadError{Field: field + ".value", Message: fmt.Sprintf("%d does not fit in 32 bits", x), Pos: v.Pos()}
			}
			return jsg.Int32Constant(int32(x)), nil
		case ir.OpInt64Constant:
			x, err := requireInt(v, "value", field)
			if err != nil {
				return nil, err
			}
			return jsg.Int64Constant(x), nil
		case ir.OpFloat64Constant, ir.OpNumberConstant:
			f, err := requireNumber(v, "value", field)
			if err != nil {
				return nil, err
			}
			if code == ir.OpFloat64Constant {
				return jsg.Float64Constant(f), nil
			}
			return jsg.NumberConstant(f), nil
		default:
			o, err := g.heapObject(v, field)
			if err != nil {
				return nil, err
			}
			return jsg.HeapConstant(o), nil
		}
	}

	op, err := operatorFor(code, v, field, len(inputs))
	if err != nil {
		return nil, err
	}
	if op.InputCount() != len(inputs) {
		return nil, &LoadError{
			Field:   field + ".inputs",
			Message: fmt.Sprintf("%s wants %d inputs, got %d", op, op.InputCount(), len(inputs)),
			Pos:     v.Pos(),
		}
	}
	return jsg.NewNode(op, inputs...), nil
}

// operatorFor builds the operator of a non-constant node. Variadic
// operators take their arity from the number of inputs.
func operatorFor(code ir.Opcode, v cue.Value, field string, inputs int) (*ir.Operator, error) {
	atLeast := func(min int) error {
		if inputs < min {
			return &LoadError{
				Field:   field + ".inputs",
				Message: fmt.Sprintf("%s needs at least %d inputs", code, min),
				Pos:     v.Pos(),
			}
		}
		return nil
	}

	switch code {
	case ir.OpEnd:
		return ir.End(inputs), atLeast(1)
	case ir.OpMerge:
		return ir.Merge(inputs), atLeast(1)
	case ir.OpLoop:
		return ir.Loop(inputs), atLeast(2)
	case ir.OpPhi:
		rep := access.RepTagged
		s, ok, err := optString(v, "rep")
		if err != nil {
			return nil, err
		}
		if ok {
			if rep, err = access.ParseRepresentation(s); err != nil {
				return nil, &LoadError{Field: field + ".rep", Message: err.Error(), Pos: v.Pos()}
			}
		}
		return ir.Phi(rep, inputs-1), atLeast(2)
	case ir.OpEffectPhi:
		return ir.EffectPhi(inputs - 1), atLeast(2)
	case ir.OpCall:
		return ir.Call(inputs - 2), atLeast(3)
	case ir.OpTailCall:
		return ir.TailCall(inputs - 2), atLeast(3)
	case ir.OpCheckMaps:
		return ir.CheckMaps(inputs - 3), atLeast(4)
	case ir.OpFrameState:
		id, err := requireInt(v, "bailout", field)
		if err != nil {
			return nil, err
		}
		return ir.FrameState(ir.FrameStateInfo{BailoutID: int(id)}, inputs), nil
	case ir.OpSwitch:
		n, err := requireInt(v, "successors", field)
		if err != nil {
			return nil, err
		}
		return ir.Switch(int(n)), nil
	case ir.OpIfValue:
		x, err := requireInt(v, "value", field)
		if err != nil {
			return nil, err
		}
		return ir.IfValue(x), nil
	case ir.OpParameter, ir.OpProjection:
		i, err := requireInt(v, "index", field)
		if err != nil {
			return nil, err
		}
		if code == ir.OpParameter {
			return ir.Parameter(int(i)), nil
		}
		return ir.Projection(int(i)), nil
	case ir.OpDeoptimize, ir.OpDeoptimizeIf, ir.OpDeoptimizeUnless:
		s, err := requireString(v, "reason", field)
		if err != nil {
			return nil, err
		}
		reason, err := ir.ParseDeoptReason(s)
		if err != nil {
			return nil, &LoadError{Field: field + ".reason", Message: err.Error(), Pos: v.Pos()}
		}
		switch code {
		case ir.OpDeoptimize:
			return ir.Deoptimize(reason), nil
		case ir.OpDeoptimizeIf:
			return ir.DeoptimizeIf(reason), nil
		}
		return ir.DeoptimizeUnless(reason), nil
	case ir.OpBeginRegion:
		obs := ir.RegionObservable
		s, ok, err := optString(v, "observability")
		if err != nil {
			return nil, err
		}
		switch {
		case !ok || s == ir.RegionObservable.String():
		case s == ir.RegionNotObservable.String():
			obs = ir.RegionNotObservable
		default:
			return nil, &LoadError{Field: field + ".observability", Message: fmt.Sprintf("unknown observability %q", s), Pos: v.Pos()}
		}
		return ir.BeginRegion(obs), nil
	case ir.OpJSLoadContext, ir.OpJSStoreContext:
		depth, err := optInt(v, "depth", 0)
		if err != nil {
			return nil, err
		}
		slot, err := requireInt(v, "slot", field)
		if err != nil {
			return nil, err
		}
		immutable, err := optBool(v, "immutable", false)
		if err != nil {
			return nil, err
		}
		ca := ir.ContextAccess{Depth: int(depth), Index: int(slot), Immutable: immutable}
		if code == ir.OpJSLoadContext {
			return ir.JSLoadContext(ca), nil
		}
		return ir.JSStoreContext(ca), nil
	case ir.OpLoadField, ir.OpStoreField:
		fa, err := fieldAccess(v, field)
		if err != nil {
			return nil, err
		}
		if code == ir.OpLoadField {
			return ir.LoadField(fa), nil
		}
		return ir.StoreField(fa), nil
	case ir.OpLoadElement, ir.OpStoreElement, ir.OpLoadBuffer, ir.OpStoreBuffer:
		kind, err := arrayType(v, "array", field)
		if err != nil {
			return nil, err
		}
		external, err := optBool(v, "external", true)
		if err != nil {
			return nil, err
		}
		switch code {
		case ir.OpLoadElement:
			return ir.LoadElement(access.ForTypedArrayElement(kind, external)), nil
		case ir.OpStoreElement:
			return ir.StoreElement(access.ForTypedArrayElement(kind, external)), nil
		case ir.OpLoadBuffer:
			return ir.LoadBuffer(access.ForBufferAccess(kind)), nil
		}
		return ir.StoreBuffer(access.ForBufferAccess(kind)), nil
	}

	if !ir.HasFixedOp(code) {
		return nil, &LoadError{Field: field + ".op", Message: fmt.Sprintf("%s cannot be described", code), Pos: v.Pos()}
	}
	return ir.Op(code), nil
}

// fieldAccesses names the field descriptors a description can use.
var fieldAccesses = map[string]func() access.FieldAccess{
	"map":                    access.ForMap,
	"heap_number_value":      access.ForHeapNumberValue,
	"string_length":          access.ForStringLength,
	"cons_string_first":      access.ForConsStringFirst,
	"cons_string_second":     access.ForConsStringSecond,
	"fixed_array_length":     access.ForFixedArrayLength,
	"property_cell_value":    access.ForPropertyCellValue,
	"map_instance_type":      access.ForMapInstanceType,
	"map_bit_field":          access.ForMapBitField,
	"js_object_properties":   access.ForJSObjectProperties,
	"js_object_elements":     access.ForJSObjectElements,
	"js_array_length":        access.ForJSArrayLength,
	"js_typed_array_length":  access.ForJSTypedArrayLength,
	"external_array_pointer": access.ForExternalArrayPointer,
}

func fieldAccess(v cue.Value, field string) (access.FieldAccess, error) {
	name, err := requireString(v, "field", field)
	if err != nil {
		return access.FieldAccess{}, err
	}
	switch name {
	case "fixed_array_slot", "context_slot":
		slot, err := requireInt(v, "slot", field)
		if err != nil {
			return access.FieldAccess{}, err
		}
		if name == "context_slot" {
			return access.ForContextSlot(int(slot)), nil
		}
		return access.ForFixedArraySlot(int(slot)), nil
	}
	f, ok := fieldAccesses[name]
	if !ok {
		return access.FieldAccess{}, &LoadError{Field: field + ".field", Message: fmt.Sprintf("unknown field %q", name), Pos: v.Pos()}
	}
	return f(), nil
}

func arrayType(v cue.Value, name, field string) (heap.ExternalArrayType, error) {
	s, err := requireString(v, name, field)
	if err != nil {
		return 0, err
	}
	t, err := heap.ParseExternalArrayType(s)
	if err != nil {
		return 0, &LoadError{Field: field + "." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

var wellKnownObjects = func() map[string]*heap.Object {
	m := make(map[string]*heap.Object)
	for _, o := range []*heap.Object{
		heap.Undefined, heap.Null, heap.True, heap.False, heap.TheHole,
		heap.HeapNumberMap, heap.StringMap, heap.OddballMap, heap.MetaMap,
		heap.ObjectMap, heap.FunctionMap, heap.TypedArrayMap, heap.PropertyCellMap,
	} {
		m[o.Name] = o
	}
	return m
}()

// heapObject reads the object of a HeapConstant from one of the keys
// heap, str, heap_number, function or typed_array.
func (g *Graph) heapObject(v cue.Value, field string) (*heap.Object, error) {
	s, ok, err := optString(v, "str")
	if err != nil {
		return nil, err
	}
	if ok {
		return g.JSGraph.InternString(s), nil
	}
	if nv := v.LookupPath(cue.ParsePath("heap_number")); nv.Exists() {
		f, err := numberOf(nv)
		if err != nil {
			return nil, err
		}
		return heap.NewHeapNumber(f), nil
	}
	if s, ok, err = optString(v, "function"); err != nil {
		return nil, err
	} else if ok {
		return heap.NewFunction(s), nil
	}
	if ta := v.LookupPath(cue.ParsePath("typed_array")); ta.Exists() {
		kind, err := arrayType(ta, "type", field+".typed_array")
		if err != nil {
			return nil, err
		}
		length, err := requireInt(ta, "length", field+".typed_array")
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, &LoadError{Field: field + ".typed_array.length", Message: "length is negative", Pos: ta.Pos()}
		}
		store, err := optInt(ta, "backing_store", 0x1000)
		if err != nil {
			return nil, err
		}
		return heap.NewTypedArray(kind, length, uintptr(store)), nil
	}

	name, err := requireString(v, "heap", field)
	if err != nil {
		return nil, err
	}
	o, ok := wellKnownObjects[name]
	if !ok {
		return nil, &LoadError{Field: field + ".heap", Message: fmt.Sprintf("unknown heap object %q", name), Pos: v.Pos()}
	}
	return o, nil
}

func requireString(v cue.Value, name, field string) (string, error) {
	s, ok, err := optString(v, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &LoadError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	return s, nil
}

func optString(v cue.Value, name string) (string, bool, error) {
	sv := v.LookupPath(cue.ParsePath(name))
	if !sv.Exists() {
		return "", false, nil
	}
	s, err := sv.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func optStrings(v cue.Value, name string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(name))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func requireInt(v cue.Value, name, field string) (int64, error) {
	iv := v.LookupPath(cue.ParsePath(name))
	if !iv.Exists() {
		return 0, &LoadError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	n, err := iv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func optInt(v cue.Value, name string, def int64) (int64, error) {
	iv := v.LookupPath(cue.ParsePath(name))
	if !iv.Exists() {
		return def, nil
	}
	n, err := iv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func optBool(v cue.Value, name string, def bool) (bool, error) {
	bv := v.LookupPath(cue.ParsePath(name))
	if !bv.Exists() {
		return def, nil
	}
	b, err := bv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func requireNumber(v cue.Value, name, field string) (float64, error) {
	nv := v.LookupPath(cue.ParsePath(name))
	if !nv.Exists() {
		return 0, &LoadError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	return numberOf(nv)
}

// numberOf reads a CUE number. Values CUE cannot spell are written as
// the strings "NaN", "Infinity", "-Infinity" and "-0".
func numberOf(v cue.Value) (float64, error) {
	if v.Kind() == cue.StringKind {
		s, _ := v.String()
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "-0":
			return math.Copysign(0, -1), nil
		}
		return 0, &LoadError{Field: "value", Message: fmt.Sprintf("%q is not a number", s), Pos: v.Pos()}
	}
	f, err := v.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

// LoadError reports a graph description that cannot be built, with the
// position of the offending CUE value.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Report the first error that carries a position.
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
