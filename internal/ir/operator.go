package ir

import (
	"fmt"
	"strings"
)

// Properties describe what an operator may do besides producing values.
type Properties uint8

const (
	PropCommutative Properties = 1 << iota
	PropNoRead
	PropNoWrite
	PropNoThrow
	PropNoDeopt

	PropPure = PropNoRead | PropNoWrite | PropNoThrow | PropNoDeopt
)

// Operator is an immutable description of an operation: its opcode, the
// number of inputs and outputs of each edge kind, and an optional
// parameter. Operators are shared by every node using them.
type Operator struct {
	Opcode     Opcode
	Properties Properties

	ValueIn      int
	FrameStateIn int
	EffectIn     int
	ControlIn    int

	ValueOut   int
	EffectOut  int
	ControlOut int

	// Param is one of the parameter types in this package or package
	// access. Use ParamOf to read it.
	Param any
}

// Has reports whether all of p are set.
func (o *Operator) Has(p Properties) bool { return o.Properties&p == p }

// InputCount is the total number of inputs a node using o must have.
func (o *Operator) InputCount() int {
	return o.ValueIn + o.FrameStateIn + o.EffectIn + o.ControlIn
}

func (o *Operator) String() string {
	if o.Param == nil {
		return o.Opcode.String()
	}
	return fmt.Sprintf("%s[%v]", o.Opcode, o.Param)
}

// ParamOf returns the operator parameter of node n as T. It panics if the
// parameter has a different type.
func ParamOf[T any](n *Node) T {
	p, ok := n.Op().Param.(T)
	if !ok {
		var zero T
		panic(fmt.Sprintf("ir: %s has parameter %T, want %T", n.Op(), n.Op().Param, zero))
	}
	return p
}

// DeoptReason tags why a guard exits to the baseline tier.
type DeoptReason int

const (
	DeoptNoReason DeoptReason = iota
	DeoptDivisionByZero
	DeoptMinusZero
	DeoptOverflow
	DeoptLostPrecision
	DeoptLostPrecisionOrNaN
	DeoptOutOfBounds
	DeoptNotASmi
	DeoptSmi
	DeoptNotAHeapNumber
	DeoptNotAString
	DeoptWrongMap
	DeoptNaN
)

var deoptReasonNames = [...]string{
	DeoptNoReason:           "no reason",
	DeoptDivisionByZero:     "division by zero",
	DeoptMinusZero:          "minus zero",
	DeoptOverflow:           "overflow",
	DeoptLostPrecision:      "lost precision",
	DeoptLostPrecisionOrNaN: "lost precision or NaN",
	DeoptOutOfBounds:        "out of bounds",
	DeoptNotASmi:            "not a Smi",
	DeoptSmi:                "Smi",
	DeoptNotAHeapNumber:     "not a heap number",
	DeoptNotAString:         "not a string",
	DeoptWrongMap:           "wrong map",
	DeoptNaN:                "NaN",
}

func (r DeoptReason) String() string {
	if r < 0 || int(r) >= len(deoptReasonNames) {
		return fmt.Sprintf("DeoptReason(%d)", int(r))
	}
	return deoptReasonNames[r]
}

// ParseDeoptReason maps a reason name back to its tag.
func ParseDeoptReason(s string) (DeoptReason, error) {
	for i, name := range deoptReasonNames {
		if strings.EqualFold(name, s) {
			return DeoptReason(i), nil
		}
	}
	return 0, fmt.Errorf("unknown deopt reason %q", s)
}

// RegionObservability says whether the effects inside a region are visible
// to a deoptimization that happens within it.
type RegionObservability int

const (
	RegionObservable RegionObservability = iota
	RegionNotObservable
)

func (r RegionObservability) String() string {
	if r == RegionNotObservable {
		return "not-observable"
	}
	return "observable"
}

// FrameStateInfo identifies the baseline resumption point of a frame state.
type FrameStateInfo struct {
	BailoutID int
}

func (f FrameStateInfo) String() string { return fmt.Sprintf("bailout:%d", f.BailoutID) }

// ContextAccess addresses a context slot depth levels up the context chain.
type ContextAccess struct {
	Depth     int
	Index     int
	Immutable bool
}

func (c ContextAccess) String() string {
	return fmt.Sprintf("depth:%d,index:%d", c.Depth, c.Index)
}
