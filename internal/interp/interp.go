// Package interp is a reference evaluator for acyclic graphs.
//
// It runs a graph both before and after lowering so tests can check that a
// rewrite kept the observable outcome: the returned value, or the reason
// and bailout point of the first deoptimization. Evaluation is demand
// driven. A control node is reached when its predecessors are; merges
// remember which input was reached so phis can select their value. Effect
// predecessors always run before the node that depends on them.
//
// Loops, calls and element accesses are not modeled.
package interp

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/nodejit/internal/heap"
	"github.com/roach88/nodejit/internal/ir"
)

// DefaultMaxSteps bounds the node evaluations of one Run.
const DefaultMaxSteps = 100_000

// Result is the observable outcome of one run.
type Result struct {
	Value Value

	Deopt     bool
	Reason    ir.DeoptReason
	BailoutID int
}

func (r Result) String() string {
	if r.Deopt {
		return fmt.Sprintf("deopt(%s @%d)", r.Reason, r.BailoutID)
	}
	return "return(" + r.Value.String() + ")"
}

// Equivalent reports whether two runs are indistinguishable.
func Equivalent(a, b Result) bool {
	if a.Deopt || b.Deopt {
		return a.Deopt == b.Deopt && a.Reason == b.Reason && a.BailoutID == b.BailoutID
	}
	return SameValue(a.Value, b.Value)
}

// EvalError reports a graph the interpreter cannot run.
type EvalError struct {
	Node    ir.NodeID
	Op      string
	Message string
}

func (e *EvalError) Error() string {
	if e.Op == "" {
		return "interp: " + e.Message
	}
	return fmt.Sprintf("interp: #%d %s: %s", e.Node, e.Op, e.Message)
}

// IsEvalError reports whether err is or wraps an EvalError.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}

// deoptSignal unwinds a run at a failing guard.
type deoptSignal struct {
	reason    ir.DeoptReason
	bailoutID int
}

// Interpreter evaluates one graph.
type Interpreter struct {
	jsg      *ir.JSGraph
	logger   *slog.Logger
	maxSteps int
}

// Option configures an Interpreter.
type Option func(*Interpreter)

func WithLogger(l *slog.Logger) Option {
	return func(in *Interpreter) {
		in.logger = l
	}
}

// WithMaxSteps bounds the node evaluations of one Run.
func WithMaxSteps(n int) Option {
	return func(in *Interpreter) {
		in.maxSteps = n
	}
}

// New creates an interpreter for jsg. The graph must have an End node.
func New(jsg *ir.JSGraph, opts ...Option) *Interpreter {
	in := &Interpreter{
		jsg:      jsg,
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run evaluates the graph with args bound to its parameters.
func (in *Interpreter) Run(args ...Value) (res Result, err error) {
	s := &state{
		in:       in,
		is64:     in.jsg.Is64,
		args:     args,
		values:   make(map[ir.NodeID]Value),
		visiting: make(map[ir.NodeID]bool),
		entries:  make(map[ir.NodeID]int),
		fields:   make(map[*heap.Object]map[int]Value),
		pairs:    make(map[ir.NodeID][2]Value),
		frames:   make(map[ir.NodeID]*ir.Node),
	}
	defer func() {
		r := recover()
		switch sig := r.(type) {
		case nil:
		case deoptSignal:
			res = Result{Deopt: true, Reason: sig.reason, BailoutID: sig.bailoutID}
		case *EvalError:
			err = sig
		default:
			panic(r)
		}
		in.logger.Debug("interp run finished", "steps", s.steps, "result", res.String())
	}()
	return s.run(), nil
}

type state struct {
	in   *Interpreter
	is64 bool
	args []Value

	values   map[ir.NodeID]Value
	visiting map[ir.NodeID]bool
	// entries holds, per control node, the index of the reached control
	// input or -1 when the node is not reached.
	entries map[ir.NodeID]int
	fields  map[*heap.Object]map[int]Value
	// pairs holds the results of two-valued operators.
	pairs map[ir.NodeID][2]Value
	// frames maps an effect to the frame state of the last checkpoint
	// before it, the resumption point for guards that follow.
	frames map[ir.NodeID]*ir.Node

	steps int
}

func (s *state) fail(n *ir.Node, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if n == nil {
		panic(&EvalError{Node: -1, Message: msg})
	}
	panic(&EvalError{Node: n.ID(), Op: n.Op().String(), Message: msg})
}

func (s *state) step(n *ir.Node) {
	s.steps++
	if s.steps > s.in.maxSteps {
		s.fail(n, "step limit %d exceeded", s.in.maxSteps)
	}
	if n.IsDead() {
		s.fail(n, "dead node")
	}
}

func (s *state) deopt(reason ir.DeoptReason, frameState *ir.Node) {
	id := -1
	if frameState != nil {
		id = ir.ParamOf[ir.FrameStateInfo](frameState).BailoutID
	}
	panic(deoptSignal{reason: reason, bailoutID: id})
}

func (s *state) run() Result {
	end := s.in.jsg.End()
	if end == nil {
		s.fail(nil, "graph has no end")
	}
	for _, exit := range end.Inputs() {
		switch exit.Opcode() {
		case ir.OpReturn:
			if s.entry(exit.ControlInput(0)) < 0 {
				continue
			}
			s.eval(exit.EffectInput(0))
			return Result{Value: s.materialize(s.eval(exit.ValueInput(0)))}
		case ir.OpDeoptimize:
			if s.entry(exit.ControlInput(0)) < 0 {
				continue
			}
			s.eval(exit.EffectInput(0))
			s.deopt(ir.ParamOf[ir.DeoptReason](exit), exit.FrameStateInput())
		case ir.OpTerminate:
		default:
			if s.entry(exit.ControlInput(0)) >= 0 {
				s.fail(exit, "exit is not modeled")
			}
		}
	}
	s.fail(end, "no exit reached")
	return Result{}
}

// entry returns the reached control input of c, 0 for nodes with a single
// control input, or -1 when c is not reached.
func (s *state) entry(c *ir.Node) int {
	if e, ok := s.entries[c.ID()]; ok {
		return e
	}
	s.step(c)
	e := s.reach(c)
	s.entries[c.ID()] = e
	return e
}

func (s *state) reach(c *ir.Node) int {
	switch c.Opcode() {
	case ir.OpStart:
		return 0
	case ir.OpDead:
		return -1
	case ir.OpIfTrue, ir.OpIfFalse:
		branch := c.ControlInput(0)
		if branch.Opcode() != ir.OpBranch {
			s.fail(c, "projection of %s", branch.Op())
		}
		if s.entry(branch.ControlInput(0)) < 0 {
			return -1
		}
		if s.eval(branch.ValueInput(0)).Truthy() == (c.Opcode() == ir.OpIfTrue) {
			return 0
		}
		return -1
	case ir.OpMerge:
		taken := -1
		for i := 0; i < c.Op().ControlIn; i++ {
			if s.entry(c.ControlInput(i)) < 0 {
				continue
			}
			if taken >= 0 {
				s.fail(c, "inputs %d and %d both reached", taken, i)
			}
			taken = i
		}
		return taken
	case ir.OpLoop:
		s.fail(c, "loops are not modeled")
	case ir.OpIfSuccess:
		call := c.ControlInput(0)
		if s.entry(call.ControlInput(0)) < 0 {
			return -1
		}
		s.eval(call)
		return 0
	}

	op := c.Op()
	if op.ControlIn != 1 || op.ControlOut != 1 {
		s.fail(c, "control node is not modeled")
	}
	if s.entry(c.ControlInput(0)) < 0 {
		return -1
	}
	// Guards and JS operators sit on the control chain.
	s.eval(c)
	return 0
}

func (s *state) eval(n *ir.Node) Value {
	if v, ok := s.values[n.ID()]; ok {
		return v
	}
	if s.visiting[n.ID()] {
		s.fail(n, "cycle")
	}
	s.visiting[n.ID()] = true
	s.step(n)

	op := n.Op()
	if op.EffectIn == 1 && n.Opcode() != ir.OpEffectPhi {
		s.eval(n.EffectInput(0))
	}
	v := s.compute(n)
	if op.EffectOut > 0 {
		s.frames[n.ID()] = s.frameAfter(n)
	}

	delete(s.visiting, n.ID())
	s.values[n.ID()] = v
	return v
}

func (s *state) frameAfter(n *ir.Node) *ir.Node {
	switch n.Opcode() {
	case ir.OpCheckpoint:
		return n.FrameStateInput()
	case ir.OpEffectPhi:
		return s.frames[n.EffectInput(s.selected(n)).ID()]
	}
	if n.Op().EffectIn == 0 {
		return nil
	}
	return s.frames[n.EffectInput(0).ID()]
}

// frameBefore is the frame state a guard at n resumes at.
func (s *state) frameBefore(n *ir.Node) *ir.Node {
	if n.Op().FrameStateIn > 0 {
		return n.FrameStateInput()
	}
	return s.frames[n.EffectInput(0).ID()]
}

// selected returns the reached input index of the merge controlling phi.
func (s *state) selected(phi *ir.Node) int {
	merge := phi.ControlInput(0)
	i := s.entry(merge)
	if i < 0 {
		s.fail(phi, "merge #%d not reached", merge.ID())
	}
	return i
}

// materialize turns an allocated heap number into a heap.Object so that
// results compare by value.
func (s *state) materialize(v Value) Value {
	if v.Kind != KindRef {
		return v
	}
	f, ok := s.fields[v.Ref]
	if !ok {
		return v
	}
	if m, ok := f[heap.MapOffset]; ok && m.Ref == heap.HeapNumberMap {
		return Ref(heap.NewHeapNumber(f[heap.HeapNumberValue].Float))
	}
	return v
}
