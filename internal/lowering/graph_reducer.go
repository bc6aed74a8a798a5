package lowering

import (
	"log/slog"
	"math"

	"golang.org/x/tools/container/intsets"

	"github.com/roach88/nodejit/internal/ir"
)

// GraphReducer runs reducers over a graph until none of them changes
// anything.
//
// Every reachable node is visited once up front, inputs before users.
// Afterwards only nodes whose inputs changed, nodes a reducer asked to
// revisit, and nodes created by a reduction are visited again. A node
// that is fully replaced is killed.
type GraphReducer struct {
	jsg      *ir.JSGraph
	reducers []Reducer
	queue    *nodeQueue
	visited  intsets.Sparse
	budget   *reductionBudget
	logger   *slog.Logger

	maxReductions int
}

// Option configures a GraphReducer.
type Option func(*GraphReducer)

// WithMaxReductions bounds the number of successful reductions per run.
func WithMaxReductions(n int) Option {
	return func(r *GraphReducer) {
		r.maxReductions = n
	}
}

// WithLogger sets the logger for phase boundaries and budget failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *GraphReducer) {
		r.logger = l
	}
}

// NewGraphReducer creates a driver over jsg with no reducers.
func NewGraphReducer(jsg *ir.JSGraph, opts ...Option) *GraphReducer {
	r := &GraphReducer{
		jsg:           jsg,
		queue:         newNodeQueue(),
		logger:        slog.Default(),
		maxReductions: DefaultMaxReductions,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddReducer appends red; reducers run in the order they were added.
func (r *GraphReducer) AddReducer(red Reducer) {
	r.reducers = append(r.reducers, red)
}

// Reductions is the number of successful reductions of the last run.
func (r *GraphReducer) Reductions() int {
	if r.budget == nil {
		return 0
	}
	return r.budget.Current()
}

// ReduceGraph reduces every node reachable from End to a fixpoint.
func (r *GraphReducer) ReduceGraph() error {
	r.budget = newReductionBudget(r.maxReductions)
	r.visited.Clear()
	for _, n := range postOrder(r.jsg.Graph) {
		r.queue.Enqueue(n)
	}
	r.logger.Debug("lowering started", "nodes", r.queue.Len(), "reducers", len(r.reducers))

	if err := r.drain(); err != nil {
		r.logger.Error("lowering aborted", "reductions", r.budget.Current(), "error", err)
		return err
	}

	r.logger.Debug("lowering finished", "reductions", r.budget.Current())
	return nil
}

// ReduceNode reduces node and everything its reduction touches.
func (r *GraphReducer) ReduceNode(node *ir.Node) error {
	if r.budget == nil {
		r.budget = newReductionBudget(r.maxReductions)
	}
	r.queue.Enqueue(node)
	return r.drain()
}

func (r *GraphReducer) drain() error {
	for {
		id, ok := r.queue.TryDequeue()
		if !ok {
			return nil
		}
		node := r.jsg.Node(id)
		if node.IsDead() {
			continue
		}
		if err := r.reduceTop(node); err != nil {
			return err
		}
	}
}

func (r *GraphReducer) visitInputs(node *ir.Node) {
	for _, in := range node.Inputs() {
		if !r.visited.Has(int(in.ID())) {
			r.queue.Enqueue(in)
		}
	}
}

func (r *GraphReducer) reduceTop(node *ir.Node) error {
	r.visited.Insert(int(node.ID()))
	r.visitInputs(node)

	maxID := ir.NodeID(r.jsg.NodeCount() - 1)
	red, err := r.reduce(node)
	if err != nil {
		return err
	}
	if !red.Changed() {
		return nil
	}

	replacement := red.Replacement()
	if replacement != node {
		r.replace(node, replacement, maxID)
		return nil
	}
	r.visitInputs(node)
	for _, user := range node.Users() {
		if user != node {
			r.Revisit(user)
		}
	}
	return nil
}

// reduce runs the reducers on node. An in-place change restarts the
// other reducers on the same node; a replacement ends the round.
func (r *GraphReducer) reduce(node *ir.Node) (Reduction, error) {
	skip := -1
	for i := 0; i < len(r.reducers); i++ {
		if i == skip {
			continue
		}
		red := r.reducers[i].Reduce(node)
		if !red.Changed() {
			continue
		}
		if err := r.budget.Spend(node.String()); err != nil {
			return NoChange(), err
		}
		r.logger.Debug("reduced",
			"reducer", r.reducers[i].Name(),
			"node", node.ID(),
			"replacement", red.Replacement().String(),
		)
		if red.Replacement() != node {
			return red, nil
		}
		skip = i
		i = -1
	}
	if skip < 0 {
		return NoChange(), nil
	}
	return Changed(node), nil
}

// replace redirects the uses of node to replacement. Nodes created by the
// reduction that produced replacement (IDs above maxID) keep their uses of
// node; node is killed once nothing uses it.
func (r *GraphReducer) replace(node, replacement *ir.Node, maxID ir.NodeID) {
	g := r.jsg.Graph
	if node == g.Start() {
		g.SetStart(replacement)
	}
	if node == g.End() {
		g.SetEnd(replacement)
	}

	if replacement.ID() <= maxID {
		for _, u := range node.Uses() {
			user := g.Node(u.User)
			user.ReplaceInput(u.Index, replacement)
			if user != node {
				r.Revisit(user)
			}
		}
		node.Kill()
		return
	}

	for _, u := range node.Uses() {
		if u.User > maxID {
			continue
		}
		user := g.Node(u.User)
		user.ReplaceInput(u.Index, replacement)
		if user != node {
			r.Revisit(user)
		}
	}
	if node.UseCount() == 0 {
		node.Kill()
	}
	r.queue.Enqueue(replacement)
}

// Replace implements Editor.
func (r *GraphReducer) Replace(node, replacement *ir.Node) {
	r.replace(node, replacement, math.MaxInt32)
}

// Revisit implements Editor.
func (r *GraphReducer) Revisit(node *ir.Node) {
	r.queue.Enqueue(node)
}

// ReplaceWithValue implements Editor.
func (r *GraphReducer) ReplaceWithValue(node, value, effect, control *ir.Node) {
	if effect == nil && node.Op().EffectIn > 0 {
		effect = node.EffectInput(0)
	}
	if control == nil && node.Op().ControlIn > 0 {
		control = node.ControlInput(0)
	}
	g := r.jsg.Graph
	for _, u := range node.Uses() {
		user := g.Node(u.User)
		if user.IsDead() {
			continue
		}
		switch user.EdgeKindAt(u.Index) {
		case ir.ControlEdge:
			switch user.Opcode() {
			case ir.OpIfSuccess:
				r.Replace(user, control)
				continue
			case ir.OpIfException:
				user.ReplaceInput(u.Index, r.jsg.Dead())
			default:
				user.ReplaceInput(u.Index, control)
			}
		case ir.EffectEdge:
			if user.Opcode() == ir.OpIfException {
				user.ReplaceInput(u.Index, r.jsg.Dead())
			} else {
				user.ReplaceInput(u.Index, effect)
			}
		default:
			user.ReplaceInput(u.Index, value)
		}
		r.Revisit(user)
	}
}

// postOrder lists the nodes reachable from End, inputs before users.
// Graphs without End fall back to every live node in ID order.
func postOrder(g *ir.Graph) []*ir.Node {
	end := g.End()
	if end == nil {
		return g.LiveNodes()
	}
	type frame struct {
		node *ir.Node
		next int
	}
	var (
		seen  intsets.Sparse
		order []*ir.Node
		stack = []frame{{node: end}}
	)
	seen.Insert(int(end.ID()))
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < top.node.InputCount() {
			in := top.node.InputAt(top.next)
			top.next++
			if seen.Insert(int(in.ID())) {
				stack = append(stack, frame{node: in})
			}
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}
	return order
}
