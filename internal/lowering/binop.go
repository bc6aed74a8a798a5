package lowering

import (
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/types"
)

type signedness int

const (
	signed signedness = iota
	unsigned
)

// binop wraps a two-input JS node with its input types cached. The cache
// follows the inputs when they are swapped or converted.
type binop struct {
	l         *TypedLowering
	node      *ir.Node
	leftType  types.Type
	rightType types.Type
}

func newBinop(l *TypedLowering, node *ir.Node) *binop {
	return &binop{
		l:         l,
		node:      node,
		leftType:  node.ValueInput(0).Type(),
		rightType: node.ValueInput(1).Type(),
	}
}

func (b *binop) left() *ir.Node  { return b.node.ValueInput(0) }
func (b *binop) right() *ir.Node { return b.node.ValueInput(1) }

func (b *binop) bothInputsAre(t types.Type) bool {
	return b.leftType.Is(t) && b.rightType.Is(t)
}

func (b *binop) oneInputIs(t types.Type) bool {
	return b.leftType.Is(t) || b.rightType.Is(t)
}

func (b *binop) oneInputCannotBe(t types.Type) bool {
	return !b.leftType.Maybe(t) || !b.rightType.Maybe(t)
}

func (b *binop) neitherInputCanBe(t types.Type) bool {
	return !b.leftType.Maybe(t) && !b.rightType.Maybe(t)
}

func (b *binop) swapInputs() {
	l, r := b.left(), b.right()
	b.node.ReplaceInput(0, r)
	b.node.ReplaceInput(1, l)
	b.leftType, b.rightType = b.rightType, b.leftType
}

// convertInputsToNumber replaces both inputs by their ToNumber. Callers
// have checked that both are plain primitives, so the conversions are
// pure and need no frame state.
func (b *binop) convertInputsToNumber() {
	left := b.l.convertPlainPrimitiveToNumber(b.left())
	right := b.l.convertPlainPrimitiveToNumber(b.right())
	b.node.ReplaceInput(0, left)
	b.node.ReplaceInput(1, right)
	b.leftType, b.rightType = left.Type(), right.Type()
}

func (b *binop) convertInputsToUI32(leftSignedness, rightSignedness signedness) {
	b.node.ReplaceInput(0, b.convertToUI32(b.left(), leftSignedness))
	b.node.ReplaceInput(1, b.convertToUI32(b.right(), rightSignedness))
	b.leftType, b.rightType = b.left().Type(), b.right().Type()
}

func (b *binop) convertToUI32(n *ir.Node, s signedness) *ir.Node {
	g := b.l.jsg
	if s == signed {
		if n.Type().Is(types.Signed32) {
			return n
		}
		conv := g.NewNode(ir.Op(ir.OpNumberToInt32), n)
		conv.SetType(types.Signed32)
		return conv
	}
	if n.Type().Is(types.Unsigned32) {
		return n
	}
	conv := g.NewNode(ir.Op(ir.OpNumberToUint32), n)
	conv.SetType(types.Unsigned32)
	return conv
}

// changeToPureOperator turns the JS node into the pure op in place,
// relaxing its effect and control uses onto its own inputs. The node's
// type only ever narrows.
func (b *binop) changeToPureOperator(op *ir.Operator, t types.Type) Reduction {
	node := b.node
	if node.Op().EffectIn > 0 || node.Op().ControlOut > 0 {
		b.l.relaxEffectsAndControls(node)
	}
	node.RemoveNonValueInputs()
	node.ChangeOp(op)
	node.SetType(types.Intersect(node.Type(), t))
	return Changed(node)
}

// changeToPureOperatorInverted is changeToPureOperator followed by a
// BooleanNot over the result that takes over all uses.
func (b *binop) changeToPureOperatorInverted(op *ir.Operator, invert bool) Reduction {
	red := b.changeToPureOperator(op, types.Boolean)
	if !invert {
		return red
	}
	node := b.node
	not := b.l.jsg.NewNode(ir.Op(ir.OpBooleanNot), node)
	not.SetType(types.Boolean)
	node.ReplaceUses(not)
	not.ReplaceInput(0, node)
	return Replace(not)
}
