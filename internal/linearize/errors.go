package linearize

import (
	"errors"
	"fmt"

	"github.com/roach88/nodejit/internal/ir"
)

// InvariantErrorCode categorizes the ways a graph and its schedule can
// disagree.
type InvariantErrorCode string

const (
	// ErrCodeMissingFrameState indicates a guard with no frame state to
	// deoptimize to.
	ErrCodeMissingFrameState InvariantErrorCode = "MISSING_FRAME_STATE"

	// ErrCodeMissingEffect indicates a predecessor edge that never
	// received an effect.
	ErrCodeMissingEffect InvariantErrorCode = "MISSING_EFFECT"

	// ErrCodeMalformedBlock indicates a block whose nodes do not start
	// with a control node or that holds two effect phis.
	ErrCodeMalformedBlock InvariantErrorCode = "MALFORMED_BLOCK"

	// ErrCodeArity indicates a phi or merge whose input count disagrees
	// with the block's predecessors.
	ErrCodeArity InvariantErrorCode = "ARITY_MISMATCH"

	// ErrCodeRegion indicates nested regions or a checkpoint inside an
	// unobservable region.
	ErrCodeRegion InvariantErrorCode = "BAD_REGION"

	// ErrCodeEffectChain indicates a node with several effect inputs or a
	// node starting a new effect chain.
	ErrCodeEffectChain InvariantErrorCode = "BAD_EFFECT_CHAIN"
)

// InvariantError reports a graph that cannot be linearized. The graph is
// left partially rewritten; callers discard it and fall back to the
// baseline tier.
type InvariantError struct {
	Code    InvariantErrorCode
	Message string
	Node    ir.NodeID // -1 when no node is involved
	Block   int       // -1 when no block is involved
}

func (e *InvariantError) Error() string {
	switch {
	case e.Node >= 0 && e.Block >= 0:
		return fmt.Sprintf("%s: %s (node=#%d, block=B%d)", e.Code, e.Message, e.Node, e.Block)
	case e.Node >= 0:
		return fmt.Sprintf("%s: %s (node=#%d)", e.Code, e.Message, e.Node)
	case e.Block >= 0:
		return fmt.Sprintf("%s: %s (block=B%d)", e.Code, e.Message, e.Block)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvariantError reports whether err is or wraps an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// violation aborts the run; Run recovers it into its error result.
func violation(code InvariantErrorCode, node *ir.Node, block int, format string, args ...any) {
	id := ir.NodeID(-1)
	if node != nil {
		id = node.ID()
	}
	panic(&InvariantError{Code: code, Message: fmt.Sprintf(format, args...), Node: id, Block: block})
}
