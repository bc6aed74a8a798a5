package lowering

import (
	"errors"
	"fmt"
)

// DefaultMaxReductions bounds the reductions of one GraphReducer run.
// Lowering only ever shrinks the JS operator count, so hitting the limit
// means a reducer is oscillating.
const DefaultMaxReductions = 100000

// reductionBudget counts successful reductions against a limit.
type reductionBudget struct {
	limit   int
	current int
}

func newReductionBudget(limit int) *reductionBudget {
	return &reductionBudget{limit: limit}
}

// Spend records one reduction of node and fails once the limit is passed.
func (b *reductionBudget) Spend(node string) error {
	b.current++
	if b.current > b.limit {
		return &BudgetExceededError{Node: node, Reductions: b.current, Limit: b.limit}
	}
	return nil
}

func (b *reductionBudget) Current() int { return b.current }

// BudgetExceededError reports that a GraphReducer run did not reach a
// fixpoint within its reduction limit.
type BudgetExceededError struct {
	Node       string // node reduced when the limit was hit
	Reductions int
	Limit      int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("lowering did not converge: %d reductions > %d limit (last %s)",
		e.Reductions, e.Limit, e.Node)
}

// IsBudgetExceeded matches BudgetExceededError through wrapping.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
