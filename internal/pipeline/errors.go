package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/nodejit/internal/compiler"
)

// BailoutCode says which phase gave up on a graph.
type BailoutCode string

const (
	// BailoutInvalidGraph indicates the input graph or its schedule failed
	// verification before any pass ran.
	BailoutInvalidGraph BailoutCode = "INVALID_GRAPH"

	// BailoutReductionBudget indicates typed lowering did not reach a
	// fixpoint within the reduction budget.
	BailoutReductionBudget BailoutCode = "REDUCTION_BUDGET"

	// BailoutInvariant indicates the linearizer found the graph and its
	// schedule in disagreement.
	BailoutInvariant BailoutCode = "LINEARIZER_INVARIANT"

	// BailoutVerifyFailed indicates the linearized graph failed
	// verification.
	BailoutVerifyFailed BailoutCode = "VERIFY_FAILED"

	// BailoutCancelled indicates the context was done between phases.
	BailoutCancelled BailoutCode = "CANCELLED"
)

// BailoutError reports a graph the optimizing tier gave up on. The
// function keeps running in the baseline tier; the graph is discarded.
type BailoutError struct {
	Code  BailoutCode
	Graph string
	Phase string

	// Errors lists verification failures for BailoutInvalidGraph and
	// BailoutVerifyFailed.
	Errors []compiler.ValidationError

	// Err is the underlying phase error, if any.
	Err error
}

// Error implements the error interface.
func (e *BailoutError) Error() string {
	var detail string
	switch {
	case e.Err != nil:
		detail = e.Err.Error()
	case len(e.Errors) == 1:
		detail = e.Errors[0].Error()
	case len(e.Errors) > 1:
		detail = fmt.Sprintf("%d verification errors, first: %s", len(e.Errors), e.Errors[0].Error())
	default:
		detail = "no detail"
	}
	if e.Graph != "" {
		return fmt.Sprintf("%s: %s: %s (graph=%s)", e.Code, e.Phase, detail, e.Graph)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Phase, detail)
}

// Unwrap returns the phase error.
func (e *BailoutError) Unwrap() error { return e.Err }

// Summary lists every verification error, one per line.
func (e *BailoutError) Summary() string {
	lines := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		lines[i] = ve.Error()
	}
	return strings.Join(lines, "\n")
}

// IsBailout reports whether err is or wraps a BailoutError.
func IsBailout(err error) bool {
	var be *BailoutError
	return errors.As(err, &be)
}

// BailoutCodeOf returns the code of the BailoutError in err's chain, or ""
// if there is none.
func BailoutCodeOf(err error) BailoutCode {
	var be *BailoutError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
