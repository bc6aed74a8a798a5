package harness

import (
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/nodejit/internal/ir"
)

// Snapshot renders the stable parts of a result as canonical JSON: the
// compilation status, its deopt guards without node ids, and the outcome
// of each case after compilation. Node ids and fingerprints change with
// any pass tweak and are left out.
func Snapshot(scenario string, r *Result) ([]byte, error) {
	deopts := make([]any, len(r.Deopts))
	for i, d := range r.Deopts {
		deopts[i] = fmt.Sprintf("%s %s bailout:%d", d.Kind, d.Reason, d.BailoutID)
	}
	outcomes := make([]any, len(r.Outcomes))
	for i, o := range r.Outcomes {
		outcomes[i] = o.After
	}

	snap := map[string]any{
		"scenario":   scenario,
		"graph":      r.Compilation.Graph,
		"status":     r.Compilation.Status,
		"linearized": r.Compilation.Linearized,
		"deopts":     deopts,
		"outcomes":   outcomes,
	}
	if r.Compilation.BailoutCode != "" {
		snap["bailout"] = r.Compilation.BailoutCode
	}
	return ir.MarshalCanonical(snap)
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
