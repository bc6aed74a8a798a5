package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/store"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenariosGolden(t *testing.T) {
	for _, name := range []string{"checked-add", "number-add", "budget", "select", "unguarded"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunRecordsCompilation(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "checked-add"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	c := result.Compilation
	assert.Equal(t, "checked-add", c.ID)
	assert.Equal(t, int64(1), c.Seq)
	assert.Equal(t, store.StatusCompiled, c.Status)
	assert.Equal(t, 1, c.Lowered)
	assert.NotEmpty(t, c.OutputFingerprint)
	assert.Contains(t, result.Dump, "Int32AddWithOverflow")

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, "deopt(overflow @3)", result.Outcomes[2].Before)
	assert.Equal(t, result.Outcomes[2].Before, result.Outcomes[2].After)
}

func TestRunReportsFailedExpectations(t *testing.T) {
	s := loadTestScenario(t, "checked-add")
	two := 2
	s.Expect.Deopts = &two
	s.Expect.Contains = []string{"Float64Add"}
	s.Expect.Absent = []string{"Return"}
	s.Cases[0].Returns = "w:4"

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.ElementsMatch(t, []string{
		"deopt guards = 1, want 2",
		"compiled graph has no Float64Add node",
		"compiled graph still has a Return node",
		"cases[0]: got return(w:3), want return(w:4)",
	}, result.Errors)
}

func TestRunUnexpectedBailout(t *testing.T) {
	s := loadTestScenario(t, "budget")
	s.Expect.Bailout = ""

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "compilation bailed out: REDUCTION_BUDGET")
	assert.Equal(t, store.StatusBailout, result.Compilation.Status)
}

func TestRunWrongBailout(t *testing.T) {
	s := loadTestScenario(t, "budget")
	s.Expect.Bailout = "VERIFY_FAILED"

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected bailout VERIFY_FAILED, got REDUCTION_BUDGET")
}

func TestRunExpectedBailoutCompiles(t *testing.T) {
	s := loadTestScenario(t, "number-add")
	s.Cases = nil
	s.Expect = Expect{Bailout: "LINEARIZER_INVARIANT"}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"expected bailout LINEARIZER_INVARIANT, graph compiled"}, result.Errors)
}

func TestRunGraphSelection(t *testing.T) {
	tests := []struct {
		name  string
		graph string
		want  string
	}{
		{"unnamed among several", "", "graph must be named, found 3 descriptions"},
		{"unknown", "nope", `graph "nope" not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadTestScenario(t, "checked-add")
			s.Graph = tt.graph
			_, err := Run(context.Background(), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunInvalidCUE(t *testing.T) {
	s := &Scenario{Name: "bad", Description: "d", Source: "graph: x: {", WordSize: 64}
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario bad")
}

func TestConfigFor(t *testing.T) {
	off := false
	h := New()
	cfg := h.configFor(&Scenario{
		WordSize: 32,
		Config:   Overrides{MaxReductions: 7, BranchCloning: &off},
	})
	assert.Equal(t, 32, cfg.WordSize)
	assert.Equal(t, 7, cfg.Lowering.MaxReductions)
	assert.False(t, cfg.Linearize.BranchCloning)
	assert.Equal(t, h.cfg.Linearize.Float64RoundDown, cfg.Linearize.Float64RoundDown)

	cfg = h.configFor(&Scenario{WordSize: 64})
	assert.Equal(t, h.cfg.Lowering.MaxReductions, cfg.Lowering.MaxReductions)
	assert.True(t, cfg.Linearize.BranchCloning)
}
