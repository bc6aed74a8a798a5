package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/compiler"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/linearize"
	"github.com/roach88/nodejit/internal/pipeline"
)

func compiledResult(id string, seq int64, graph string) *pipeline.Result {
	return &pipeline.Result{
		ID:                id,
		Seq:               seq,
		Graph:             graph,
		InputFingerprint:  "in-" + id,
		OutputFingerprint: "out-" + id,
		Reductions:        2,
		Linearized:        true,
		Stats:             linearize.Stats{Lowered: 1, EffectPhis: 1},
		Deopts: []pipeline.DeoptPoint{
			{Node: 7, Kind: "DeoptimizeIf", Reason: "overflow", BailoutID: 3, Condition: 6, ConditionOp: "Projection"},
			{Node: 4, Kind: "DeoptimizeUnless", Reason: "not a Smi", BailoutID: 3, Condition: 1, ConditionOp: "Parameter"},
		},
	}
}

func TestRecordCompiled(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	res := compiledResult("c-1", 1, "add")
	res.Warnings = []compiler.CycleWarning{{Path: []string{"#3 Loop", "#5 Phi", "#3 Loop"}, Message: "loop of 2 nodes", Level: "info"}}
	require.NoError(t, s.Record(ctx, res, nil))

	c, err := s.ReadCompilation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompiled, c.Status)
	assert.Equal(t, "add", c.Graph)
	assert.Equal(t, "out-c-1", c.OutputFingerprint)
	assert.True(t, c.Linearized)
	assert.Equal(t, 1, c.Lowered)
	assert.Equal(t, 1, c.EffectPhis)
	assert.Equal(t, res.Warnings, c.Warnings)
	assert.Empty(t, c.BailoutCode)

	deopts, err := s.ReadDeopts(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, deopts, 2)
	// Node order, not insertion order.
	assert.Equal(t, ir.NodeID(4), deopts[0].Node)
	assert.Equal(t, res.Deopts[0], deopts[1])
}

func TestRecordBailout(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	res := compiledResult("c-1", 1, "add")
	res.Linearized = false
	runErr := &pipeline.BailoutError{
		Code:  pipeline.BailoutReductionBudget,
		Graph: "add",
		Phase: pipeline.PhaseLowering,
		Err:   errors.New("budget spent"),
	}
	require.NoError(t, s.Record(ctx, res, runErr))

	c, err := s.ReadCompilation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBailout, c.Status)
	assert.Equal(t, "REDUCTION_BUDGET", c.BailoutCode)
	assert.Equal(t, pipeline.PhaseLowering, c.Phase)
	assert.Equal(t, runErr.Error(), c.Message)
	assert.Empty(t, c.OutputFingerprint)
	assert.NotNil(t, c.Warnings)

	deopts, err := s.ReadDeopts(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, deopts, "bailed out compilations have no deopt points")
}

func TestWriteCompilationIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	res := compiledResult("c-1", 1, "add")
	c := CompilationOf(res, nil)

	inserted, err := s.WriteCompilation(ctx, c, res.Deopts)
	require.NoError(t, err)
	assert.True(t, inserted)

	c.Graph = "changed"
	inserted, err = s.WriteCompilation(ctx, c, res.Deopts)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.ReadCompilation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "add", got.Graph, "first write wins")

	deopts, err := s.ReadDeopts(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, deopts, 2)
}

func TestWriteCompilationDuplicateSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteCompilation(ctx, CompilationOf(compiledResult("c-1", 1, "add"), nil), nil)
	require.NoError(t, err)
	_, err = s.WriteCompilation(ctx, CompilationOf(compiledResult("c-2", 1, "add"), nil), nil)
	assert.Error(t, err)
}

func TestReadCompilationNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadCompilation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCompilations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, r := range []*pipeline.Result{
		compiledResult("c-3", 3, "add"),
		compiledResult("c-1", 1, "add"),
		compiledResult("c-2", 2, "select"),
	} {
		require.NoError(t, s.Record(ctx, r, nil))
	}

	all, err := s.ListCompilations(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c-1", "c-2", "c-3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	adds, err := s.ListCompilations(ctx, "add")
	require.NoError(t, err)
	require.Len(t, adds, 2)
	assert.Equal(t, "c-1", adds[0].ID)
	assert.Equal(t, "c-3", adds[1].ID)

	none, err := s.ListCompilations(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, s.Record(ctx, compiledResult("c-1", 4, "add"), nil))
	require.NoError(t, s.Record(ctx, compiledResult("c-2", 9, "add"), nil))

	seq, err = s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)
}

func TestListDeoptsAndReasons(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, compiledResult("c-1", 1, "add"), nil))
	second := compiledResult("c-2", 2, "select")
	second.Deopts = second.Deopts[:1]
	require.NoError(t, s.Record(ctx, second, nil))

	tests := []struct {
		name   string
		filter DeoptFilter
		want   []string
	}{
		{"all", DeoptFilter{}, []string{"c-1#4", "c-1#7", "c-2#7"}},
		{"by graph", DeoptFilter{Graph: "select"}, []string{"c-2#7"}},
		{"by reason", DeoptFilter{Reason: "overflow"}, []string{"c-1#7", "c-2#7"}},
		{"both", DeoptFilter{Graph: "add", Reason: "not a Smi"}, []string{"c-1#4"}},
		{"no match", DeoptFilter{Reason: "wrong map"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := s.ListDeopts(ctx, tt.filter)
			require.NoError(t, err)
			got := []string{}
			for _, r := range records {
				got = append(got, fmt.Sprintf("%s#%d", r.CompilationID, r.Node))
			}
			assert.Equal(t, tt.want, got)
		})
	}

	reasons, err := s.DeoptReasons(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ReasonCount{
		{Reason: "overflow", Count: 2},
		{Reason: "not a Smi", Count: 1},
	}, reasons)
}
