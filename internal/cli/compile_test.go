package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/store"
)

var (
	arithFile     = filepath.Join("testdata", "graphs", "arith.cue")
	unguardedFile = filepath.Join("testdata", "bailout", "unguarded.cue")
	unknownOpFile = filepath.Join("testdata", "invalid", "unknown_op.cue")
)

type compileResponse struct {
	Status string         `json:"status"`
	Data   CompileSummary `json:"data"`
	Error  *CLIError      `json:"error"`
}

func TestCompileText(t *testing.T) {
	out, err := execute(t, NewCompileCommand(testOptions("text")), arithFile)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ add:")
	assert.Contains(t, out, "✓ plus:")
	assert.Regexp(t, `(?m)^\s+#\d+\s+DeoptimizeIf\s+overflow\s+3\s+#\d+ \w+$`, out)
	assert.Contains(t, out, "Compiled 2 graph(s), 0 bailed out")
}

func TestCompileJSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand(testOptions("json")), arithFile)
	require.NoError(t, err)

	var resp compileResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 2, resp.Data.Compiled)
	assert.Equal(t, 0, resp.Data.BailedOut)

	require.Len(t, resp.Data.Graphs, 2)
	add := resp.Data.Graphs[0]
	assert.Equal(t, "add", add.Graph)
	assert.Equal(t, store.StatusCompiled, add.Status)
	assert.True(t, add.Linearized)
	assert.Empty(t, add.Dump)
	require.Len(t, add.Deopts, 1)
	assert.Equal(t, "DeoptimizeIf", add.Deopts[0].Kind)
	assert.Equal(t, "overflow", add.Deopts[0].Reason)
	assert.Equal(t, 3, add.Deopts[0].BailoutID)

	plus := resp.Data.Graphs[1]
	assert.Equal(t, "plus", plus.Graph)
	assert.Empty(t, plus.Deopts)
}

func TestCompileGraphFlag(t *testing.T) {
	out, err := execute(t, NewCompileCommand(testOptions("json")), arithFile, "--graph", "plus", "--dump")
	require.NoError(t, err)

	var resp compileResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Graphs, 1)
	assert.Equal(t, "plus", resp.Data.Graphs[0].Graph)
	assert.Contains(t, resp.Data.Graphs[0].Dump, "NumberAdd")
}

func TestCompileUnknownGraph(t *testing.T) {
	out, err := execute(t, NewCompileCommand(testOptions("text")), arithFile, "--graph", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoGraphs)
	assert.Contains(t, out, `no graph named "missing"`)
}

func TestCompileBailout(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out, err := execute(t, NewCompileCommand(testOptions("text")), unguardedFile)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "✗ unguarded:")
		assert.Contains(t, out, "Compiled 0 graph(s), 1 bailed out")
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, NewCompileCommand(testOptions("json")), unguardedFile)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var resp compileResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "LINEARIZER_INVARIANT", resp.Error.Code)

		require.Len(t, resp.Data.Graphs, 1)
		g := resp.Data.Graphs[0]
		assert.Equal(t, store.StatusBailout, g.Status)
		require.NotNil(t, g.Bailout)
		assert.Equal(t, "LINEARIZER_INVARIANT", g.Bailout.Code)
		assert.Empty(t, g.Deopts)
	})
}

func TestCompileLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantCode string
	}{
		{"unknown operator", unknownOpFile, ErrCodeUnknownOp},
		{"missing path", filepath.Join("testdata", "nope.cue"), ErrCodeNotFound},
		{"empty directory", t.TempDir(), ErrCodeNoFiles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, NewCompileCommand(testOptions("text")), tt.path)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.wantCode)
		})
	}
}

func TestCompileRecordsToLog(t *testing.T) {
	db := filepath.Join(t.TempDir(), "nodejit.db")

	for range 2 {
		_, err := execute(t, NewCompileCommand(testOptions("text")), arithFile, "--db", db)
		require.NoError(t, err)
	}
	_, err := execute(t, NewCompileCommand(testOptions("text")), unguardedFile, "--db", db)
	require.Error(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	comps, err := st.ListCompilations(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, comps, 5)
	for i, c := range comps {
		assert.Equal(t, int64(i+1), c.Seq, "sequence resumes from the log")
	}
	assert.Equal(t, "add", comps[2].Graph)
	assert.Equal(t, store.StatusBailout, comps[4].Status)
	assert.Equal(t, "LINEARIZER_INVARIANT", comps[4].BailoutCode)

	deopts, err := st.ReadDeopts(context.Background(), comps[0].ID)
	require.NoError(t, err)
	require.Len(t, deopts, 1)
	assert.Equal(t, "overflow", deopts[0].Reason)
}

func TestSelectGraph(t *testing.T) {
	result, errs := LoadGraphs(arithFile, 64, LoadModeFailFast)
	require.Empty(t, errs)

	all, err := selectGraph(result.Graphs, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := selectGraph(result.Graphs, "add")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "add", one[0].Name)

	_, err = selectGraph(result.Graphs, "sub")
	require.Error(t, err)
}
