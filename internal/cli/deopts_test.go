package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodejit/internal/store"
)

// compiledLog compiles the arithmetic graphs twice and the unguarded graph
// once into a fresh log.
func compiledLog(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "nodejit.db")
	for range 2 {
		_, err := execute(t, NewCompileCommand(testOptions("text")), arithFile, "--db", db)
		require.NoError(t, err)
	}
	_, err := execute(t, NewCompileCommand(testOptions("text")), unguardedFile, "--db", db)
	require.Error(t, err)
	return db
}

func TestDeoptsList(t *testing.T) {
	db := compiledLog(t)

	out, err := execute(t, NewDeoptsCommand(testOptions("text")), "--db", db)
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^SEQ\s+GRAPH\s+NODE\s+GUARD\s+REASON\s+BAILOUT\s+CONDITION$`, out)
	assert.Regexp(t, `(?m)^1\s+add\s+#\d+\s+DeoptimizeIf\s+overflow\s+3\s+#\d+ \w+$`, out)
	assert.Regexp(t, `(?m)^3\s+add\s+#\d+\s+DeoptimizeIf\s+overflow\s+3\s+#\d+ \w+$`, out)
	assert.NotContains(t, out, "plus")
}

func TestDeoptsJSON(t *testing.T) {
	db := compiledLog(t)

	out, err := execute(t, NewDeoptsCommand(testOptions("json")), "--db", db, "--graph", "add")
	require.NoError(t, err)

	var resp struct {
		Status string              `json:"status"`
		Data   []store.DeoptRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, int64(1), resp.Data[0].Seq)
	assert.Equal(t, int64(3), resp.Data[1].Seq)
	for _, d := range resp.Data {
		assert.Equal(t, "add", d.Graph)
		assert.Equal(t, "overflow", d.Reason)
		assert.Equal(t, 3, d.BailoutID)
	}
}

func TestDeoptsFilters(t *testing.T) {
	db := compiledLog(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"reason", []string{"--reason", "Overflow"}, `DeoptimizeIf\s+overflow`},
		{"other reason", []string{"--reason", "not a smi"}, `(?m)^No deopt points$`},
		{"graph without guards", []string{"--graph", "plus"}, `(?m)^No deopt points$`},
		{"summary", []string{"--summary"}, `(?m)^REASON\s+COUNT\noverflow\s+2\ntotal\s+2$`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--db", db}, tt.args...)
			out, err := execute(t, NewDeoptsCommand(testOptions("text")), args...)
			require.NoError(t, err)
			assert.Regexp(t, tt.want, out)
		})
	}
}

func TestDeoptsErrors(t *testing.T) {
	db := compiledLog(t)

	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"unknown reason", []string{"--db", db, "--reason", "bogus"}, ErrCodeGeneric},
		{"missing log", []string{"--db", filepath.Join(t.TempDir(), "none.db")}, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, NewDeoptsCommand(testOptions("text")), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.wantCode)
		})
	}
}

func TestDeoptsDefaultsToConfiguredLog(t *testing.T) {
	db := compiledLog(t)
	opts := testOptions("text")
	opts.Config.Store.Path = db

	out, err := execute(t, NewDeoptsCommand(opts), "--summary")
	require.NoError(t, err)
	assert.Contains(t, out, "overflow")
}

func TestLogCommand(t *testing.T) {
	db := compiledLog(t)

	out, err := execute(t, NewLogCommand(testOptions("text")), "--db", db)
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^SEQ\s+GRAPH\s+STATUS\s+REDUCTIONS\s+LOWERED\s+DEOPTS\s+DETAIL$`, out)
	assert.Regexp(t, `(?m)^1\s+add\s+compiled\s+\d+\s+\d+\s+1\s*$`, out)
	assert.Regexp(t, `(?m)^2\s+plus\s+compiled\s+\d+\s+\d+\s+0\s*$`, out)
	assert.Regexp(t, `(?m)^5\s+unguarded\s+bailout\s+\d+\s+\d+\s+0\s+LINEARIZER_INVARIANT \([\w-]+\): `, out)
}

func TestLogCommandJSON(t *testing.T) {
	db := compiledLog(t)

	out, err := execute(t, NewLogCommand(testOptions("json")), "--db", db, "--graph", "add")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   []LogEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	for _, e := range resp.Data {
		assert.Equal(t, "add", e.Graph)
		assert.Equal(t, store.StatusCompiled, e.Status)
		assert.Equal(t, 1, e.Deopts)
	}
}

func TestLogCommandMissingLog(t *testing.T) {
	out, err := execute(t, NewLogCommand(testOptions("text")), "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}
