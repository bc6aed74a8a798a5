package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("testdata", "scenarios")

const checkedAddGolden = `{"deopts":["DeoptimizeIf overflow bailout:3"],"graph":"add","linearized":true,"outcomes":["return(w:3)","return(w:0)","deopt(overflow @3)"],"scenario":"checked-add","status":"compiled"}`

func TestTestCommandPasses(t *testing.T) {
	out, err := execute(t, NewTestCommand(testOptions("text")), scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ checked-add")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandSingleFile(t *testing.T) {
	out, err := execute(t, NewTestCommand(testOptions("json")), filepath.Join(scenariosDir, "checked-add.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "checked-add", resp.Data.Scenarios[0].Name)
}

func TestTestCommandFilter(t *testing.T) {
	out, err := execute(t, NewTestCommand(testOptions("text")), scenariosDir, "--filter", "budget-*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandInvalidFilter(t *testing.T) {
	_, err := execute(t, NewTestCommand(testOptions("text")), scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdate(t *testing.T) {
	goldenDir := t.TempDir()

	out, err := execute(t, NewTestCommand(testOptions("text")), scenariosDir, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ checked-add")

	data, err := os.ReadFile(filepath.Join(goldenDir, "checked-add.golden"))
	require.NoError(t, err)
	assert.Equal(t, checkedAddGolden, string(data))
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	goldenDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "checked-add.golden"), []byte(`{"stale":true}`), 0644))

	out, err := execute(t, NewTestCommand(testOptions("text")), scenariosDir, "--golden-dir", goldenDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ checked-add")
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong-sum
description: expects the wrong sum
files: [` + absPath(t, arithFile) + `]
graph: add
cases:
  - args: [{int32: 1}, {int32: 2}]
    returns: "w:4"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong-sum.yaml"), []byte(scenario), 0644))

	out, err := execute(t, NewTestCommand(testOptions("json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, []string{"cases[0]: got return(w:3), want return(w:4)"}, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandBadScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\n"), 0644))

	out, err := execute(t, NewTestCommand(testOptions("text")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ bad.yaml")
	assert.Contains(t, out, "description is required")
}

func TestTestCommandMissingPath(t *testing.T) {
	out, err := execute(t, NewTestCommand(testOptions("text")), filepath.Join("testdata", "nowhere"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "add.golden"),
		goldenFilePath(filepath.Join("scenarios", "add.yaml"), "add", ""))
	assert.Equal(t,
		filepath.Join("elsewhere", "add.golden"),
		goldenFilePath(filepath.Join("scenarios", "add.yaml"), "add", "elsewhere"))
}

func absPath(t *testing.T, p string) string {
	t.Helper()
	abs, err := filepath.Abs(p)
	require.NoError(t, err)
	return abs
}
