package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenarioResolvesFiles(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "checked-add.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "checked-add", s.Name)
	assert.Equal(t, 64, s.WordSize)
	require.Len(t, s.Files, 1)
	assert.Equal(t, filepath.Join("testdata", "graphs", "arith.cue"), s.Files[0])
	require.Len(t, s.Cases, 3)
	require.NotNil(t, s.Cases[2].Bailout)
	assert.Equal(t, 3, *s.Cases[2].Bailout)
	assert.Equal(t, "overflow", s.Cases[2].Deopt)
	require.NotNil(t, s.Expect.Deopts)
	assert.Equal(t, 1, *s.Expect.Deopts)
}

func TestLoadScenarioMissingGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: missing
description: graph file does not exist
files: [nope.cue]
`), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph file not found")
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nsource: s\nexpectt: {}\n",
			want: "field expectt not found",
		},
		{
			name: "missing name",
			yaml: "description: d\nsource: s\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsource: s\n",
			want: "description is required",
		},
		{
			name: "no graph",
			yaml: "name: x\ndescription: d\n",
			want: "files or source is required",
		},
		{
			name: "bad word size",
			yaml: "name: x\ndescription: d\nsource: s\nword_size: 16\n",
			want: "word_size must be 32 or 64, got 16",
		},
		{
			name: "unknown bailout",
			yaml: "name: x\ndescription: d\nsource: s\nexpect: {bailout: NOPE}\n",
			want: `unknown code "NOPE"`,
		},
		{
			name: "cases on bailout",
			yaml: "name: x\ndescription: d\nsource: s\nexpect: {bailout: CANCELLED}\ncases: [{args: []}]\n",
			want: "cases cannot run on a graph that bails out",
		},
		{
			name: "unknown reason",
			yaml: "name: x\ndescription: d\nsource: s\nexpect: {reasons: [melted]}\n",
			want: `expect.reasons[0]: unknown deopt reason "melted"`,
		},
		{
			name: "returns and deopt",
			yaml: "name: x\ndescription: d\nsource: s\ncases: [{args: [], returns: 'w:1', deopt: overflow}]\n",
			want: "cases[0]: returns and deopt are exclusive",
		},
		{
			name: "bailout without deopt",
			yaml: "name: x\ndescription: d\nsource: s\ncases: [{args: [], bailout: 2}]\n",
			want: "cases[0]: bailout requires deopt",
		},
		{
			name: "two values in one arg",
			yaml: "name: x\ndescription: d\nsource: s\ncases: [{args: [{int32: 1, float: 2}]}]\n",
			want: "cases[0].args[0]: exactly one value is required, got 2",
		},
		{
			name: "empty arg",
			yaml: "name: x\ndescription: d\nsource: s\ncases: [{args: [{}]}]\n",
			want: "cases[0].args[0]: exactly one value is required, got 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestArgValues(t *testing.T) {
	one := int32(1)
	s := "hi"
	f := 2.5

	values, err := argValues([]Arg{{Smi: &one}, {String: &s}, {Number: &f}, {Oddball: "null"}}, true)
	require.NoError(t, err)
	assert.Equal(t, "w:4294967296", values[0].String())
	assert.Equal(t, `ref:"hi"`, values[1].String())
	assert.Equal(t, "ref:2.5", values[2].String())
	assert.Equal(t, "ref:null", values[3].String())

	values, err = argValues([]Arg{{Smi: &one}}, false)
	require.NoError(t, err)
	assert.Equal(t, "w:2", values[0].String())

	_, err = argValues([]Arg{{Oddball: "maybe"}}, true)
	assert.EqualError(t, err, `args[0]: unknown oddball "maybe"`)
}
