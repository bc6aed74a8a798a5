package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/pipeline"
)

// Scenario is one conformance check: a graph description, the arguments
// to run it with before and after compilation, and what the compilation
// must produce.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Files lists CUE files holding graph descriptions. Paths are relative
	// to the scenario file.
	Files []string `yaml:"files,omitempty"`

	// Source is an inline CUE graph description, unified with Files.
	Source string `yaml:"source,omitempty"`

	// Graph selects graph.<Graph>. It may be empty when exactly one graph
	// is described.
	Graph string `yaml:"graph,omitempty"`

	// WordSize applies to descriptions without word_size. Defaults to 64.
	WordSize int `yaml:"word_size,omitempty"`

	Config Overrides `yaml:"config,omitempty"`

	// Cases are argument lists. Each runs on the graph as loaded and on
	// the compiled graph; the outcomes must be equivalent.
	Cases []Case `yaml:"cases,omitempty"`

	Expect Expect `yaml:"expect,omitempty"`
}

// Overrides adjusts the pipeline configuration for one scenario.
type Overrides struct {
	MaxReductions    int   `yaml:"max_reductions,omitempty"`
	BranchCloning    *bool `yaml:"branch_cloning,omitempty"`
	Float64RoundDown *bool `yaml:"float64_round_down,omitempty"`
}

// Case is one run of the graph.
type Case struct {
	Args []Arg `yaml:"args"`

	// Returns is the expected return value in interp notation, e.g.
	// "w:3" or "f:1.5". Empty means only equivalence is checked.
	Returns string `yaml:"returns,omitempty"`

	// Deopt is the expected deopt reason, e.g. "overflow".
	Deopt string `yaml:"deopt,omitempty"`

	// Bailout is the expected frame-state bailout id of Deopt.
	Bailout *int `yaml:"bailout,omitempty"`
}

// Arg is one argument. Exactly one field must be set.
type Arg struct {
	Int32   *int32   `yaml:"int32,omitempty"`
	Word    *int64   `yaml:"word,omitempty"`
	Smi     *int32   `yaml:"smi,omitempty"`
	Float   *float64 `yaml:"float,omitempty"`
	Bool    *bool    `yaml:"bool,omitempty"`
	String  *string  `yaml:"string,omitempty"`
	Number  *float64 `yaml:"number,omitempty"` // boxed heap number
	Oddball string   `yaml:"oddball,omitempty"`
}

// Expect describes the compilation outcome.
type Expect struct {
	// Bailout is the expected bailout code. Empty means the graph must
	// compile.
	Bailout string `yaml:"bailout,omitempty"`

	Linearized *bool `yaml:"linearized,omitempty"`

	// Deopts is the expected number of deopt guards in the compiled graph.
	Deopts *int `yaml:"deopts,omitempty"`

	// Reasons lists deopt reasons that must each guard at least once.
	Reasons []string `yaml:"reasons,omitempty"`

	// Contains and Absent are operator names that must, or must not,
	// appear in the compiled graph dump.
	Contains []string `yaml:"contains,omitempty"`
	Absent   []string `yaml:"absent,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file, resolving Files
// relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, f := range s.Files {
		if !filepath.IsAbs(f) {
			s.Files[i] = filepath.Join(base, f)
		}
	}
	for _, f := range s.Files {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("invalid scenario: graph file not found: %s", f)
		}
	}
	return s, nil
}

// ParseScenario decodes a scenario, rejecting unknown fields.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if s.WordSize == 0 {
		s.WordSize = 64
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

var bailoutCodes = map[string]bool{
	string(pipeline.BailoutInvalidGraph):    true,
	string(pipeline.BailoutReductionBudget): true,
	string(pipeline.BailoutInvariant):       true,
	string(pipeline.BailoutVerifyFailed):    true,
	string(pipeline.BailoutCancelled):       true,
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Files) == 0 && s.Source == "" {
		return fmt.Errorf("files or source is required")
	}
	if s.WordSize != 32 && s.WordSize != 64 {
		return fmt.Errorf("word_size must be 32 or 64, got %d", s.WordSize)
	}
	if s.Config.MaxReductions < 0 {
		return fmt.Errorf("config.max_reductions must be non-negative")
	}
	if s.Expect.Bailout != "" {
		if !bailoutCodes[s.Expect.Bailout] {
			return fmt.Errorf("expect.bailout: unknown code %q", s.Expect.Bailout)
		}
		if len(s.Cases) > 0 {
			return fmt.Errorf("cases cannot run on a graph that bails out")
		}
	}
	if s.Expect.Deopts != nil && *s.Expect.Deopts < 0 {
		return fmt.Errorf("expect.deopts must be non-negative")
	}

	for i, r := range s.Expect.Reasons {
		if _, err := ir.ParseDeoptReason(r); err != nil {
			return fmt.Errorf("expect.reasons[%d]: %w", i, err)
		}
	}

	for i, c := range s.Cases {
		if c.Returns != "" && c.Deopt != "" {
			return fmt.Errorf("cases[%d]: returns and deopt are exclusive", i)
		}
		if c.Deopt != "" {
			if _, err := ir.ParseDeoptReason(c.Deopt); err != nil {
				return fmt.Errorf("cases[%d]: %w", i, err)
			}
		}
		if c.Bailout != nil && c.Deopt == "" {
			return fmt.Errorf("cases[%d]: bailout requires deopt", i)
		}
		for j, a := range c.Args {
			if n := a.fields(); n != 1 {
				return fmt.Errorf("cases[%d].args[%d]: exactly one value is required, got %d", i, j, n)
			}
		}
	}
	return nil
}
