package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/nodejit/internal/compiler"
	"github.com/roach88/nodejit/internal/config"
	"github.com/roach88/nodejit/internal/interp"
	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/pipeline"
	"github.com/roach88/nodejit/internal/store"
	"github.com/roach88/nodejit/internal/testutil"
)

// Result is the outcome of one scenario.
type Result struct {
	// Pass is true when every expectation held.
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Compilation is the log row written for the run, and Deopts the deopt
	// points read back with it.
	Compilation store.Compilation     `json:"compilation"`
	Deopts      []pipeline.DeoptPoint `json:"deopts"`

	// Dump is the compiled graph, empty on bailout.
	Dump string `json:"dump,omitempty"`

	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// Outcome is one case run before and after compilation.
type Outcome struct {
	Case   int    `json:"case"`
	Before string `json:"before"`
	After  string `json:"after"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Harness runs scenarios with deterministic compilation IDs against a
// fresh in-memory compilation log per scenario.
type Harness struct {
	cfg    config.Config
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes pipeline and interpreter logs to l. Scenarios are
// silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithConfig sets the base configuration that scenario overrides apply to.
func WithConfig(cfg config.Config) Option {
	return func(h *Harness) {
		h.cfg = cfg
	}
}

// New creates a harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		cfg:    config.Default(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with the default harness.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	return New().Run(ctx, s)
}

// Run executes a scenario. A returned error means the scenario could not
// be run at all; failed expectations are reported in the result.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	cfg := h.configFor(s)

	g, err := loadGraph(s)
	if err != nil {
		return nil, err
	}
	ref, err := loadGraph(s)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	p := pipeline.New(cfg,
		pipeline.WithLogger(h.logger),
		pipeline.WithIDGenerator(testutil.NewFixedIDGenerator(s.Name)),
	)
	res, runErr := p.Run(ctx, g)
	if res == nil {
		return nil, runErr
	}
	if err := st.Record(ctx, res, runErr); err != nil {
		return nil, fmt.Errorf("record compilation: %w", err)
	}

	result := &Result{Pass: true, Errors: []string{}}
	if result.Compilation, err = st.ReadCompilation(ctx, res.ID); err != nil {
		return nil, err
	}
	if result.Deopts, err = st.ReadDeopts(ctx, res.ID); err != nil {
		return nil, err
	}

	checkCompilation(result, s.Expect, runErr)
	if runErr != nil {
		return result, nil
	}
	result.Dump = res.Dump
	checkOperators(result, s.Expect, g.JSGraph.Graph)

	for i, c := range s.Cases {
		h.runCase(result, cfg, i, c, ref, g)
	}
	h.logger.Info("scenario finished", "scenario", s.Name, "pass", result.Pass, "errors", len(result.Errors))
	return result, nil
}

func (h *Harness) configFor(s *Scenario) config.Config {
	cfg := h.cfg
	cfg.WordSize = s.WordSize
	if s.Config.MaxReductions > 0 {
		cfg.Lowering.MaxReductions = s.Config.MaxReductions
	}
	if s.Config.BranchCloning != nil {
		cfg.Linearize.BranchCloning = *s.Config.BranchCloning
	}
	if s.Config.Float64RoundDown != nil {
		cfg.Linearize.Float64RoundDown = *s.Config.Float64RoundDown
	}
	return cfg
}

func checkCompilation(r *Result, want Expect, runErr error) {
	switch {
	case want.Bailout == "" && runErr != nil:
		r.addError("compilation bailed out: %v", runErr)
		return
	case want.Bailout != "" && runErr == nil:
		r.addError("expected bailout %s, graph compiled", want.Bailout)
		return
	case want.Bailout != "":
		if got := string(pipeline.BailoutCodeOf(runErr)); got != want.Bailout {
			r.addError("expected bailout %s, got %s: %v", want.Bailout, got, runErr)
		}
		return
	}

	if want.Linearized != nil && r.Compilation.Linearized != *want.Linearized {
		r.addError("linearized = %t, want %t", r.Compilation.Linearized, *want.Linearized)
	}
	if want.Deopts != nil && len(r.Deopts) != *want.Deopts {
		r.addError("deopt guards = %d, want %d", len(r.Deopts), *want.Deopts)
	}
	for _, name := range want.Reasons {
		reason, _ := ir.ParseDeoptReason(name)
		found := slices.ContainsFunc(r.Deopts, func(d pipeline.DeoptPoint) bool {
			return d.Reason == reason.String()
		})
		if !found {
			r.addError("no deopt guard with reason %q", reason)
		}
	}
}

// checkOperators matches Contains and Absent against the opcodes of the
// reachable nodes.
func checkOperators(r *Result, want Expect, g *ir.Graph) {
	present := make(map[string]bool)
	for _, n := range g.DumpNodes() {
		present[n.Opcode().String()] = true
	}
	for _, op := range want.Contains {
		if !present[op] {
			r.addError("compiled graph has no %s node", op)
		}
	}
	for _, op := range want.Absent {
		if present[op] {
			r.addError("compiled graph still has a %s node", op)
		}
	}
}

func (h *Harness) runCase(r *Result, cfg config.Config, i int, c Case, ref, compiled *compiler.Graph) {
	run := func(g *compiler.Graph) (interp.Result, error) {
		args, err := argValues(c.Args, g.JSGraph.Is64)
		if err != nil {
			return interp.Result{}, err
		}
		return interp.New(g.JSGraph,
			interp.WithLogger(h.logger),
			interp.WithMaxSteps(cfg.Interp.MaxSteps),
		).Run(args...)
	}

	before, err := run(ref)
	if err != nil {
		r.addError("cases[%d]: before compilation: %v", i, err)
		return
	}
	after, err := run(compiled)
	if err != nil {
		r.addError("cases[%d]: after compilation: %v", i, err)
		return
	}
	r.Outcomes = append(r.Outcomes, Outcome{Case: i, Before: before.String(), After: after.String()})

	if !interp.Equivalent(before, after) {
		r.addError("cases[%d]: outcome changed: before %s, after %s", i, before, after)
	}
	switch {
	case c.Returns != "":
		if after.Deopt || after.Value.String() != c.Returns {
			r.addError("cases[%d]: got %s, want return(%s)", i, after, c.Returns)
		}
	case c.Deopt != "":
		reason, _ := ir.ParseDeoptReason(c.Deopt)
		if !after.Deopt || after.Reason != reason {
			r.addError("cases[%d]: got %s, want deopt(%s)", i, after, reason)
			return
		}
		if c.Bailout != nil && after.BailoutID != *c.Bailout {
			r.addError("cases[%d]: deopt resumes at %d, want %d", i, after.BailoutID, *c.Bailout)
		}
	}
}

// loadGraph builds a fresh copy of the scenario's graph.
func loadGraph(s *Scenario) (*compiler.Graph, error) {
	ctx := cuecontext.New()
	var values []cue.Value
	for _, f := range s.Files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read graph file: %w", err)
		}
		values = append(values, ctx.CompileBytes(data, cue.Filename(f)))
	}
	if s.Source != "" {
		values = append(values, ctx.CompileString(s.Source, cue.Filename(s.Name+".cue")))
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("scenario %s: files or source is required", s.Name)
	}
	v := values[0]
	for _, other := range values[1:] {
		v = v.Unify(other)
	}
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	graphs := v.LookupPath(cue.ParsePath("graph"))
	if !graphs.Exists() {
		return nil, fmt.Errorf("scenario %s: no graph descriptions", s.Name)
	}
	label := s.Graph
	if label == "" {
		iter, err := graphs.Fields()
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		var labels []string
		for iter.Next() {
			labels = append(labels, iter.Label())
		}
		if len(labels) != 1 {
			return nil, fmt.Errorf("scenario %s: graph must be named, found %d descriptions", s.Name, len(labels))
		}
		label = labels[0]
	}

	desc := graphs.LookupPath(cue.MakePath(cue.Str(label)))
	if !desc.Exists() {
		return nil, fmt.Errorf("scenario %s: graph %q not found", s.Name, label)
	}
	g, err := compiler.LoadGraph(desc, s.WordSize)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return g, nil
}
