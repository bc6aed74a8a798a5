package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/nodejit/internal/compiler"
	"github.com/roach88/nodejit/internal/pipeline"
	"github.com/roach88/nodejit/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	DB              string // compilation log; empty skips logging
	Graph           string // compile only this graph
	Dump            bool   // include the compiled graph
	MaxReductions   int
	NoBranchCloning bool
}

// CompileReport describes one graph's compilation.
type CompileReport struct {
	Graph   string    `json:"graph"`
	ID      string    `json:"id"`
	Seq     int64     `json:"seq"`
	Status  string    `json:"status"` // "compiled" or "bailout"
	Bailout *CLIError `json:"bailout,omitempty"`

	Reductions     int  `json:"reductions"`
	Linearized     bool `json:"linearized"`
	Lowered        int  `json:"lowered"`
	EffectPhis     int  `json:"effect_phis"`
	ClonedBranches int  `json:"cloned_branches"`
	Rescheduled    int  `json:"rescheduled"`

	Deopts   []pipeline.DeoptPoint   `json:"deopts"`
	Warnings []compiler.CycleWarning `json:"warnings,omitempty"`
	Dump     string                  `json:"dump,omitempty"`
}

// CompileSummary is the compile command's result.
type CompileSummary struct {
	Graphs    []CompileReport `json:"graphs"`
	Compiled  int             `json:"compiled"`
	BailedOut int             `json:"bailed_out"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <graph.cue|dir>",
		Short: "Lower and linearize graph descriptions",
		Long: `Compile every graph described under graph: through typed lowering and
effect/control linearization, then verify the result.

A graph that fails any phase bails out and stays in the baseline tier.
With --db each compilation and its deopt points are appended to the
compilation log.

Exit codes:
  0 - Every graph compiled
  1 - One or more graphs bailed out
  2 - Command error (unreadable graphs, database errors)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "append compilations to this SQLite log")
	cmd.Flags().StringVarP(&opts.Graph, "graph", "g", "", "compile only the named graph")
	cmd.Flags().BoolVar(&opts.Dump, "dump", false, "print the compiled graphs")
	cmd.Flags().IntVar(&opts.MaxReductions, "max-reductions", 0, "override lowering.max_reductions")
	cmd.Flags().BoolVar(&opts.NoBranchCloning, "no-branch-cloning", false, "disable branch cloning")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg := opts.Config
	if opts.MaxReductions > 0 {
		cfg.Lowering.MaxReductions = opts.MaxReductions
	}
	if opts.NoBranchCloning {
		cfg.Linearize.BranchCloning = false
	}

	loadResult, loadErrors := LoadGraphs(path, cfg.WordSize, LoadModeCollectAll)
	if loadResult == nil {
		return outputLoadFailure(formatter, loadErrors[0])
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)
	if len(loadErrors) > 0 {
		return outputLoadErrors(formatter, "compilation", loadErrors)
	}

	graphs, err := selectGraph(loadResult.Graphs, opts.Graph)
	if err != nil {
		return outputLoadFailure(formatter, err)
	}

	ctx := commandContext(cmd)

	pipelineOpts := []pipeline.Option{pipeline.WithLogger(opts.logger(formatter.GetErrWriter()))}
	var st *store.Store
	if opts.DB != "" {
		st, err = store.Open(opts.DB)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("opening compilation log: %v", err))
		}
		defer st.Close()
		last, err := st.LastSeq(ctx)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, err.Error())
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithClock(pipeline.NewClockAt(last)))
	}
	p := pipeline.New(cfg, pipelineOpts...)

	summary := CompileSummary{Graphs: make([]CompileReport, 0, len(graphs))}
	for _, g := range graphs {
		formatter.VerboseLog("Compiling graph: %s", g.Name)
		res, runErr := p.Run(ctx, g)
		if res == nil {
			return outputCommandError(formatter, ErrCodeGeneric, runErr.Error())
		}
		if st != nil {
			if err := st.Record(ctx, res, runErr); err != nil {
				return outputCommandError(formatter, ErrCodeStore, err.Error())
			}
		}

		report := newCompileReport(res, runErr, opts.Dump)
		if runErr != nil {
			summary.BailedOut++
		} else {
			summary.Compiled++
		}
		summary.Graphs = append(summary.Graphs, report)
	}

	return formatter.Compilations(summary)
}

func newCompileReport(res *pipeline.Result, runErr error, dump bool) CompileReport {
	report := CompileReport{
		Graph:          res.Graph,
		ID:             res.ID,
		Seq:            res.Seq,
		Status:         store.StatusCompiled,
		Reductions:     res.Reductions,
		Linearized:     res.Linearized,
		Lowered:        res.Stats.Lowered,
		EffectPhis:     res.Stats.EffectPhis,
		ClonedBranches: res.Stats.ClonedBranches,
		Rescheduled:    res.Rescheduled,
		Deopts:         res.Deopts,
		Warnings:       res.Warnings,
	}
	if runErr != nil {
		report.Status = store.StatusBailout
		report.Deopts = []pipeline.DeoptPoint{}
		report.Bailout = bailoutError(runErr)
		return report
	}
	if dump {
		report.Dump = res.Dump
	}
	return report
}

func bailoutError(err error) *CLIError {
	e := &CLIError{Code: string(pipeline.BailoutCodeOf(err)), Message: err.Error()}
	var be *pipeline.BailoutError
	if errors.As(err, &be) {
		e.Details = map[string]any{"phase": be.Phase, "errors": be.Errors}
	}
	return e
}

// selectGraph keeps the graph named name, or every graph when name is empty.
func selectGraph(graphs []*compiler.Graph, name string) ([]*compiler.Graph, error) {
	if name == "" {
		return graphs, nil
	}
	for _, g := range graphs {
		if g.Name == name {
			return []*compiler.Graph{g}, nil
		}
	}
	return nil, &LoadError{Code: ErrCodeNoGraphs, Message: fmt.Sprintf("no graph named %q", name)}
}

// outputLoadFailure reports an error that stopped loading altogether.
func outputLoadFailure(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return outputCommandError(formatter, loadErr.Code, loadErr.Message)
	}
	return outputCommandError(formatter, ErrCodeGeneric, err.Error())
}

// outputCommandError outputs a single command-level error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputLoadErrors outputs every graph that failed to load (exit code 2).
func outputLoadErrors(formatter *OutputFormatter, what string, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		cliErrors[i] = toCLIError(err)
	}

	if formatter.Format == "json" {
		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("%s failed with %d error(s)", what, len(errs)))
	}

	fmt.Fprintf(formatter.Writer, "✗ Loading graphs failed\n\n")
	for _, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		e := toCLIError(err)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("%s failed with %d error(s)", what, len(errs)))
}

func toCLIError(err error) CLIError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		msg := loadErr.Message
		if loadErr.Graph != "" {
			msg = "graph." + loadErr.Graph + ": " + msg
		}
		return CLIError{Code: loadErr.Code, Message: msg}
	}
	return CLIError{Code: ErrCodeGeneric, Message: err.Error()}
}
