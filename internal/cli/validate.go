package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/nodejit/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Graphs   int                     `json:"graphs"`
	Errors   []GraphError            `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning `json:"warnings,omitempty"`
}

// GraphError is a validation error attributed to the graph it was found in.
type GraphError struct {
	Graph string `json:"graph"`
	compiler.ValidationError
	Line int `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <graph.cue|dir>",
		Short: "Check graph descriptions without compiling them",
		Long: `Load graph descriptions and check them the way the compiler does before
lowering: operator arity, dangling inputs, frame states on deopt guards
and block/phi arity. Nothing is lowered or logged.

Exit codes:
  0 - Every graph is well formed
  1 - One or more graphs have errors
  2 - Command error (path not found, CUE does not build)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadGraphs(path, opts.Config.WordSize, LoadModeCollectAll)
	if loadResult == nil {
		return outputLoadFailure(formatter, loadErrors[0])
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	result := ValidationResult{Valid: true, Graphs: len(loadResult.Graphs) + len(loadErrors)}

	// Graphs that fail to load are reported like any other error.
	for _, err := range loadErrors {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			return outputLoadFailure(formatter, err)
		}
		result.Errors = append(result.Errors, GraphError{
			Graph: loadErr.Graph,
			ValidationError: compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Node:    -1,
			},
			Line: lineOf(loadErr),
		})
	}

	for _, g := range loadResult.Graphs {
		formatter.VerboseLog("Validating graph: %s", g.Name)
		for _, ve := range compiler.ValidateScheduled(g.JSGraph.Graph, g.Schedule) {
			result.Errors = append(result.Errors, GraphError{Graph: g.Name, ValidationError: ve})
		}
		result.Warnings = append(result.Warnings, compiler.AnalyzeCycles(g.JSGraph.Graph)...)
	}
	result.Valid = len(result.Errors) == 0

	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    result.Errors[0].Code,
				Message: fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)),
			}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if result.Valid {
			fmt.Fprintf(w, "✓ %d graph(s) valid\n", result.Graphs)
		} else {
			fmt.Fprintf(w, "✗ Validation failed with %d error(s)\n\n", len(result.Errors))
			for _, e := range result.Errors {
				if e.Line > 0 {
					fmt.Fprintf(w, "  [%s] graph.%s (line %d): %s: %s\n", e.Code, e.Graph, e.Line, e.Field, e.Message)
				} else {
					fmt.Fprintf(w, "  [%s] graph.%s: %s\n", e.Code, e.Graph, e.ValidationError.Error())
				}
			}
		}
		for _, warn := range result.Warnings {
			if warn.Level == "warning" {
				fmt.Fprintf(w, "  warning: %s\n", warn.Message)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func lineOf(e *LoadError) int {
	if !e.Pos.IsValid() {
		return 0
	}
	return e.Pos.Line()
}
