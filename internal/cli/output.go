package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/roach88/nodejit/internal/pipeline"
	"github.com/roach88/nodejit/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a graph bailed out, failed validation or failed a scenario
	ExitCommandError = 2 // bad paths, unreadable graphs, log errors
)

// ExitError carries the exit code a failed command should end the process
// with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain, or
// ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results either as aligned text tables or
// as a JSON envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output; Writer when nil
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is a load error code (E001..), a validation code (E1xx, E2xx)
// or a bailout code such as REDUCTION_BUDGET.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

// Success prints data, wrapped in an "ok" envelope in JSON mode.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error prints a command error. Details only show in text mode when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Encode writes resp as indented JSON.
func (f *OutputFormatter) Encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog prints to the diagnostic writer when verbose, so JSON on
// Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, or Writer when it is unset.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Compilations renders the compile command's reports. It returns an
// ExitFailure error once rendered if any graph bailed out.
func (f *OutputFormatter) Compilations(summary CompileSummary) error {
	failed := summary.BailedOut > 0
	if f.isJSON() {
		resp := CLIResponse{Status: "ok", Data: summary}
		if failed {
			resp.Status = "error"
			for _, r := range summary.Graphs {
				if r.Bailout != nil {
					resp.Error = &CLIError{
						Code:    r.Bailout.Code,
						Message: fmt.Sprintf("%d graph(s) bailed out", summary.BailedOut),
					}
					break
				}
			}
		}
		if err := f.Encode(resp); err != nil {
			return err
		}
	} else {
		for _, r := range summary.Graphs {
			f.compileReport(r)
		}
		fmt.Fprintf(f.Writer, "\nCompiled %d graph(s), %d bailed out\n", summary.Compiled, summary.BailedOut)
	}

	if failed {
		return NewExitError(ExitFailure, fmt.Sprintf("%d graph(s) bailed out", summary.BailedOut))
	}
	return nil
}

func (f *OutputFormatter) compileReport(r CompileReport) {
	w := f.Writer
	if r.Bailout != nil {
		fmt.Fprintf(w, "✗ %s: %s\n", r.Graph, r.Bailout.Message)
		return
	}
	fmt.Fprintf(w, "✓ %s: %d reduction(s), %d lowered, %d deopt point(s)\n",
		r.Graph, r.Reductions, r.Lowered, len(r.Deopts))
	fmt.Fprintf(w, "    %d effect phi(s), %d cloned branch(es), %d rescheduled\n",
		r.EffectPhis, r.ClonedBranches, r.Rescheduled)

	if len(r.Deopts) > 0 {
		tw := newTable(w, "    NODE", "GUARD", "REASON", "BAILOUT", "CONDITION")
		for _, d := range r.Deopts {
			cells := deoptCells(d)
			cells[0] = "    " + cells[0]
			row(tw, cells...)
		}
		tw.Flush()
	}
	for _, warn := range r.Warnings {
		if warn.Level == "warning" {
			fmt.Fprintf(w, "    warning: %s\n", warn.Message)
		}
	}
	if r.Dump != "" {
		for _, line := range strings.Split(strings.TrimSuffix(r.Dump, "\n"), "\n") {
			fmt.Fprintf(w, "    | %s\n", line)
		}
	}
}

// DeoptRecords renders logged deopt points, one row per guard.
func (f *OutputFormatter) DeoptRecords(records []store.DeoptRecord) error {
	if f.isJSON() {
		return f.Success(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(f.Writer, "No deopt points")
		return nil
	}
	tw := newTable(f.Writer, "SEQ", "GRAPH", "NODE", "GUARD", "REASON", "BAILOUT", "CONDITION")
	for _, r := range records {
		row(tw, append([]string{strconv.FormatInt(r.Seq, 10), r.Graph}, deoptCells(r.DeoptPoint)...)...)
	}
	return tw.Flush()
}

// DeoptReasons renders per-reason guard counts with their total.
func (f *OutputFormatter) DeoptReasons(counts []store.ReasonCount) error {
	if f.isJSON() {
		return f.Success(counts)
	}
	if len(counts) == 0 {
		fmt.Fprintln(f.Writer, "No deopt points")
		return nil
	}
	tw := newTable(f.Writer, "REASON", "COUNT")
	total := 0
	for _, c := range counts {
		row(tw, c.Reason, strconv.Itoa(c.Count))
		total += c.Count
	}
	row(tw, "total", strconv.Itoa(total))
	return tw.Flush()
}

// LogEntries renders the compilation log. A bailout's detail column holds
// its code, phase and message.
func (f *OutputFormatter) LogEntries(entries []LogEntry) error {
	if f.isJSON() {
		return f.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(f.Writer, "No compilations")
		return nil
	}
	tw := newTable(f.Writer, "SEQ", "GRAPH", "STATUS", "REDUCTIONS", "LOWERED", "DEOPTS", "DETAIL")
	for _, e := range entries {
		var detail string
		if e.Status == store.StatusBailout {
			detail = fmt.Sprintf("%s (%s): %s", e.BailoutCode, e.Phase, e.Message)
		}
		row(tw, strconv.FormatInt(e.Seq, 10), e.Graph, e.Status,
			strconv.Itoa(e.Reductions), strconv.Itoa(e.Lowered), strconv.Itoa(e.Deopts), detail)
	}
	return tw.Flush()
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row(tw, header...)
	return tw
}

func row(tw *tabwriter.Writer, cells ...string) {
	fmt.Fprintln(tw, strings.Join(cells, "\t"))
}

// deoptCells is the NODE, GUARD, REASON, BAILOUT and CONDITION columns of
// a guard. Missing bailouts and conditions print as "-".
func deoptCells(d pipeline.DeoptPoint) []string {
	bailout, cond := "-", "-"
	if d.BailoutID >= 0 {
		bailout = strconv.Itoa(d.BailoutID)
	}
	if d.Condition >= 0 {
		cond = fmt.Sprintf("#%d %s", d.Condition, d.ConditionOp)
	}
	return []string{fmt.Sprintf("#%d", d.Node), d.Kind, d.Reason, bailout, cond}
}
