package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/nodejit/internal/ir"
	"github.com/roach88/nodejit/internal/store"
)

// DeoptsOptions holds flags for the deopts command.
type DeoptsOptions struct {
	*RootOptions
	DB      string
	Graph   string
	Reason  string
	Summary bool
}

// NewDeoptsCommand creates the deopts command.
func NewDeoptsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeoptsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deopts",
		Short: "List deopt points recorded in the compilation log",
		Long: `List the deoptimization guards of every logged compilation, oldest
compilation first. --summary counts guards per reason instead.

Exit codes:
  0 - Success
  2 - Command error (log not found, unknown reason)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeopts(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "compilation log (default store.path from config)")
	cmd.Flags().StringVarP(&opts.Graph, "graph", "g", "", "only this graph")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "only this deopt reason, e.g. overflow or \"not a Smi\"")
	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "count guards per reason")

	return cmd
}

func runDeopts(opts *DeoptsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	filter := store.DeoptFilter{Graph: opts.Graph}
	if opts.Reason != "" {
		reason, err := ir.ParseDeoptReason(opts.Reason)
		if err != nil {
			return outputCommandError(formatter, ErrCodeGeneric, err.Error())
		}
		filter.Reason = reason.String()
	}

	st, err := openLog(opts.RootOptions, opts.DB)
	if err != nil {
		return outputLoadFailure(formatter, err)
	}
	defer st.Close()
	ctx := commandContext(cmd)

	if opts.Summary {
		counts, err := st.DeoptReasons(ctx)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, err.Error())
		}
		return formatter.DeoptReasons(counts)
	}

	records, err := st.ListDeopts(ctx, filter)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error())
	}
	return formatter.DeoptRecords(records)
}

// openLog opens an existing compilation log. Reading commands never create
// one.
func openLog(opts *RootOptions, path string) (*store.Store, error) {
	if path == "" {
		path = opts.Config.Store.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("compilation log not found: %s", path)}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStore, Message: fmt.Sprintf("opening compilation log: %v", err)}
	}
	return st, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
