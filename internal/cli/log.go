package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/nodejit/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	DB    string
	Graph string
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the compilation log",
		Long: `List logged compilations in sequence order with their status, reduction
count and number of deopt points.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "compilation log (default store.path from config)")
	cmd.Flags().StringVarP(&opts.Graph, "graph", "g", "", "only this graph")

	return cmd
}

// LogEntry is one logged compilation with its deopt count.
type LogEntry struct {
	store.Compilation
	Deopts int `json:"deopts"`
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openLog(opts.RootOptions, opts.DB)
	if err != nil {
		return outputLoadFailure(formatter, err)
	}
	defer st.Close()
	ctx := commandContext(cmd)

	comps, err := st.ListCompilations(ctx, opts.Graph)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error())
	}
	entries := make([]LogEntry, 0, len(comps))
	for _, c := range comps {
		deopts, err := st.ReadDeopts(ctx, c.ID)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, err.Error())
		}
		entries = append(entries, LogEntry{Compilation: c, Deopts: len(deopts)})
	}

	return formatter.LogEntries(entries)
}
