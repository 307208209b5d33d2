package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Table string
	Limit int
	Ops   bool
}

// LogEntry is one journaled commit.
type LogEntry struct {
	Seq     int64     `json:"seq"`
	Version uint64    `json:"version"`
	TxID    string    `json:"tx_id"`
	Origin  string    `json:"origin"`
	Time    time.Time `json:"time"`
	Ops     []LogOp   `json:"ops,omitempty"`
}

// LogOp is one row change of a journaled commit.
type LogOp struct {
	Table string `json:"table"`
	Kind  string `json:"kind"`
	Row   string `json:"row"` // Canonical JSON
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the commit journal",
		Long: `Show journaled commits, oldest first: version, transaction id and the
reducer that produced each one.

Examples:
  tablet log
  tablet log --table test_scheduled_table --limit 5 --ops
  tablet log --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "only commits touching this table")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent n commits (0 for all)")
	cmd.Flags().BoolVar(&opts.Ops, "ops", false, "include row changes")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := formatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	st, err := store.Open(cfg.Journal.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	commits, err := st.ReadCommits(ctx, opts.Table, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	entries := make([]LogEntry, 0, len(commits))
	for _, c := range commits {
		e := LogEntry{Seq: c.Seq, Version: c.Version, TxID: c.TxID, Origin: c.Origin, Time: c.Time}
		if opts.Ops {
			for _, op := range c.Ops {
				e.Ops = append(e.Ops, LogOp{Table: op.Table, Kind: op.Kind.String(), Row: op.Doc})
			}
		}
		entries = append(entries, e)
	}

	if opts.Format == "json" {
		return out.Success(entries)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No commits.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "v%d %s %s %s\n", e.Version, e.Time.Format(time.RFC3339Nano), e.TxID, e.Origin)
		for _, op := range e.Ops {
			fmt.Fprintf(w, "  %s %s %s\n", op.Kind, op.Table, op.Row)
		}
	}
	return nil
}
