package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/harness"
	"github.com/roach88/tablet/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string // Optional config file
	Journal    string // Overrides journal.path
	Module     string // Registered module to host
	Caller     string // Caller name; "anonymous" for no identity
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tablet CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "tablet",
		Short:   "tablet - a transactional table host",
		Version: fmt.Sprintf("%s (codec %s)", ir.EngineVersion, ir.CodecVersion),
		Long: `Host a module of typed tables, reducers, views and procedures.

Every command restores the module from the SQLite journal, so state
carries across invocations. Configuration comes from --config, then
TABLET_ environment variables (TABLET_JOURNAL_PATH, TABLET_LOG_LEVEL, ...).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&opts.Journal, "journal", "", "journal path (overrides journal.path)")
	cmd.PersistentFlags().StringVar(&opts.Module, "module", harness.DefaultModule, "module to host")
	cmd.PersistentFlags().StringVar(&opts.Caller, "caller", harness.DefaultCaller, `caller name, or "anonymous"`)

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewViewCommand(opts))
	cmd.AddCommand(NewProcCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
