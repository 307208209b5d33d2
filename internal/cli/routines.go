package cli

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/engine"
	"github.com/roach88/tablet/internal/harness"
	"github.com/roach88/tablet/internal/ir"
)

// CallResult reports a committed reducer call.
type CallResult struct {
	Reducer string `json:"reducer"`
	TxID    string `json:"tx_id,omitempty"`
	Version uint64 `json:"version,omitempty"`
	Changes int    `json:"changes"`
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <reducer> [json-args]",
		Short: "Run a reducer in one transaction",
		Long: `Run a reducer against the journaled state and commit its writes.

Arguments are a JSON array in parameter order. A reducer that returns an
error or panics commits nothing; conflicting commits are retried up to
scheduler.max_attempts times.

Examples:
  tablet call start_integration_tests
  tablet call add '[5]' --caller alice`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runCall(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := formatter(opts, cmd)

	h, err := openHost(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	name := args[0]
	var params []ir.Value
	def, ok := h.module.Reducer(name)
	if ok {
		params, err = engine.ParseArgs(name, def.Params, rawArgs(args))
		if err != nil {
			return routineFailed(out, "call "+name, err)
		}
	}

	ev, err := h.engine.CallReducer(ctx, name, callerOf(opts), params)
	if err != nil {
		return routineFailed(out, "call "+name, err)
	}

	res := CallResult{Reducer: name}
	if ev != nil {
		res.TxID = ev.TxID
		res.Version = ev.Version
		res.Changes = len(ev.Changes)
	}
	if opts.Format == "json" {
		return out.Success(res)
	}
	if ev == nil {
		return out.Success(name + ": no changes")
	}
	out.VerboseLog("committed %s at version %d", res.TxID, res.Version)
	return out.Success(name + ": committed " + pluralRows(res.Changes))
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <name>",
		Short: "Evaluate a view and print its rows",
		Long: `Evaluate a view over committed state and print the result as canonical
JSON: null or an object for option views, an array otherwise.

Private views need an identified caller; --caller anonymous is refused.

Examples:
  tablet view test_public_scheduled_count
  tablet view test_no_pk_vec --caller anonymous`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runView(opts *RootOptions, name string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := formatter(opts, cmd)

	h, err := openHost(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	res, err := h.engine.CallView(ctx, name, callerOf(opts))
	if err != nil {
		return routineFailed(out, "view "+name, err)
	}
	data, err := res.MarshalCanonical()
	if err != nil {
		return routineFailed(out, "view "+name, err)
	}
	return out.Success(json.RawMessage(data))
}

// NewProcCommand creates the proc command.
func NewProcCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proc <name> [json-args]",
		Short: "Run a procedure and print its result",
		Long: `Run a procedure and print its optional result as canonical JSON,
null when it returns nothing.

Examples:
  tablet proc procedure_test_get_table_datatypes_row '[1]'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProc(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runProc(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := formatter(opts, cmd)

	h, err := openHost(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	name := args[0]
	def, ok := h.module.Procedure(name)
	if !ok {
		return routineFailed(out, "proc "+name, &engine.RuntimeError{Code: engine.ErrCodeNoSuchProcedure, Name: name, Message: "unknown procedure"})
	}
	params, err := engine.ParseArgs(name, def.Params, rawArgs(args))
	if err != nil {
		return routineFailed(out, "proc "+name, err)
	}

	res, err := h.engine.CallProcedure(ctx, name, callerOf(opts), params)
	if err != nil {
		return routineFailed(out, "proc "+name, err)
	}
	data, err := ir.MarshalCanonical(ir.OptionOf(def.Returns), res)
	if err != nil {
		return routineFailed(out, "proc "+name, err)
	}
	return out.Success(json.RawMessage(data))
}

func rawArgs(args []string) []byte {
	if len(args) < 2 {
		return nil
	}
	return []byte(args[1])
}

// routineFailed reports a routine error with its code and returns the
// matching exit error.
func routineFailed(out *OutputFormatter, what string, err error) error {
	_ = out.Error(harness.ErrorCode(err), err.Error(), nil)
	return WrapExitError(ExitFailure, what+" failed", err)
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// commandContext returns the command's context, or Background when run
// without one (tests executing a subcommand directly).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func pluralRows(n int) string {
	if n == 1 {
		return "1 row change"
	}
	return strconv.Itoa(n) + " row changes"
}
