package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	For time.Duration // Stop after this long; zero runs until interrupted
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the module and fire scheduled reducers",
		Long: `Restore the module from the journal and run the scheduler loop.

Every scheduled row already in the journal is armed at startup; interval
rows come due one interval after startup. Each tick fires every due
reducer on a bounded worker pool. Failed firings are logged and the loop
continues.

Examples:
  tablet run
  tablet run --journal /tmp/tablet.db --for 10s
  TABLET_SCHEDULER_TICK=20ms tablet run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop after this duration (0 runs until interrupted)")

	return cmd
}

func runScheduler(opts *RunOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	h, err := openHost(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	sched, err := engine.NewScheduler(h.engine,
		engine.WithWorkers(h.cfg.Scheduler.Workers),
		engine.WithTick(h.cfg.Scheduler.Tick),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create scheduler", err)
	}
	defer sched.Close()

	// --for counts hosting time only, not module compilation and restore.
	if opts.For > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.For)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("host starting",
		"module", h.module.Name,
		"journal", h.cfg.Journal.Path,
		"armed", len(sched.Pending()))
	fmt.Fprintf(cmd.OutOrStdout(), "Hosting %s. Press Ctrl-C to stop.\n", h.module.Name)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}

	slog.Info("host stopped gracefully")
	return nil
}
