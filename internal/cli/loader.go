package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/tablet/internal/compiler"
	"github.com/roach88/tablet/internal/config"
	"github.com/roach88/tablet/internal/engine"
	"github.com/roach88/tablet/internal/harness"
	"github.com/roach88/tablet/internal/logging"
	"github.com/roach88/tablet/internal/schema"
	"github.com/roach88/tablet/internal/store"
)

// Error codes for failures outside the engine. Engine, store and query
// failures use their own codes (see harness.ErrorCode).
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeBuildFailed = "E006" // CUE build failed
)

// host is a module hosted for one command: its engine, restored from the
// journal, with every new commit journaled.
type host struct {
	cfg     *config.Config
	module  *schema.ModuleDef
	engine  *engine.Engine
	journal *store.Store
}

// loadConfig reads configuration and applies command line overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openHost builds the named module's engine and replays the journal into
// it. Restore runs before Attach so restored rows are not journaled again.
func openHost(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*host, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if _, err := logging.Setup(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	factory, ok := harness.LookupModule(opts.Module)
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown module %q (have %v)", opts.Module, harness.Modules()))
	}
	module, registry, err := factory()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build module", err)
	}

	eng, err := engine.New(module, registry,
		engine.WithMaxAttempts(cfg.Scheduler.MaxAttempts),
		engine.WithRedaction(cfg.Redaction()),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	slog.Debug("opening journal", "path", cfg.Journal.Path)
	journal, err := store.Open(cfg.Journal.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	n, err := journal.Restore(ctx, eng.Datastore())
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "failed to restore from journal", err)
	}
	journal.Attach(eng.Datastore())
	slog.Debug("journal restored", "rows", n, "module", module.Name)

	return &host{cfg: cfg, module: module, engine: eng, journal: journal}, nil
}

func (h *host) Close() {
	if err := h.journal.Close(); err != nil {
		slog.Error("error closing journal", "error", err)
	}
}

// callerOf resolves the --caller flag.
func callerOf(opts *RootOptions) engine.Caller {
	name := opts.Caller
	if name == "" {
		name = harness.DefaultCaller
	}
	return harness.CallerFor(name)
}

// LoadError is a schema directory that failed to compile.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadSchemaDir compiles and validates the CUE module in dir.
func loadSchemaDir(dir string) (*schema.ModuleDef, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	module, err := compiler.LoadDir(dir)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return nil, &LoadError{Code: ErrCodeBuildFailed, Message: ce.Message, Pos: ce.Pos}
		}
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
	if err := module.Check(); err != nil {
		return nil, &LoadError{Code: "INVALID_SCHEMA", Message: err.Error()}
	}
	return module, nil
}
