package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/engine"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/logging"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/schema"
	"github.com/roach88/tablet/internal/store"
	"github.com/roach88/tablet/internal/testmodule"
	"github.com/roach88/tablet/internal/testutil"
)

// DefaultCaller is the caller name steps use when they name none.
const DefaultCaller = "tester"

// ModuleFactory builds a module declaration and the functions bound to it.
type ModuleFactory func() (*schema.ModuleDef, *engine.Registry, error)

var (
	modulesMu sync.RWMutex
	modules   = map[string]ModuleFactory{
		DefaultModule: func() (*schema.ModuleDef, *engine.Registry, error) {
			m, err := testmodule.Module()
			return m, testmodule.Registry(), err
		},
	}
)

// RegisterModule makes a module available to scenarios by name.
func RegisterModule(name string, f ModuleFactory) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules[name] = f
}

// LookupModule returns the factory registered under name.
func LookupModule(name string) (ModuleFactory, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	f, ok := modules[name]
	return f, ok
}

// Modules lists the registered module names in order.
func Modules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	return slices.Sorted(maps.Keys(modules))
}

// Harness is the test execution engine.
// It runs scenarios with a manual clock and sequential transaction ids, so
// the same scenario always produces the same records.
type Harness struct {
	module  *schema.ModuleDef
	engine  *engine.Engine
	sched   *engine.Scheduler
	journal *store.Store
	clock   *testutil.ManualClock
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh engine and a fresh in-memory journal
// for isolation.
//
// Execution flow:
// 1. Build the module and host it on an engine with a manual clock
// 2. Attach an in-memory SQLite journal and a scheduler
// 3. Execute setup steps; any failure aborts the run
// 4. Execute main steps, checking each step's expectations
// 5. Evaluate assertions against the final state
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	name := scenario.Module
	if name == "" {
		name = DefaultModule
	}
	factory, ok := LookupModule(name)
	if !ok {
		return nil, fmt.Errorf("unknown module %q", name)
	}
	module, registry, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to build module %s: %w", name, err)
	}
	redaction, err := engine.ParseRedaction(scenario.Redaction)
	if err != nil {
		return nil, err
	}

	logger := logging.Discard() // Suppress logs in tests
	clock := testutil.NewManualClock(time.Time{})
	eng, err := engine.New(module, registry,
		engine.WithClock(clock),
		engine.WithTxIDs(testutil.NewSequentialIDs("tx")),
		engine.WithRedaction(redaction),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	journal, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer journal.Close()
	journal.Attach(eng.Datastore())

	// One worker keeps firings of the same tick in due order.
	sched, err := engine.NewScheduler(eng, engine.WithWorkers(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	defer sched.Close()

	h := &Harness{
		module:  module,
		engine:  eng,
		sched:   sched,
		journal: journal,
		clock:   clock,
		logger:  logger,
	}

	for i, step := range scenario.Setup {
		rec, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s %s: %w", i, rec.Kind, rec.Name, err)
		}
	}

	result := NewResult()
	for _, step := range scenario.Steps {
		rec, err := h.execute(ctx, step)
		result.AddStep(rec)
		h.check(result, step, result.Steps[len(result.Steps)-1], err)
	}

	for _, errMsg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// execute runs one step. The returned error is the routine's own error;
// the record carries its code.
func (h *Harness) execute(ctx context.Context, step Step) (StepRecord, error) {
	kind, name := step.Kind()
	rec := StepRecord{Kind: kind, Name: name}
	if kind != KindAdvance {
		rec.Caller = step.Caller
		if rec.Caller == "" {
			rec.Caller = DefaultCaller
		}
	}
	caller := CallerFor(rec.Caller)

	var err error
	switch kind {
	case KindCall:
		var params []schema.Param
		if def, ok := h.module.Reducer(name); ok {
			params = def.Params
		}
		var args []ir.Value
		if args, err = h.args(name, params, step.Args); err == nil {
			var ev *datastore.CommitEvent
			if ev, err = h.engine.CallReducer(ctx, name, caller, args); ev != nil {
				rec.Changes = len(ev.Changes)
			}
		}

	case KindView:
		var out *engine.ViewOutput
		if out, err = h.engine.CallView(ctx, name, caller); err == nil {
			rec.Output, err = out.MarshalCanonical()
		}

	case KindProc:
		def, ok := h.module.Procedure(name)
		var params []schema.Param
		if ok {
			params = def.Params
		}
		var args []ir.Value
		if args, err = h.args(name, params, step.Args); err == nil {
			var opt ir.Option
			if opt, err = h.engine.CallProcedure(ctx, name, caller, args); err == nil {
				rec.Output, err = ir.MarshalCanonical(ir.OptionOf(def.Returns), opt)
			}
		}

	case KindAdvance:
		d, perr := time.ParseDuration(name)
		if perr != nil {
			return rec, perr
		}
		rec.Fired, err = h.sched.Tick(ctx, h.clock.Advance(d))

	default:
		err = fmt.Errorf("step names no action")
	}

	if err != nil {
		rec.Error = ErrorCode(err)
		h.logger.Debug("step failed", "kind", kind, "name", name, "error", err)
	}
	return rec, err
}

// check compares a step's outcome with its expectations.
func (h *Harness) check(result *Result, step Step, rec StepRecord, err error) {
	label := fmt.Sprintf("step %d (%s %s)", rec.Step, rec.Kind, rec.Name)

	switch {
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("%s: expected error %s, got success", label, step.ExpectError))
	case step.ExpectError != "" && rec.Error != step.ExpectError:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %s: %v", label, step.ExpectError, rec.Error, err))
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
	}

	if step.ExpectRows != nil && err == nil {
		if n := outputRows(rec.Output); n != *step.ExpectRows {
			result.AddError(fmt.Sprintf("%s: expected %d rows, got %d", label, *step.ExpectRows, n))
		}
	}
}

func (h *Harness) args(name string, params []schema.Param, raw []any) ([]ir.Value, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return engine.ParseArgs(name, params, data)
}

// outputRows counts rows in canonical output: an array's length, 0 for
// null and 1 for anything else.
func outputRows(out json.RawMessage) int {
	var rows []json.RawMessage
	if err := json.Unmarshal(out, &rows); err == nil {
		return len(rows)
	}
	if len(out) == 0 || string(out) == "null" {
		return 0
	}
	return 1
}

// CallerFor maps a scenario caller name to a caller. "anonymous" is the
// anonymous caller; any other name maps to a stable identity.
func CallerFor(name string) engine.Caller {
	if name == "anonymous" {
		return engine.Anonymous()
	}
	return engine.Identified(uuid.NewSHA1(uuid.NameSpaceOID, []byte("tablet:caller:"+name)))
}

// ErrorCode returns the stable code of an engine, store, query or schema
// error, or "ERROR" for anything else.
func ErrorCode(err error) string {
	var ae *engine.AttemptsExhaustedError
	if errors.As(err, &ae) {
		return string(engine.ErrCodeAttemptsExhausted)
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	var se *datastore.StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	var qe *query.QueryError
	if errors.As(err, &qe) {
		return "INVALID_QUERY"
	}
	if errors.Is(err, ir.ErrEncoding) {
		return "ENCODING_ERROR"
	}
	if errors.Is(err, schema.ErrInvalidSchema) {
		return "INVALID_SCHEMA"
	}
	return "ERROR"
}
