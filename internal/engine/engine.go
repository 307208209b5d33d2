package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/schema"
)

// Redaction is the host's policy for private tables read by views running
// without a caller identity.
type Redaction string

const (
	// RedactNone lets every view read private tables with server
	// privileges. This is the default.
	RedactNone Redaction = "none"

	// RedactPrivate makes private tables read as empty inside anonymous
	// view contexts.
	RedactPrivate Redaction = "private"
)

// ParseRedaction parses a configured redaction policy.
func ParseRedaction(s string) (Redaction, error) {
	switch Redaction(s) {
	case RedactNone, "":
		return RedactNone, nil
	case RedactPrivate:
		return RedactPrivate, nil
	}
	return "", fmt.Errorf("unknown redaction policy %q (want none or private)", s)
}

// Engine hosts a module: it owns the datastore and runs reducers, views
// and procedures against it.
//
// Thread-safety model:
//   - CallReducer, CallView, CallProcedure, ReadTable: safe from any goroutine
//   - each call runs in its own transaction; concurrent reducers that write
//     the same rows conflict and are retried up to the attempt budget
//
// Routines hold no memory between calls. All state lives in tables.
type Engine struct {
	module      *schema.ModuleDef
	ds          *datastore.Datastore
	empty       *datastore.Datastore // Substituted for redacted private tables
	registry    *Registry
	clock       Clock
	txIDs       TxIDGenerator
	maxAttempts int
	redaction   Redaction
	owner       uuid.UUID
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the time source for reducer timestamps, commit times and
// the scheduler. Default: WallClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTxIDs sets the transaction id generator. Default: UUIDv7Generator.
func WithTxIDs(g TxIDGenerator) EngineOption {
	return func(e *Engine) {
		e.txIDs = g
	}
}

// WithMaxAttempts sets how many times a conflicting transaction is run
// before ATTEMPTS_EXHAUSTED is reported.
//
// Default: 3 attempts (DefaultMaxAttempts)
func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		e.maxAttempts = n
	}
}

// WithRedaction sets the private table policy for anonymous views.
func WithRedaction(r Redaction) EngineOption {
	return func(e *Engine) {
		e.redaction = r
	}
}

// New validates module and the registry against it and creates an engine
// with an empty datastore.
func New(module *schema.ModuleDef, registry *Registry, opts ...EngineOption) (*Engine, error) {
	if err := module.Check(); err != nil {
		return nil, err
	}
	if err := registry.Check(module); err != nil {
		return nil, err
	}

	e := &Engine{
		module:      module,
		registry:    registry,
		clock:       WallClock{},
		txIDs:       UUIDv7Generator{},
		maxAttempts: DefaultMaxAttempts,
		redaction:   RedactNone,
		owner:       ModuleIdentity(module.Name),
	}
	for _, opt := range opts {
		opt(e)
	}

	ds, err := datastore.New(module, datastore.WithClock(e.clock.Now))
	if err != nil {
		return nil, err
	}
	e.ds = ds

	if e.redaction == RedactPrivate {
		if e.empty, err = datastore.New(module); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Module returns the hosted module.
func (e *Engine) Module() *schema.ModuleDef {
	return e.module
}

// Datastore returns the engine's datastore, for journaling and restore.
func (e *Engine) Datastore() *datastore.Datastore {
	return e.ds
}

// Clock returns the engine's time source.
func (e *Engine) Clock() Clock {
	return e.clock
}

// Owner returns the identity scheduled reducers run as.
func (e *Engine) Owner() uuid.UUID {
	return e.owner
}

// CallReducer runs a reducer in one transaction and commits it.
//
// Returns the commit event, or nil when the reducer wrote nothing. The
// reducer's error or panic aborts the transaction and is returned as
// REDUCER_FAILED wrapping the cause.
func (e *Engine) CallReducer(ctx context.Context, name string, caller Caller, args []ir.Value) (*datastore.CommitEvent, error) {
	def, ok := e.module.Reducer(name)
	if !ok {
		return nil, runtimeErrorf(ErrCodeNoSuchReducer, name, "unknown reducer")
	}
	if err := checkArgs(name, def.Params, args); err != nil {
		return nil, err
	}
	fn := e.registry.reducers[name]
	now := e.clock.Now()

	return e.runTx(ctx, name, ErrCodeReducerFailed, func(tx *datastore.Tx) error {
		return fn(&ReducerContext{
			Context:   ctx,
			DB:        &DB{tx: tx},
			Sender:    caller,
			Timestamp: now,
			TxID:      tx.ID(),
			Reducer:   name,
		}, args)
	})
}

// ViewOutput is the evaluated result of a view call.
type ViewOutput struct {
	View    string
	Table   string
	Shape   schema.ReturnShape
	RowType ir.Type
	Rows    []ir.Struct   // At most one row for ReturnOption
	Query   *query.Select // The view's query, for ReturnQuery
}

// MarshalCanonical renders the output as canonical JSON: null or an object
// for option views, an array for the others.
func (o *ViewOutput) MarshalCanonical() ([]byte, error) {
	if o.Shape == schema.ReturnOption {
		opt := ir.None()
		if len(o.Rows) > 0 {
			opt = ir.Some(o.Rows[0])
		}
		return ir.MarshalCanonical(ir.OptionOf(o.RowType), opt)
	}
	vec := make(ir.Vec, len(o.Rows))
	for i, r := range o.Rows {
		vec[i] = r
	}
	return ir.MarshalCanonical(ir.VecOf(o.RowType), vec)
}

// CallView runs a view over committed state.
//
// Private views require an identified caller. Anonymous views run without
// a sender even when the caller is identified. Query-shaped results are
// evaluated by the host in the same snapshot; a query that fails to
// evaluate yields no rows and a logged warning.
func (e *Engine) CallView(ctx context.Context, name string, caller Caller) (*ViewOutput, error) {
	def, ok := e.module.View(name)
	if !ok {
		return nil, runtimeErrorf(ErrCodeNoSuchView, name, "unknown view")
	}
	if !def.Public && caller.IsAnonymous() {
		return nil, runtimeErrorf(ErrCodeAccessDenied, name, "private view needs an identified caller")
	}
	table, _ := e.module.Table(def.Table)
	fn := e.registry.views[name]

	var sender *Caller
	if !def.Anonymous && !caller.IsAnonymous() {
		c := caller
		sender = &c
	}

	tx := e.ds.BeginRead()
	defer tx.Abort()
	db := &ViewDB{tx: tx, view: name}
	if e.redaction == RedactPrivate && sender == nil {
		db.redacted = e.empty.BeginRead()
		defer db.redacted.Abort()
	}

	var res ViewResult
	err := protect(func() error {
		var err error
		res, err = fn(&ViewContext{Context: ctx, DB: db, Sender: sender, View: name})
		return err
	})
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeViewFailed, Name: name, Err: err}
	}

	out := &ViewOutput{
		View:    name,
		Table:   def.Table,
		Shape:   def.Returns,
		RowType: table.RowType(),
	}
	if res.Shape != def.Returns {
		return nil, runtimeErrorf(ErrCodeBadReturnShape, name, "returned %s, declared %s", res.Shape, def.Returns)
	}
	switch res.Shape {
	case schema.ReturnOption:
		if res.Row != nil {
			out.Rows = []ir.Struct{res.Row}
		}
	case schema.ReturnRows:
		out.Rows = res.Rows
	case schema.ReturnQuery:
		if res.Query == nil || res.Query.From != def.Table {
			return nil, runtimeErrorf(ErrCodeBadReturnShape, name, "query must select from %s", def.Table)
		}
		out.Query = res.Query
		out.Rows = db.Query(res.Query)
	}

	for _, row := range out.Rows {
		if err := ir.Check(out.RowType, row); err != nil {
			return nil, &RuntimeError{Code: ErrCodeBadReturnShape, Name: name, Message: "row does not match " + def.Table, Err: err}
		}
	}
	if out.Rows == nil {
		out.Rows = []ir.Struct{}
	}
	return out, nil
}

// CallProcedure runs a procedure. The result is Some(value) or None as
// the procedure reports.
func (e *Engine) CallProcedure(ctx context.Context, name string, caller Caller, args []ir.Value) (ir.Option, error) {
	def, ok := e.module.Procedure(name)
	if !ok {
		return ir.None(), runtimeErrorf(ErrCodeNoSuchProcedure, name, "unknown procedure")
	}
	if err := checkArgs(name, def.Params, args); err != nil {
		return ir.None(), err
	}
	fn := e.registry.procedures[name]

	pctx := &ProcedureContext{
		Context:   ctx,
		Sender:    caller,
		Timestamp: e.clock.Now(),
		Procedure: name,
		engine:    e,
	}

	var v ir.Value
	var present bool
	err := protect(func() error {
		var err error
		v, present, err = fn(pctx, args)
		return err
	})
	if err != nil {
		var re *RuntimeError
		if errors.As(err, &re) || IsAttemptsExhausted(err) {
			return ir.None(), err
		}
		return ir.None(), &RuntimeError{Code: ErrCodeProcedureFailed, Name: name, Err: err}
	}
	if !present {
		return ir.None(), nil
	}
	if err := ir.Check(def.Returns, v); err != nil {
		return ir.None(), &RuntimeError{Code: ErrCodeBadReturnShape, Name: name, Message: "result does not match " + def.Returns.String(), Err: err}
	}
	return ir.Some(v), nil
}

// ReadTable evaluates q against committed state on behalf of an external
// reader. Private tables fail with PRIVATE_TABLE; invalid queries fail with
// query.ErrInvalidQuery.
func (e *Engine) ReadTable(ctx context.Context, q *query.Select) ([]ir.Struct, error) {
	if q == nil {
		return nil, fmt.Errorf("read table: nil query")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, ok := e.module.Table(q.From)
	if !ok {
		return nil, &query.QueryError{Table: q.From, Message: "unknown table"}
	}
	if !def.IsPublic() {
		return nil, runtimeErrorf(ErrCodePrivateTable, def.Name, "table is private")
	}

	tx := e.ds.BeginRead()
	defer tx.Abort()
	rows, err := query.Evaluate(tx, q)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []ir.Struct{}
	}
	return rows, nil
}

// runTx runs fn in a fresh read-write transaction and commits it,
// retrying on TRANSACTION_CONFLICT up to the attempt budget. Errors from fn
// abort the transaction and are wrapped with failCode.
func (e *Engine) runTx(ctx context.Context, origin string, failCode RuntimeErrorCode, fn func(tx *datastore.Tx) error) (*datastore.CommitEvent, error) {
	quota := newAttemptQuota(e.maxAttempts)
	var lastErr error

	for {
		if err := quota.Check(origin, lastErr); err != nil {
			slog.Warn("transaction attempts exhausted",
				"origin", origin,
				"attempts", e.maxAttempts)
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tx := e.ds.Begin(datastore.WithTxID(e.txIDs.Generate()), datastore.WithOrigin(origin))
		if err := protect(func() error { return fn(tx) }); err != nil {
			tx.Abort()
			if errors.Is(err, errRowGone) {
				return nil, err
			}
			slog.Debug("routine failed",
				"origin", origin,
				"tx_id", tx.ID(),
				"error", err)
			return nil, &RuntimeError{Code: failCode, Name: origin, Err: err}
		}

		ev, err := tx.Commit()
		if err == nil {
			return ev, nil
		}
		if !datastore.IsConflict(err) {
			return nil, err
		}
		slog.Debug("transaction conflict, retrying",
			"origin", origin,
			"tx_id", tx.ID())
		lastErr = err
	}
}

// protect runs fn and converts a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func checkArgs(name string, params []schema.Param, args []ir.Value) error {
	if len(args) != len(params) {
		return runtimeErrorf(ErrCodeBadArguments, name, "got %d arguments, want %d", len(args), len(params))
	}
	for i, p := range params {
		if err := ir.Check(p.Type, args[i]); err != nil {
			return &RuntimeError{Code: ErrCodeBadArguments, Name: name, Message: "argument " + p.Name, Err: err}
		}
	}
	return nil
}

// ParseArgs decodes a JSON array of arguments against a routine's params.
// Empty input means no arguments.
func ParseArgs(name string, params []schema.Param, raw []byte) ([]ir.Value, error) {
	var elems []json.RawMessage
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, &RuntimeError{Code: ErrCodeBadArguments, Name: name, Message: "arguments must be a JSON array", Err: err}
		}
	}
	if len(elems) != len(params) {
		return nil, runtimeErrorf(ErrCodeBadArguments, name, "got %d arguments, want %d", len(elems), len(params))
	}

	args := make([]ir.Value, len(params))
	for i, p := range params {
		v, err := ir.FromJSON(p.Type, elems[i])
		if err != nil {
			return nil, &RuntimeError{Code: ErrCodeBadArguments, Name: name, Message: "argument " + p.Name, Err: err}
		}
		args[i] = v
	}
	return args, nil
}
