package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
)

// Caller identifies who invoked a routine. The zero value is anonymous.
type Caller struct {
	Identity uuid.UUID
}

// Anonymous returns the anonymous caller.
func Anonymous() Caller {
	return Caller{}
}

// Identified returns a caller with the given identity.
func Identified(id uuid.UUID) Caller {
	return Caller{Identity: id}
}

// IsAnonymous reports whether the caller has no identity.
func (c Caller) IsAnonymous() bool {
	return c.Identity == uuid.Nil
}

func (c Caller) String() string {
	if c.IsAnonymous() {
		return "anonymous"
	}
	return c.Identity.String()
}

// DB is a routine's handle on one transaction. It exposes table access but
// not Commit or Abort; the engine owns the transaction's lifetime.
type DB struct {
	tx *datastore.Tx
}

// Table returns a handle on a table inside the transaction.
func (db *DB) Table(name string) (*datastore.TableHandle, error) {
	return db.tx.Table(name)
}

// Query evaluates q inside the transaction.
func (db *DB) Query(q *query.Select) ([]ir.Struct, error) {
	return query.Evaluate(db.tx, q)
}

// ReducerContext is passed to every reducer.
type ReducerContext struct {
	context.Context

	// DB is the reducer's transaction. All of its writes commit together
	// when the reducer returns nil, and none do otherwise.
	DB *DB

	// Sender is the caller. Scheduled reducers run as ModuleIdentity.
	Sender Caller

	// Timestamp is the time the reducer was invoked.
	Timestamp time.Time

	// TxID is the id the commit will carry.
	TxID string

	// Reducer is the name of the running reducer.
	Reducer string
}

// ViewDB is a view's read-only handle on committed state.
//
// Query and First never fail: an invalid query is logged as a warning and
// yields no rows.
type ViewDB struct {
	tx       *datastore.Tx
	redacted *datastore.Tx // Empty snapshot substituted for redacted tables; nil when not redacting
	view     string
}

// Table returns a read-only handle on a table. Under RedactPrivate an
// anonymous view sees private tables as empty.
func (db *ViewDB) Table(name string) (*datastore.TableHandle, error) {
	if db.redacted != nil {
		h, err := db.tx.Table(name)
		if err != nil {
			return nil, err
		}
		if !h.Def().IsPublic() {
			return db.redacted.Table(name)
		}
		return h, nil
	}
	return db.tx.Table(name)
}

// Query evaluates q and returns all matching rows.
func (db *ViewDB) Query(q *query.Select) []ir.Struct {
	rows, err := query.Evaluate(db.source(q), q)
	if err != nil {
		slog.Warn("view query failed",
			"view", db.view,
			"query", describeQuery(q),
			"error", err)
		return nil
	}
	return rows
}

// First returns the first row Query would return.
func (db *ViewDB) First(q *query.Select) (ir.Struct, bool) {
	row, ok, err := query.First(db.source(q), q)
	if err != nil {
		slog.Warn("view query failed",
			"view", db.view,
			"query", describeQuery(q),
			"error", err)
		return nil, false
	}
	return row, ok
}

// source picks the snapshot a query reads: the empty one when its table is
// redacted.
func (db *ViewDB) source(q *query.Select) *datastore.Tx {
	if db.redacted == nil || q == nil {
		return db.tx
	}
	h, err := db.tx.Table(q.From)
	if err != nil || h.Def().IsPublic() {
		return db.tx
	}
	return db.redacted
}

func describeQuery(q *query.Select) string {
	if q == nil {
		return "<nil>"
	}
	return q.String()
}

// ViewContext is passed to every view.
type ViewContext struct {
	context.Context

	DB *ViewDB

	// Sender is nil for anonymous views and anonymous callers.
	Sender *Caller

	// View is the name of the running view.
	View string
}

// ProcedureContext is passed to every procedure. Unlike reducers,
// procedures hold no transaction until they ask for one.
type ProcedureContext struct {
	context.Context

	Sender    Caller
	Timestamp time.Time

	// Procedure is the name of the running procedure.
	Procedure string

	engine *Engine
}

// WithTx runs fn in one read-write transaction and commits it. When the
// commit conflicts, fn is run again in a fresh transaction, up to the
// engine's attempt budget, so fn must not keep state between runs.
//
// The returned value is Some(v) when fn reports ok and None otherwise.
func (c *ProcedureContext) WithTx(fn func(db *DB) (ir.Value, bool, error)) (ir.Option, error) {
	var out ir.Option
	_, err := c.engine.runTx(c, c.Procedure, ErrCodeProcedureFailed, func(tx *datastore.Tx) error {
		v, ok, err := fn(&DB{tx: tx})
		if err != nil {
			return err
		}
		out = ir.None()
		if ok {
			out = ir.Some(v)
		}
		return nil
	})
	return out, err
}
