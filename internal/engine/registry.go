package engine

import (
	"errors"
	"maps"
	"slices"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/schema"
)

// ReducerFunc mutates tables through ctx.DB. Returning an error, or
// panicking, aborts every write the reducer made.
type ReducerFunc func(ctx *ReducerContext, args []ir.Value) error

// ViewFunc projects committed state. It must not retain ctx.
type ViewFunc func(ctx *ViewContext) (ViewResult, error)

// ProcedureFunc runs outside a transaction and opens one with ctx.WithTx.
// The bool result reports whether the value is present.
type ProcedureFunc func(ctx *ProcedureContext, args []ir.Value) (ir.Value, bool, error)

// ViewResult is what a view returns. Build it with OptionResult,
// RowsResult or QueryResult; the shape must match the view's declaration.
type ViewResult struct {
	Shape schema.ReturnShape
	Row   ir.Struct // ReturnOption: nil when absent
	Rows  []ir.Struct
	Query *query.Select
}

// OptionResult returns at most one row.
func OptionResult(row ir.Struct, ok bool) ViewResult {
	if !ok {
		row = nil
	}
	return ViewResult{Shape: schema.ReturnOption, Row: row}
}

// RowsResult returns every row given.
func RowsResult(rows []ir.Struct) ViewResult {
	return ViewResult{Shape: schema.ReturnRows, Rows: rows}
}

// QueryResult hands an unevaluated query to the host.
func QueryResult(q *query.Select) ViewResult {
	return ViewResult{Shape: schema.ReturnQuery, Query: q}
}

// Registry binds Go functions to a module's declared routines.
type Registry struct {
	reducers   map[string]ReducerFunc
	views      map[string]ViewFunc
	procedures map[string]ProcedureFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		reducers:   make(map[string]ReducerFunc),
		views:      make(map[string]ViewFunc),
		procedures: make(map[string]ProcedureFunc),
	}
}

// Reducer binds fn to the named reducer. Later bindings replace earlier ones.
func (r *Registry) Reducer(name string, fn ReducerFunc) *Registry {
	r.reducers[name] = fn
	return r
}

// View binds fn to the named view.
func (r *Registry) View(name string, fn ViewFunc) *Registry {
	r.views[name] = fn
	return r
}

// Procedure binds fn to the named procedure.
func (r *Registry) Procedure(name string, fn ProcedureFunc) *Registry {
	r.procedures[name] = fn
	return r
}

// Check verifies that every declared routine has a function and every
// function has a declaration. All mismatches are reported together.
func (r *Registry) Check(m *schema.ModuleDef) error {
	var errs []error

	for _, d := range m.Reducers {
		if r.reducers[d.Name] == nil {
			errs = append(errs, runtimeErrorf(ErrCodeUnbound, d.Name, "reducer declared without a function"))
		}
	}
	for _, d := range m.Views {
		if r.views[d.Name] == nil {
			errs = append(errs, runtimeErrorf(ErrCodeUnbound, d.Name, "view declared without a function"))
		}
	}
	for _, d := range m.Procedures {
		if r.procedures[d.Name] == nil {
			errs = append(errs, runtimeErrorf(ErrCodeUnbound, d.Name, "procedure declared without a function"))
		}
	}

	for _, name := range slices.Sorted(maps.Keys(r.reducers)) {
		if _, ok := m.Reducer(name); !ok {
			errs = append(errs, runtimeErrorf(ErrCodeUnbound, name, "reducer function has no declaration"))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.views)) {
		if _, ok := m.View(name); !ok {
			errs = append(errs, runtimeErrorf(ErrCodeUnbound, name, "view function has no declaration"))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.procedures)) {
		if _, ok := m.Procedure(name); !ok {
			errs = append(errs, runtimeErrorf(ErrCodeUnbound, name, "procedure function has no declaration"))
		}
	}

	return errors.Join(errs...)
}
