package query

import (
	"iter"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

// Plan describes how a query scans its table.
type Plan struct {
	Table string
	Index string // Empty for a full scan in insertion order
	Range datastore.Range
}

// PlanFor picks an index scan when the filter is, or is an And containing,
// a comparison on the leading column of an index. Only eq, lt, le, gt and
// ge comparisons narrow the scan; the full filter is still applied to every
// scanned row.
func PlanFor(h *datastore.TableHandle, q *Select) Plan {
	plan := Plan{Table: q.From, Range: datastore.All()}

	var candidates []*Compare
	switch p := q.Filter.(type) {
	case *Compare:
		candidates = []*Compare{p}
	case *And:
		for _, sub := range p.Predicates {
			if c, ok := sub.(*Compare); ok {
				candidates = append(candidates, c)
			}
		}
	}

	for _, c := range candidates {
		r, ok := rangeOf(c)
		if !ok {
			continue
		}
		ix, ok := h.IndexOn(c.Field)
		if !ok {
			continue
		}
		plan.Index = ix.Def().Name
		plan.Range = r
		return plan
	}
	return plan
}

func rangeOf(c *Compare) (datastore.Range, bool) {
	switch c.Op {
	case OpEq:
		return datastore.Point(c.Value), true
	case OpGt, OpGe:
		return datastore.Between(c.Value, nil), true
	case OpLt, OpLe:
		return datastore.Between(nil, c.Value), true
	}
	return datastore.Range{}, false
}

// Evaluate runs q inside tx and returns the matching rows, in index order
// when the planner chose an index and insertion order otherwise. An invalid
// query returns an error and no rows.
func Evaluate(tx *datastore.Tx, q *Select) ([]ir.Struct, error) {
	var out []ir.Struct
	for row, err := range Stream(tx, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// First returns the first row Evaluate would return.
func First(tx *datastore.Tx, q *Select) (ir.Struct, bool, error) {
	for row, err := range Stream(tx, q) {
		if err != nil {
			return nil, false, err
		}
		return row, true, nil
	}
	return nil, false, nil
}

// Stream yields matching rows lazily. Validation errors are yielded once
// before any row.
func Stream(tx *datastore.Tx, q *Select) iter.Seq2[ir.Struct, error] {
	return func(yield func(ir.Struct, error) bool) {
		if q == nil {
			yield(nil, &QueryError{Message: "nil query"})
			return
		}
		h, err := tx.Table(q.From)
		if err != nil {
			yield(nil, &QueryError{Table: q.From, Message: err.Error()})
			return
		}
		def := h.Def()
		if err := Validate(q, def); err != nil {
			yield(nil, err)
			return
		}

		rows := h.Iter()
		if plan := PlanFor(h, q); plan.Index != "" {
			ix, err := h.Index(plan.Index)
			if err != nil {
				yield(nil, err)
				return
			}
			rows = ix.Filter(plan.Range)
		}

		for row := range rows {
			if !Matches(def, q.Filter, row) {
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Matches evaluates a validated predicate against one row of table.
func Matches(table *schema.TableDef, p Predicate, row ir.Struct) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case *Compare:
		col := table.ColumnIndex(pred.Field)
		if col < 0 {
			return false
		}
		return pred.Op.holds(ir.Compare(row[col], pred.Value))
	case *And:
		for _, sub := range pred.Predicates {
			if !Matches(table, sub, row) {
				return false
			}
		}
		return true
	case *Or:
		for _, sub := range pred.Predicates {
			if Matches(table, sub, row) {
				return true
			}
		}
		return false
	case *Not:
		return !Matches(table, pred.Predicate, row)
	}
	return false
}
