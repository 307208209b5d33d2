package query

import (
	"github.com/roach88/tablet/internal/ir"
)

// Builder assembles a Select.
//
//	q := query.From("test_scheduled_table").
//		Where(query.Field("h1").Eq(ir.U64(1))).
//		Build()
type Builder struct {
	sel Select
}

// From starts a query over table.
func From(table string) *Builder {
	return &Builder{sel: Select{From: table}}
}

// Where adds a filter. Several calls are combined with And.
func (b *Builder) Where(p Predicate) *Builder {
	switch cur := b.sel.Filter.(type) {
	case nil:
		b.sel.Filter = p
	case *And:
		ps := append([]Predicate(nil), cur.Predicates...)
		b.sel.Filter = &And{Predicates: append(ps, p)}
	default:
		b.sel.Filter = &And{Predicates: []Predicate{cur, p}}
	}
	return b
}

// Build returns the assembled query.
func (b *Builder) Build() *Select {
	sel := b.sel
	return &sel
}

// FieldRef names a column for building comparisons.
type FieldRef string

// Field references a column by name.
func Field(name string) FieldRef {
	return FieldRef(name)
}

func (f FieldRef) cmp(op Op, v ir.Value) *Compare {
	return &Compare{Field: string(f), Op: op, Value: v}
}

func (f FieldRef) Eq(v ir.Value) *Compare { return f.cmp(OpEq, v) }
func (f FieldRef) Ne(v ir.Value) *Compare { return f.cmp(OpNe, v) }
func (f FieldRef) Lt(v ir.Value) *Compare { return f.cmp(OpLt, v) }
func (f FieldRef) Le(v ir.Value) *Compare { return f.cmp(OpLe, v) }
func (f FieldRef) Gt(v ir.Value) *Compare { return f.cmp(OpGt, v) }
func (f FieldRef) Ge(v ir.Value) *Compare { return f.cmp(OpGe, v) }

// AllOf combines predicates with And.
func AllOf(ps ...Predicate) *And {
	return &And{Predicates: ps}
}

// AnyOf combines predicates with Or.
func AnyOf(ps ...Predicate) *Or {
	return &Or{Predicates: ps}
}

// Negate wraps p in Not.
func Negate(p Predicate) *Not {
	return &Not{Predicate: p}
}
