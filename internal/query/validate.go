package query

import (
	"errors"
	"fmt"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

// ErrInvalidQuery is matched by every *QueryError.
var ErrInvalidQuery = errors.New("invalid query")

// QueryError reports why a query cannot run against a table.
type QueryError struct {
	Table   string
	Field   string
	Message string
}

func (e *QueryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("query on %s: %s", e.Table, e.Message)
	}
	return fmt.Sprintf("query on %s: field %s: %s", e.Table, e.Field, e.Message)
}

// Is matches ErrInvalidQuery.
func (e *QueryError) Is(target error) bool {
	return target == ErrInvalidQuery
}

// Validate checks that q targets table and that every comparison names a
// column of the table with a literal of the column's type.
//
// Validate is a pure function with no side effects.
func Validate(q *Select, table *schema.TableDef) error {
	if q == nil {
		return &QueryError{Message: "nil query"}
	}
	if table == nil || q.From != table.Name {
		return &QueryError{Table: q.From, Message: "unknown table"}
	}
	v := &validator{table: table}
	return v.predicate(q.Filter)
}

type validator struct {
	table *schema.TableDef
}

func (v *validator) errorf(field, format string, args ...any) error {
	return &QueryError{Table: v.table.Name, Field: field, Message: fmt.Sprintf(format, args...)}
}

func (v *validator) predicate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case *Compare:
		return v.compare(pred)
	case *And:
		for _, sub := range pred.Predicates {
			if err := v.predicate(sub); err != nil {
				return err
			}
		}
		return nil
	case *Or:
		for _, sub := range pred.Predicates {
			if err := v.predicate(sub); err != nil {
				return err
			}
		}
		return nil
	case *Not:
		if pred.Predicate == nil {
			return v.errorf("", "not without operand")
		}
		return v.predicate(pred.Predicate)
	default:
		return v.errorf("", "unsupported predicate %T", p)
	}
}

func (v *validator) compare(c *Compare) error {
	if !c.Op.Valid() {
		return v.errorf(c.Field, "unknown operator %q", c.Op)
	}
	col := v.table.ColumnIndex(c.Field)
	if col < 0 {
		return v.errorf(c.Field, "unknown column")
	}
	if c.Value == nil {
		return v.errorf(c.Field, "missing comparison value")
	}
	if err := ir.Check(v.table.Columns[col].Type, c.Value); err != nil {
		return v.errorf(c.Field, "value does not match column type %s: %v", v.table.Columns[col].Type, err)
	}
	return nil
}
