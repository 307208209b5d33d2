package query

import (
	"fmt"
	"strings"

	"github.com/roach88/tablet/internal/ir"
)

// Predicate is a filter condition over one row.
//
// This is a sealed interface - only pointer types in this package implement
// it, so evaluators and compilers can switch exhaustively.
type Predicate interface {
	predicateNode()
	String() string
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"
)

var opSymbols = map[Op]string{
	OpEq: "=", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
}

// Symbol returns the infix form of the operator, e.g. "<=".
func (o Op) Symbol() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return string(o)
}

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	_, ok := opSymbols[o]
	return ok
}

// holds applies the operator to a comparison result.
func (o Op) holds(c int) bool {
	switch o {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// Select reads the rows of one table that satisfy Filter.
//
// Semantics:
//
//	SELECT * FROM <from> WHERE <filter>
//
// A nil Filter selects every row.
type Select struct {
	From   string
	Filter Predicate
}

func (s *Select) String() string {
	if s.Filter == nil {
		return "from " + s.From
	}
	return fmt.Sprintf("from %s where %s", s.From, s.Filter)
}

// Compare tests one column against a literal.
//
// Semantics:
//
//	<field> <op> <value>
//
// Values compare with ir.Compare, so the literal must have the column's type.
type Compare struct {
	Field string
	Op    Op
	Value ir.Value
}

func (*Compare) predicateNode() {}

func (c *Compare) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op.Symbol(), c.Value)
}

// And holds when every predicate holds. Empty And is true.
type And struct {
	Predicates []Predicate
}

func (*And) predicateNode() {}

func (a *And) String() string {
	return joinPredicates(a.Predicates, " and ", "true")
}

// Or holds when any predicate holds. Empty Or is false.
type Or struct {
	Predicates []Predicate
}

func (*Or) predicateNode() {}

func (o *Or) String() string {
	return joinPredicates(o.Predicates, " or ", "false")
}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (*Not) predicateNode() {}

func (n *Not) String() string {
	return fmt.Sprintf("not (%s)", n.Predicate)
}

func joinPredicates(ps []Predicate, sep, empty string) string {
	if len(ps) == 0 {
		return empty
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = "(" + p.String() + ")"
	}
	return strings.Join(parts, sep)
}
