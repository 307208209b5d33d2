package querysql

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/schema"
)

// MirrorTable is the journal table holding the current canonical JSON
// document of every row. See internal/store/schema.sql.
const MirrorTable = "row_mirror"

// SQLCompiler compiles queries to parameterized SQL over the row mirror.
//
// Every query includes ORDER BY seq so results come back in insertion
// order. All values are parameterized, never interpolated; column paths are
// parameters too.
//
// Only comparisons SQLite can evaluate exactly over canonical JSON are
// supported: bool, integers that fit in int64, floats, strings, enum
// equality and option equality. Anything else is an error rather than a
// silently different answer.
type SQLCompiler struct {
	table *schema.TableDef
}

// NewSQLCompiler creates a compiler for queries over table.
func NewSQLCompiler(table *schema.TableDef) *SQLCompiler {
	return &SQLCompiler{table: table}
}

// Compile converts q to SQL that selects the doc column of matching rows.
// Returns (sql, params, error).
func (c *SQLCompiler) Compile(q *query.Select) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := query.Validate(q, c.table); err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT doc FROM %s WHERE table_name = ?", MirrorTable)
	params := []any{q.From}

	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sql += " AND (" + filterSQL + ")"
		params = append(params, filterParams...)
	}

	sql += " ORDER BY seq ASC"
	return sql, params, nil
}

func (c *SQLCompiler) compilePredicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case *query.Compare:
		return c.compileCompare(pred)
	case *query.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case *query.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case *query.Not:
		sql, params, err := c.compilePredicate(pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(ps []query.Predicate, sep, empty string) (string, []any, error) {
	if len(ps) == 0 {
		return empty, nil, nil
	}
	var parts []string
	var params []any
	for _, p := range ps {
		sql, sub, err := c.compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, sub...)
	}
	return strings.Join(parts, sep), params, nil
}

func (c *SQLCompiler) compileCompare(cmp *query.Compare) (string, []any, error) {
	col := c.table.Columns[c.table.ColumnIndex(cmp.Field)]
	path := "$." + strconv.Quote(cmp.Field)

	if col.Type.Kind == ir.KindOption {
		return c.compileOption(cmp, col, path)
	}

	param, err := valueToParam(col.Type, cmp.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", cmp.Field, err)
	}
	if col.Type.Kind == ir.KindEnum && cmp.Op != query.OpEq && cmp.Op != query.OpNe {
		return "", nil, fmt.Errorf("field %s: enums only support eq and ne", cmp.Field)
	}
	return fmt.Sprintf("json_extract(doc, ?) %s ?", cmp.Op.Symbol()), []any{path, param}, nil
}

// compileOption handles eq/ne on option columns. Absent values are SQL NULL
// after json_extract, so the expressions avoid three-valued logic.
func (c *SQLCompiler) compileOption(cmp *query.Compare, col schema.Column, path string) (string, []any, error) {
	if cmp.Op != query.OpEq && cmp.Op != query.OpNe {
		return "", nil, fmt.Errorf("field %s: options only support eq and ne", cmp.Field)
	}
	opt := cmp.Value.(ir.Option)

	var sql string
	var params []any
	if !opt.IsSome() {
		sql = "json_extract(doc, ?) IS NULL"
		params = []any{path}
	} else {
		param, err := valueToParam(*col.Type.Elem, opt.Some)
		if err != nil {
			return "", nil, fmt.Errorf("field %s: %w", cmp.Field, err)
		}
		sql = "IFNULL(json_extract(doc, ?) = ?, 0)"
		params = []any{path, param}
	}

	if cmp.Op == query.OpNe {
		sql = "NOT (" + sql + ")"
	}
	return sql, params, nil
}

// valueToParam converts a literal to the value json_extract produces for
// its canonical JSON form.
func valueToParam(t ir.Type, v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.Bool:
		return bool(val), nil
	case ir.U8:
		return int64(val), nil
	case ir.U16:
		return int64(val), nil
	case ir.U32:
		return int64(val), nil
	case ir.U64:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("u64 literal %d exceeds the SQL integer range", uint64(val))
		}
		return int64(val), nil
	case ir.U128:
		if val.Hi != 0 || val.Lo > math.MaxInt64 {
			return nil, fmt.Errorf("u128 literal %s exceeds the SQL integer range", val)
		}
		return int64(val.Lo), nil
	case ir.I8:
		return int64(val), nil
	case ir.I16:
		return int64(val), nil
	case ir.I32:
		return int64(val), nil
	case ir.I64:
		return int64(val), nil
	case ir.F32:
		// Canonical JSON renders f32 with its shortest 32-bit form.
		f, err := strconv.ParseFloat(strconv.FormatFloat(float64(val), 'g', -1, 32), 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case ir.F64:
		return float64(val), nil
	case ir.String:
		return norm.NFC.String(string(val)), nil
	case ir.Enum:
		if t.Enum == nil || val.Tag < 0 || val.Tag >= len(t.Enum.Variants) {
			return nil, fmt.Errorf("enum tag %d out of range", val.Tag)
		}
		return t.Enum.Variants[val.Tag], nil
	default:
		return nil, fmt.Errorf("unsupported value type: %s", v.Kind())
	}
}
