package querysql

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/schema"
)

var kind = &ir.EnumType{Name: "Kind", Variants: []string{"A", "B"}}

func testTable() *schema.TableDef {
	return &schema.TableDef{
		Name: "things",
		Columns: []schema.Column{
			{Name: "id", Type: ir.Scalar(ir.KindU64)},
			{Name: "name", Type: ir.Scalar(ir.KindString)},
			{Name: "ratio", Type: ir.Scalar(ir.KindF32)},
			{Name: "kind", Type: ir.EnumOf(kind)},
			{Name: "nick", Type: ir.OptionOf(ir.Scalar(ir.KindString))},
			{Name: "tags", Type: ir.VecOf(ir.Scalar(ir.KindString))},
		},
		PrimaryKey: "id",
		Visibility: schema.Public,
	}
}

func compile(t *testing.T, q *query.Select) (string, []any) {
	t.Helper()
	sql, params, err := NewSQLCompiler(testTable()).Compile(q)
	require.NoError(t, err)
	return sql, params
}

func TestCompile_SimpleSelect(t *testing.T) {
	sql, params := compile(t, query.From("things").Where(query.Field("name").Eq(ir.String("widget"))).Build())

	assert.Equal(t, `SELECT doc FROM row_mirror WHERE table_name = ? AND (json_extract(doc, ?) = ?) ORDER BY seq ASC`, sql)
	assert.Equal(t, []any{"things", `$."name"`, "widget"}, params)
}

func TestCompile_NoFilter(t *testing.T) {
	sql, params := compile(t, query.From("things").Build())
	assert.Equal(t, `SELECT doc FROM row_mirror WHERE table_name = ? ORDER BY seq ASC`, sql)
	assert.Equal(t, []any{"things"}, params)
}

func TestCompile_OrderByMandatory(t *testing.T) {
	queries := []*query.Select{
		query.From("things").Build(),
		query.From("things").Where(query.Field("id").Gt(ir.U64(3))).Build(),
		query.From("things").Where(query.AnyOf()).Build(),
	}
	for _, q := range queries {
		sql, _ := compile(t, q)
		assert.Contains(t, sql, "ORDER BY seq ASC")
	}
}

func TestCompile_NoStringInterpolation(t *testing.T) {
	evil := "'; DROP TABLE row_mirror; --"
	sql, params := compile(t, query.From("things").Where(query.Field("name").Eq(ir.String(evil))).Build())
	assert.NotContains(t, sql, "DROP")
	assert.Contains(t, params, evil)
}

func TestCompile_Connectives(t *testing.T) {
	q := query.From("things").Where(query.AnyOf(
		query.Field("id").Le(ir.U64(2)),
		query.Negate(query.Field("kind").Eq(ir.Enum{Tag: 1})),
	)).Build()

	sql, params := compile(t, q)
	assert.Contains(t, sql, `(json_extract(doc, ?) <= ?) OR (NOT (json_extract(doc, ?) = ?))`)
	assert.Equal(t, []any{"things", `$."id"`, int64(2), `$."kind"`, "B"}, params)
}

func TestCompile_EmptyJunctions(t *testing.T) {
	sql, _ := compile(t, query.From("things").Where(query.AllOf()).Build())
	assert.Contains(t, sql, "AND (1 = 1)")

	sql, _ = compile(t, query.From("things").Where(query.AnyOf()).Build())
	assert.Contains(t, sql, "AND (1 = 0)")
}

func TestCompile_Options(t *testing.T) {
	sql, params := compile(t, query.From("things").Where(query.Field("nick").Eq(ir.None())).Build())
	assert.Contains(t, sql, "json_extract(doc, ?) IS NULL")
	assert.Equal(t, []any{"things", `$."nick"`}, params)

	sql, params = compile(t, query.From("things").Where(query.Field("nick").Ne(ir.Some(ir.String("x")))).Build())
	assert.Contains(t, sql, "NOT (IFNULL(json_extract(doc, ?) = ?, 0))")
	assert.Equal(t, []any{"things", `$."nick"`, "x"}, params)
}

func TestCompile_FloatParamMatchesCanonicalForm(t *testing.T) {
	_, params := compile(t, query.From("things").Where(query.Field("ratio").Eq(ir.F32(-0.0001))).Build())
	assert.Equal(t, -0.0001, params[2])
}

func TestCompile_Unsupported(t *testing.T) {
	cases := []struct {
		name string
		q    *query.Select
	}{
		{"vec column", query.From("things").Where(query.Field("tags").Eq(ir.Vec{})).Build()},
		{"enum ordering", query.From("things").Where(query.Field("kind").Lt(ir.Enum{Tag: 1})).Build()},
		{"option ordering", query.From("things").Where(query.Field("nick").Gt(ir.None())).Build()},
		{"u64 beyond int64", query.From("things").Where(query.Field("id").Eq(ir.U64(math.MaxUint64))).Build()},
		{"invalid query", query.From("things").Where(query.Field("missing").Eq(ir.U64(1))).Build()},
		{"wrong table", query.From("other").Build()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NewSQLCompiler(testTable()).Compile(tc.q)
			assert.Error(t, err)
		})
	}

	_, _, err := NewSQLCompiler(testTable()).Compile(nil)
	assert.Error(t, err)
}
