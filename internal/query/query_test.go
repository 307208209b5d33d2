package query

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

func testModule() *schema.ModuleDef {
	return &schema.ModuleDef{
		Name:  "test",
		Types: ir.NewTypeSpace(),
		Tables: []schema.TableDef{{
			Name: "counts",
			Columns: []schema.Column{
				{Name: "id", Type: ir.Scalar(ir.KindU64)},
				{Name: "h1", Type: ir.Scalar(ir.KindU64)},
				{Name: "public_count", Type: ir.Scalar(ir.KindU64)},
			},
			PrimaryKey: "id",
			AutoInc:    true,
			Indexes: []schema.IndexDef{
				{Name: "get_by_public_count", Kind: schema.IndexBTree, Columns: []string{"public_count"}},
			},
			Visibility: schema.Public,
		}},
	}
}

// seeded inserts rows with public_count 9..0 so insertion order differs
// from index order.
func seeded(t *testing.T) *datastore.Tx {
	t.Helper()
	ds, err := datastore.New(testModule())
	require.NoError(t, err)

	tx := ds.Begin()
	h, err := tx.Table("counts")
	require.NoError(t, err)
	for i := 9; i >= 0; i-- {
		h1 := uint64(i % 2)
		_, err := h.Insert(ir.Struct{ir.U64(0), ir.U64(h1), ir.U64(uint64(i))})
		require.NoError(t, err)
	}
	_, err = tx.Commit()
	require.NoError(t, err)
	return ds.BeginRead()
}

func counts(rows []ir.Struct) []uint64 {
	out := make([]uint64, len(rows))
	for i, r := range rows {
		out[i] = uint64(r[2].(ir.U64))
	}
	return out
}

func TestBuilder(t *testing.T) {
	q := From("counts").
		Where(Field("h1").Eq(ir.U64(1))).
		Where(Field("public_count").Ge(ir.U64(5))).
		Build()

	assert.Equal(t, "counts", q.From)
	and, ok := q.Filter.(*And)
	require.True(t, ok)
	assert.Len(t, and.Predicates, 2)
	assert.Equal(t, "from counts where (h1 = 1) and (public_count >= 5)", q.String())
}

func TestEvaluate_IndexOrder(t *testing.T) {
	tx := seeded(t)

	q := From("counts").Where(AllOf(
		Field("public_count").Ge(ir.U64(5)),
		Field("public_count").Le(ir.U64(100)),
	)).Build()

	h, err := tx.Table("counts")
	require.NoError(t, err)
	plan := PlanFor(h, q)
	assert.Equal(t, "get_by_public_count", plan.Index)

	rows, err := Evaluate(tx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6, 7, 8, 9}, counts(rows))
}

func TestEvaluate_FullScanInsertionOrder(t *testing.T) {
	tx := seeded(t)

	q := From("counts").Where(Field("h1").Eq(ir.U64(1))).Build()
	h, err := tx.Table("counts")
	require.NoError(t, err)
	assert.Empty(t, PlanFor(h, q).Index)

	rows, err := Evaluate(tx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 7, 5, 3, 1}, counts(rows))
}

func TestEvaluate_OrNot(t *testing.T) {
	tx := seeded(t)

	q := From("counts").Where(AnyOf(
		Field("public_count").Lt(ir.U64(2)),
		Negate(Field("public_count").Ne(ir.U64(8))),
	)).Build()

	rows, err := Evaluate(tx, q)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{0, 1, 8}, counts(rows))
}

func TestEvaluate_ExclusiveBoundsOnIndex(t *testing.T) {
	tx := seeded(t)

	rows, err := Evaluate(tx, From("counts").Where(Field("public_count").Gt(ir.U64(7))).Build())
	require.NoError(t, err)
	assert.Equal(t, []uint64{8, 9}, counts(rows))

	rows, err = Evaluate(tx, From("counts").Where(Field("public_count").Lt(ir.U64(math.MaxUint64))).Build())
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestEvaluate_NoFilter(t *testing.T) {
	tx := seeded(t)
	rows, err := Evaluate(tx, From("counts").Build())
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestFirst(t *testing.T) {
	tx := seeded(t)

	row, ok, err := First(tx, From("counts").Where(Field("public_count").Ge(ir.U64(5))).Build())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.U64(5), row[2])

	_, ok, err = First(tx, From("counts").Where(Field("public_count").Gt(ir.U64(100))).Build())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_InvalidQueries(t *testing.T) {
	tx := seeded(t)

	cases := []struct {
		name string
		q    *Select
	}{
		{"unknown table", From("ghost").Build()},
		{"unknown column", From("counts").Where(Field("nope").Eq(ir.U64(1))).Build()},
		{"type mismatch", From("counts").Where(Field("h1").Eq(ir.String("1"))).Build()},
		{"bad operator", From("counts").Where(&Compare{Field: "h1", Op: "like", Value: ir.U64(1)}).Build()},
		{"missing value", From("counts").Where(&Compare{Field: "h1", Op: OpEq}).Build()},
		{"empty not", From("counts").Where(&Not{}).Build()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := Evaluate(tx, tc.q)
			assert.ErrorIs(t, err, ErrInvalidQuery)
			assert.Empty(t, rows)
		})
	}
}

func TestMatches_EmptyConnectives(t *testing.T) {
	def := &testModule().Tables[0]
	row := ir.Struct{ir.U64(1), ir.U64(1), ir.U64(1)}
	assert.True(t, Matches(def, &And{}, row))
	assert.False(t, Matches(def, &Or{}, row))
}
