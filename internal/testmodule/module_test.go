package testmodule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/engine"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/testutil"
)

var caller = engine.Identified(uuid.MustParse("0190a0b0-0000-7000-8000-0000000000aa"))

func newEngine(t *testing.T, opts ...engine.EngineOption) (*engine.Engine, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	opts = append([]engine.EngineOption{
		engine.WithClock(clock),
		engine.WithTxIDs(testutil.NewSequentialIDs("tx")),
	}, opts...)
	e, err := New(opts...)
	require.NoError(t, err)
	return e, clock
}

func call(t *testing.T, e *engine.Engine, reducer string, args ...ir.Value) {
	t.Helper()
	_, err := e.CallReducer(context.Background(), reducer, caller, args)
	require.NoError(t, err)
}

func rows(t *testing.T, e *engine.Engine, table string) []ir.Struct {
	t.Helper()
	tx := e.Datastore().BeginRead()
	defer tx.Abort()
	out, err := query.Evaluate(tx, query.From(table).Build())
	require.NoError(t, err)
	return out
}

func view(t *testing.T, e *engine.Engine, name string, c engine.Caller) []ir.Struct {
	t.Helper()
	out, err := e.CallView(context.Background(), name, c)
	require.NoError(t, err)
	return out.Rows
}

func withID(row ir.Struct, id uint64) ir.Struct {
	return row.With(TU64, ir.U64(id))
}

func TestModule_Compiles(t *testing.T) {
	m, err := Module()
	require.NoError(t, err)
	assert.Equal(t, "integration", m.Name)
	assert.Len(t, m.Tables, 3)
	assert.Len(t, m.Views, 10)

	dt, ok := m.Table(Datatypes)
	require.True(t, ok)
	assert.Equal(t, "t_u64", dt.Columns[TU64].Name)
	assert.Equal(t, "t_test_type_option", dt.Columns[TTestTypeOption].Name)
	require.NoError(t, ir.Check(dt.RowType(), DefaultDatatypesRow()))

	sched, ok := m.Table(Scheduled)
	require.True(t, ok)
	assert.Equal(t, "private_count", sched.Columns[PrivateCount].Name)
	assert.Len(t, m.ScheduledTables(), 1)
}

func TestSeedDefaultRow_CapsAtTen(t *testing.T) {
	e, _ := newEngine(t)

	for i := 0; i < 12; i++ {
		call(t, e, "seed_default_row")
	}

	got := rows(t, e, Datatypes)
	require.Len(t, got, MaxDatatypesRows)
	for i, row := range got {
		assert.Equal(t, withID(DefaultDatatypesRow(), uint64(i+1)), row)
	}
	assert.Equal(t, ir.Vec{ir.String("")}, got[0][TVecString])
	assert.Equal(t, ir.Some(ir.String("")), got[0][TOptString])
}

func TestScheduledReducer_FiresAndKeepsRowArmed(t *testing.T) {
	e, clock := newEngine(t)
	s, err := engine.NewScheduler(e)
	require.NoError(t, err)
	defer s.Close()

	call(t, e, "start_integration_tests")
	fired, err := s.Tick(context.Background(), clock.Advance(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	sched := rows(t, e, Scheduled)
	require.Len(t, sched, 1)
	assert.Equal(t, ir.U64(1), sched[0][PublicCount])
	assert.Equal(t, ir.U64(1), sched[0][PrivateCount])
	assert.Equal(t, ir.IntervalOf(time.Second), sched[0][ScheduledAt])

	pending := s.Pending()
	require.Len(t, pending, 1, "row stays armed")
	assert.Equal(t, testutil.Epoch.Add(2*time.Second), pending[0].Due)

	dt := rows(t, e, Datatypes)
	require.Len(t, dt, 1)
	assert.Equal(t, Advance(withID(DefaultDatatypesRow(), 1)), dt[0])
}

func TestScheduledReducer_ForcedAbortLeavesStateUnchanged(t *testing.T) {
	m, err := Module()
	require.NoError(t, err)
	reg := Registry().Reducer("test_scheduled_reducer", func(ctx *engine.ReducerContext, args []ir.Value) error {
		if err := scheduledReducer(ctx, args); err != nil {
			return err
		}
		return errors.New("forced abort")
	})
	e, err := engine.New(m, reg, engine.WithClock(testutil.NewManualClock(time.Time{})))
	require.NoError(t, err)

	call(t, e, "start_integration_tests")
	call(t, e, "seed_default_row")
	before := map[string][]ir.Struct{
		Scheduled: rows(t, e, Scheduled),
		Datatypes: rows(t, e, Datatypes),
	}

	_, err = e.CallReducer(context.Background(), "test_scheduled_reducer", caller, []ir.Value{before[Scheduled][0]})
	require.ErrorIs(t, err, engine.ErrReducerFailed)

	assert.Equal(t, before[Scheduled], rows(t, e, Scheduled))
	assert.Equal(t, before[Datatypes], rows(t, e, Datatypes))
}

func TestAdvance(t *testing.T) {
	got := Advance(withID(DefaultDatatypesRow(), 7))

	assert.Equal(t, ir.U64(7), got[TU64])
	assert.Equal(t, ir.U8(1), got[TU8])
	assert.Equal(t, ir.U16(1), got[TU16])
	assert.Equal(t, ir.U32(1), got[TU32])
	assert.Equal(t, ir.U128{Lo: 1}, got[TU128])
	assert.Equal(t, ir.F32(0)-0.0001, got[TF32])
	assert.Equal(t, ir.F64(0)-0.0001, got[TF64])
	assert.Equal(t, ir.I8(-1), got[TI8])
	assert.Equal(t, ir.I64(-1), got[TI64])
	assert.Equal(t, ir.String("0"), got[TString])
	assert.Equal(t, ir.Vec{ir.String("0"), ir.String("0")}, got[TVecString])
	assert.Equal(t, ir.Vec{ir.U8(0), ir.U8(0)}, got[TVecU8])
	assert.Equal(t, ir.None(), got[TOptString])
	assert.Equal(t, ir.None(), got[TOptU64])
	assert.Equal(t, ir.Vec{EnumA, EnumB}, got[TTestEnumVec])
	assert.Equal(t, ir.Vec{DefaultTestType(), DefaultTestType()}, got[TTestTypeVec])

	// Options toggle back on the next rewrite.
	again := Advance(got)
	assert.Equal(t, ir.Some(ir.String("Some")), again[TOptString])
	assert.Equal(t, ir.Some(ir.U64(7)), again[TOptU64])
	assert.Equal(t, ir.Vec{ir.String("1"), ir.String("-1")}, again[TVecString])
}

func TestViews_FilterCorrectness(t *testing.T) {
	e, _ := newEngine(t)
	tx := e.Datastore().Begin()
	h, err := tx.Table(Datatypes)
	require.NoError(t, err)
	for n := uint32(10); n > 0; n-- {
		_, err := h.Insert(DefaultDatatypesRow().With(TU32, ir.U32(n-1)))
		require.NoError(t, err)
	}
	_, err = tx.Commit()
	require.NoError(t, err)

	all := view(t, e, "test_anonymous_all_types", engine.Anonymous())
	require.Len(t, all, 10)
	for i, row := range all {
		assert.Equal(t, ir.U32(i), row[TU32], "rows come back in index order")
	}

	first := view(t, e, "test_first_type_row", caller)
	require.Len(t, first, 1)
	assert.Equal(t, ir.U32(0), first[0][TU32])

	assert.Empty(t, view(t, e, "test_u32_at_30", engine.Anonymous()))
}

func TestViews_ScheduledCounts(t *testing.T) {
	e, clock := newEngine(t)
	s, err := engine.NewScheduler(e)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	call(t, e, "start_integration_tests")

	opt, err := e.CallView(ctx, "test_option", caller)
	require.NoError(t, err)
	assert.Empty(t, opt.Rows, "public count below 5")

	for i := 0; i < 5; i++ {
		_, err := s.Tick(ctx, clock.Advance(time.Second))
		require.NoError(t, err)
	}

	public := view(t, e, "test_public_scheduled_count", caller)
	require.Len(t, public, 1)
	assert.Equal(t, ir.U64(5), public[0][PublicCount])
	assert.Equal(t, ir.U64(0), public[0][PrivateCount], "private count is redacted")

	private := view(t, e, "test_private_scheduled_count", caller)
	require.Len(t, private, 1)
	assert.Equal(t, ir.U64(5), private[0][PrivateCount])

	opt, err = e.CallView(ctx, "test_option", caller)
	require.NoError(t, err)
	require.Len(t, opt.Rows, 1)
	assert.Equal(t, ir.U64(5), opt.Rows[0][PublicCount])

	q, err := e.CallView(ctx, "test_query", caller)
	require.NoError(t, err)
	require.NotNil(t, q.Query)
	assert.Equal(t, Scheduled, q.Query.From)
	assert.Len(t, q.Rows, 1)
}

func TestViews_NoPK(t *testing.T) {
	e, _ := newEngine(t)
	call(t, e, "start_integration_tests")
	ctx := context.Background()
	hello := ir.Struct{ir.U64(1), ir.String("Hello World")}

	out, err := e.CallView(ctx, "test_no_pk_option", engine.Anonymous())
	require.NoError(t, err)
	assert.Equal(t, []ir.Struct{hello}, out.Rows)
	data, err := out.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Hello World","row":1}`, string(data))

	assert.Equal(t, []ir.Struct{hello}, view(t, e, "test_no_pk_vec", engine.Anonymous()))
	assert.Equal(t, []ir.Struct{hello}, view(t, e, "test_no_pk_query", engine.Anonymous()))

	_, err = e.ReadTable(ctx, query.From(NoPK).Build())
	assert.ErrorIs(t, err, engine.ErrPrivateTable)
}

func TestViews_NoPKRedacted(t *testing.T) {
	e, _ := newEngine(t, engine.WithRedaction(engine.RedactPrivate))
	call(t, e, "start_integration_tests")

	assert.Empty(t, view(t, e, "test_no_pk_vec", engine.Anonymous()))
	assert.Empty(t, view(t, e, "test_no_pk_option", engine.Anonymous()))
	assert.Empty(t, view(t, e, "test_no_pk_query", engine.Anonymous()))

	// Public tables are unaffected.
	assert.Len(t, view(t, e, "test_query", caller), 1)
}

func TestClearIntegrationTests(t *testing.T) {
	e, _ := newEngine(t)
	call(t, e, "start_integration_tests")
	call(t, e, "seed_default_row")
	call(t, e, "seed_default_row")

	call(t, e, "clear_integration_tests")

	tx := e.Datastore().BeginRead()
	defer tx.Abort()
	for _, name := range []string{Scheduled, Datatypes, NoPK} {
		h, err := tx.Table(name)
		require.NoError(t, err)
		assert.Zero(t, h.Count(), name)
		for range h.Iter() {
			t.Errorf("%s: iteration should be empty", name)
		}
	}
}

func TestProcedure_GetDatatypesRow(t *testing.T) {
	e, _ := newEngine(t)
	call(t, e, "seed_default_row")
	ctx := context.Background()

	got, err := e.CallProcedure(ctx, "procedure_test_get_table_datatypes_row", caller, []ir.Value{ir.U64(1)})
	require.NoError(t, err)
	assert.Equal(t, ir.Some(withID(DefaultDatatypesRow(), 1)), got)

	got, err = e.CallProcedure(ctx, "procedure_test_get_table_datatypes_row", caller, []ir.Value{ir.U64(2)})
	require.NoError(t, err)
	assert.False(t, got.IsSome())
}

func TestConcurrentUpdatesConflict(t *testing.T) {
	e, _ := newEngine(t)
	call(t, e, "start_integration_tests")
	ds := e.Datastore()

	a, b := ds.Begin(), ds.Begin()
	for i, tx := range []*datastore.Tx{a, b} {
		h, err := tx.Table(Scheduled)
		require.NoError(t, err)
		row, ok := h.Find(ir.U64(1))
		require.True(t, ok)
		_, err = h.Update(row.With(PublicCount, ir.U64(uint64(10+i))))
		require.NoError(t, err)
	}

	_, err := a.Commit()
	require.NoError(t, err)
	_, err = b.Commit()
	assert.True(t, datastore.IsConflict(err))
}
