package datastore

import (
	"bytes"
	"log/slog"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

func testModule() *schema.ModuleDef {
	return &schema.ModuleDef{
		Name:  "test",
		Types: ir.NewTypeSpace(),
		Tables: []schema.TableDef{
			{
				Name: "items",
				Columns: []schema.Column{
					{Name: "id", Type: ir.Scalar(ir.KindU64)},
					{Name: "n", Type: ir.Scalar(ir.KindU32)},
					{Name: "label", Type: ir.Scalar(ir.KindString)},
				},
				PrimaryKey: "id",
				AutoInc:    true,
				Indexes: []schema.IndexDef{
					{Name: "by_n", Kind: schema.IndexBTree, Columns: []string{"n"}},
					{Name: "by_n_label", Kind: schema.IndexBTree, Columns: []string{"n", "label"}},
				},
				Visibility: schema.Public,
			},
			{
				Name: "pairs",
				Columns: []schema.Column{
					{Name: "row", Type: ir.Scalar(ir.KindU64)},
					{Name: "name", Type: ir.Scalar(ir.KindString)},
				},
				Indexes:    []schema.IndexDef{{Name: "row", Kind: schema.IndexBTree, Columns: []string{"row"}}},
				Visibility: schema.Private,
			},
		},
	}
}

func newTestStore(t *testing.T, opts ...Option) *Datastore {
	t.Helper()
	ds, err := New(testModule(), opts...)
	require.NoError(t, err)
	return ds
}

func item(id uint64, n uint32, label string) ir.Struct {
	return ir.Struct{ir.U64(id), ir.U32(n), ir.String(label)}
}

func table(t *testing.T, tx *Tx, name string) *TableHandle {
	t.Helper()
	h, err := tx.Table(name)
	require.NoError(t, err)
	return h
}

func mustIndex(t *testing.T, h *TableHandle, name string) *IndexHandle {
	t.Helper()
	ix, err := h.Index(name)
	require.NoError(t, err)
	return ix
}

func TestInsert_AutoIncrement(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	items := table(t, tx, "items")

	a, err := items.Insert(item(0, 1, "a"))
	require.NoError(t, err)
	b, err := items.Insert(item(0, 2, "b"))
	require.NoError(t, err)

	assert.Equal(t, ir.U64(1), a[0])
	assert.Equal(t, ir.U64(2), b[0])

	got, ok := items.Find(ir.U64(2))
	require.True(t, ok)
	assert.True(t, ir.Equal(b, got))

	_, err = tx.Commit()
	require.NoError(t, err)
}

func TestInsert_ExplicitKeyAdvancesSequence(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	items := table(t, tx, "items")

	_, err := items.Insert(item(10, 0, ""))
	require.NoError(t, err)
	next, err := items.Insert(item(0, 0, ""))
	require.NoError(t, err)
	assert.Equal(t, ir.U64(11), next[0])

	_, err = items.Insert(item(10, 0, "dup"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestInsert_TypeMismatch(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	items := table(t, tx, "items")

	_, err := items.Insert(ir.Struct{ir.U64(0), ir.U64(1), ir.String("x")})
	assert.ErrorIs(t, err, ir.ErrEncoding)
	assert.Zero(t, items.Count())
}

func TestKeylessSetSemantics(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	pairs := table(t, tx, "pairs")

	row := ir.Struct{ir.U64(1), ir.String("Hello World")}
	first, err := pairs.Insert(row)
	require.NoError(t, err)
	again, err := pairs.Insert(row)
	require.NoError(t, err)

	assert.True(t, ir.Equal(first, again))
	assert.Equal(t, uint64(1), pairs.Count())

	ev, err := tx.Commit()
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Len(t, ev.Changes, 1)

	_, err = table(t, ds.Begin(), "pairs").Update(row)
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
}

func TestUpdateAndDelete(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	items := table(t, tx, "items")

	row, err := items.Insert(item(0, 5, "five"))
	require.NoError(t, err)

	updated := row.With(1, ir.U32(6))
	_, err = items.Update(updated)
	require.NoError(t, err)

	_, ok := mustIndex(t, table(t, tx, "items"), "by_n").First(Point(ir.U32(5)))
	assert.False(t, ok, "old index entry removed")
	got, ok := mustIndex(t, items, "by_n").First(Point(ir.U32(6)))
	require.True(t, ok)
	assert.True(t, ir.Equal(updated, got))

	err = items.UpdateByKey(ir.U64(99), item(99, 0, ""))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	err = items.UpdateByKey(ir.U64(1), item(2, 0, ""))
	assert.ErrorIs(t, err, ErrKeyMismatch)

	require.NoError(t, items.Delete(updated))
	assert.ErrorIs(t, items.Delete(updated), ErrKeyNotFound)
	assert.ErrorIs(t, items.DeleteByKey(ir.U64(1)), ErrKeyNotFound)
	assert.Zero(t, items.Count())
}

func TestIsolation(t *testing.T) {
	ds := newTestStore(t)

	writer := ds.Begin()
	_, err := table(t, writer, "items").Insert(item(0, 1, "a"))
	require.NoError(t, err)

	reader := ds.BeginRead()
	assert.Zero(t, table(t, reader, "items").Count(), "uncommitted write invisible")

	_, err = writer.Commit()
	require.NoError(t, err)
	assert.Zero(t, table(t, reader, "items").Count(), "snapshot fixed at begin")
	assert.Equal(t, uint64(1), table(t, ds.BeginRead(), "items").Count())
}

func TestAbortDiscardsWrites(t *testing.T) {
	ds := newTestStore(t)

	tx := ds.Begin()
	_, err := table(t, tx, "items").Insert(item(0, 1, "a"))
	require.NoError(t, err)
	tx.Abort()

	assert.Zero(t, table(t, ds.BeginRead(), "items").Count())
	assert.Zero(t, ds.Version())

	_, err = tx.Commit()
	assert.ErrorIs(t, err, ErrTxClosed)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.BeginRead()
	_, err := table(t, tx, "items").Insert(item(0, 1, "a"))
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestConflict_SameRow(t *testing.T) {
	ds := newTestStore(t)
	seed := ds.Begin()
	row, err := table(t, seed, "items").Insert(item(0, 1, "a"))
	require.NoError(t, err)
	_, err = seed.Commit()
	require.NoError(t, err)

	a := ds.Begin()
	b := ds.Begin()
	_, err = table(t, a, "items").Update(row.With(1, ir.U32(2)))
	require.NoError(t, err)
	_, err = table(t, b, "items").Update(row.With(1, ir.U32(3)))
	require.NoError(t, err)

	_, err = a.Commit()
	require.NoError(t, err)
	_, err = b.Commit()
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	got, ok := table(t, ds.BeginRead(), "items").Find(ir.U64(1))
	require.True(t, ok)
	assert.Equal(t, ir.U32(2), got[1])
}

func TestConflict_DisjointRowsCommit(t *testing.T) {
	ds := newTestStore(t)

	a := ds.Begin()
	b := ds.Begin()
	_, err := table(t, a, "items").Insert(item(0, 1, "a"))
	require.NoError(t, err)
	_, err = table(t, b, "items").Insert(item(0, 2, "b"))
	require.NoError(t, err)

	_, err = a.Commit()
	require.NoError(t, err)
	_, err = b.Commit()
	require.NoError(t, err)

	assert.Equal(t, uint64(2), table(t, ds.BeginRead(), "items").Count())
}

func TestConflict_HistoryWindow(t *testing.T) {
	ds := newTestStore(t, WithHistorySize(1))

	old := ds.Begin()
	for i := 0; i < 3; i++ {
		tx := ds.Begin()
		_, err := table(t, tx, "items").Insert(item(0, uint32(i), ""))
		require.NoError(t, err)
		_, err = tx.Commit()
		require.NoError(t, err)
	}

	_, err := table(t, old, "pairs").Insert(ir.Struct{ir.U64(1), ir.String("x")})
	require.NoError(t, err)
	_, err = old.Commit()
	assert.ErrorIs(t, err, ErrTransactionConflict)
}

func TestConcurrentUpdates_OneWinsPerRound(t *testing.T) {
	ds := newTestStore(t)
	seed := ds.Begin()
	row, err := table(t, seed, "items").Insert(item(0, 0, "counter"))
	require.NoError(t, err)
	_, err = seed.Commit()
	require.NoError(t, err)

	txs := make([]*Tx, 8)
	for i := range txs {
		txs[i] = ds.Begin()
		_, err := table(t, txs[i], "items").Update(row.With(1, ir.U32(uint32(i+1))))
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for _, tx := range txs {
		wg.Add(1)
		go func(tx *Tx) {
			defer wg.Done()
			if _, err := tx.Commit(); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}(tx)
	}
	wg.Wait()
	assert.Equal(t, 1, committed)
}

func TestCommitEvents(t *testing.T) {
	at := time.Unix(1700000000, 0)
	ds := newTestStore(t, WithClock(func() time.Time { return at }))

	var events []CommitEvent
	ds.Subscribe(func(ev CommitEvent) { events = append(events, ev) })

	tx := ds.Begin(WithTxID("tx-1"), WithOrigin("seed"))
	items := table(t, tx, "items")
	row, err := items.Insert(item(0, 1, "a"))
	require.NoError(t, err)
	_, err = items.Update(row.With(2, ir.String("b")))
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	empty := ds.Begin()
	ev, err := empty.Commit()
	require.NoError(t, err)
	assert.Nil(t, ev)

	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Version)
	assert.Equal(t, "tx-1", events[0].TxID)
	assert.Equal(t, "seed", events[0].Origin)
	assert.Equal(t, at, events[0].Time)
	require.Len(t, events[0].Changes, 2)
	assert.Equal(t, ChangeInsert, events[0].Changes[0].Kind)
	assert.Equal(t, ChangeUpdate, events[0].Changes[1].Kind)
	assert.Equal(t, ir.String("a"), events[0].Changes[1].Old[2])
}

func TestCommit_LogsToDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ds := newTestStore(t)
	tx := ds.Begin(WithTxID("tx-log"))
	_, err := table(t, tx, "items").Insert(item(0, 1, "a"))
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "transaction committed")
	assert.Contains(t, buf.String(), "tx_id=tx-log")
}

func TestFilter_RangeSemantics(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	items := table(t, tx, "items")
	for i := 9; i >= 0; i-- {
		_, err := items.Insert(item(0, uint32(i), "x"))
		require.NoError(t, err)
	}
	byN := mustIndex(t, items, "by_n")

	all := slices.Collect(byN.Filter(Between(ir.U32(0), ir.U32(math.MaxUint32))))
	require.Len(t, all, 10)
	for i, r := range all {
		assert.Equal(t, ir.U32(uint32(i)), r[1], "ascending by index key")
	}

	assert.Empty(t, slices.Collect(byN.Filter(Point(ir.U32(30)))))
	assert.Len(t, slices.Collect(byN.Filter(Between(ir.U32(3), ir.U32(5)))), 3)
	assert.Len(t, slices.Collect(byN.Filter(Between(nil, ir.U32(1)))), 2)
	assert.Len(t, slices.Collect(byN.Filter(All())), 10)
	assert.Empty(t, slices.Collect(byN.Filter(Point(ir.U64(3)))), "mistyped bound")

	first, ok := byN.First(Between(ir.U32(7), ir.U32(math.MaxUint32)))
	require.True(t, ok)
	assert.Equal(t, ir.U32(7), first[1])
}

func TestFilter_TiesInInsertionOrder(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	items := table(t, tx, "items")
	for _, label := range []string{"c", "a", "b"} {
		_, err := items.Insert(item(0, 1, label))
		require.NoError(t, err)
	}

	rows := slices.Collect(mustIndex(t, items, "by_n").Filter(Point(ir.U32(1))))
	require.Len(t, rows, 3)
	assert.Equal(t, ir.String("c"), rows[0][2])
	assert.Equal(t, ir.String("b"), rows[2][2])

	composite := slices.Collect(mustIndex(t, items, "by_n_label").Filter(Point(ir.U32(1))))
	require.Len(t, composite, 3)
	assert.Equal(t, ir.String("a"), composite[0][2], "composite keys order by second column")
}

func TestIterThenDelete(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	items := table(t, tx, "items")
	for i := 0; i < 5; i++ {
		_, err := items.Insert(item(0, uint32(i), ""))
		require.NoError(t, err)
	}

	for row := range items.Iter() {
		require.NoError(t, items.Delete(row))
	}
	assert.Zero(t, items.Count())
	assert.Empty(t, slices.Collect(items.Iter()))

	_, err := tx.Commit()
	require.NoError(t, err)
	assert.Zero(t, table(t, ds.BeginRead(), "items").Count())
}

func TestUnknownTableAndIndex(t *testing.T) {
	ds := newTestStore(t)
	tx := ds.Begin()
	_, err := tx.Table("ghost")
	assert.ErrorIs(t, err, ErrNoSuchTable)

	_, err = table(t, tx, "items").Index("ghost")
	assert.ErrorIs(t, err, ErrNoSuchIndex)
}

func TestNewRejectsInvalidModule(t *testing.T) {
	m := testModule()
	m.Tables[0].PrimaryKey = "missing"
	_, err := New(m)
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)
}

func TestAdvanceSequence(t *testing.T) {
	ds := newTestStore(t)
	require.NoError(t, ds.AdvanceSequence("items", 41))
	require.NoError(t, ds.AdvanceSequence("items", 5))

	row, err := table(t, ds.Begin(), "items").Insert(item(0, 0, ""))
	require.NoError(t, err)
	assert.Equal(t, ir.U64(42), row[0])

	seq, err := ds.Sequence("items")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
}

// Auto-increment values strictly increase across commits, aborts and
// deletes, and are never handed out twice.
func TestProperty_AutoIncMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sequence never reuses values", prop.ForAll(
		func(actions []int) bool {
			ds, err := New(testModule())
			if err != nil {
				return false
			}
			var last uint64
			for _, a := range actions {
				tx := ds.Begin()
				items, _ := tx.Table("items")
				row, err := items.Insert(item(0, 0, ""))
				if err != nil {
					return false
				}
				id := uint64(row[0].(ir.U64))
				if id <= last {
					return false
				}
				last = id

				switch a % 3 {
				case 0:
					if _, err := tx.Commit(); err != nil {
						return false
					}
				case 1:
					tx.Abort()
				case 2:
					if err := items.Delete(row); err != nil {
						return false
					}
					if _, err := tx.Commit(); err != nil {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
