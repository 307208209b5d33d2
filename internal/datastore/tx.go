package datastore

import (
	"fmt"
	"iter"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

type txOp struct {
	id     uint64
	change Change
}

// Tx is a transaction over a snapshot of committed state. Reads see the
// transaction's own writes. A Tx is used from one goroutine and finished
// with exactly one Commit or Abort.
type Tx struct {
	ds       *Datastore
	id       string
	origin   string
	version  uint64
	tables   map[string]*tableState
	ops      []txOp
	writes   map[uint64]struct{}
	readOnly bool
	done     bool
}

// ID returns the transaction id set by WithTxID.
func (tx *Tx) ID() string { return tx.id }

// ReadOnly reports whether the transaction rejects writes.
func (tx *Tx) ReadOnly() bool { return tx.readOnly }

// Commit publishes the transaction's writes. A transaction without writes
// commits trivially and returns a nil event.
func (tx *Tx) Commit() (*CommitEvent, error) {
	if tx.done {
		return nil, storeErrorf(CodeTxClosed, "", "commit after finish")
	}
	tx.done = true
	if len(tx.ops) == 0 {
		return nil, nil
	}
	return tx.ds.commit(tx)
}

// Abort discards the transaction's writes. Auto-increment values it
// allocated stay consumed. Abort after Commit is a no-op.
func (tx *Tx) Abort() {
	tx.done = true
	tx.ops = nil
}

// Table returns a handle on a table inside the transaction.
func (tx *Tx) Table(name string) (*TableHandle, error) {
	t, ok := tx.tables[name]
	if !ok {
		return nil, storeErrorf(CodeNoSuchTable, name, "unknown table")
	}
	return &TableHandle{tx: tx, state: t}, nil
}

func (tx *Tx) checkWritable(table string) error {
	if tx.done {
		return storeErrorf(CodeTxClosed, table, "write after finish")
	}
	if tx.readOnly {
		return storeErrorf(CodeReadOnly, table, "write in read-only transaction")
	}
	return nil
}

func (tx *Tx) record(m *tableMeta, id uint64, c Change, identities ...ir.Value) error {
	for _, identity := range identities {
		fp, err := m.fingerprint(identity)
		if err != nil {
			return err
		}
		tx.writes[fp] = struct{}{}
	}
	tx.ops = append(tx.ops, txOp{id: id, change: c})
	return nil
}

// TableHandle reads and writes one table inside a transaction.
type TableHandle struct {
	tx    *Tx
	state *tableState
}

// Def returns the table declaration.
func (h *TableHandle) Def() *schema.TableDef {
	return h.state.meta.def
}

// RowType returns the struct type of the table's rows.
func (h *TableHandle) RowType() ir.Type {
	return h.state.meta.rowType
}

func (h *TableHandle) name() string {
	return h.state.meta.def.Name
}

func (h *TableHandle) checkRow(row ir.Struct) error {
	if err := ir.Check(h.state.meta.rowType, row); err != nil {
		return fmt.Errorf("table %s: %w", h.name(), err)
	}
	return nil
}

// Insert adds a row and returns it as stored.
//
// On an auto-increment table a zero primary key is replaced by the next
// sequence value. A primary key that already exists fails with
// ErrDuplicateKey. On a keyless table inserting a row equal to an existing
// one is a no-op that returns the existing row.
func (h *TableHandle) Insert(row ir.Struct) (ir.Struct, error) {
	if err := h.tx.checkWritable(h.name()); err != nil {
		return nil, err
	}
	if err := h.checkRow(row); err != nil {
		return nil, err
	}
	m := h.state.meta
	row = append(ir.Struct(nil), row...)

	if m.pk >= 0 && m.def.AutoInc {
		if ir.IsZero(row[m.pk]) {
			v, err := m.allocate()
			if err != nil {
				return nil, err
			}
			row[m.pk] = v
		} else {
			m.observe(row[m.pk])
		}
	}

	identity := m.identity(row)
	if existing, ok := h.state.lookup(identity); ok {
		if m.pk < 0 {
			return existing.row, nil
		}
		return nil, storeErrorf(CodeDuplicateKey, h.name(), "primary key %s already exists", describe(identity))
	}

	id := m.nextRow.Add(1)
	h.state.put(id, row)
	if err := h.tx.record(m, id, Change{Table: h.name(), Kind: ChangeInsert, New: row}, identity); err != nil {
		h.state.remove(id, row)
		return nil, err
	}
	return row, nil
}

// Update replaces the row whose primary key equals row's.
func (h *TableHandle) Update(row ir.Struct) (ir.Struct, error) {
	m := h.state.meta
	if m.pk < 0 {
		return nil, storeErrorf(CodeNoPrimaryKey, h.name(), "update needs a primary key")
	}
	if len(row) <= m.pk {
		return nil, h.checkRow(row)
	}
	if err := h.UpdateByKey(row[m.pk], row); err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateByKey replaces the row stored under key. The primary key of row
// must equal key. Fails with ErrKeyNotFound when no row has the key.
func (h *TableHandle) UpdateByKey(key ir.Value, row ir.Struct) error {
	if err := h.tx.checkWritable(h.name()); err != nil {
		return err
	}
	m := h.state.meta
	if m.pk < 0 {
		return storeErrorf(CodeNoPrimaryKey, h.name(), "update needs a primary key")
	}
	if err := h.checkRow(row); err != nil {
		return err
	}
	if !ir.Equal(row[m.pk], key) {
		return storeErrorf(CodeKeyMismatch, h.name(), "row key %s, want %s", describe(row[m.pk]), describe(key))
	}

	old, ok := h.state.lookup(key)
	if !ok {
		return storeErrorf(CodeKeyNotFound, h.name(), "primary key %s not found", describe(key))
	}
	row = append(ir.Struct(nil), row...)

	h.state.remove(old.id, old.row)
	h.state.put(old.id, row)
	return h.tx.record(m, old.id, Change{Table: h.name(), Kind: ChangeUpdate, Old: old.row, New: row}, key)
}

// Delete removes the row matching row's primary key, or for keyless tables
// the row equal to row. Fails with ErrKeyNotFound when absent.
func (h *TableHandle) Delete(row ir.Struct) error {
	if err := h.tx.checkWritable(h.name()); err != nil {
		return err
	}
	if err := h.checkRow(row); err != nil {
		return err
	}
	m := h.state.meta
	identity := m.identity(row)
	existing, ok := h.state.lookup(identity)
	if !ok {
		return storeErrorf(CodeKeyNotFound, h.name(), "row %s not found", describe(identity))
	}

	h.state.remove(existing.id, existing.row)
	return h.tx.record(m, existing.id, Change{Table: h.name(), Kind: ChangeDelete, Old: existing.row}, identity)
}

// DeleteByKey removes the row stored under a primary key.
func (h *TableHandle) DeleteByKey(key ir.Value) error {
	row, ok := h.Find(key)
	if !ok {
		if h.state.meta.pk < 0 {
			return storeErrorf(CodeNoPrimaryKey, h.name(), "delete by key needs a primary key")
		}
		return storeErrorf(CodeKeyNotFound, h.name(), "primary key %s not found", describe(key))
	}
	return h.Delete(row)
}

// Find looks up a row by primary key.
func (h *TableHandle) Find(key ir.Value) (ir.Struct, bool) {
	if h.state.meta.pk < 0 || key == nil {
		return nil, false
	}
	e, ok := h.state.lookup(key)
	if !ok {
		return nil, false
	}
	return e.row, true
}

// Count returns the number of rows visible to the transaction.
func (h *TableHandle) Count() uint64 {
	return uint64(h.state.rows.Len())
}

// Iter yields every row in insertion order. The sequence iterates a
// snapshot taken when iteration starts, so the caller may delete or update
// rows while iterating. It can be ranged over more than once.
func (h *TableHandle) Iter() iter.Seq[ir.Struct] {
	return func(yield func(ir.Struct) bool) {
		rows := h.state.rows.Clone()
		rows.Ascend(func(e rowEntry) bool {
			return yield(e.row)
		})
	}
}

// Index returns a handle on a declared index.
func (h *TableHandle) Index(name string) (*IndexHandle, error) {
	i, ok := h.state.index(name)
	if !ok {
		return nil, storeErrorf(CodeNoSuchIndex, h.name(), "unknown index %q", name)
	}
	return &IndexHandle{table: h, pos: i}, nil
}

// IndexOn returns the first index whose leading column is col.
func (h *TableHandle) IndexOn(col string) (*IndexHandle, bool) {
	pos := h.state.meta.def.ColumnIndex(col)
	if pos < 0 {
		return nil, false
	}
	for i, im := range h.state.meta.indexes {
		if im.cols[0] == pos {
			return &IndexHandle{table: h, pos: i}, true
		}
	}
	return nil, false
}

// IndexHandle scans one secondary index inside a transaction.
type IndexHandle struct {
	table *TableHandle
	pos   int
}

// Def returns the index declaration.
func (ix *IndexHandle) Def() schema.IndexDef {
	return ix.table.state.meta.indexes[ix.pos].def
}

// LeadingType returns the type of the index's leading column.
func (ix *IndexHandle) LeadingType() ir.Type {
	m := ix.table.state.meta
	return m.def.Columns[m.indexes[ix.pos].cols[0]].Type
}

// Filter yields the rows whose leading index column falls in r, ordered by
// index key ascending and then by insertion order. Like Iter, the sequence
// reads a snapshot taken when iteration starts and is restartable. Bounds
// of a different type than the leading column match nothing.
func (ix *IndexHandle) Filter(r Range) iter.Seq[ir.Struct] {
	return func(yield func(ir.Struct) bool) {
		if !ix.rangeTyped(r) {
			return
		}
		im := &ix.table.state.meta.indexes[ix.pos]
		tree := ix.table.state.indexes[ix.pos].Clone()
		rows := ix.table.state.rows.Clone()

		visit := func(e indexEntry) bool {
			lead := im.lead(e.key)
			if r.above(lead) {
				return false
			}
			if !r.Contains(lead) {
				return true
			}
			re, ok := rows.Get(rowEntry{id: e.id})
			if !ok {
				return true
			}
			return yield(re.row)
		}

		if lo, ok := r.lower(); ok {
			tree.AscendGreaterOrEqual(im.pivot(lo), visit)
			return
		}
		tree.Ascend(visit)
	}
}

// First returns the first row Filter would yield.
func (ix *IndexHandle) First(r Range) (ir.Struct, bool) {
	for row := range ix.Filter(r) {
		return row, true
	}
	return nil, false
}

func (ix *IndexHandle) rangeTyped(r Range) bool {
	want := ix.LeadingType().Kind
	lo, hi := r.Bounds()
	for _, b := range []ir.Value{lo, hi} {
		if b != nil && b.Kind() != want {
			return false
		}
	}
	return true
}

func describe(v ir.Value) string {
	return fmt.Sprintf("%v", v)
}
