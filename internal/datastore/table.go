package datastore

import (
	"sync/atomic"

	"github.com/google/btree"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

const btreeDegree = 32

// rowEntry stores a row under its internal row id. Row ids are allocated in
// insertion order and survive updates, so ascending row id is insertion order.
type rowEntry struct {
	id  uint64
	row ir.Struct
}

// keyEntry maps a row identity (primary key, or the full row for keyless
// tables) to its row id.
type keyEntry struct {
	key ir.Value
	id  uint64
}

// indexEntry is one secondary index entry. Keys are not unique; ties are
// broken by row id.
type indexEntry struct {
	key ir.Value
	id  uint64
}

func lessRow(a, b rowEntry) bool { return a.id < b.id }

func lessKey(a, b keyEntry) bool { return ir.Compare(a.key, b.key) < 0 }

func lessIndex(a, b indexEntry) bool {
	if c := ir.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

// tableMeta is shared by every snapshot of a table. Sequences live here so
// allocations are never rolled back.
type tableMeta struct {
	def     *schema.TableDef
	rowType ir.Type
	pk      int // -1 when keyless
	pkType  ir.Type
	indexes []indexMeta
	seq     atomic.Uint64
	nextRow atomic.Uint64
}

type indexMeta struct {
	def  schema.IndexDef
	cols []int
}

// key extracts the index key: the column value for single column indexes,
// a Struct of the column values for composite ones.
func (im *indexMeta) key(row ir.Struct) ir.Value {
	if len(im.cols) == 1 {
		return row[im.cols[0]]
	}
	k := make(ir.Struct, len(im.cols))
	for i, c := range im.cols {
		k[i] = row[c]
	}
	return k
}

// lead returns the leading column of an index key.
func (im *indexMeta) lead(key ir.Value) ir.Value {
	if len(im.cols) == 1 {
		return key
	}
	return key.(ir.Struct)[0]
}

// pivot builds the smallest index entry whose leading column equals v.
func (im *indexMeta) pivot(v ir.Value) indexEntry {
	if len(im.cols) == 1 {
		return indexEntry{key: v}
	}
	return indexEntry{key: ir.Struct{v}}
}

func newTableMeta(def *schema.TableDef) *tableMeta {
	m := &tableMeta{
		def:     def,
		rowType: def.RowType(),
		pk:      def.PrimaryKeyIndex(),
	}
	if m.pk >= 0 {
		m.pkType = def.Columns[m.pk].Type
	}
	for _, idx := range def.Indexes {
		im := indexMeta{def: idx}
		for _, c := range idx.Columns {
			im.cols = append(im.cols, def.ColumnIndex(c))
		}
		m.indexes = append(m.indexes, im)
	}
	return m
}

// identity returns the value that uniquely identifies row in its table.
func (m *tableMeta) identity(row ir.Struct) ir.Value {
	if m.pk >= 0 {
		return row[m.pk]
	}
	return row
}

// fingerprint hashes a row identity for the write set.
func (m *tableMeta) fingerprint(identity ir.Value) (uint64, error) {
	if m.pk >= 0 {
		data, err := ir.Encode(m.pkType, identity)
		if err != nil {
			return 0, err
		}
		return ir.Fingerprint(ir.DomainPrimaryKey, m.def.Name, data), nil
	}
	data, err := ir.Encode(m.rowType, identity)
	if err != nil {
		return 0, err
	}
	return ir.Fingerprint(ir.DomainRow, m.def.Name, data), nil
}

// allocate returns the next auto-increment value.
func (m *tableMeta) allocate() (ir.Value, error) {
	n := m.seq.Add(1)
	v, err := ir.IntegerOf(m.pkType.Kind, n)
	if err != nil {
		return nil, storeErrorf(CodeSequenceExhausted, m.def.Name, "%v", err)
	}
	return v, nil
}

// observe advances the sequence past an explicitly supplied key so later
// allocations never collide with it.
func (m *tableMeta) observe(key ir.Value) {
	n, ok := ir.Uint64Of(key)
	if !ok {
		return
	}
	for {
		cur := m.seq.Load()
		if n <= cur || m.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}

// tableState is one snapshot of a table's trees. The committed state and
// every open transaction hold their own tableState; Begin clones the trees
// copy-on-write.
type tableState struct {
	meta    *tableMeta
	rows    *btree.BTreeG[rowEntry]
	keys    *btree.BTreeG[keyEntry]
	indexes []*btree.BTreeG[indexEntry]
}

func newTableState(meta *tableMeta) *tableState {
	t := &tableState{
		meta: meta,
		rows: btree.NewG(btreeDegree, lessRow),
		keys: btree.NewG(btreeDegree, lessKey),
	}
	for range meta.indexes {
		t.indexes = append(t.indexes, btree.NewG(btreeDegree, lessIndex))
	}
	return t
}

// clone must not run concurrently with other clones or writes of t.
func (t *tableState) clone() *tableState {
	c := &tableState{
		meta: t.meta,
		rows: t.rows.Clone(),
		keys: t.keys.Clone(),
	}
	for _, idx := range t.indexes {
		c.indexes = append(c.indexes, idx.Clone())
	}
	return c
}

func (t *tableState) lookup(identity ir.Value) (rowEntry, bool) {
	k, ok := t.keys.Get(keyEntry{key: identity})
	if !ok {
		return rowEntry{}, false
	}
	return t.rows.Get(rowEntry{id: k.id})
}

func (t *tableState) put(id uint64, row ir.Struct) {
	t.rows.ReplaceOrInsert(rowEntry{id: id, row: row})
	t.keys.ReplaceOrInsert(keyEntry{key: t.meta.identity(row), id: id})
	for i := range t.meta.indexes {
		t.indexes[i].ReplaceOrInsert(indexEntry{key: t.meta.indexes[i].key(row), id: id})
	}
}

func (t *tableState) remove(id uint64, row ir.Struct) {
	t.rows.Delete(rowEntry{id: id})
	t.keys.Delete(keyEntry{key: t.meta.identity(row)})
	for i := range t.meta.indexes {
		t.indexes[i].Delete(indexEntry{key: t.meta.indexes[i].key(row), id: id})
	}
}

func (t *tableState) index(name string) (int, bool) {
	for i, im := range t.meta.indexes {
		if im.def.Name == name {
			return i, true
		}
	}
	return 0, false
}
