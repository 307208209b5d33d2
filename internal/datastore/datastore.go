package datastore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

// ChangeKind classifies one row change in a commit.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is one row mutation. Old is nil for inserts, New is nil for deletes.
type Change struct {
	Table string
	Kind  ChangeKind
	Old   ir.Struct
	New   ir.Struct
}

// CommitEvent describes a committed transaction.
type CommitEvent struct {
	Version uint64
	TxID    string
	Origin  string // Reducer or procedure that ran the transaction
	Time    time.Time
	Changes []Change
}

// Listener observes commits. Listeners run synchronously under the commit
// lock, in commit order, and must not begin transactions.
type Listener func(CommitEvent)

// Datastore is an in-memory set of tables with snapshot-isolated
// transactions.
//
// Thread-safety model:
//   - Begin, BeginRead, Subscribe: safe from any goroutine
//   - a *Tx and its handles: one goroutine at a time
//   - Commit is serialized by the datastore lock
type Datastore struct {
	mu        sync.Mutex
	module    *schema.ModuleDef
	meta      map[string]*tableMeta
	committed map[string]*tableState
	version   uint64
	history   *commitHistory
	listeners []Listener
	now       func() time.Time
}

// Option configures a Datastore.
type Option func(*Datastore)

// WithClock sets the time source used to stamp commit events.
func WithClock(now func() time.Time) Option {
	return func(ds *Datastore) {
		ds.now = now
	}
}

// WithHistorySize bounds the number of commit write sets kept for conflict
// detection. Transactions that began before the retained window conflict.
func WithHistorySize(n int) Option {
	return func(ds *Datastore) {
		ds.history = newCommitHistory(n)
	}
}

// New creates an empty datastore for the module's tables.
// The module must pass validation.
func New(module *schema.ModuleDef, opts ...Option) (*Datastore, error) {
	if err := module.Check(); err != nil {
		return nil, err
	}

	ds := &Datastore{
		module:    module,
		meta:      make(map[string]*tableMeta, len(module.Tables)),
		committed: make(map[string]*tableState, len(module.Tables)),
		history:   newCommitHistory(0),
		now:       time.Now,
	}
	for i := range module.Tables {
		def := &module.Tables[i]
		m := newTableMeta(def)
		ds.meta[def.Name] = m
		ds.committed[def.Name] = newTableState(m)
	}

	for _, opt := range opts {
		opt(ds)
	}
	return ds, nil
}

// Module returns the module the datastore was built for.
func (ds *Datastore) Module() *schema.ModuleDef {
	return ds.module
}

// Subscribe registers a listener for future commits.
func (ds *Datastore) Subscribe(l Listener) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.listeners = append(ds.listeners, l)
}

// Version returns the version of the latest commit.
func (ds *Datastore) Version() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.version
}

// Sequence returns the last value allocated by a table's auto-increment
// sequence.
func (ds *Datastore) Sequence(table string) (uint64, error) {
	m, ok := ds.meta[table]
	if !ok {
		return 0, storeErrorf(CodeNoSuchTable, table, "unknown table")
	}
	return m.seq.Load(), nil
}

// AdvanceSequence moves a table's sequence forward to at least n. Used when
// restoring from a journal so values allocated by earlier runs are not
// reused.
func (ds *Datastore) AdvanceSequence(table string, n uint64) error {
	m, ok := ds.meta[table]
	if !ok {
		return storeErrorf(CodeNoSuchTable, table, "unknown table")
	}
	for {
		cur := m.seq.Load()
		if n <= cur || m.seq.CompareAndSwap(cur, n) {
			return nil
		}
	}
}

// TxOption annotates a transaction.
type TxOption func(*Tx)

// WithTxID sets the transaction id carried by the commit event.
func WithTxID(id string) TxOption {
	return func(tx *Tx) {
		tx.id = id
	}
}

// WithOrigin names the routine running the transaction.
func WithOrigin(origin string) TxOption {
	return func(tx *Tx) {
		tx.origin = origin
	}
}

// Begin starts a read-write transaction over a snapshot of committed state.
func (ds *Datastore) Begin(opts ...TxOption) *Tx {
	return ds.begin(false, opts)
}

// BeginRead starts a read-only transaction. Writes fail with ErrReadOnly.
func (ds *Datastore) BeginRead(opts ...TxOption) *Tx {
	return ds.begin(true, opts)
}

func (ds *Datastore) begin(readOnly bool, opts []TxOption) *Tx {
	ds.mu.Lock()
	tables := make(map[string]*tableState, len(ds.committed))
	for name, t := range ds.committed {
		tables[name] = t.clone()
	}
	version := ds.version
	ds.mu.Unlock()

	tx := &Tx{
		ds:       ds,
		version:  version,
		tables:   tables,
		writes:   make(map[uint64]struct{}),
		readOnly: readOnly,
	}
	for _, opt := range opts {
		opt(tx)
	}
	return tx
}

// commit applies tx's changes to committed state, or fails with
// TransactionConflict when a transaction that committed after tx began
// wrote one of the same rows.
func (ds *Datastore) commit(tx *Tx) (*CommitEvent, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.history.conflicts(tx.version, tx.writes) {
		slog.Debug("transaction conflict",
			"tx_id", tx.id,
			"origin", tx.origin,
			"begin_version", tx.version,
			"current_version", ds.version)
		return nil, storeErrorf(CodeTransactionConflict, "", "concurrent transaction wrote an overlapping row")
	}

	for _, op := range tx.ops {
		t := ds.committed[op.change.Table]
		switch op.change.Kind {
		case ChangeInsert:
			t.put(op.id, op.change.New)
		case ChangeUpdate:
			t.remove(op.id, op.change.Old)
			t.put(op.id, op.change.New)
		case ChangeDelete:
			t.remove(op.id, op.change.Old)
		}
	}

	ds.version++
	ds.history.append(ds.version, tx.writes)

	ev := CommitEvent{
		Version: ds.version,
		TxID:    tx.id,
		Origin:  tx.origin,
		Time:    ds.now(),
		Changes: make([]Change, len(tx.ops)),
	}
	for i, op := range tx.ops {
		ev.Changes[i] = op.change
	}

	slog.Debug("transaction committed",
		"tx_id", tx.id,
		"origin", tx.origin,
		"version", ev.Version,
		"changes", len(ev.Changes))

	for _, l := range ds.listeners {
		l(ev)
	}
	return &ev, nil
}
