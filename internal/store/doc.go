// Package store provides the SQLite commit journal for a datastore.
//
// The journal keeps:
//   - Commits: one record per committed transaction (version, tx id, origin)
//   - Row ops: the row changes of each commit, as canonical JSON and as
//     snappy-compressed binary rows
//   - Row mirror: the current row set, updated in place so each row keeps
//     the seq of its first insert
//   - Sequences: auto-increment high-water marks
//
// # Ordering
//
//   - Every query includes ORDER BY on seq or ordinal, never timestamps
//   - Mirror order equals datastore insertion order, so Restore rebuilds
//     tables whose iteration order matches the process that wrote them
//
// # Durability model
//
// The in-memory datastore is authoritative. Attach journals commits from a
// listener after they are published; a journal write that fails is logged
// and does not undo the commit. Restore is the only path from the journal
// back into a datastore.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
