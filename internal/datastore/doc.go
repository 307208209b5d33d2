// Package datastore implements the in-memory table store.
//
// Each table keeps three kinds of btree: rows by internal row id (insertion
// order), a unique identity tree (primary key, or the whole row for keyless
// tables) and one tree per secondary index. Begin clones every tree
// copy-on-write, so a transaction reads a stable snapshot and writes to its
// private copy without blocking other transactions.
//
// Commit is first-committer-wins: each transaction collects murmur3
// fingerprints of the row identities it writes, and fails with
// ErrTransactionConflict if a transaction that committed after it began
// wrote any of them. A successful commit replays the transaction's
// operations onto committed state and publishes a CommitEvent to listeners.
//
// Auto-increment sequences are shared by all snapshots of a table and are
// never rolled back, so values are not reused after an abort or a delete.
package datastore
