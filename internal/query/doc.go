// Package query provides the predicate tree used by views, the CLI and the
// journal mirror.
//
// ARCHITECTURE:
//
// A query is a Select over one table with an optional Predicate filter:
//
//	[builder / CLI flags] → [Select] → [Evaluate over datastore.Tx]
//	                                 → [querysql over the journal mirror]
//
// Predicates:
//   - Compare: field <op> literal, op in eq ne lt le gt ge
//   - And, Or, Not
//
// SEALED INTERFACES:
//
// Predicate is sealed with a marker method on pointer receivers. Only
// *Compare, *And, *Or and *Not implement it, so evaluators and compilers
// switch exhaustively and reject anything else.
//
// PLANNING:
//
// When the filter is a comparison on the leading column of a btree index,
// or an And containing one, Evaluate scans that index range and returns
// rows in index order. Otherwise it scans the table in insertion order. The
// whole filter is applied to every scanned row either way.
//
// Invalid queries (unknown table or column, literal of the wrong type,
// unknown operator) fail validation before any row is read, so callers
// never see a partial result.
package query
