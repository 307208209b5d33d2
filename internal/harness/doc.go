// Package harness runs YAML test scenarios against a hosted module.
//
// A scenario names a registered module, drives it through reducer calls,
// view and procedure calls and scheduler time, and asserts on the final
// state. Every run uses a fresh engine with a manual clock, sequential
// transaction ids and an in-memory SQLite journal, so the same scenario
// always produces the same step records.
//
// # Scenario Format
//
//	name: scheduled_counts
//	description: "Counters advance once per firing"
//	module: integration          # default
//	redaction: none              # or private
//	setup:
//	  - call: start_integration_tests
//	steps:
//	  - advance: 1s              # move the clock, fire due reducers
//	  - view: test_option
//	    caller: anonymous
//	    expect_rows: 0
//	  - call: seed_default_row
//	  - proc: procedure_test_get_table_datatypes_row
//	    args: [1]
//	  - call: missing
//	    expect_error: NO_SUCH_REDUCER
//	assertions:
//	  - type: final_state
//	    table: test_scheduled_table
//	    where: {scheduled_id: 1}
//	    expect: {public_count: 1}
//
// # Assertion Types
//
//   - row_count: a table holds exactly count rows matching where
//   - final_state: some row matching where has the expected values
//   - view_rows: a view returns count rows, the first with the expected values
//   - journal_commits: the journal recorded exactly count commits
//
// Expected values compare against each column's canonical JSON, so enums
// are written as variant names and options as null or the value.
//
// # Golden Files
//
// RunWithGolden snapshots the step records, one JSON object per line, to
// testdata/golden/<name>.golden. Regenerate with go test -update.
package harness
