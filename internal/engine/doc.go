// Package engine hosts a module: it runs reducers, views and procedures
// against the module's datastore and fires scheduled reducers.
//
// ARCHITECTURE:
//
// Routines are plain Go functions bound by name in a Registry. New checks
// the bindings against the module declaration, so a module never starts
// with a declared routine missing or an undeclared function registered.
//
// Call Flow:
//  1. CallReducer checks the arguments against the declared parameters
//  2. A fresh read-write transaction is opened with a generated tx id
//  3. The reducer runs; an error or panic aborts every write it made
//  4. The transaction commits; a write-write conflict reruns the reducer
//     up to the attempt budget, then fails with ATTEMPTS_EXHAUSTED
//
// Views run over a read-only snapshot and never fail a caller for an
// invalid query; they log and return no rows. Query-shaped views hand the
// host a query that is evaluated in the same snapshot.
//
// Procedures run outside any transaction and open one with WithTx.
//
// Scheduling:
//
// The Scheduler watches commits to scheduled tables. Its datastore
// listener only enqueues events, because listeners run under the commit
// lock; timer state is updated at the start and end of every Tick. Due
// timers fire on an ants worker pool.
//
// CRITICAL PATTERNS:
//
// Injected time: every timestamp comes from the engine Clock, so tests and
// scenarios drive reducers and the scheduler with a manual clock.
//
// No routine memory: routines keep nothing between calls. All state lives
// in tables.
package engine
