// Package engine implements the reactive dependent-field and aggregate
// propagation engine for documents with nested repeating groups.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every mutation of a Document happens on one loop. Host inputs
// (SetValue, AddRow, RemoveRow, ToggleDeleted, LoadRow, Submit) are
// enqueued; reference-data fetches run on a Spawner and report back as
// EventFetchDone; debounce timers report back as EventTimer. The loop
// applies one event at a time and propagates its consequences before
// taking the next one.
//
// Propagation for one event:
//  1. The input is validated and applied (or rejected with a RuntimeError).
//  2. Changed fields are propagated breadth first: dependents re-resolve,
//     visibility rules re-evaluate, pool fields re-run the allocation guard.
//  3. Aggregates are scheduled on the coalescing scheduler. A burst of
//     triggers yields one bottom-up recomputation after the quiet period;
//     Submit flushes it synchronously.
//
// Last-write-wins:
// Every resolution takes a token from a logical Clock. A completion is
// applied only if its token is still the field's latest; superseded and
// reordered completions are counted and dropped.
//
// Wiring:
// Rows are wired once, when instantiated. Wiring registers the row's
// dependency edges and stores a disposer on the row; hard removal and Close
// call it. Nothing is rebound on later mutations.
package engine
