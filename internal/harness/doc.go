// Package harness runs conformance scenarios against the document engine.
//
// A scenario names a CUE form, the reference data the form sees, a list of
// steps and the assertions that must hold afterwards. The harness builds a
// real engine over an in-memory store seeded with the fixtures, with a manual
// spawner and manual timers: fetches complete and debounce timers fire only
// when a step says so, which makes out-of-order completions reproducible.
//
// # Scenario Format
//
//	name: receiving
//	description: "What this scenario validates"
//	form: ../forms/receiving.cue
//	fixtures:
//	  - endpoint: /api/varieties
//	    params: [{name: product, value: "1"}]
//	    body: [{id: 10, name: Hass}]
//	steps:
//	  - {op: set, path: product, value: "1"}
//	  - {op: fetch, order: last}
//	  - {op: add_row, path: pallets, reject: ROW_LIMIT}
//	  - {op: settle}
//	assertions:
//	  - {type: options, path: variety, values: ["10"]}
//	  - {type: change_count, path: variety, expect: reset, count: 1}
//
// # Steps
//
// Inputs: set, set_values, add_row, remove_row, toggle_deleted, load_row.
// Scheduling: fetch (order all|first|last), tick (advance or fire all),
// settle (until quiet) and submit. A step that is expected to be rejected
// names a substring of the error in reject; any other rejection fails the
// scenario.
//
// # Assertion Types
//
//   - value, values, options, disabled_options, state, hidden: final field view
//   - rows: rows of a group, optionally in one state
//   - change_count: emitted changes of a path, optionally of one cause
//   - rejected_count: rejected inputs
//   - stored_changes: change log rows persisted for a path
//   - submitted: a field value in the stored submission snapshot
//
// # Golden Traces
//
// RunWithGolden compares the trace (steps, changes, rejections) with
// testdata/golden/<name>.golden, one canonical JSON object per line.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
