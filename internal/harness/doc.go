// Package harness runs live-query scenarios: a schema, seed writes, and a
// sequence of subscribe, write and expect steps, executed against a real
// Driver and storage adapter.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_c
//	description: "Index membership moves between keys"
//	backend: sqlite            # or bolt; default sqlite
//	schema:
//	  stores:
//	    items:
//	      key_path: id
//	      indexes:
//	        tag: {key_path: tag}
//	seed:
//	  - {op: put, store: items, data: {id: 1, tag: x}}
//	steps:
//	  - subscribe: {id: xs, store: items, index: tag, kind: getAllKeys, key: x}
//	  - expect: {view: xs, value: [1]}
//	  - write: {op: update, store: items, data: {id: 1, tag: y}}
//	  - expect: {view: xs, value: []}
//	  - expect_none: {view: xs}
//	assertions:
//	  - type: final_state
//	    store: items
//	    key: 1
//	    expect: {tag: y}
//
// A subscribe step selects a key with key, a range with range
// ({lower, upper, lower_open, upper_open}), or records with where (field
// equality, kind query). A write step with fails expects the write to fail
// with that error code.
//
// # Assertion Types
//
//   - final_state: reads the record at key after the last step and checks
//     the expected fields (subset match); expect: null asserts absence
//   - trace_count: counts trace entries of a type, optionally for one view
//
// # Deterministic Testing
//
// Request IDs come from a counter (req-1, req-2, ...) and sequence numbers
// from a fresh logical clock, and steps run one at a time, so a scenario
// produces the same trace on every run. Traces are compared against golden
// files with goldie.
package harness
