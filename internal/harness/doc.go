// Package harness executes YAML scenarios against the full versioning
// stack: a fresh in-memory store, the lineage resolver, the graph service
// and the merge engine, all wired with a deterministic clock and id
// sequence so repeated runs produce identical traces.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario demonstrates"
//	setup:
//	  - op: branch
//	    branch: main
//	  - op: write
//	    branch: main
//	    type: Doc
//	    key: k1
//	    props: { title: A }
//	flow:
//	  - op: patch
//	    branch: main
//	    ref: k1
//	    delta: { title: B }
//	  - op: merge
//	    target: main
//	    source: feature
//	    execute: true
//	    expect: { fast_forward: 1 }
//	assertions:
//	  - type: head_state
//	    branch: main
//	    ref: k1
//	    version: 2
//	    props: { title: B }
//
// Steps name branches by their scenario name and objects by a symbolic
// ref (defaulting to the write's key); the harness maps both to the ids
// the store generated. Setup steps must succeed. Flow steps may carry
// expect_error with a store error code (NOT_FOUND, CONFLICT,
// VALIDATION_FAILED) when the step is supposed to be rejected.
//
// # Operations
//
//   - branch: create a branch, optionally forked from parent
//   - write: create an object on a branch
//   - patch: merge-patch the branch-visible head of a ref
//   - delete: tombstone the branch-visible head
//   - restore: revive a tombstoned ref on a branch
//   - merge: classify or execute a branch merge, checking expected counts
//
// # Assertions
//
//   - head_state: the ref's visible head on a branch matches version,
//     props (subset) and labels (subset)
//   - head_absent: the ref has no visible head on a branch
//   - version_count: total stored rows for the ref across all branches
//   - provenance_count: merge parent edges of the ref's visible head
//
// # Golden Traces
//
// Every executed step appends one trace event. RunWithGolden serializes
// the trace as canonical JSON and compares it against
// testdata/golden/{name}.golden via goldie; run go test with -update to
// regenerate.
package harness
