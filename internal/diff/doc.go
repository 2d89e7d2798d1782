// Package diff computes structured, path-addressed differences between
// property trees.
//
// Paths are RFC 6901 JSON Pointers. The walk recurses only where both
// sides hold an object; arrays and scalars are leaves, and a node that is
// an object on one side only is recorded at the node itself rather than
// descended into. Conflict detection therefore works on the coarsest path
// where two edits could interact, and the overlap test treats a path and
// any of its descendants as overlapping.
//
// Summaries are what object versions carry in their change_summary column:
// they are computed once at write time against the version's predecessor
// and consumed later by merge classification without re-diffing. Compose
// folds a chain of per-version summaries into "changes since the shared
// base"; Apply replays one side's changes onto the other side's head
// during a fast-forward merge.
//
// The package also implements the oversized-scalar truncation policy:
// string leaves above a byte limit are replaced with digest nodes before
// hashing and storage, bounding row size while the verbatim value is kept
// in the store's overflow table.
package diff
