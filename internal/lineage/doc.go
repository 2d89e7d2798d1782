// Package lineage resolves object visibility across branch ancestry.
//
// Every branch carries a precomputed ancestor closure written at creation
// time: (branch, ancestor, depth) rows with the branch itself at depth 0.
// Resolution walks the closure nearest-first and stops at the first branch
// that owns any local version of the object. A tombstone at that branch
// means the object is absent; a farther ancestor's live head never shows
// through, so deleted objects stay deleted on every descendant.
//
// Resolution by identity never returns an error for plain absence. Absence
// is a valid answer (nil head); errors are reserved for unknown branches
// and storage failures.
//
// Closures are immutable once written, which makes them safe to cache
// indefinitely. Databases predating closure rows are handled by a lazy
// fallback that walks parent pointers and logs the repair.
package lineage
