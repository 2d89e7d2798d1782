// Package graph is the object-store service: the façade the CLI and the
// merge engine call for every object and branch operation.
//
// # Critical Patterns
//
// All mutations follow one write discipline:
//
//  1. Validate the request shape (missing fields are VALIDATION_FAILED
//     before any lock is taken).
//  2. Acquire the in-process key lock: "obj|<canonical>" for patch,
//     delete and restore; "obj-upsert|<branch>|<type>|<key>" for create.
//     The lock closes the check/act race between resolution and insert.
//  3. Inside the lock, re-resolve the head through branch lineage. The
//     version id the caller read must still be the visible head, or the
//     write fails with CONFLICT.
//  4. Validate the resulting property tree against the schema registry.
//     Types without a registered schema pass unchecked.
//  5. Truncate oversized string values; retained full values ride along
//     into the same transaction as overflow rows.
//  6. Diff against the predecessor. An empty summary with unchanged
//     labels is a no-op: no row, no event, current head returned.
//  7. Append the immutable version row, then emit the change event. The
//     bus never blocks the caller.
//
// Object writes always land on the branch named in the request, never on
// the ancestor that currently owns the head. Editing an inherited object
// therefore copies it onto the requesting branch (version 1 locally, with
// a cross-branch predecessor pointer), which keeps every branch's history
// append-only and self-contained.
//
// Tombstones retain the properties they deleted so Restore can rebuild
// the object, but for hashing and diffing a deleted version counts as an
// empty tree. Content hashes and change summaries are always computed
// over the stored (truncated) form, so VerifyChains can recompute both
// from rows alone.
package graph
