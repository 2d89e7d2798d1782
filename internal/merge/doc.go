// Package merge classifies and applies branch merges.
//
// A merge runs object by object over the union of live heads visible on
// the target and source branches. Each object lands in exactly one state:
//
//   - added: the source sees the object, the target does not, and the
//     object's key is free on the target.
//   - unchanged: both heads carry the same content hash, or the source
//     has no changes since the shared base.
//   - fast_forward: both changed, but the change paths measured from the
//     shared base do not overlap.
//   - conflict: the change paths overlap, no shared base version exists
//     to measure from, or an added object's key is already held by a
//     different object on the target.
//
// The shared base of an object is found on its version history, not on
// branch ancestry: the predecessor chains of the two heads are walked
// until they converge. Chains form a tree (every version has one
// predecessor), so the first version of the source chain that appears in
// the target chain is the nearest common version. Change summaries of the
// hops since that base are composed into one summary per side; overlap of
// the two composed summaries is what separates fast_forward from
// conflict. When the chains never converge there is nothing to measure
// from and the object fails safe to conflict.
//
// Conflicts are data, never errors. A dry run and an execute produce the
// same classification; execute additionally writes the qualifying added
// and fast_forward versions onto the target branch in one transaction and
// records merge provenance for each written version. Conflicting objects
// are left untouched and returned for a human to resolve.
package merge
