// Package store provides SQLite-backed durable storage for the versioned
// object graph.
//
// The store implements an append-only version log with:
//   - Branches: named lines of work with parent lineage
//   - Branch Lineage: precomputed ancestor closure (branch, ancestor, depth)
//   - Object Versions: immutable property snapshots forming predecessor chains
//   - Merge Provenance: parent edges recording which versions fed a merge
//   - Value Overflow: verbatim oversized scalars, compressed and content-addressed
//
// # Critical Patterns
//
// Append-only versioning
//   - Object rows are never updated or deleted; every mutation inserts a row
//   - Deletes insert tombstone rows (deleted_at set) so history survives
//   - predecessor_id points backward and is written once at insert
//
// Head determination
//   - The branch-local head of an object is its row with the greatest seq
//   - seq is an AUTOINCREMENT logical clock; wall time is display-only
//   - version is a branch-local counter, UNIQUE(branch_id, canonical_id, version)
//
// Optimistic append
//   - AppendVersion re-checks the branch-local head inside the transaction
//     and fails with a CONFLICT error when it moved
//
// Deterministic query results
//   - All multi-row queries order by seq or by id COLLATE BINARY
//   - Ensures identical results across runs for golden traces
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Properties are stored as RFC 8785 canonical JSON TEXT; content hashes are
// computed via internal/canonical using SHA-256 with domain separation.
package store
