// Package canonical provides deterministic JSON serialization and
// content hashing for property trees.
//
// This package contains serialization and hashing only. All other internal
// packages may import canonical; canonical imports nothing internal. This
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - MarshalCanonical follows RFC 8785: UTF-16 key ordering, NFC-normalized
//     strings, no HTML escaping, shortest round-trip number form
//   - Equal trees always produce identical bytes, so hash equality is
//     tree equality
//   - Content hashes are SHA-256 with domain separation; large-value
//     digests are BLAKE3
package canonical
