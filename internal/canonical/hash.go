package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// DomainObject prefixes object property hashes. The version suffix enables
// future algorithm migration.
const DomainObject = "loom/object/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ObjectHash computes the content hash of a property tree. Two trees hash
// equal exactly when their canonical JSON forms are byte-identical, so the
// store's no-op detection and the merge engine's Unchanged classification
// both reduce to string comparison.
// Returns an error if the tree cannot be canonically marshaled.
func ObjectHash(properties map[string]any) (string, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	data, err := MarshalCanonical(properties)
	if err != nil {
		return "", fmt.Errorf("ObjectHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainObject, data), nil
}

// MustObjectHash is like ObjectHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustObjectHash(properties map[string]any) string {
	h, err := ObjectHash(properties)
	if err != nil {
		panic(err)
	}
	return h
}

// ValueDigest computes the BLAKE3 digest of a raw value. Oversized scalars
// are replaced by their digest in stored property trees, and the overflow
// table is keyed by this digest (content addressing: identical values share
// one overflow row).
func ValueDigest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
