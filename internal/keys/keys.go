package keys

import (
	"crypto/sha256"
	"encoding/hex"
)

// MaxPlain is the longest caller key stored verbatim when hashing is enabled.
const MaxPlain = 64

const lockPrefix = "lock:"

// Build joins namespace and key into the storage key used by both tiers.
// With hash set, keys longer than MaxPlain are replaced by "h:" + sha256 hex
// so oversized or binary keys stay bounded on the wire.
func Build(namespace, key string, hash bool) string {
	if hash && len(key) > MaxPlain {
		sum := sha256.Sum256([]byte(key))
		key = "h:" + hex.EncodeToString(sum[:])
	}
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// Prefix maps a caller prefix into storage-key space. Hashed keys never match
// a prefix, so prefix removal only reaches keys stored verbatim.
func Prefix(namespace, prefix string) string {
	if namespace == "" {
		return prefix
	}
	return namespace + ":" + prefix
}

// LockResource names the distributed-lock resource guarding a storage key.
func LockResource(storageKey string) string { return lockPrefix + storageKey }
