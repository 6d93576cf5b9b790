// Package provider defines the storage-tier abstraction used by hybridcache.
//
// A tier is a byte store with TTLs. Implementations MUST be byte-for-byte
// transparent: Get returns exactly the []byte previously passed to Set.
// The orchestrator stores codec payloads and the negative-cache sentinel
// verbatim, so any transform a store performs must be fully reversed.
//
// Two kinds of tiers exist: process-local (provider/ristretto,
// provider/bigcache) and remote (provider/redis). DelPrefix is atomic on the
// remote tier and best-effort on local tiers, because bounded in-memory caches
// cannot enumerate their keys natively. Each implementation documents how far
// its DelPrefix goes.
package provider

import (
	"context"
	"time"
)

// Provider must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	// May ignore cost if unsupported. Returns ok=false when the store
	// rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Exists reports whether key is currently stored.
	Exists(ctx context.Context, key string) (bool, error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// DelPrefix removes every key starting with prefix and returns how many
	// keys it removed.
	DelPrefix(ctx context.Context, prefix string) (int, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Refresher is implemented by tiers that can read a key and push its expiry
// forward in one atomic step (sliding expiration). A stored value equal to
// keep is returned with its expiry unchanged; nil keep refreshes everything.
type Refresher interface {
	GetAndRefresh(ctx context.Context, key string, ttl time.Duration, keep []byte) ([]byte, bool, error)
}
