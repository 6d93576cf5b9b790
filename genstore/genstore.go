// Package genstore tracks per-key invalidation stamps for the local tier.
//
// A reader snapshots the stamp for a key before a slow remote read and only
// backfills the local tier if the stamp is unchanged afterwards. Any eviction
// observed in between (a direct EvictLocal, or a broadcast from another node)
// bumps the stamp and the stale backfill is dropped.
package genstore

import (
	"context"
	"time"
)

type GenStore interface {
	// Snapshot returns the current stamp for key; an untouched key reports
	// the current prefix epoch (0 on a fresh store).
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump invalidates outstanding snapshots of key and returns the new stamp.
	Bump(ctx context.Context, key string) (uint64, error)
	// BumpAll invalidates outstanding snapshots of every key. Prefix evictions
	// use it since the affected keys are not enumerable up front.
	BumpAll(ctx context.Context) (uint64, error)
	// Cleanup prunes entries idle for longer than retention.
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
