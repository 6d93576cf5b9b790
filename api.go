package hybridcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/hybridcache/bloom"
	c "github.com/unkn0wn-root/hybridcache/codec"
	gen "github.com/unkn0wn-root/hybridcache/genstore"
	pr "github.com/unkn0wn-root/hybridcache/provider"
	"github.com/unkn0wn-root/hybridcache/redlock"
	"github.com/unkn0wn-root/hybridcache/stats"
)

// NegativeSentinel is stored in place of a value the source reported absent.
var NegativeSentinel = []byte("__NULL__")

// Factory loads a value from the source of truth. ok=false means the value
// does not exist and the absence is cached for NegativeTTL.
type Factory[V any] func(ctx context.Context) (v V, ok bool, err error)

type SetCostFunc func(storageKey string, raw []byte) int64

// Tier names a storage layer in errors and hooks.
type Tier uint8

const (
	TierLocal Tier = iota + 1
	TierRemote
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// EntryOptions override TTLs for a single call. Zero fields keep the
// cache-wide defaults; nil means all defaults.
type EntryOptions struct {
	LocalTTL    time.Duration
	RemoteTTL   time.Duration
	NegativeTTL time.Duration
}

// Cache is a read-through cache over a local and a remote tier.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	// GetOrCreate returns the cached value for key, or runs factory once per
	// cluster (under the lock, when configured) and caches its result.
	// found=false means the source reported the value absent.
	GetOrCreate(ctx context.Context, key string, factory Factory[V], opts *EntryOptions) (v V, found bool, err error)
	// Get reads local then remote, backfilling local on a remote hit.
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Set(ctx context.Context, key string, value V, opts *EntryOptions) error
	Remove(ctx context.Context, key string) error
	// RemoveByPrefix is atomic on the remote tier and best-effort locally.
	RemoveByPrefix(ctx context.Context, prefix string) error
	// Exists reports whether either tier holds an entry for key, cached
	// absences included.
	Exists(ctx context.Context, key string) (bool, error)

	// EvictLocal drops key from this process's local tier only.
	EvictLocal(ctx context.Context, key string) error
	EvictLocalPrefix(ctx context.Context, prefix string) error

	Stats() stats.Metrics
	Enabled() bool
	Close(context.Context) error
}

// Locker is the cluster-wide mutual exclusion used around the factory.
// *redlock.Redlock satisfies it.
type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (*redlock.Lock, bool, error)
	Release(ctx context.Context, l *redlock.Lock) error
}

// Synchronizer broadcasts local-tier invalidations. *cachesync.Synchronizer
// satisfies it.
type Synchronizer interface {
	PublishInvalidate(ctx context.Context, key string) error
	PublishInvalidateByPrefix(ctx context.Context, prefix string) error
}

// Options tune the behavior of the hybrid cache.
// At least one of Local and Remote is required; others have sensible defaults.
type Options[V any] struct {
	Namespace string // prepended to every key as "<ns>:"; optional

	Local  pr.Provider // nil => no local tier
	Remote pr.Provider // nil => no remote tier
	Codec  c.Codec[V]  // nil => codec.JSON[V]

	Lock   Locker       // nil => no stampede protection
	Filter bloom.Filter // nil => bloom.Nop
	Sync   Synchronizer // nil => no invalidation broadcast

	Logger   Logger       // if nil, NopLogger is used
	Hooks    Hooks        // if nil, NopHooks is used
	GenStore gen.GenStore // nil => LocalGenStore

	LocalTTL    time.Duration // 0 => 5m
	RemoteTTL   time.Duration // 0 => 30m
	NegativeTTL time.Duration // 0 => 1m
	LockTTL     time.Duration // 0 => 10s

	CleanupInterval time.Duration // gen store sweep; 0 => 1h
	GenRetention    time.Duration // 0 => 24h

	ComputeSetCost SetCostFunc // local tier cost; default 1

	Disabled               bool // pass-through: factories run, nothing is cached
	DisableLocal           bool
	DisableRemote          bool
	DisableNegativeCaching bool
	// HashKeys replaces keys longer than 64 bytes with their SHA-256.
	HashKeys bool
	// SlidingRemoteTTL refreshes the remote expiry on every remote hit when
	// the remote provider supports it.
	SlidingRemoteTTL bool
	// FailOnLockUnavailable makes GetOrCreate return ErrLockUnavailable
	// instead of running the factory unlocked.
	FailOnLockUnavailable bool
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
