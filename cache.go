package hybridcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/unkn0wn-root/hybridcache/bloom"
	c "github.com/unkn0wn-root/hybridcache/codec"
	gen "github.com/unkn0wn-root/hybridcache/genstore"
	"github.com/unkn0wn-root/hybridcache/internal/keys"
	pr "github.com/unkn0wn-root/hybridcache/provider"
	"github.com/unkn0wn-root/hybridcache/stats"
)

const (
	defaultLocalTTL     = 5 * time.Minute
	defaultRemoteTTL    = 30 * time.Minute
	defaultNegativeTTL  = time.Minute
	defaultLockTTL      = 10 * time.Second
	defaultGenRetention = 24 * time.Hour
	defaultSweep        = time.Hour

	// TTLs are stretched by up to this fraction so entries written together
	// do not expire together.
	jitterFraction = 10
	stripes        = 64
)

type lookupResult uint8

const (
	miss lookupResult = iota
	hit
	negative
)

type ttls struct {
	local, remote, negative time.Duration
}

type cache[V any] struct {
	ns       string
	local    pr.Provider
	remote   pr.Provider
	codec    c.Codec[V]
	lock     Locker
	filter   bloom.Filter
	sync     Synchronizer
	log      Logger
	hooks    Hooks
	gen      gen.GenStore
	stats    *stats.Stats
	enabled  bool
	hashKeys bool
	sliding  bool
	failFast bool
	negative bool

	defaults       ttls
	lockTTL        time.Duration
	computeSetCost SetCostFunc

	// local-tier mutations hold a stripe exclusively; backfills hold it shared
	// so the stamp check and the local write are one step.
	mu [stripes]sync.RWMutex
}

var _ Cache[struct{}] = (*cache[struct{}])(nil)

func newCache[V any](opts Options[V]) (*cache[V], error) {
	cc := &cache[V]{
		ns:       opts.Namespace,
		enabled:  !opts.Disabled,
		hashKeys: opts.HashKeys,
		sliding:  opts.SlidingRemoteTTL,
		failFast: opts.FailOnLockUnavailable,
		negative: !opts.DisableNegativeCaching,
		lock:     opts.Lock,
		sync:     opts.Sync,
		stats:    stats.New(),
	}
	if !opts.DisableLocal {
		cc.local = opts.Local
	}
	if !opts.DisableRemote {
		cc.remote = opts.Remote
	}
	if cc.enabled && cc.local == nil && cc.remote == nil {
		return nil, fmt.Errorf("hybridcache: at least one tier (local or remote) is required")
	}

	// defaults
	cc.codec = coalesce[c.Codec[V]](opts.Codec, c.JSON[V]{})
	cc.filter = coalesce[bloom.Filter](opts.Filter, bloom.Nop{})
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.defaults = ttls{
		local:    coalesce(opts.LocalTTL, defaultLocalTTL),
		remote:   coalesce(opts.RemoteTTL, defaultRemoteTTL),
		negative: coalesce(opts.NegativeTTL, defaultNegativeTTL),
	}
	cc.lockTTL = coalesce(opts.LockTTL, defaultLockTTL)

	if opts.ComputeSetCost != nil {
		cc.computeSetCost = opts.ComputeSetCost
	} else {
		cc.computeSetCost = func(string, []byte) int64 { return 1 }
	}

	if opts.GenStore != nil {
		cc.gen = opts.GenStore
	} else {
		cc.gen = gen.NewLocalGenStore(
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}
	return cc, nil
}

func (cc *cache[V]) Enabled() bool { return cc.enabled }

func (cc *cache[V]) Stats() stats.Metrics { return cc.stats.Snapshot() }

func (cc *cache[V]) Close(ctx context.Context) error {
	var errs []error
	if cc.gen != nil {
		_ = cc.gen.Close(ctx)
	}
	if cc.local != nil {
		errs = append(errs, cc.local.Close(ctx))
	}
	if cc.remote != nil {
		errs = append(errs, cc.remote.Close(ctx))
	}
	return errors.Join(errs...)
}

func (cc *cache[V]) GetOrCreate(ctx context.Context, key string, factory Factory[V], eo *EntryOptions) (V, bool, error) {
	var zero V
	if factory == nil {
		return zero, false, fmt.Errorf("hybridcache: nil factory for %q", key)
	}
	if !cc.enabled {
		return factory(ctx)
	}
	sk := cc.storageKey(key)
	t := cc.resolve(eo)
	cc.stats.Request()

	if cc.filter.Enabled() {
		present, err := cc.filter.Contains(ctx, sk)
		if err != nil {
			cc.hooks.FilterUncertain(sk, err)
		}
		if !present {
			cc.log.Debug("filter: definitely absent, skipping tiers", Fields{"key": sk})
			return cc.produce(ctx, key, sk, factory, t)
		}
	}

	if v, res := cc.lookup(ctx, sk, t); res == hit {
		return v, true, nil
	} else if res == negative {
		cc.stats.Miss()
		return zero, false, nil
	}

	if cc.lock != nil {
		resource := keys.LockResource(sk)
		l, locked, err := cc.lock.Acquire(ctx, resource, cc.lockTTL)
		if err != nil {
			return zero, false, err
		}
		if locked {
			defer func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cc.lockTTL)
				defer cancel()
				if err := cc.lock.Release(rctx, l); err != nil {
					cc.log.Warn("lock release failed", Fields{"key": sk, "err": err})
					cc.hooks.LockReleaseError(sk, err)
				}
			}()
		} else {
			cc.hooks.LockUnavailable(sk)
		}

		// whoever held the lock may have filled the tiers meanwhile
		if v, res := cc.lookup(ctx, sk, t); res == hit {
			return v, true, nil
		} else if res == negative {
			cc.stats.Miss()
			return zero, false, nil
		}
		if !locked && cc.failFast {
			return zero, false, ErrLockUnavailable
		}
	}
	return cc.produce(ctx, key, sk, factory, t)
}

// produce runs the factory and writes its result through both tiers. Write
// failures are reported to hooks and never fail the call.
func (cc *cache[V]) produce(ctx context.Context, key, sk string, factory Factory[V], t ttls) (V, bool, error) {
	var zero V
	v, ok, err := factory(ctx)
	if err != nil {
		return zero, false, err
	}
	cc.stats.Miss()

	switch {
	case ok:
		raw, err := cc.codec.Encode(v)
		if err != nil {
			return zero, false, fmt.Errorf("hybridcache: encode %q with %s: %w", sk, cc.codec.Name(), err)
		}
		cc.writeThrough(ctx, sk, raw, t.local, t.remote)
	case cc.negative:
		cc.writeThrough(ctx, sk, NegativeSentinel, t.negative, t.negative)
	default:
		return zero, false, nil
	}
	cc.stats.Set()

	if cc.filter.Enabled() {
		if err := cc.filter.Add(ctx, sk); err != nil {
			cc.log.Warn("filter add failed", Fields{"key": sk, "err": err})
		}
	}
	cc.publish(ctx, key)
	return v, ok, nil
}

func (cc *cache[V]) writeThrough(ctx context.Context, sk string, raw []byte, localTTL, remoteTTL time.Duration) {
	if err := cc.setLocal(ctx, sk, raw, localTTL); err != nil {
		cc.log.Warn("local write failed", Fields{"key": sk, "err": err})
		cc.hooks.TierWriteError(TierLocal, sk, err)
	}
	if err := cc.setRemote(ctx, sk, raw, remoteTTL); err != nil {
		cc.log.Warn("remote write failed", Fields{"key": sk, "err": err})
		cc.hooks.TierWriteError(TierRemote, sk, err)
	}
}

func (cc *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !cc.enabled {
		return zero, false, nil
	}
	cc.stats.Request()
	v, res := cc.lookup(ctx, cc.storageKey(key), cc.defaults)
	if res == hit {
		return v, true, nil
	}
	cc.stats.Miss()
	return zero, false, nil
}

// lookup reads local then remote. Tier errors degrade to a miss.
func (cc *cache[V]) lookup(ctx context.Context, sk string, t ttls) (V, lookupResult) {
	var zero V
	if cc.local != nil {
		raw, ok, err := cc.local.Get(ctx, sk)
		switch {
		case err != nil:
			cc.readError(TierLocal, sk, err)
		case ok && isNegative(raw):
			cc.hooks.NegativeHit(sk)
			return zero, negative
		case ok:
			v, err := cc.codec.Decode(raw)
			if err == nil {
				cc.stats.LocalHit()
				return v, hit
			}
			cc.log.Warn("local entry undecodable, dropping", Fields{"key": sk, "err": err})
			cc.hooks.SelfHeal(TierLocal, sk, "value_decode")
			_ = cc.evictStorageKey(ctx, sk)
		}
	}

	if cc.remote == nil {
		return zero, miss
	}
	snap, err := cc.gen.Snapshot(ctx, sk)
	if err != nil {
		cc.log.Warn("gen snapshot error", Fields{"key": sk, "err": err})
	}
	raw, ok, err := cc.getRemote(ctx, sk, t.remote)
	if err != nil {
		cc.readError(TierRemote, sk, err)
		return zero, miss
	}
	if !ok {
		return zero, miss
	}
	if isNegative(raw) {
		cc.hooks.NegativeHit(sk)
		cc.backfill(ctx, sk, raw, snap, t.negative)
		return zero, negative
	}
	v, err := cc.codec.Decode(raw)
	if err != nil {
		cc.log.Warn("remote entry undecodable, dropping", Fields{"key": sk, "err": err})
		cc.hooks.SelfHeal(TierRemote, sk, "value_decode")
		_ = cc.remote.Del(ctx, sk)
		return zero, miss
	}
	cc.stats.RemoteHit()
	cc.backfill(ctx, sk, raw, snap, t.local)
	return v, hit
}

func (cc *cache[V]) getRemote(ctx context.Context, sk string, ttl time.Duration) ([]byte, bool, error) {
	if cc.sliding {
		if r, ok := cc.remote.(pr.Refresher); ok {
			// cached absences keep their negative TTL
			return r.GetAndRefresh(ctx, sk, jitter(ttl), NegativeSentinel)
		}
	}
	return cc.remote.Get(ctx, sk)
}

// backfill copies a remote hit into the local tier unless the key was evicted
// locally after snap was taken.
func (cc *cache[V]) backfill(ctx context.Context, sk string, raw []byte, snap uint64, ttl time.Duration) {
	if cc.local == nil {
		return
	}
	mu := cc.stripe(sk)
	mu.RLock()
	defer mu.RUnlock()
	now, err := cc.gen.Snapshot(ctx, sk)
	if err != nil || now != snap {
		cc.log.Debug("backfill skipped, key evicted during remote read", Fields{"key": sk})
		cc.hooks.BackfillSkipped(sk)
		return
	}
	if _, err := cc.local.Set(ctx, sk, raw, cc.computeSetCost(sk, raw), jitter(ttl)); err != nil {
		cc.hooks.TierWriteError(TierLocal, sk, err)
	}
}

func (cc *cache[V]) Set(ctx context.Context, key string, value V, eo *EntryOptions) error {
	if !cc.enabled {
		return nil
	}
	sk := cc.storageKey(key)
	t := cc.resolve(eo)
	raw, err := cc.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("hybridcache: encode %q with %s: %w", sk, cc.codec.Name(), err)
	}

	var errs []error
	if err := cc.setLocal(ctx, sk, raw, t.local); err != nil {
		errs = append(errs, err)
	}
	if err := cc.setRemote(ctx, sk, raw, t.remote); err != nil {
		errs = append(errs, err)
	}
	if cc.filter.Enabled() {
		if err := cc.filter.Add(ctx, sk); err != nil {
			cc.log.Warn("filter add failed", Fields{"key": sk, "err": err})
		}
	}
	cc.stats.Set()
	cc.publish(ctx, key)
	return errors.Join(errs...)
}

// setLocal invalidates outstanding backfills for sk and writes raw.
func (cc *cache[V]) setLocal(ctx context.Context, sk string, raw []byte, ttl time.Duration) error {
	if cc.local == nil {
		return nil
	}
	mu := cc.stripe(sk)
	mu.Lock()
	defer mu.Unlock()
	if _, err := cc.gen.Bump(ctx, sk); err != nil {
		cc.log.Error("gen bump error", Fields{"key": sk, "err": err})
	}
	ok, err := cc.local.Set(ctx, sk, raw, cc.computeSetCost(sk, raw), jitter(ttl))
	if err != nil {
		return &TierError{Tier: TierLocal, Op: "set", Key: sk, Err: err}
	}
	if !ok {
		cc.log.Debug("local set rejected by provider (pressure)", Fields{"key": sk})
	}
	return nil
}

func (cc *cache[V]) setRemote(ctx context.Context, sk string, raw []byte, ttl time.Duration) error {
	if cc.remote == nil {
		return nil
	}
	if _, err := cc.remote.Set(ctx, sk, raw, 1, jitter(ttl)); err != nil {
		return &TierError{Tier: TierRemote, Op: "set", Key: sk, Err: err}
	}
	return nil
}

func (cc *cache[V]) Remove(ctx context.Context, key string) error {
	if !cc.enabled {
		return nil
	}
	sk := cc.storageKey(key)
	re := &RemoveError{Key: key}
	if err := cc.evictStorageKey(ctx, sk); err != nil {
		re.LocalErr = &TierError{Tier: TierLocal, Op: "del", Key: sk, Err: err}
	}
	if cc.remote != nil {
		if err := cc.remote.Del(ctx, sk); err != nil {
			re.RemoteErr = &TierError{Tier: TierRemote, Op: "del", Key: sk, Err: err}
		}
	}
	cc.stats.Remove()
	cc.publish(ctx, key)
	if re.LocalErr != nil || re.RemoteErr != nil {
		return re
	}
	return nil
}

func (cc *cache[V]) RemoveByPrefix(ctx context.Context, prefix string) error {
	if !cc.enabled {
		return nil
	}
	sp := keys.Prefix(cc.ns, prefix)
	re := &RemoveError{Key: prefix}
	if err := cc.evictStoragePrefix(ctx, sp); err != nil {
		re.LocalErr = &TierError{Tier: TierLocal, Op: "del_prefix", Key: sp, Err: err}
	}
	if cc.remote != nil {
		n, err := cc.remote.DelPrefix(ctx, sp)
		if err != nil {
			re.RemoteErr = &TierError{Tier: TierRemote, Op: "del_prefix", Key: sp, Err: err}
		} else {
			cc.log.Debug("removed by prefix", Fields{"prefix": sp, "remote": n})
		}
	}
	cc.stats.Remove()
	if cc.sync != nil {
		if err := cc.sync.PublishInvalidateByPrefix(ctx, prefix); err != nil {
			cc.hooks.PublishError(prefix, err)
		}
	}
	if re.LocalErr != nil || re.RemoteErr != nil {
		return re
	}
	return nil
}

func (cc *cache[V]) Exists(ctx context.Context, key string) (bool, error) {
	if !cc.enabled {
		return false, nil
	}
	sk := cc.storageKey(key)
	var errs []error
	if cc.local != nil {
		ok, err := cc.local.Exists(ctx, sk)
		if err == nil && ok {
			return true, nil
		}
		if err != nil {
			errs = append(errs, &TierError{Tier: TierLocal, Op: "exists", Key: sk, Err: err})
		}
	}
	if cc.remote != nil {
		ok, err := cc.remote.Exists(ctx, sk)
		if err == nil {
			return ok, nil
		}
		errs = append(errs, &TierError{Tier: TierRemote, Op: "exists", Key: sk, Err: err})
	}
	return false, errors.Join(errs...)
}

func (cc *cache[V]) EvictLocal(ctx context.Context, key string) error {
	return cc.evictStorageKey(ctx, cc.storageKey(key))
}

func (cc *cache[V]) EvictLocalPrefix(ctx context.Context, prefix string) error {
	return cc.evictStoragePrefix(ctx, keys.Prefix(cc.ns, prefix))
}

func (cc *cache[V]) evictStorageKey(ctx context.Context, sk string) error {
	if cc.local == nil {
		return nil
	}
	mu := cc.stripe(sk)
	mu.Lock()
	defer mu.Unlock()
	if _, err := cc.gen.Bump(ctx, sk); err != nil {
		cc.log.Error("gen bump error", Fields{"key": sk, "err": err})
	}
	return cc.local.Del(ctx, sk)
}

func (cc *cache[V]) evictStoragePrefix(ctx context.Context, sp string) error {
	if cc.local == nil {
		return nil
	}
	for i := range cc.mu {
		cc.mu[i].Lock()
	}
	defer func() {
		for i := range cc.mu {
			cc.mu[i].Unlock()
		}
	}()
	if _, err := cc.gen.BumpAll(ctx); err != nil {
		cc.log.Error("gen epoch bump error", Fields{"prefix": sp, "err": err})
	}
	n, err := cc.local.DelPrefix(ctx, sp)
	cc.log.Debug("local prefix evicted", Fields{"prefix": sp, "count": n})
	return err
}

func (cc *cache[V]) publish(ctx context.Context, key string) {
	if cc.sync == nil {
		return
	}
	if err := cc.sync.PublishInvalidate(ctx, key); err != nil {
		cc.hooks.PublishError(key, err)
	}
}

func (cc *cache[V]) readError(t Tier, sk string, err error) {
	cc.log.Warn("tier read failed, treating as miss", Fields{"tier": t.String(), "key": sk, "err": err})
	cc.hooks.TierReadError(t, sk, err)
}

func (cc *cache[V]) resolve(eo *EntryOptions) ttls {
	t := cc.defaults
	if eo == nil {
		return t
	}
	t.local = coalesce(eo.LocalTTL, t.local)
	t.remote = coalesce(eo.RemoteTTL, t.remote)
	t.negative = coalesce(eo.NegativeTTL, t.negative)
	return t
}

func (cc *cache[V]) storageKey(key string) string {
	return keys.Build(cc.ns, key, cc.hashKeys)
}

func (cc *cache[V]) stripe(sk string) *sync.RWMutex {
	return &cc.mu[murmur3.Sum32([]byte(sk))%stripes]
}

func isNegative(raw []byte) bool { return bytes.Equal(raw, NegativeSentinel) }

// jitter returns a duration in [ttl, ttl*1.1).
func jitter(ttl time.Duration) time.Duration {
	spread := int64(ttl) / jitterFraction
	if spread <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int64N(spread))
}
