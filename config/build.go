package config

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/hybridcache"
	"github.com/unkn0wn-root/hybridcache/bloom"
	"github.com/unkn0wn-root/hybridcache/cachesync"
	"github.com/unkn0wn-root/hybridcache/codec"
	"github.com/unkn0wn-root/hybridcache/log"
	pr "github.com/unkn0wn-root/hybridcache/provider"
	"github.com/unkn0wn-root/hybridcache/provider/bigcache"
	redisprov "github.com/unkn0wn-root/hybridcache/provider/redis"
	"github.com/unkn0wn-root/hybridcache/provider/ristretto"
	"github.com/unkn0wn-root/hybridcache/redlock"
)

// UniversalOptions maps the section onto go-redis options.
func (r RedisConfig) UniversalOptions() *goredis.UniversalOptions {
	return &goredis.UniversalOptions{
		Addrs:        r.Addrs,
		MasterName:   r.MasterName,
		Username:     r.Username,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

// NewClient builds the client for the configured mode.
func (r RedisConfig) NewClient() (goredis.UniversalClient, error) {
	o := r.UniversalOptions()
	switch r.Mode {
	case ModeSingle:
		return goredis.NewClient(o.Simple()), nil
	case ModeSentinel:
		return goredis.NewFailoverClient(o.Failover()), nil
	case ModeCluster:
		return goredis.NewClusterClient(o.Cluster()), nil
	default:
		return nil, fmt.Errorf("config: unknown redis mode %q", r.Mode)
	}
}

// Components is the wired graph behind one cache. Build creates it, Apply
// hands it to Options, and Close tears down what the cache does not own.
type Components struct {
	Redis       goredis.UniversalClient
	LockClients []goredis.UniversalClient
	Local       pr.Provider
	Remote      pr.Provider
	Lock        *redlock.Redlock
	Filter      bloom.Filter
	Sync        *cachesync.Synchronizer

	extra []goredis.UniversalClient // lock endpoints we opened
}

func Build(cfg *Config, logger log.Logger) (*Components, error) {
	logger = log.OrNop(logger)
	comp := &Components{}
	fail := func(err error) (*Components, error) {
		_ = comp.Close(context.Background())
		if comp.Local != nil {
			_ = comp.Local.Close(context.Background())
		}
		return nil, err
	}

	if cfg.Local.Enabled {
		local, err := newLocal(cfg.Local)
		if err != nil {
			return fail(fmt.Errorf("config: local tier: %w", err))
		}
		comp.Local = local
	}

	if cfg.Bloom.Enabled && cfg.Bloom.InProcess {
		f, err := bloom.NewLocal(cfg.Bloom.ExpectedElements, cfg.Bloom.FalsePositiveRate)
		if err != nil {
			return fail(err)
		}
		comp.Filter = f
	}

	if !cfg.Redis.Enabled {
		return comp, nil
	}

	rdb, err := cfg.Redis.NewClient()
	if err != nil {
		return fail(err)
	}
	comp.Redis = rdb
	remote, err := redisprov.New(redisprov.Config{Client: rdb})
	if err != nil {
		return fail(err)
	}
	comp.Remote = remote

	if cfg.Lock.Enabled {
		comp.LockClients = []goredis.UniversalClient{rdb}
		if len(cfg.Lock.Addrs) > 0 {
			comp.LockClients = comp.LockClients[:0]
			for _, addr := range cfg.Lock.Addrs {
				c := goredis.NewClient(&goredis.Options{
					Addr:         addr,
					Username:     cfg.Redis.Username,
					Password:     cfg.Redis.Password,
					DialTimeout:  cfg.Redis.DialTimeout,
					ReadTimeout:  cfg.Redis.ReadTimeout,
					WriteTimeout: cfg.Redis.WriteTimeout,
				})
				comp.extra = append(comp.extra, c)
				comp.LockClients = append(comp.LockClients, c)
			}
		}
		comp.Lock, err = redlock.New(comp.LockClients, redlock.Options{
			RetryCount:  cfg.Lock.RetryCount,
			RetryDelay:  cfg.Lock.RetryDelay,
			DriftFactor: cfg.Lock.DriftFactor,
			Logger:      logger,
		})
		if err != nil {
			return fail(err)
		}
	}

	if cfg.Bloom.Enabled && !cfg.Bloom.InProcess {
		comp.Filter, err = bloom.NewRedis(bloom.RedisConfig{
			Client:            rdb,
			ExpectedElements:  cfg.Bloom.ExpectedElements,
			FalsePositiveRate: cfg.Bloom.FalsePositiveRate,
			KeyPrefix:         cfg.Bloom.KeyPrefix,
			Logger:            logger,
		})
		if err != nil {
			return fail(err)
		}
	}

	if cfg.Sync.Enabled && comp.Local != nil {
		comp.Sync, err = cachesync.New(cachesync.Config{
			Client:         rdb,
			Channel:        cfg.Sync.Channel,
			Logger:         logger,
			Workers:        cfg.Sync.Workers,
			QueueSize:      cfg.Sync.QueueSize,
			PublishTimeout: cfg.Sync.PublishTimeout,
			StaleAfter:     cfg.Sync.StaleAfter,
		})
		if err != nil {
			return fail(err)
		}
	}
	return comp, nil
}

func newLocal(l LocalConfig) (pr.Provider, error) {
	switch l.Provider {
	case LocalBigcache:
		return bigcache.New(bigcache.Config{
			LifeWindow:         l.LifeWindow,
			Shards:             l.Shards,
			HardMaxCacheSizeMB: l.HardMaxCacheSizeMB,
		})
	default:
		return ristretto.New(ristretto.Config{
			NumCounters: l.NumCounters,
			MaxCost:     l.MaxCost,
			BufferItems: l.BufferItems,
			Metrics:     l.Metrics,
			WaitOnSet:   l.WaitOnSet,
		})
	}
}

// Apply copies settings and components into o. Fields o already sets (Codec,
// Logger, Hooks, GenStore, ComputeSetCost) are left alone. After Apply the
// cache owns the tier providers. It fails when cfg names a codec NewCodec
// cannot build, which only happens for configs that skipped Validate.
func Apply[V any](cfg *Config, comp *Components, o *hybridcache.Options[V]) error {
	if o.Codec == nil {
		c, err := NewCodec[V](cfg.Codec)
		if err != nil {
			return err
		}
		o.Codec = c
	}
	o.Namespace = cfg.Namespace
	o.Disabled = !cfg.Enabled
	o.HashKeys = cfg.HashKeys
	o.LocalTTL = cfg.LocalTTL
	o.RemoteTTL = cfg.RemoteTTL
	o.NegativeTTL = cfg.NegativeTTL
	o.DisableNegativeCaching = !cfg.NegativeCaching
	o.SlidingRemoteTTL = cfg.SlidingRemoteTTL
	o.LockTTL = cfg.Lock.TTL
	o.FailOnLockUnavailable = cfg.Lock.FailOnUnavailable

	if comp == nil {
		return nil
	}
	o.Local = comp.Local
	o.Remote = comp.Remote
	if comp.Lock != nil {
		o.Lock = comp.Lock
	}
	if comp.Filter != nil {
		o.Filter = comp.Filter
	}
	if comp.Sync != nil {
		o.Sync = comp.Sync
	}
	return nil
}

// NewCodec returns the configured codec for V, size-limited when either
// limit is set. Protobuf needs a message constructor and is wired by hand.
func NewCodec[V any](cc CodecConfig) (codec.Codec[V], error) {
	var c codec.Codec[V]
	switch cc.Name {
	case CodecJSON, "":
		c = codec.JSON[V]{}
	case CodecMsgpack:
		c = codec.Msgpack[V]{UseJSONTags: cc.JSONTags}
	case CodecCBOR:
		cb, err := codec.NewCBOR[V](codec.CBOROptions{Deterministic: true})
		if err != nil {
			return nil, err
		}
		c = cb
	default:
		return nil, fmt.Errorf("config: unknown codec %q", cc.Name)
	}
	if cc.MaxDecodeBytes > 0 || cc.MaxEncodeBytes > 0 {
		c = codec.LimitCodec[V]{Inner: c, MaxEncode: cc.MaxEncodeBytes, MaxDecode: cc.MaxDecodeBytes}
	}
	return c, nil
}

// Close stops the synchronizer and closes every Redis client Build opened.
// Tier providers are closed by the cache.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if c.Sync != nil {
		errs = append(errs, c.Sync.Close(ctx))
	}
	for _, cl := range c.extra {
		errs = append(errs, cl.Close())
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
