package bloom

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/hybridcache/log"
)

// addScript: KEYS[1]=bitmap, ARGV=positions. Returns how many bits flipped 0->1.
var addScript = goredis.NewScript(`
local n = 0
for i = 1, #ARGV do
  if redis.call('SETBIT', KEYS[1], tonumber(ARGV[i]), 1) == 0 then
    n = n + 1
  end
end
return n
`)

// containsScript: KEYS[1]=bitmap, ARGV=positions. 0 on the first unset bit, else 1.
var containsScript = goredis.NewScript(`
for i = 1, #ARGV do
  if redis.call('GETBIT', KEYS[1], tonumber(ARGV[i])) == 0 then
    return 0
  end
end
return 1
`)

const DefaultKeyPrefix = "bloomfilter"

// Redis keeps the bitmap in one Redis string shared by every process, so a key
// added on one node tests positive everywhere.
type Redis struct {
	rdb    goredis.UniversalClient
	core   *Core
	key    string
	logger log.Logger
}

var _ Filter = (*Redis)(nil)

type RedisConfig struct {
	Client            goredis.UniversalClient
	ExpectedElements  int64
	FalsePositiveRate float64
	KeyPrefix         string // bitmap lives at <KeyPrefix>:bitmap
	Logger            log.Logger
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, errors.New("bloom: nil redis client")
	}
	core, err := NewCore(cfg.ExpectedElements, cfg.FalsePositiveRate)
	if err != nil {
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{
		rdb:    cfg.Client,
		core:   core,
		key:    prefix + ":bitmap",
		logger: log.OrNop(cfg.Logger),
	}, nil
}

// Key returns the bitmap's Redis key.
func (f *Redis) Key() string { return f.key }

func (f *Redis) Core() *Core { return f.core }

func (f *Redis) Add(ctx context.Context, key string) error {
	return f.run(ctx, f.core.Positions(key), 1)
}

func (f *Redis) AddMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	pos := make([]uint64, 0, len(keys)*f.core.k)
	for _, k := range keys {
		pos = f.core.appendPositions(pos, k)
	}
	return f.run(ctx, pos, len(keys))
}

func (f *Redis) run(ctx context.Context, pos []uint64, nkeys int) error {
	if err := addScript.Run(ctx, f.rdb, []string{f.key}, toArgs(pos)...).Err(); err != nil {
		f.logger.Error("bloom add failed", log.Fields{"keys": nkeys, "err": err})
		return fmt.Errorf("bloom: add: %w", err)
	}
	return nil
}

func (f *Redis) Contains(ctx context.Context, key string) (bool, error) {
	n, err := containsScript.Run(ctx, f.rdb, []string{f.key}, toArgs(f.core.Positions(key))...).Int()
	if err != nil {
		f.logger.Warn("bloom contains failed, assuming present", log.Fields{"err": err})
		return true, fmt.Errorf("%w: %w", ErrUncertain, err)
	}
	return n == 1, nil
}

func (f *Redis) Clear(ctx context.Context) error {
	if err := f.rdb.Del(ctx, f.key).Err(); err != nil {
		return fmt.Errorf("bloom: clear: %w", err)
	}
	f.logger.Info("bloom filter cleared", log.Fields{"key": f.key})
	return nil
}

func (f *Redis) Stats(ctx context.Context) (Stats, error) {
	set, err := f.rdb.BitCount(ctx, f.key, nil).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("bloom: stats: %w", err)
	}
	return f.core.Stats(set), nil
}

func (f *Redis) Enabled() bool { return true }

func toArgs(pos []uint64) []any {
	args := make([]any, len(pos))
	for i, p := range pos {
		args[i] = p
	}
	return args
}
