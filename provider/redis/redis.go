package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/hybridcache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// delPrefixScript deletes every key matching ARGV[1] (an escaped glob ending in '*')
// inside one script so a concurrent writer cannot slip a key in between the scan
// and the delete. KEYS blocks the server for the duration; keep prefixes narrow.
// Not usable on Redis Cluster (keys are not declared up front).
var delPrefixScript = goredis.NewScript(`
local keys = redis.call('KEYS', ARGV[1])
local n = 0
for _, k in ipairs(keys) do
  n = n + redis.call('DEL', k)
end
return n
`)

// getAndRefreshScript: KEYS[1]=key, ARGV[1]=ttl in ms, ARGV[2]="1" when ARGV[3]
// is a value to leave untouched. Returns the value (or nil) and pushes its
// expiry forward when present and not excluded.
var getAndRefreshScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and (ARGV[2] ~= '1' or v ~= ARGV[3]) then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// Redis is the remote (shared) tier.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ pr.Provider  = (*Redis)(nil)
	_ pr.Refresher = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Client exposes the underlying client so the bloom filter, lock and
// synchronizer can share one connection pool with the tier.
func (p *Redis) Client() goredis.UniversalClient { return p.rdb }

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) GetAndRefresh(ctx context.Context, key string, ttl time.Duration, keep []byte) ([]byte, bool, error) {
	if ttl <= 0 {
		return p.Get(ctx, key)
	}
	skip := "0"
	if keep != nil {
		skip = "1"
	}
	s, err := getAndRefreshScript.Run(ctx, p.rdb, []string{key}, ttl.Milliseconds(), skip, keep).Text()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(s), true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0 // non-positive TTL => no expiry
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := p.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

func (p *Redis) DelPrefix(ctx context.Context, prefix string) (int, error) {
	n, err := delPrefixScript.Run(ctx, p.rdb, nil, escapeGlob(prefix)+"*").Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// escapeGlob quotes the characters KEYS treats as pattern syntax.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
