// Package redlock implements a quorum lock over N independent Redis endpoints.
//
// A lock is held when SET NX PX succeeded on a majority (N/2+1) of endpoints
// and the remaining validity, ttl minus a 1% clock-drift allowance minus the
// time spent acquiring, is still positive.
//
// Locks carry no fencing token. A holder paused past its validity (GC, network
// stall) can still act after another client took the lock; callers must treat
// the lock as an efficiency guard, not a correctness guarantee.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/hybridcache/log"
)

const (
	DefaultRetryCount  = 3
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultDriftFactor = 0.01
	DefaultKeyPrefix   = "redlock:"
)

var ErrNoClients = errors.New("redlock: at least one redis client is required")

// extendScript: KEYS[1]=lock key, ARGV[1]=token, ARGV[2]=ttl ms.
var extendScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript: KEYS[1]=lock key, ARGV[1]=token.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type Options struct {
	RetryCount  int           // total attempts; default 3
	RetryDelay  time.Duration // pause between attempts; default 200ms
	DriftFactor float64       // fraction of ttl reserved for clock drift; default 0.01
	KeyPrefix   string        // default "redlock:"
	Logger      log.Logger
}

// Lock is a held lock. It is not safe for concurrent Extend calls.
type Lock struct {
	Resource   string
	Token      string
	ValidUntil time.Time
}

func (l *Lock) IsValid() bool { return l != nil && time.Now().Before(l.ValidUntil) }

// Remaining is the validity left, zero once expired.
func (l *Lock) Remaining() time.Duration {
	if l == nil {
		return 0
	}
	if d := time.Until(l.ValidUntil); d > 0 {
		return d
	}
	return 0
}

type Redlock struct {
	clients []goredis.UniversalClient
	quorum  int
	retries int
	delay   time.Duration
	drift   float64
	prefix  string
	logger  log.Logger
}

func New(clients []goredis.UniversalClient, opts Options) (*Redlock, error) {
	if len(clients) == 0 {
		return nil, ErrNoClients
	}
	for i, c := range clients {
		if c == nil {
			return nil, fmt.Errorf("redlock: client %d is nil", i)
		}
	}
	r := &Redlock{
		clients: clients,
		quorum:  len(clients)/2 + 1,
		retries: opts.RetryCount,
		delay:   opts.RetryDelay,
		drift:   opts.DriftFactor,
		prefix:  opts.KeyPrefix,
		logger:  log.OrNop(opts.Logger),
	}
	if r.retries <= 0 {
		r.retries = DefaultRetryCount
	}
	if r.delay <= 0 {
		r.delay = DefaultRetryDelay
	}
	if r.drift <= 0 || r.drift >= 1 {
		r.drift = DefaultDriftFactor
	}
	if r.prefix == "" {
		r.prefix = DefaultKeyPrefix
	}
	return r, nil
}

func (r *Redlock) Quorum() int { return r.quorum }

func (r *Redlock) key(resource string) string { return r.prefix + resource }

// Acquire tries up to RetryCount times to take resource for ttl. A lock that
// could not be obtained is (nil, false, nil); err is only set when ctx ends
// first. Partial acquisitions are rolled back before each retry.
func (r *Redlock) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("redlock: ttl must be > 0, got %v", ttl)
	}
	token := uuid.NewString()
	key := r.key(resource)
	drift := time.Duration(float64(ttl) * r.drift)

	for attempt := 1; attempt <= r.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		start := time.Now()
		ok := r.fanOut(func(c goredis.UniversalClient) (bool, error) {
			return c.SetNX(ctx, key, token, ttl).Result()
		}, "acquire", resource)
		validity := ttl - drift - time.Since(start)

		if ok >= r.quorum && validity > 0 {
			r.logger.Debug("lock acquired", log.Fields{"resource": resource, "endpoints": ok, "attempt": attempt})
			return &Lock{Resource: resource, Token: token, ValidUntil: time.Now().Add(validity)}, true, nil
		}
		// an endpoint whose reply was lost may still hold the token
		_ = r.release(context.WithoutCancel(ctx), key, token, resource)
		if attempt == r.retries {
			break
		}
		t := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, false, ctx.Err()
		case <-t.C:
		}
	}
	r.logger.Warn("lock not acquired", log.Fields{"resource": resource, "attempts": r.retries})
	return nil, false, nil
}

// Extend pushes the expiry of a still-valid lock to ext from now on a quorum of
// endpoints. A token mismatch (the lock was lost) counts as a failed endpoint.
func (r *Redlock) Extend(ctx context.Context, l *Lock, ext time.Duration) (bool, error) {
	if l == nil {
		return false, errors.New("redlock: nil lock")
	}
	if !l.IsValid() {
		r.logger.Warn("cannot extend expired lock", log.Fields{"resource": l.Resource})
		return false, nil
	}
	key := r.key(l.Resource)
	ms := strconv.FormatInt(ext.Milliseconds(), 10)
	start := time.Now()
	ok := r.fanOut(func(c goredis.UniversalClient) (bool, error) {
		n, err := extendScript.Run(ctx, c, []string{key}, l.Token, ms).Int()
		return n == 1, err
	}, "extend", l.Resource)
	if ok < r.quorum {
		return false, ctx.Err()
	}
	l.ValidUntil = start.Add(ext - time.Duration(float64(ext)*r.drift))
	return true, nil
}

// Release deletes the lock on every endpoint that still holds this token.
// Endpoint failures are joined into the returned error.
func (r *Redlock) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	return r.release(ctx, r.key(l.Resource), l.Token, l.Resource)
}

func (r *Redlock) release(ctx context.Context, key, token, resource string) error {
	errs := make([]error, len(r.clients))
	var wg sync.WaitGroup
	for i, c := range r.clients {
		wg.Add(1)
		go func(i int, c goredis.UniversalClient) {
			defer wg.Done()
			if err := releaseScript.Run(ctx, c, []string{key}, token).Err(); err != nil {
				errs[i] = fmt.Errorf("endpoint %d: %w", i, err)
			}
		}(i, c)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("redlock: release %q: %w", resource, err)
	}
	return nil
}

// IsLocked reports whether a quorum of endpoints currently hold any token for
// resource.
func (r *Redlock) IsLocked(ctx context.Context, resource string) (bool, error) {
	key := r.key(resource)
	ok := r.fanOut(func(c goredis.UniversalClient) (bool, error) {
		n, err := c.Exists(ctx, key).Result()
		return n > 0, err
	}, "is_locked", resource)
	if ok >= r.quorum {
		return true, nil
	}
	return false, ctx.Err()
}

// fanOut runs op on every endpoint concurrently and counts successes.
func (r *Redlock) fanOut(op func(goredis.UniversalClient) (bool, error), name, resource string) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i, c := range r.clients {
		wg.Add(1)
		go func(i int, c goredis.UniversalClient) {
			defer wg.Done()
			got, err := op(c)
			if err != nil {
				r.logger.Debug("lock endpoint error", log.Fields{"op": name, "resource": resource, "endpoint": i, "err": err})
				return
			}
			if got {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i, c)
	}
	wg.Wait()
	return ok
}
