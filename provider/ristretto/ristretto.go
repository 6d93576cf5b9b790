package ristretto

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/hybridcache/provider"
)

// Provider is the default local tier: a bounded TinyLFU cache.
//
// Ristretto hashes keys and cannot enumerate them, so DelPrefix walks a side
// index of keys this provider wrote. Entries leave the index on Del and on
// eviction/rejection callbacks; expired entries linger until the next sweep
// touches them. That makes DelPrefix best-effort: it removes every live key it
// knows about, and a key it missed has already been evicted or expired.
type Provider struct {
	c    *rc.Cache
	keys sync.Map // key -> *entry currently believed to be stored
	wait bool
}

var _ pr.Provider = (*Provider)(nil)

type entry struct {
	key string
	val []byte
}

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// WaitOnSet blocks Set until the write is visible to Get. Ristretto applies
	// writes through a buffer; without this a Get right after Set may miss.
	WaitOnSet bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	p := &Provider{wait: cfg.WaitOnSet}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		OnEvict:     p.forget,
		OnReject:    p.forget,
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) forget(item *rc.Item) {
	if e, ok := item.Value.(*entry); ok {
		p.keys.CompareAndDelete(e.key, e)
	}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	e, _ := v.(*entry)
	if e == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		p.keys.Delete(key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if cost <= 0 {
		cost = 1
	}
	e := &entry{key: key, val: value}
	p.keys.Store(key, e)
	ok := p.c.SetWithTTL(key, e, cost, ttl)
	if !ok {
		p.keys.CompareAndDelete(key, e)
		return false, nil
	}
	if p.wait {
		p.c.Wait()
	}
	return true, nil
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	_, ok := p.c.Get(key)
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	p.keys.Delete(key)
	return nil
}

func (p *Provider) DelPrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	p.keys.Range(func(k, _ any) bool {
		key := k.(string)
		if strings.HasPrefix(key, prefix) {
			p.c.Del(key)
			p.keys.Delete(key)
			n++
		}
		return true
	})
	return n, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's own counters when Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
