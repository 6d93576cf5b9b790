// Package asynchook moves hook callbacks off the cache's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    NegativeHitEvery: 100, // sample logs: ~every 100th cached absence
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := hybridcache.New[User](hybridcache.Options[User]{
//	    Namespace: "app:prod:user",
//	    Local:     local,
//	    Remote:    remote,
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/hybridcache"
)

type Hooks struct {
	inner   hybridcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ hybridcache.Hooks = (*Hooks)(nil)

func New(inner hybridcache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = hybridcache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events and waits for queued ones to run.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped counts events discarded because the queue was full or closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) TierReadError(t hybridcache.Tier, k string, err error) {
	h.try(func() { h.inner.TierReadError(t, k, err) })
}
func (h *Hooks) TierWriteError(t hybridcache.Tier, k string, err error) {
	h.try(func() { h.inner.TierWriteError(t, k, err) })
}
func (h *Hooks) SelfHeal(t hybridcache.Tier, k, r string) {
	h.try(func() { h.inner.SelfHeal(t, k, r) })
}
func (h *Hooks) NegativeHit(k string)               { h.try(func() { h.inner.NegativeHit(k) }) }
func (h *Hooks) LockUnavailable(k string)           { h.try(func() { h.inner.LockUnavailable(k) }) }
func (h *Hooks) BackfillSkipped(k string)           { h.try(func() { h.inner.BackfillSkipped(k) }) }
func (h *Hooks) LockReleaseError(k string, e error) { h.try(func() { h.inner.LockReleaseError(k, e) }) }
func (h *Hooks) FilterUncertain(k string, e error)  { h.try(func() { h.inner.FilterUncertain(k, e) }) }
func (h *Hooks) PublishError(k string, e error)     { h.try(func() { h.inner.PublishError(k, e) }) }
