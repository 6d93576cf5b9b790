package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/hybridcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	NegativeHitEvery     uint64
	BackfillSkippedEvery uint64
	LockUnavailableEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	negativeCtr atomic.Uint64
	backfillCtr atomic.Uint64
	lockCtr     atomic.Uint64
}

var _ hybridcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) TierReadError(t hybridcache.Tier, storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("hybridcache.tier_read_error",
		"tier", t.String(),
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) TierWriteError(t hybridcache.Tier, storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("hybridcache.tier_write_error",
		"tier", t.String(),
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) SelfHeal(t hybridcache.Tier, storageKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("hybridcache.self_heal",
		"tier", t.String(),
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) NegativeHit(storageKey string) {
	if h.l == nil || !sample(h.opts.NegativeHitEvery, &h.negativeCtr) {
		return
	}
	h.l.Debug("hybridcache.negative_hit",
		"key", h.redact(storageKey))
}

func (h *Hooks) LockUnavailable(storageKey string) {
	if h.l == nil || !sample(h.opts.LockUnavailableEvery, &h.lockCtr) {
		return
	}
	h.l.Info("hybridcache.lock_unavailable",
		"key", h.redact(storageKey))
}

func (h *Hooks) LockReleaseError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("hybridcache.lock_release_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) FilterUncertain(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("hybridcache.filter_uncertain",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) BackfillSkipped(storageKey string) {
	if h.l == nil || !sample(h.opts.BackfillSkippedEvery, &h.backfillCtr) {
		return
	}
	h.l.Debug("hybridcache.backfill_skipped",
		"key", h.redact(storageKey))
}

func (h *Hooks) PublishError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("hybridcache.publish_error",
		"key", h.redact(key),
		"err", err)
}
