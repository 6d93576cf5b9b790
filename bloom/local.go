package bloom

import (
	"context"
	"math/bits"
	"sync/atomic"
)

// Local is an in-process filter for single-node deployments. Bits are set with
// CAS loops so concurrent Add and Contains need no lock.
type Local struct {
	core  *Core
	words []atomic.Uint64
}

var _ Filter = (*Local)(nil)

func NewLocal(expectedElements int64, falsePositiveRate float64) (*Local, error) {
	core, err := NewCore(expectedElements, falsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &Local{core: core, words: make([]atomic.Uint64, (core.m+63)/64)}, nil
}

func (f *Local) Core() *Core { return f.core }

func (f *Local) Add(_ context.Context, key string) error {
	for _, p := range f.core.Positions(key) {
		f.set(p)
	}
	return nil
}

func (f *Local) AddMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		_ = f.Add(ctx, k)
	}
	return nil
}

func (f *Local) set(p uint64) {
	w := &f.words[p/64]
	mask := uint64(1) << (p % 64)
	for {
		old := w.Load()
		if old&mask != 0 || w.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

func (f *Local) Contains(_ context.Context, key string) (bool, error) {
	for _, p := range f.core.Positions(key) {
		if f.words[p/64].Load()&(uint64(1)<<(p%64)) == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (f *Local) Clear(context.Context) error {
	for i := range f.words {
		f.words[i].Store(0)
	}
	return nil
}

func (f *Local) Stats(context.Context) (Stats, error) {
	var set int64
	for i := range f.words {
		set += int64(bits.OnesCount64(f.words[i].Load()))
	}
	return f.core.Stats(set), nil
}

func (f *Local) Enabled() bool { return true }
