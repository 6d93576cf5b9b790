// Package bloom implements the penetration guard: a bloom filter over every key
// the cache has ever produced a value (or a confirmed absence) for.
//
// A negative answer is definitive, so the orchestrator can skip both tiers for
// keys that were never written. Bits are append-only; only Clear resets them,
// which means removed keys keep testing positive until the filter is rebuilt.
package bloom

import (
	"errors"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// MaxBits is the largest bitmap a Redis string can address.
const MaxBits = uint64(1) << 32

// ErrUncertain marks a Contains answer that fell back to "maybe" because the
// backing store could not be read.
var ErrUncertain = errors.New("bloom: membership uncertain")

// Core holds the sizing of a filter and maps keys to bit positions. It keeps no
// bits itself; Redis and Local own storage.
type Core struct {
	n int64
	p float64
	m uint64
	k int
}

type Stats struct {
	ExpectedElements  int64
	FalsePositiveRate float64
	BitmapSize        uint64
	HashFunctions     int
	SetBits           int64
	// ApproximateCount estimates distinct keys added: -m*ln(1 - set/m)/k.
	ApproximateCount int64
}

// NewCore sizes a filter for n expected elements at false-positive rate p:
// m = ceil(-n*ln(p)/ln(2)^2) bits and k = round(m/n*ln(2)) hash functions.
func NewCore(n int64, p float64) (*Core, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bloom: expected elements must be > 0, got %d", n)
	}
	if !(p > 0 && p < 1) {
		return nil, fmt.Errorf("bloom: false positive rate must be in (0,1), got %v", p)
	}
	mf := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if mf > float64(MaxBits) {
		return nil, fmt.Errorf("bloom: %d elements at p=%v needs %.0f bits, max %d", n, p, mf, MaxBits)
	}
	m := uint64(mf)
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &Core{n: n, p: p, m: m, k: k}, nil
}

func (c *Core) Bits() uint64 { return c.m }
func (c *Core) K() int       { return c.k }

// Positions returns the k bit offsets for key using double hashing over two
// seeded murmur3 64-bit hashes.
func (c *Core) Positions(key string) []uint64 {
	return c.appendPositions(make([]uint64, 0, c.k), key)
}

func (c *Core) appendPositions(dst []uint64, key string) []uint64 {
	b := []byte(key)
	h1 := murmur3.Sum64WithSeed(b, 0)
	h2 := murmur3.Sum64WithSeed(b, uint32(h1))
	for i := 0; i < c.k; i++ {
		dst = append(dst, absMod(int64(h1+uint64(i)*h2), c.m))
	}
	return dst
}

func absMod(x int64, m uint64) uint64 {
	if x == math.MinInt64 {
		return uint64(1<<63) % m
	}
	if x < 0 {
		x = -x
	}
	return uint64(x) % m
}

func (c *Core) Stats(setBits int64) Stats {
	s := Stats{
		ExpectedElements:  c.n,
		FalsePositiveRate: c.p,
		BitmapSize:        c.m,
		HashFunctions:     c.k,
		SetBits:           setBits,
	}
	switch {
	case setBits <= 0:
	case uint64(setBits) >= c.m:
		s.ApproximateCount = math.MaxInt64
	default:
		m := float64(c.m)
		s.ApproximateCount = int64(-m * math.Log(1-float64(setBits)/m) / float64(c.k))
	}
	return s
}
