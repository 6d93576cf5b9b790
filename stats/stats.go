// Package stats counts cache outcomes with lock-free atomics.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time copy of the counters.
//
// Every lookup is a hit or a miss: a cached absence answers without the
// source but returns no value, so it counts as a miss. Sets counts every
// write to the tiers, whether from Set or from a factory result (cached
// absences included).
type Metrics struct {
	TotalRequests int64
	Hits          int64
	LocalHits     int64
	RemoteHits    int64
	Misses        int64
	Sets          int64
	Removes       int64
	// HitRate is Hits/(Hits+Misses) in [0,1]; 0 before any lookup.
	HitRate   float64
	StartTime time.Time
	EndTime   time.Time
}

type Stats struct {
	requests, hits, localHits, remoteHits, misses, sets, removes atomic.Int64

	mu    sync.RWMutex
	start time.Time
}

func New() *Stats { return &Stats{start: time.Now()} }

func (s *Stats) Request()   { s.requests.Add(1) }
func (s *Stats) LocalHit()  { s.hits.Add(1); s.localHits.Add(1) }
func (s *Stats) RemoteHit() { s.hits.Add(1); s.remoteHits.Add(1) }
func (s *Stats) Miss()      { s.misses.Add(1) }
func (s *Stats) Set()       { s.sets.Add(1) }
func (s *Stats) Remove()    { s.removes.Add(1) }

// Snapshot reads every counter. Counters move independently, so under load a
// snapshot may be off by in-flight operations.
func (s *Stats) Snapshot() Metrics {
	s.mu.RLock()
	start := s.start
	s.mu.RUnlock()
	m := Metrics{
		TotalRequests: s.requests.Load(),
		Hits:          s.hits.Load(),
		LocalHits:     s.localHits.Load(),
		RemoteHits:    s.remoteHits.Load(),
		Misses:        s.misses.Load(),
		Sets:          s.sets.Load(),
		Removes:       s.removes.Load(),
		StartTime:     start,
		EndTime:       time.Now(),
	}
	if n := m.Hits + m.Misses; n > 0 {
		m.HitRate = float64(m.Hits) / float64(n)
	}
	return m
}

// Reset zeroes the counters and restarts the window.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.start = time.Now()
	s.mu.Unlock()
	for _, c := range []*atomic.Int64{&s.requests, &s.hits, &s.localHits, &s.remoteHits, &s.misses, &s.sets, &s.removes} {
		c.Store(0)
	}
}
