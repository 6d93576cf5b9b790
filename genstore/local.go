package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps stamps in-process.
//
// Every bump draws from one monotonic counter, so a stamp value is never
// reused: pruning an entry and bumping it again cannot recreate a stale
// snapshot. Snapshot reports max(key stamp, epoch).
type LocalGenStore struct {
	mu     sync.RWMutex
	gens   map[string]localGenEntry
	seq    uint64
	epoch  uint64
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{gens: make(map[string]localGenEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.gens[k]; ok && e.Gen > s.epoch {
		return e.Gen, nil
	}
	return s.epoch, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	s.seq++
	s.gens[k] = localGenEntry{Gen: s.seq, UpdatedAt: now}
	g := s.seq
	s.mu.Unlock()
	return g, nil
}

func (s *LocalGenStore) BumpAll(_ context.Context) (uint64, error) {
	s.mu.Lock()
	s.seq++
	s.epoch = s.seq
	g := s.seq
	s.mu.Unlock()
	return g, nil
}

// Cleanup drops idle entries and any entry already dominated by the epoch.
func (s *LocalGenStore) Cleanup(retention time.Duration) {
	var cutoff time.Time
	if retention > 0 {
		cutoff = time.Now().Add(-retention)
	}

	s.mu.Lock()
	for k, e := range s.gens {
		if e.Gen <= s.epoch || (retention > 0 && e.UpdatedAt.Before(cutoff)) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

// Len reports tracked keys.
func (s *LocalGenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *LocalGenStore) Close(_ context.Context) error {
	if s.stopCh != nil {
		close(s.stopCh)
		s.ticker.Stop()
		s.wg.Wait()
		s.stopCh = nil
	}
	return nil
}
