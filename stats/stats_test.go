package stats

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHitRate(t *testing.T) {
	s := New()
	assert.Zero(t, s.Snapshot().HitRate)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Request()
			s.LocalHit()
			s.Request()
			s.RemoteHit()
			s.Request()
			s.Miss()
			s.Set()
		}()
	}
	wg.Wait()
	s.Remove()

	m := s.Snapshot()
	assert.Equal(t, int64(300), m.TotalRequests)
	assert.Equal(t, int64(200), m.Hits)
	assert.Equal(t, int64(100), m.LocalHits)
	assert.Equal(t, int64(100), m.RemoteHits)
	assert.Equal(t, int64(100), m.Misses)
	assert.Equal(t, int64(100), m.Sets)
	assert.Equal(t, int64(1), m.Removes)
	assert.InDelta(t, 2.0/3.0, m.HitRate, 1e-9)
	assert.False(t, m.EndTime.Before(m.StartTime))

	start := m.StartTime
	s.Reset()
	m = s.Snapshot()
	assert.Zero(t, m.TotalRequests)
	assert.Zero(t, m.Hits)
	assert.False(t, m.StartTime.Before(start))
}

func TestCollector(t *testing.T) {
	s := New()
	s.Request()
	s.LocalHit()
	s.Request()
	s.Miss()

	c := NewCollector("app", "users", s)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP app_cache_hits_total Lookups served from a tier.
# TYPE app_cache_hits_total counter
app_cache_hits_total{cache="users",tier="local"} 1
app_cache_hits_total{cache="users",tier="remote"} 0
# HELP app_cache_hit_ratio hits/(hits+misses) since start or last reset.
# TYPE app_cache_hit_ratio gauge
app_cache_hit_ratio{cache="users"} 0.5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "app_cache_hits_total", "app_cache_hit_ratio"))
	assert.Equal(t, 7, testutil.CollectAndCount(c))
}
