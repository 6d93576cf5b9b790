package cachesync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	keys     []string
	prefixes []string
}

func (r *recorder) EvictLocal(_ context.Context, key string) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return nil
}

func (r *recorder) EvictLocalPrefix(_ context.Context, prefix string) error {
	r.mu.Lock()
	r.prefixes = append(r.prefixes, prefix)
	r.mu.Unlock()
	return nil
}

func (r *recorder) hasKey(k string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.keys {
		if x == k {
			return true
		}
	}
	return false
}

func (r *recorder) hasPrefix(p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.prefixes {
		if x == p {
			return true
		}
	}
	return false
}

func newSync(t *testing.T, mr *miniredis.Miniredis) *Synchronizer {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s, err := New(Config{Client: rdb, Channel: "test:sync"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
		_ = rdb.Close()
	})
	return s
}

func TestMessageWireFormat(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	b, err := json.Marshal(Message{Type: InvalidateByPrefix, Key: "user:", Timestamp: ts})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"invalidate_prefix","key":"user:","timestamp":"2024-01-02T03:04:05.000000006Z"}`, string(b))
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestInvalidationReachesOtherSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	a, b := newSync(t, mr), newSync(t, mr)
	ctx := context.Background()

	recA, recB := &recorder{}, &recorder{}
	require.NoError(t, a.Start(ctx, recA))
	require.NoError(t, b.Start(ctx, recB))

	require.NoError(t, a.PublishInvalidate(ctx, "user:1"))
	require.NoError(t, a.PublishInvalidateByPrefix(ctx, "order:"))

	require.Eventually(t, func() bool { return recB.hasKey("user:1") && recB.hasPrefix("order:") },
		2*time.Second, 10*time.Millisecond)
	// the publisher hears its own messages too
	require.Eventually(t, func() bool { return recA.hasKey("user:1") }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return a.Stats().Published == 2 }, time.Second, 10*time.Millisecond)
}

func TestPublishSurvivesCallerCancellation(t *testing.T) {
	mr := miniredis.RunT(t)
	a, b := newSync(t, mr), newSync(t, mr)
	rec := &recorder{}
	require.NoError(t, b.Start(context.Background(), rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.PublishInvalidate(ctx, "k"))
	require.Eventually(t, func() bool { return rec.hasKey("k") }, 2*time.Second, 10*time.Millisecond)
}

func TestStaleMessagesIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	a, b := newSync(t, mr), newSync(t, mr)
	ctx := context.Background()
	rec := &recorder{}
	require.NoError(t, b.Start(ctx, rec))

	require.NoError(t, a.Publish(ctx, Message{Type: Invalidate, Key: "old", Timestamp: time.Now().Add(-2 * time.Minute)}))
	require.NoError(t, a.Publish(ctx, Message{Type: Invalidate, Key: "fresh"}))

	require.Eventually(t, func() bool { return rec.hasKey("fresh") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.hasKey("old"))
	assert.Equal(t, uint64(1), b.Stats().Stale)
}

func TestGarbageAndUnknownTypesIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newSync(t, mr)
	ctx := context.Background()
	rec := &recorder{}
	require.NoError(t, s.Start(ctx, rec))

	mr.Publish("test:sync", "not json")
	require.NoError(t, s.Publish(ctx, Message{Type: "rename", Key: "x"}))
	require.NoError(t, s.Publish(ctx, Message{Type: Invalidate, Key: "done"}))

	require.Eventually(t, func() bool { return rec.hasKey("done") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.hasKey("x"))
}

func TestStartTwiceAndAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newSync(t, mr)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrClosed)
	assert.ErrorIs(t, s.PublishInvalidate(ctx, "k"), ErrClosed)
}

func TestCloseDuringStartLeavesNoSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		s := newSync(t, mr)
		started := make(chan error, 1)
		go func() { started <- s.Start(ctx) }()
		require.NoError(t, s.Close(ctx))
		if err := <-started; err != nil {
			assert.ErrorIs(t, err, ErrClosed)
		}
	}
	assert.Eventually(t, func() bool { return mr.PubSubNumSub("test:sync")["test:sync"] == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestStartFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newSync(t, mr)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, s.Start(ctx))
}
