package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cluster(t *testing.T, n int) ([]*miniredis.Miniredis, []goredis.UniversalClient) {
	t.Helper()
	servers := make([]*miniredis.Miniredis, n)
	clients := make([]goredis.UniversalClient, n)
	for i := range servers {
		servers[i] = miniredis.RunT(t)
		c := goredis.NewClient(&goredis.Options{Addr: servers[i].Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
		t.Cleanup(func() { _ = c.Close() })
		clients[i] = c
	}
	return servers, clients
}

func TestNewValidatesClients(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrNoClients)

	_, clients := cluster(t, 1)
	_, err = New([]goredis.UniversalClient{clients[0], nil}, Options{})
	assert.Error(t, err)
}

func TestQuorumArithmetic(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 3} {
		_, clients := cluster(t, n)
		rl, err := New(clients, Options{})
		require.NoError(t, err)
		assert.Equal(t, want, rl.Quorum(), "n=%d", n)
	}
}

func TestAcquireNeedsMajority(t *testing.T) {
	cases := []struct {
		name     string
		occupied int
		want     bool
	}{
		{"all free", 0, true},
		{"one taken", 1, true},
		{"two taken", 2, false},
		{"all taken", 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			servers, clients := cluster(t, 3)
			for i := 0; i < tc.occupied; i++ {
				require.NoError(t, servers[i].Set("redlock:res", "someone-else"))
			}
			rl, err := New(clients, Options{RetryCount: 1})
			require.NoError(t, err)

			l, ok, err := rl.Acquire(context.Background(), "res", 5*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
			if !ok {
				assert.Nil(t, l)
				// partial acquisitions are rolled back
				for i := tc.occupied; i < 3; i++ {
					assert.False(t, servers[i].Exists("redlock:res"), "endpoint %d kept a stray lock", i)
				}
				for i := 0; i < tc.occupied; i++ {
					v, _ := servers[i].Get("redlock:res")
					assert.Equal(t, "someone-else", v)
				}
				return
			}
			assert.True(t, l.IsValid())
			assert.LessOrEqual(t, l.Remaining(), 5*time.Second-50*time.Millisecond)
		})
	}
}

func TestAcquireSucceedsWithMinorityDown(t *testing.T) {
	servers, clients := cluster(t, 3)
	servers[2].Close()
	rl, err := New(clients, Options{RetryCount: 1})
	require.NoError(t, err)

	_, ok, err := rl.Acquire(context.Background(), "res", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireIsExclusive(t *testing.T) {
	_, clients := cluster(t, 3)
	rl, err := New(clients, Options{RetryCount: 2, RetryDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	first, ok, err := rl.Acquire(ctx, "res", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = rl.Acquire(ctx, "res", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rl.Release(ctx, first))
	second, ok, err := rl.Acquire(ctx, "res", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestRetryWaitHonoursCancellation(t *testing.T) {
	servers, clients := cluster(t, 1)
	require.NoError(t, servers[0].Set("redlock:res", "held"))
	rl, err := New(clients, Options{RetryCount: 10, RetryDelay: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, ok, err := rl.Acquire(ctx, "res", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// lostReply applies SET commands on the server but reports a timeout.
type lostReply struct{}

func (lostReply) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (lostReply) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if err := next(ctx, cmd); err != nil || cmd.Name() != "set" {
			return err
		}
		err := errors.New("i/o timeout")
		cmd.SetErr(err)
		return err
	}
}

func (lostReply) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

var _ goredis.Hook = lostReply{}

func TestFailedAttemptReleasesUnconfirmedEndpoints(t *testing.T) {
	servers, clients := cluster(t, 1)
	clients[0].AddHook(lostReply{})
	rl, err := New(clients, Options{RetryCount: 1})
	require.NoError(t, err)

	l, ok, err := rl.Acquire(context.Background(), "res", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, l)
	assert.False(t, servers[0].Exists("redlock:res"), "lock left behind by a lost reply")
}

func TestReleaseOnlyDeletesOwnToken(t *testing.T) {
	servers, clients := cluster(t, 3)
	rl, err := New(clients, Options{RetryCount: 1})
	require.NoError(t, err)
	ctx := context.Background()

	l, ok, err := rl.Acquire(ctx, "res", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// another holder took over endpoint 0 after our lock expired there
	servers[0].Set("redlock:res", "intruder")

	require.NoError(t, rl.Release(ctx, l))
	v, err := servers[0].Get("redlock:res")
	require.NoError(t, err)
	assert.Equal(t, "intruder", v)
	assert.False(t, servers[1].Exists("redlock:res"))
	assert.False(t, servers[2].Exists("redlock:res"))

	assert.NoError(t, rl.Release(ctx, nil))
}

func TestReleaseReportsEndpointFailures(t *testing.T) {
	servers, clients := cluster(t, 3)
	rl, err := New(clients, Options{RetryCount: 1})
	require.NoError(t, err)
	ctx := context.Background()

	l, ok, err := rl.Acquire(ctx, "res", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	servers[1].Close()
	assert.Error(t, rl.Release(ctx, l))
	assert.False(t, servers[0].Exists("redlock:res"))
}

func TestExtend(t *testing.T) {
	servers, clients := cluster(t, 3)
	rl, err := New(clients, Options{RetryCount: 1})
	require.NoError(t, err)
	ctx := context.Background()

	l, ok, err := rl.Acquire(ctx, "res", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.Extend(ctx, l, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, l.Remaining(), 5*time.Second)
	assert.Greater(t, servers[0].TTL("redlock:res"), 5*time.Second)

	// token mismatch on a majority: lock lost
	servers[0].Set("redlock:res", "other")
	servers[1].Set("redlock:res", "other")
	ok, err = rl.Extend(ctx, l, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	expired := &Lock{Resource: "res", Token: l.Token, ValidUntil: time.Now().Add(-time.Second)}
	ok, err = rl.Extend(ctx, expired, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = rl.Extend(ctx, nil, time.Second)
	assert.Error(t, err)
}

func TestIsLocked(t *testing.T) {
	servers, clients := cluster(t, 3)
	rl, err := New(clients, Options{RetryCount: 1})
	require.NoError(t, err)
	ctx := context.Background()

	locked, err := rl.IsLocked(ctx, "res")
	require.NoError(t, err)
	assert.False(t, locked)

	servers[0].Set("redlock:res", "x")
	locked, _ = rl.IsLocked(ctx, "res")
	assert.False(t, locked, "one of three is not a quorum")

	servers[1].Set("redlock:res", "x")
	locked, _ = rl.IsLocked(ctx, "res")
	assert.True(t, locked)
}

func TestCustomKeyPrefix(t *testing.T) {
	servers, clients := cluster(t, 1)
	rl, err := New(clients, Options{KeyPrefix: "app:lock:"})
	require.NoError(t, err)
	_, ok, err := rl.Acquire(context.Background(), "res", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, servers[0].Exists("app:lock:res"))
}
