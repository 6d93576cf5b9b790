package bigcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{LifeWindow: time.Minute, Shards: 16, MaxEntriesInWindow: 1024})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestBigcacheRejectsZeroLifeWindow(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestBigcacheBasicOps(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	ok, err := p.Set(ctx, "k", []byte("v"), 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	b, hit, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("v"), b)

	exists, err := p.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, p.Del(ctx, "k"))
	require.NoError(t, p.Del(ctx, "k"), "deleting a missing key is not an error")

	_, hit, err = p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestBigcacheDelPrefix(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()
	for _, k := range []string{"user:1", "user:2", "users", "order:1"} {
		_, err := p.Set(ctx, k, []byte("x"), 1, 0)
		require.NoError(t, err)
	}

	n, err := p.DelPrefix(ctx, "user:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for k, want := range map[string]bool{"user:1": false, "user:2": false, "users": true, "order:1": true} {
		got, err := p.Exists(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, got, k)
	}
	assert.Equal(t, 2, p.Len())
}
