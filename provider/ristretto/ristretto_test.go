package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64, Metrics: true, WaitOnSet: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestRistrettoInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRistrettoReadYourWrites(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	ok, err := p.Set(ctx, "k", []byte("v"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	b, hit, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("v"), b)

	exists, _ := p.Exists(ctx, "k")
	assert.True(t, exists)

	require.NoError(t, p.Del(ctx, "k"))
	_, hit, _ = p.Get(ctx, "k")
	assert.False(t, hit)
	assert.NotNil(t, p.Metrics())
}

func TestRistrettoTTL(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	_, err := p.Set(ctx, "short", []byte("x"), 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, hit, _ := p.Get(ctx, "short")
		return !hit
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRistrettoDelPrefix(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()
	for _, k := range []string{"user:1", "user:2", "users", "order:1"} {
		_, err := p.Set(ctx, k, []byte("x"), 1, time.Minute)
		require.NoError(t, err)
	}

	n, err := p.DelPrefix(ctx, "user:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for k, want := range map[string]bool{"user:1": false, "user:2": false, "users": true, "order:1": true} {
		_, hit, _ := p.Get(ctx, k)
		assert.Equal(t, want, hit, k)
	}

	// removed keys leave the index, a second sweep finds nothing
	n, _ = p.DelPrefix(ctx, "user:")
	assert.Equal(t, 0, n)
}
