package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemoryStore() (*MemoryStore, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clk.now
	return s, clk
}

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestMemoryStore()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 30*time.Second))
	clk.advance(29 * time.Second)
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok, "entry should still be fresh")

	clk.advance(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok, "entry must not be served at its expiry instant")
	assert.Equal(t, 0, s.Len(), "expired entry should be removed on read")
}

func TestMemoryStore_DeleteAndPrefix(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore()

	for _, k := range []string{"slots:a:1", "slots:a:2", "slots:b:1", "rules:a"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), time.Minute))
	}

	require.NoError(t, s.Delete(ctx, "slots:b:1"))
	_, ok, _ := s.Get(ctx, "slots:b:1")
	assert.False(t, ok)

	require.NoError(t, s.DeletePrefix(ctx, "slots:"))
	assert.Equal(t, 1, s.Len())
	_, ok, _ = s.Get(ctx, "rules:a")
	assert.True(t, ok, "entries outside the prefix survive")
}

func TestMemoryStore_EvictExpired(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestMemoryStore()

	require.NoError(t, s.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "long", []byte("2"), time.Hour))
	clk.advance(time.Minute)

	assert.Equal(t, 1, s.EvictExpired())
	assert.Equal(t, 1, s.Len())
}
