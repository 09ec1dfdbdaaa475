package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewCache(0, 0)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k", "missing"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewCache(0, 0)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)

	c.deleteExpired()
	assert.Equal(t, 0, c.Count())
}

func TestCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewCache(0, 0)
	defer c.Close()

	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	got, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestCacheEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewCache(0, 2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Count())
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok, "entry closest to expiry is evicted first")
}

func TestNopNeverHits(t *testing.T) {
	ctx := context.Background()
	var s Store = Nop{}

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
