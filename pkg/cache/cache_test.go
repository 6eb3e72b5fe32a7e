package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLRUEviction(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))
	_, err := s.Get(ctx, "a") // refresh a
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "c", []byte("3"), 0))

	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound, "least recently used entry evicted")
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore(10)
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSetNX(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "claim", []byte("w1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "claim", []byte("w2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := s.Get(ctx, "claim")
	require.NoError(t, err)
	assert.Equal(t, []byte("w1"), v)
}

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("valor"), time.Minute))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("valor"), v)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLayeredPromotesBackendHit(t *testing.T) {
	backend := newTestRedis(t)
	mem := NewMemoryStore(10)
	l := NewLayered(mem, backend)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("shared"), time.Minute))

	v, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), v)

	// Now resident in the memory layer.
	v, err = mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), v)
}

func TestLayeredMemoryOnlyMode(t *testing.T) {
	l := NewLayered(NewMemoryStore(10), nil)
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, "k", []byte("local"), time.Minute))
	v, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), v)

	ok, err := l.SetNX(ctx, "claim", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.SetNX(ctx, "claim", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayeredSetNXBackendAuthoritative(t *testing.T) {
	backend := newTestRedis(t)
	l := NewLayered(NewMemoryStore(10), backend)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "claim", []byte("other-pod"), time.Minute))

	ok, err := l.SetNX(ctx, "claim", []byte("mine"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "backend claim wins even with a cold memory layer")
}
