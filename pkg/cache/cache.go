// Package cache provides the layered response cache used by the
// federation executor and the API surface: a small in-process LRU in
// front of an optional shared Redis layer. Without a backend URL the
// cache degrades to memory-only.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound reports a cache miss at every layer.
var ErrNotFound = errors.New("cache: key not found")

// Store is the cache port.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes only when the key is absent, returning whether the
	// write happened. This is the CAS primitive claim paths rely on.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a bounded LRU with per-entry expiry.
type MemoryStore struct {
	cap int

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
	now     func() time.Time
}

type memEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore builds the LRU; capacity defaults to 1024.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryStore{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := el.Value.(*memEntry)
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil, ErrNotFound
	}
	m.order.MoveToFront(el)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		e := el.Value.(*memEntry)
		if e.expiresAt.IsZero() || m.now().Before(e.expiresAt) {
			return false, nil
		}
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.order.Remove(el)
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryStore) setLocked(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	v := make([]byte, len(value))
	copy(v, value)
	if el, ok := m.entries[key]; ok {
		el.Value = &memEntry{key: key, value: v, expiresAt: expires}
		m.order.MoveToFront(el)
		return
	}
	m.entries[key] = m.order.PushFront(&memEntry{key: key, value: v, expiresAt: expires})
	for m.order.Len() > m.cap {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memEntry).key)
	}
}

// RedisStore is the shared KV layer.
type RedisStore struct {
	client   *redis.Client
	keyspace string
}

// NewRedisStore builds the Redis layer over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, keyspace: "vigia:cache:"}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.keyspace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.keyspace+key, value, ttl).Err()
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.keyspace+key, value, ttl).Result()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyspace+key).Err()
}

// Layered reads memory first, then the backend, promoting backend hits
// into memory. Writes go to both layers. backend may be nil
// (memory-only mode).
type Layered struct {
	memory  *MemoryStore
	backend Store
}

// NewLayered composes the layers.
func NewLayered(memory *MemoryStore, backend Store) *Layered {
	if memory == nil {
		memory = NewMemoryStore(0)
	}
	return &Layered{memory: memory, backend: backend}
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	if v, err := l.memory.Get(ctx, key); err == nil {
		return v, nil
	}
	if l.backend == nil {
		return nil, ErrNotFound
	}
	v, err := l.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// Promotion keeps a short memory TTL so backend invalidations are
	// picked up within a minute.
	_ = l.memory.Set(ctx, key, v, time.Minute)
	return v, nil
}

func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := l.memory.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if l.backend != nil {
		return l.backend.Set(ctx, key, value, ttl)
	}
	return nil
}

func (l *Layered) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	// The backend is authoritative for claims when present; memory alone
	// cannot arbitrate across pods.
	if l.backend != nil {
		ok, err := l.backend.SetNX(ctx, key, value, ttl)
		if err != nil || !ok {
			return ok, err
		}
		_ = l.memory.Set(ctx, key, value, ttl)
		return true, nil
	}
	return l.memory.SetNX(ctx, key, value, ttl)
}

func (l *Layered) Delete(ctx context.Context, key string) error {
	if err := l.memory.Delete(ctx, key); err != nil {
		return err
	}
	if l.backend != nil {
		return l.backend.Delete(ctx, key)
	}
	return nil
}
