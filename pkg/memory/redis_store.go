package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared semantic adapter: entries live in a Redis
// hash per scope with vectors computed on read. Cross-pod recall works
// because every pod embeds with the same deterministic embedder.
type RedisStore struct {
	client   *redis.Client
	embedder Embedder
	keyspace string
}

// NewRedisStore builds the adapter over an existing client.
func NewRedisStore(client *redis.Client, embedder Embedder) *RedisStore {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	return &RedisStore{client: client, embedder: embedder, keyspace: "vigia:memory"}
}

func (s *RedisStore) hashKey(scope string) string {
	return s.keyspace + ":" + scope
}

// Store implements SemanticStore.
func (s *RedisStore) Store(ctx context.Context, m Memory) error {
	if m.Payload == "" {
		return fmt.Errorf("refusing to store empty memory payload")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling memory: %w", err)
	}
	field := fmt.Sprintf("%s:%d", m.Key, time.Now().UnixNano())
	if err := s.client.HSet(ctx, s.hashKey(m.Scope), field, raw).Err(); err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}
	if m.ExpiresAt != nil {
		// Whole-scope TTL is the coarse floor; per-entry expiry is also
		// enforced on read.
		s.client.ExpireAt(ctx, s.hashKey(m.Scope), *m.ExpiresAt)
	}
	return nil
}

// Recall implements SemanticStore by scoring every entry in the scope.
// Linear scan is acceptable at the episodic-memory scale; a real vector
// DB slots in behind the same port.
func (s *RedisStore) Recall(ctx context.Context, query string, k int) ([]Memory, error) {
	entries, err := s.client.HGetAll(ctx, s.hashKey("investigation")).Result()
	if err != nil {
		return nil, fmt.Errorf("reading memories: %w", err)
	}

	qv := s.embedder.Embed(query)
	now := time.Now()
	scored := make([]Memory, 0, len(entries))
	for _, raw := range entries {
		var m Memory
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		if m.ExpiresAt != nil && m.ExpiresAt.Before(now) {
			continue
		}
		m.Score = cosine(qv, s.embedder.Embed(m.Payload))
		scored = append(scored, m)
	}

	sortByScore(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Delete implements SemanticStore.
func (s *RedisStore) Delete(ctx context.Context, key, owner string) error {
	entries, err := s.client.HGetAll(ctx, s.hashKey("investigation")).Result()
	if err != nil {
		return fmt.Errorf("reading memories: %w", err)
	}
	var fields []string
	for field, raw := range entries {
		var m Memory
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		if m.Key != key {
			continue
		}
		if owner != "system" && m.Owner != owner {
			return fmt.Errorf("delete of %q denied: owner mismatch", key)
		}
		fields = append(fields, field)
	}
	if len(fields) == 0 {
		return nil
	}
	return s.client.HDel(ctx, s.hashKey("investigation"), fields...).Err()
}

func sortByScore(ms []Memory) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].Score > ms[j-1].Score; j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}
