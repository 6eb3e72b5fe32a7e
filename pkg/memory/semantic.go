// Package memory holds the three conversation stores: the per-session
// working context, the durable episodic record (persisted via the
// services layer) and the semantic recall port implemented here with
// in-process and Redis-backed adapters.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is one semantic store entry.
type Memory struct {
	Scope     string     `json:"scope"`
	Key       string     `json:"key"`
	Payload   string     `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Owner identifies who may delete this memory. Writes are additive;
	// deletes require the owning identity.
	Owner string `json:"owner,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// SemanticStore is the vector-recall port. The backing engine is opaque
// to the core; callers rely on Store and Recall alone.
type SemanticStore interface {
	Store(ctx context.Context, m Memory) error
	Recall(ctx context.Context, query string, k int) ([]Memory, error)
	// Delete removes entries under key when owner matches the stored
	// owner (or the system identity "system").
	Delete(ctx context.Context, key, owner string) error
}

// Embedder maps text to a fixed-size vector. The default is a hashed
// bag-of-words embedding: crude, dependency-free and stable, which is
// all the in-process adapter needs.
type Embedder interface {
	Embed(text string) []float32
}

// HashEmbedder is the default embedder.
type HashEmbedder struct {
	Dim int
}

// Embed implements Embedder.
func (e HashEmbedder) Embed(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = 128
	}
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(dim)]++
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		n := float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// InMemoryStore is the in-process semantic adapter.
type InMemoryStore struct {
	embedder Embedder

	mu      sync.RWMutex
	entries []storedEntry
}

type storedEntry struct {
	mem Memory
	vec []float32
}

// NewInMemoryStore builds the adapter; embedder may be nil for the
// default hash embedder.
func NewInMemoryStore(embedder Embedder) *InMemoryStore {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	return &InMemoryStore{embedder: embedder}
}

// Store implements SemanticStore. Writes are additive.
func (s *InMemoryStore) Store(ctx context.Context, m Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Payload == "" {
		return fmt.Errorf("refusing to store empty memory payload")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, storedEntry{mem: m, vec: s.embedder.Embed(m.Payload)})
	return nil
}

// Recall implements SemanticStore: top-k by cosine similarity, expired
// entries excluded.
func (s *InMemoryStore) Recall(ctx context.Context, query string, k int) ([]Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qv := s.embedder.Embed(query)
	now := time.Now()

	s.mu.RLock()
	scored := make([]Memory, 0, len(s.entries))
	for _, e := range s.entries {
		if e.mem.ExpiresAt != nil && e.mem.ExpiresAt.Before(now) {
			continue
		}
		m := e.mem
		m.Score = cosine(qv, e.vec)
		scored = append(scored, m)
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Delete implements SemanticStore. Deletes are explicit and owned.
func (s *InMemoryStore) Delete(ctx context.Context, key, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var denied bool
	for _, e := range s.entries {
		if e.mem.Key == key {
			if owner == "system" || e.mem.Owner == owner {
				continue
			}
			denied = true
		}
		kept = append(kept, e)
	}
	s.entries = kept
	if denied {
		return fmt.Errorf("delete of %q denied: owner mismatch", key)
	}
	return nil
}
