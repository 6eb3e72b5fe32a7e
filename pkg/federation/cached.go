package federation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cidadao-ai/vigia/pkg/cache"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/registry"
)

// CachedFetcher wraps a Fetcher with a read-through cache keyed by
// source, capability and filter set. Cache trouble never fails a fetch;
// it only costs the round trip.
type CachedFetcher struct {
	inner Fetcher
	store cache.Store
	ttl   time.Duration
}

// NewCachedFetcher wraps inner. A zero ttl disables expiry decisions
// here and defers to the store's default.
func NewCachedFetcher(inner Fetcher, store cache.Store, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{inner: inner, store: store, ttl: ttl}
}

// Fetch implements Fetcher.
func (f *CachedFetcher) Fetch(ctx context.Context, src registry.Source, cap models.Capability, filters models.Filters) ([]models.DataRecord, error) {
	key := fetchKey(src.ID, cap, filters)

	if raw, err := f.store.Get(ctx, key); err == nil {
		var records []models.DataRecord
		if jsonErr := json.Unmarshal(raw, &records); jsonErr == nil {
			return records, nil
		}
		// Corrupt entry: drop it and fall through to the source.
		_ = f.store.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrNotFound) {
		slog.Debug("Cache read failed, fetching from source", "source", src.ID, "error", err)
	}

	records, err := f.inner.Fetch(ctx, src, cap, filters)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(records); jsonErr == nil {
		if setErr := f.store.Set(ctx, key, raw, f.ttl); setErr != nil {
			slog.Debug("Cache write failed", "source", src.ID, "error", setErr)
		}
	}
	return records, nil
}

// fetchKey builds a stable key from the request parameters. Filters are
// hashed so arbitrary values stay key-safe.
func fetchKey(sourceID string, cap models.Capability, filters models.Filters) string {
	raw, _ := json.Marshal(filters)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("fetch:%s:%s:%s", sourceID, cap, hex.EncodeToString(sum[:8]))
}
