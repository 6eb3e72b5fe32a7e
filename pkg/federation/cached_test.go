package federation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidadao-ai/vigia/pkg/cache"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/registry"
)

func TestCachedFetcherReadThrough(t *testing.T) {
	inner := newStubFetcher()
	inner.records["alpha"] = []models.DataRecord{contractRecord("alpha", "c-1", 1000)}

	f := NewCachedFetcher(inner, cache.NewMemoryStore(16), time.Minute)
	src := registry.Source{ID: "alpha"}
	filters := models.Filters{Organization: "Ministério da Saúde"}

	first, err := f.Fetch(context.Background(), src, models.CapabilityContracts, filters)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.Fetch(context.Background(), src, models.CapabilityContracts, filters)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load(), "second read served from cache")
}

func TestCachedFetcherKeyVariesWithFilters(t *testing.T) {
	inner := newStubFetcher()
	inner.records["alpha"] = []models.DataRecord{contractRecord("alpha", "c-1", 1000)}

	f := NewCachedFetcher(inner, cache.NewMemoryStore(16), time.Minute)
	src := registry.Source{ID: "alpha"}

	_, err := f.Fetch(context.Background(), src, models.CapabilityContracts, models.Filters{Region: "SP"})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), src, models.CapabilityContracts, models.Filters{Region: "RJ"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedFetcherDoesNotCacheFailures(t *testing.T) {
	inner := newStubFetcher()
	inner.errs["alpha"] = errors.New("fonte indisponível")

	f := NewCachedFetcher(inner, cache.NewMemoryStore(16), time.Minute)
	src := registry.Source{ID: "alpha"}

	_, err := f.Fetch(context.Background(), src, models.CapabilityContracts, models.Filters{})
	require.Error(t, err)

	inner.errs = map[string]error{}
	inner.records["alpha"] = []models.DataRecord{contractRecord("alpha", "c-2", 500)}
	records, err := f.Fetch(context.Background(), src, models.CapabilityContracts, models.Filters{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
