package federation

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/registry"
)

// DemoFetcher serves deterministic synthetic records when no
// TRANSPARENCY_API_KEY is configured. Output depends only on
// (source, capability, filters) so planning stays reproducible.
type DemoFetcher struct {
	// RecordsPerSource bounds the synthetic result size.
	RecordsPerSource int
}

// NewDemoFetcher returns a fetcher producing n records per source.
func NewDemoFetcher(n int) *DemoFetcher {
	if n <= 0 {
		n = 8
	}
	return &DemoFetcher{RecordsPerSource: n}
}

// Fetch implements Fetcher with synthetic data.
func (f *DemoFetcher) Fetch(ctx context.Context, src registry.Source, cap models.Capability, filters models.Filters) ([]models.DataRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	org := filters.Organization
	if org == "" {
		org = "Ministério da Gestão"
	}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if filters.DateFrom != nil {
		base = *filters.DateFrom
	}

	seed := fnvHash(src.ID + string(cap) + org)
	records := make([]models.DataRecord, 0, f.RecordsPerSource)
	for i := 0; i < f.RecordsPerSource; i++ {
		n := seed + uint32(i)
		records = append(records, models.DataRecord{
			SourceID: src.ID,
			// Contract ids repeat across sources on purpose: the same
			// public contract is visible from multiple portals, which
			// exercises aggregate dedupe.
			ContractID:   fmt.Sprintf("CT-%04d/2024", n%500),
			Organization: org,
			Supplier:     fmt.Sprintf("Fornecedor %02d LTDA", n%40),
			Description:  fmt.Sprintf("Aquisição de materiais e serviços — lote %d", i+1),
			Date:         base.AddDate(0, 0, int(n%90)),
			Value:        float64(50_000+(n%97)*13_750) + 0.99,
		})
	}
	return records, nil
}

func fnvHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32() % 10_000
}
