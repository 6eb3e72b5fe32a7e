package federation

import (
	"sort"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// Dedupe merges per-source records into a content-distinct list.
// Records are keyed by their content fingerprint; when two sources
// carry the same record, the one from the highest-priority (lowest
// Priority value) source wins and the loser's source id is retained in
// the provenance map. Ties on priority resolve to the lexicographically
// smaller source id, keeping the merge commutative.
func Dedupe(outcomes map[string]models.SourceResult, priorities map[string]int) (records []models.DataRecord, provenance map[string][]string, duplicates int) {
	type slot struct {
		rec     models.DataRecord
		sources []string
	}
	slots := make(map[string]*slot)

	// Iterate sources in deterministic order so the merge does not
	// depend on map iteration.
	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	better := func(a, b string) bool {
		if priorities[a] != priorities[b] {
			return priorities[a] < priorities[b]
		}
		return a < b
	}

	for _, id := range ids {
		sr := outcomes[id]
		if sr.Outcome != models.OutcomeOK {
			continue
		}
		for _, rec := range sr.Records {
			fp := rec.Fingerprint()
			existing, ok := slots[fp]
			if !ok {
				slots[fp] = &slot{rec: rec, sources: []string{rec.SourceID}}
				continue
			}
			duplicates++
			existing.sources = append(existing.sources, rec.SourceID)
			if better(rec.SourceID, existing.rec.SourceID) {
				existing.rec = rec
			}
		}
	}

	provenance = make(map[string][]string, len(slots))
	fps := make([]string, 0, len(slots))
	for fp := range slots {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	records = make([]models.DataRecord, 0, len(slots))
	for _, fp := range fps {
		s := slots[fp]
		sort.Strings(s.sources)
		records = append(records, s.rec)
		provenance[fp] = s.sources
	}
	return records, provenance, duplicates
}
