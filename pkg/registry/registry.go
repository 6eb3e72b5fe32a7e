// Package registry maintains the static catalog of transparency data
// sources and their dynamic health state. It is the single owner of
// per-source circuit breakers; sources never reference each other.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/resilience"
)

// SourceFamily groups sources by their administrative sphere.
type SourceFamily string

const (
	FamilyFederal SourceFamily = "federal"
	FamilyState   SourceFamily = "state"
	FamilyPortal  SourceFamily = "portal"
	FamilyTCE     SourceFamily = "tce"
)

// Source is the immutable configuration of one data source. Health is
// tracked separately by the registry.
type Source struct {
	ID           string              `yaml:"id" json:"id"`
	Name         string              `yaml:"name" json:"name"`
	Family       SourceFamily        `yaml:"family" json:"family"`
	Capabilities []models.Capability `yaml:"capabilities" json:"capabilities"`
	BaseEndpoint string              `yaml:"base_endpoint" json:"base_endpoint"`
	// Priority orders sources within a capability; lower is preferred.
	Priority int `yaml:"priority" json:"priority"`
	// Region is set for state-level sources (UF code, e.g. "SP").
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
	// RequiresKey marks sources that need TRANSPARENCY_API_KEY.
	RequiresKey bool `yaml:"requires_key,omitempty" json:"requires_key,omitempty"`
}

// HasCapability reports whether the source advertises cap.
func (s *Source) HasCapability(cap models.Capability) bool {
	for _, c := range s.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Outcome feeds the health state after a fetch attempt.
type Outcome struct {
	Success bool
	At      time.Time
}

// Registry resolves sources by capability and owns their breakers.
// The source table is immutable after construction; breaker updates are
// atomic per source (single writer per source by contract).
type Registry struct {
	breakerCfg resilience.BreakerConfig

	mu       sync.RWMutex
	sources  map[string]*Source
	breakers map[string]*resilience.Breaker
}

// New builds a registry over the given source table.
func New(sources []Source, breakerCfg resilience.BreakerConfig) (*Registry, error) {
	r := &Registry{
		breakerCfg: breakerCfg,
		sources:    make(map[string]*Source, len(sources)),
		breakers:   make(map[string]*resilience.Breaker, len(sources)),
	}
	for i := range sources {
		src := sources[i]
		if src.ID == "" {
			return nil, fmt.Errorf("source at index %d has empty id", i)
		}
		if _, dup := r.sources[src.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		r.sources[src.ID] = &src
		r.breakers[src.ID] = resilience.NewBreaker(src.ID, breakerCfg)
	}
	slog.Info("Source registry initialized", "sources", len(sources))
	return r, nil
}

// ResolveFilters narrows Resolve results.
type ResolveFilters struct {
	Region string
	Family SourceFamily
}

// Resolve returns sources advertising the capability, filtered and
// sorted by (healthy-first, priority ascending, id lexicographic).
// The lexicographic tie-break keeps traces reproducible.
func (r *Registry) Resolve(cap models.Capability, filters ResolveFilters) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Source
	for _, src := range r.sources {
		if !src.HasCapability(cap) {
			continue
		}
		if filters.Family != "" && src.Family != filters.Family {
			continue
		}
		if filters.Region != "" && src.Region != "" && src.Region != filters.Region {
			continue
		}
		out = append(out, *src)
	}

	healthy := func(id string) bool {
		return r.breakers[id].State() != resilience.StateOpen
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := healthy(out[i].ID), healthy(out[j].ID)
		if hi != hj {
			return hi
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Report records a fetch outcome against the source's breaker.
func (r *Registry) Report(sourceID string, outcome Outcome) {
	r.mu.RLock()
	b, ok := r.breakers[sourceID]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("Outcome reported for unknown source", "source_id", sourceID)
		return
	}
	if outcome.Success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
}

// Breaker returns the breaker guarding sourceID, or nil if unknown.
// The federation executor gates calls through it directly.
func (r *Registry) Breaker(sourceID string) *resilience.Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[sourceID]
}

// Healthy reports whether the source's breaker is not open.
func (r *Registry) Healthy(sourceID string) bool {
	r.mu.RLock()
	b := r.breakers[sourceID]
	r.mu.RUnlock()
	return b != nil && b.State() != resilience.StateOpen
}

// Source returns the source config by id.
func (r *Registry) Source(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return Source{}, false
	}
	return *src, true
}

// HealthSnapshot returns per-source breaker health for /health and the
// optional source_health table.
func (r *Registry) HealthSnapshot() map[string]resilience.Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]resilience.Health, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.Health()
	}
	return out
}

// All returns every registered source, id-sorted.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
