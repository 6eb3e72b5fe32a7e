package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// InMemoryInvestigationStore backs tests and database-less demo mode.
// Same semantics as the Postgres store, including conditional updates.
type InMemoryInvestigationStore struct {
	mu   sync.Mutex
	rows map[string]*models.Investigation
	// heartbeat timestamps live outside the model
	beats map[string]time.Time
}

// NewInMemoryInvestigationStore builds an empty store.
func NewInMemoryInvestigationStore() *InMemoryInvestigationStore {
	return &InMemoryInvestigationStore{
		rows:  make(map[string]*models.Investigation),
		beats: make(map[string]time.Time),
	}
}

func (s *InMemoryInvestigationStore) Insert(ctx context.Context, inv *models.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[inv.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *inv
	s.rows[inv.ID] = &cp
	return nil
}

func (s *InMemoryInvestigationStore) Get(ctx context.Context, id string) (*models.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *InMemoryInvestigationStore) UpdateConditional(ctx context.Context, id string, expect models.InvestigationStatus, mutate func(*models.Investigation)) (*models.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if row.Status != expect {
		return nil, ErrConcurrentModification
	}
	mutate(row)
	cp := *row
	return &cp, nil
}

func (s *InMemoryInvestigationStore) ClaimNextPending(ctx context.Context, workerID string) (*models.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *models.Investigation
	for _, row := range s.rows {
		if row.Status != models.StatusPending {
			continue
		}
		if oldest == nil || row.CreatedAt.Before(oldest.CreatedAt) {
			oldest = row
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	oldest.Status = models.StatusRunning
	oldest.StartedAt = &now
	oldest.ClaimedBy = workerID
	s.beats[oldest.ID] = now
	cp := *oldest
	return &cp, nil
}

func (s *InMemoryInvestigationStore) Heartbeat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	s.beats[id] = time.Now().UTC()
	return nil
}

func (s *InMemoryInvestigationStore) MarkOrphans(ctx context.Context, staleAfter time.Duration, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-staleAfter)
	count := 0
	for id, row := range s.rows {
		if row.Status != models.StatusRunning {
			continue
		}
		beat, ok := s.beats[id]
		if ok && beat.After(cutoff) {
			continue
		}
		if !ok && row.StartedAt != nil && row.StartedAt.After(cutoff) {
			continue
		}
		now := time.Now().UTC()
		row.Status = models.StatusFailed
		row.FailureReason = reason
		row.CompletedAt = &now
		count++
	}
	return count, nil
}

func (s *InMemoryInvestigationStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Investigation
	for _, row := range s.rows {
		if row.SessionID == sessionID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InMemoryEpisodicStore is the test/demo episodic adapter.
type InMemoryEpisodicStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []EpisodicEntry
}

// NewInMemoryEpisodicStore builds an empty store.
func NewInMemoryEpisodicStore() *InMemoryEpisodicStore {
	return &InMemoryEpisodicStore{}
}

func (s *InMemoryEpisodicStore) Append(ctx context.Context, e EpisodicEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
	return e.ID, nil
}

func (s *InMemoryEpisodicStore) ListByInvestigation(ctx context.Context, investigationID string) ([]EpisodicEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EpisodicEntry
	for _, e := range s.entries {
		if e.InvestigationID == investigationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryEpisodicStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *InMemoryEpisodicStore) Delete(ctx context.Context, investigationID, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	var denied bool
	for _, e := range s.entries {
		if e.InvestigationID == investigationID {
			if owner == "system" || e.Owner == owner {
				removed++
				continue
			}
			denied = true
		}
		kept = append(kept, e)
	}
	s.entries = kept
	if denied {
		return removed, NewValidationError("owner", "delete denied: owner mismatch")
	}
	return removed, nil
}
