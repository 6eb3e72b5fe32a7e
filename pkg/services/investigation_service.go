// Package services holds the persistence-facing service layer:
// investigation lifecycle, episodic memory and the event journal.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// InvestigationStore is the persistence port the service drives. The
// Postgres implementation lives in postgres_store.go; the in-memory one
// in memory_store.go backs tests and database-less demo mode.
type InvestigationStore interface {
	Insert(ctx context.Context, inv *models.Investigation) error
	Get(ctx context.Context, id string) (*models.Investigation, error)
	// UpdateConditional applies mutate to the stored row only when its
	// status still equals expect, returning ErrConcurrentModification
	// otherwise. This is the single primitive lifecycle writes go through.
	UpdateConditional(ctx context.Context, id string, expect models.InvestigationStatus, mutate func(*models.Investigation)) (*models.Investigation, error)
	// ClaimNextPending atomically moves the oldest pending investigation
	// to running on behalf of workerID. Returns (nil, nil) when the
	// queue is empty.
	ClaimNextPending(ctx context.Context, workerID string) (*models.Investigation, error)
	Heartbeat(ctx context.Context, id string) error
	// MarkOrphans fails running investigations whose heartbeat is older
	// than staleAfter, returning how many rows were touched.
	MarkOrphans(ctx context.Context, staleAfter time.Duration, reason string) (int, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Investigation, error)
}

// InvestigationService enforces the lifecycle invariants on top of the
// store: legal status transitions only, monotone non-decreasing
// progress, completion timestamps on terminal states.
type InvestigationService struct {
	store InvestigationStore
}

// NewInvestigationService creates the service.
func NewInvestigationService(store InvestigationStore) *InvestigationService {
	return &InvestigationService{store: store}
}

// Create registers a new pending investigation for the query.
func (s *InvestigationService) Create(ctx context.Context, q models.Query) (*models.Investigation, error) {
	if q.Text == "" {
		return nil, NewValidationError("query", "required")
	}

	inv := &models.Investigation{
		ID:           uuid.New().String(),
		Query:        q.Text,
		SessionID:    q.SessionID,
		UserID:       q.UserID,
		Status:       models.StatusPending,
		CurrentPhase: models.PhasePlanning,
		CreatedAt:    time.Now().UTC(),
	}

	// Critical write: survive the caller's request context going away.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Insert(writeCtx, inv); err != nil {
		return nil, fmt.Errorf("failed to create investigation: %w", err)
	}
	return inv, nil
}

// Get retrieves an investigation by id.
func (s *InvestigationService) Get(ctx context.Context, id string) (*models.Investigation, error) {
	return s.store.Get(ctx, id)
}

// ListBySession lists a session's investigations, newest first.
func (s *InvestigationService) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Investigation, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListBySession(ctx, sessionID, limit)
}

// Transition moves an investigation along the status DAG. Terminal
// states set completed_at; failed states carry a reason.
func (s *InvestigationService) Transition(ctx context.Context, id string, to models.InvestigationStatus, reason string) (*models.Investigation, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current.Status, to)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.store.UpdateConditional(writeCtx, id, current.Status, func(inv *models.Investigation) {
		inv.Status = to
		now := time.Now().UTC()
		switch {
		case to == models.StatusRunning:
			inv.StartedAt = &now
		case to.Terminal():
			inv.CompletedAt = &now
			if to == models.StatusFailed || to == models.StatusCancelled {
				inv.FailureReason = reason
			}
			if to == models.StatusCompleted {
				inv.Progress = 1.0
				inv.CurrentPhase = models.PhaseDone
			}
		}
	})
}

// AdvancePhase records a phase change and its progress checkpoint.
// Progress never moves backwards; a stale checkpoint is ignored.
func (s *InvestigationService) AdvancePhase(ctx context.Context, id string, phase models.Phase) (*models.Investigation, error) {
	checkpoint := models.PhaseCheckpoint(phase)
	return s.store.UpdateConditional(ctx, id, models.StatusRunning, func(inv *models.Investigation) {
		inv.CurrentPhase = phase
		if checkpoint > inv.Progress {
			inv.Progress = checkpoint
		}
	})
}

// UpdateProgress records an intermediate progress value within a phase.
func (s *InvestigationService) UpdateProgress(ctx context.Context, id string, progress float64) (*models.Investigation, error) {
	if progress < 0 || progress > 1 {
		return nil, NewValidationError("progress", "outside [0,1]")
	}
	return s.store.UpdateConditional(ctx, id, models.StatusRunning, func(inv *models.Investigation) {
		if progress > inv.Progress {
			inv.Progress = progress
		}
	})
}

// RecordResult stores the final artifacts while the investigation is
// still running; the terminal Transition call follows it.
func (s *InvestigationService) RecordResult(ctx context.Context, id string, summary string, records, anomalies int, resultBlob []byte, metadata map[string]any) (*models.Investigation, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.store.UpdateConditional(writeCtx, id, models.StatusRunning, func(inv *models.Investigation) {
		inv.Summary = summary
		inv.TotalRecordsAnalyzed = records
		inv.AnomaliesFound = anomalies
		inv.ResultBlob = resultBlob
		inv.Metadata = metadata
	})
}

// ClaimNext claims the oldest pending investigation for a worker.
func (s *InvestigationService) ClaimNext(ctx context.Context, workerID string) (*models.Investigation, error) {
	return s.store.ClaimNextPending(ctx, workerID)
}

// Heartbeat refreshes the claim on a running investigation.
func (s *InvestigationService) Heartbeat(ctx context.Context, id string) error {
	return s.store.Heartbeat(ctx, id)
}

// CleanupOrphans fails running investigations abandoned by a dead
// worker. Called at startup and periodically.
func (s *InvestigationService) CleanupOrphans(ctx context.Context, staleAfter time.Duration) (int, error) {
	return s.store.MarkOrphans(ctx, staleAfter, "stale_after_restart")
}
