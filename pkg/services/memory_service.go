package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EpisodicEntry is one durable record of what happened during an
// investigation: plans, agent responses, reflection verdicts. Used for
// audit and for later recall.
type EpisodicEntry struct {
	ID              int64           `json:"id"`
	InvestigationID string          `json:"investigation_id"`
	Kind            string          `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	Owner           string          `json:"owner,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

// EpisodicStore is the persistence port for episodic memory.
type EpisodicStore interface {
	Append(ctx context.Context, e EpisodicEntry) (int64, error)
	ListByInvestigation(ctx context.Context, investigationID string) ([]EpisodicEntry, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// Delete removes an investigation's entries when owner matches (or
	// is the system identity).
	Delete(ctx context.Context, investigationID, owner string) (int, error)
}

// MemoryService manages episodic memory with the configured retention.
// Writes are additive; deletes are explicit and owned.
type MemoryService struct {
	store         EpisodicStore
	retentionDays int
}

// NewMemoryService creates the service. retentionDays defaults to 90.
func NewMemoryService(store EpisodicStore, retentionDays int) *MemoryService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &MemoryService{store: store, retentionDays: retentionDays}
}

// Record appends one episodic entry, stamping the retention expiry.
func (s *MemoryService) Record(ctx context.Context, investigationID, kind string, payload any) error {
	if investigationID == "" {
		return NewValidationError("investigation_id", "required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal episodic payload: %w", err)
	}
	expires := time.Now().UTC().Add(time.Duration(s.retentionDays) * 24 * time.Hour)

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = s.store.Append(writeCtx, EpisodicEntry{
		InvestigationID: investigationID,
		Kind:            kind,
		Payload:         raw,
		Owner:           "system",
		CreatedAt:       time.Now().UTC(),
		ExpiresAt:       &expires,
	})
	if err != nil {
		return fmt.Errorf("failed to record episodic entry: %w", err)
	}
	return nil
}

// History returns an investigation's episodic trail in insertion order.
func (s *MemoryService) History(ctx context.Context, investigationID string) ([]EpisodicEntry, error) {
	return s.store.ListByInvestigation(ctx, investigationID)
}

// Forget removes an investigation's entries on behalf of owner.
func (s *MemoryService) Forget(ctx context.Context, investigationID, owner string) (int, error) {
	return s.store.Delete(ctx, investigationID, owner)
}

// RunCleanup deletes expired entries once.
func (s *MemoryService) RunCleanup(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, time.Now().UTC())
}

