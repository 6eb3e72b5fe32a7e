// Package models defines the shared data model for vigia: investigations,
// queries, intents, execution plans, agent messages and federated records.
package models

import (
	"fmt"
	"time"
)

// InvestigationStatus is the lifecycle status of an investigation.
type InvestigationStatus string

const (
	StatusPending   InvestigationStatus = "pending"
	StatusRunning   InvestigationStatus = "running"
	StatusCompleted InvestigationStatus = "completed"
	StatusFailed    InvestigationStatus = "failed"
	StatusCancelled InvestigationStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s InvestigationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions encodes the status DAG:
// pending → running → (completed | failed | cancelled).
// pending may also be cancelled or failed directly (e.g. orphan cleanup).
var validTransitions = map[InvestigationStatus][]InvestigationStatus{
	StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to InvestigationStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Phase identifies the coordinator phase an investigation is in.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseCollecting   Phase = "collecting"
	PhaseAnalyzing    Phase = "analyzing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
)

// PhaseCheckpoint returns the fixed progress checkpoint reached when the
// given phase begins. Intermediate updates within a phase are informational.
func PhaseCheckpoint(p Phase) float64 {
	switch p {
	case PhasePlanning:
		return 0.0
	case PhaseCollecting:
		return 0.1
	case PhaseAnalyzing:
		return 0.4
	case PhaseSynthesizing:
		return 0.8
	case PhaseDone:
		return 1.0
	default:
		return 0.0
	}
}

// Investigation is one end-to-end execution of the pipeline.
// The coordinator that claimed it is the single writer; progress queries
// read committed snapshots.
type Investigation struct {
	ID                   string              `json:"id"`
	Query                string              `json:"query"`
	SessionID            string              `json:"session_id,omitempty"`
	UserID               string              `json:"user_id,omitempty"`
	Status               InvestigationStatus `json:"status"`
	Progress             float64             `json:"progress"`
	CurrentPhase         Phase               `json:"current_phase"`
	CreatedAt            time.Time           `json:"created_at"`
	StartedAt            *time.Time          `json:"started_at,omitempty"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
	TotalRecordsAnalyzed int                 `json:"total_records_analyzed"`
	AnomaliesFound       int                 `json:"anomalies_found"`
	Summary              string              `json:"summary,omitempty"`
	ResultBlob           []byte              `json:"result_blob,omitempty"`
	Metadata             map[string]any      `json:"metadata,omitempty"`
	ClaimedBy            string              `json:"claimed_by,omitempty"`
	FailureReason        string              `json:"failure_reason,omitempty"`
}

// PublicProjection returns a copy safe for the unauthenticated results
// endpoint: user identifiers are omitted.
func (inv *Investigation) PublicProjection() *Investigation {
	out := *inv
	out.UserID = ""
	out.SessionID = ""
	out.ClaimedBy = ""
	return &out
}

// Validate checks the investigation invariants that must hold at rest.
func (inv *Investigation) Validate() error {
	if inv.Progress < 0 || inv.Progress > 1 {
		return fmt.Errorf("progress %f outside [0,1]", inv.Progress)
	}
	if inv.Status.Terminal() && inv.CompletedAt == nil {
		return fmt.Errorf("terminal status %q without completed_at", inv.Status)
	}
	return nil
}

// Query is a user request as received. Immutable once constructed.
type Query struct {
	Text      string            `json:"text"`
	SessionID string            `json:"session_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}
