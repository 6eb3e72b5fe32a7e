package api

import (
	"encoding/json"

	"github.com/cidadao-ai/vigia/pkg/database"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/queue"
	"github.com/cidadao-ai/vigia/pkg/resilience"
	"github.com/cidadao-ai/vigia/pkg/services"
)

// ChatMessageResponse is the synchronous chat reply. AgentID and
// AgentName both carry the answering agent's pool id; pool ids double
// as display names.
type ChatMessageResponse struct {
	SessionID         string         `json:"session_id,omitempty"`
	MessageID         string         `json:"message_id"`
	InvestigationID   string         `json:"investigation_id"`
	AgentID           string         `json:"agent_id"`
	AgentName         string         `json:"agent_name"`
	Message           string         `json:"message"`
	Confidence        float64        `json:"confidence"`
	Intent            string         `json:"intent"`
	Status            string         `json:"status"`
	RecordsAnalyzed   int            `json:"records_analyzed"`
	AnomaliesFound    int            `json:"anomalies_found"`
	SuggestedActions  []string       `json:"suggested_actions,omitempty"`
	FollowUpQuestions []string       `json:"follow_up_questions,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// InvestigationEventResponse is one journal entry.
type InvestigationEventResponse struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

func toEventResponses(events []services.InvestigationEvent) []InvestigationEventResponse {
	out := make([]InvestigationEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, InvestigationEventResponse{
			ID:        e.ID,
			EventType: e.EventType,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out
}

// AgentStatusResponse is one agent's registration state.
type AgentStatusResponse struct {
	ID          string  `json:"id"`
	Healthy     bool    `json:"healthy"`
	Utilization float64 `json:"utilization"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string                       `json:"status"`
	Database *database.HealthStatus       `json:"database,omitempty"`
	Sources  map[string]resilience.Health `json:"sources,omitempty"`
	Queue    *queue.PoolHealth            `json:"queue,omitempty"`
}

// investigationView strips internal fields from API reads.
func investigationView(inv *models.Investigation) *models.Investigation {
	out := *inv
	out.ClaimedBy = ""
	return &out
}
