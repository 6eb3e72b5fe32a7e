package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cidadao-ai/vigia/pkg/memory"
	"github.com/cidadao-ai/vigia/pkg/models"
)

// MemoryAgent fronts the semantic recall store for the rest of the
// pipeline. It is stateful (owns the store handle) and therefore a
// process singleton in the pool.
type MemoryAgent struct {
	store memory.SemanticStore
}

// NewMemoryAgent returns the memory agent over the given store.
func NewMemoryAgent(store memory.SemanticStore) *MemoryAgent {
	return &MemoryAgent{store: store}
}

func (m *MemoryAgent) ID() string { return "memory" }

func (m *MemoryAgent) Capabilities() []string {
	return []string{"semantic-recall", "episodic-store"}
}

func (m *MemoryAgent) Stateful() bool { return true }

func (m *MemoryAgent) Initialize(ctx context.Context) error {
	if m.store == nil {
		return fmt.Errorf("memory agent requires a semantic store")
	}
	return nil
}

func (m *MemoryAgent) Shutdown(ctx context.Context) error { return nil }

func (m *MemoryAgent) Reflect(ctx context.Context, resp *models.AgentResponse) QualityScore {
	return QualityScore{Score: resp.Confidence()}
}

func (m *MemoryAgent) Process(ctx context.Context, msg models.AgentMessage, actx *models.AgentContext) (*models.AgentResponse, error) {
	switch msg.Action {
	case "recall":
		query, _ := msg.Payload["query"].(string)
		k, _ := msg.Payload["k"].(int)
		if k <= 0 {
			k = 5
		}
		memories, err := m.store.Recall(ctx, query, k)
		if err != nil {
			return nil, fmt.Errorf("semantic recall: %w", err)
		}
		return &models.AgentResponse{
			AgentName: m.ID(),
			Status:    models.AgentStatusCompleted,
			Result:    map[string]any{"memories": memories, "count": len(memories)},
			Metadata:  map[string]any{"confidence": 0.9},
			Timestamp: time.Now().UTC(),
		}, nil

	case "store":
		payload, _ := msg.Payload["payload"].(string)
		if payload == "" {
			return &models.AgentResponse{
				AgentName: m.ID(),
				Status:    models.AgentStatusFailed,
				Error:     "store action requires a payload",
				Timestamp: time.Now().UTC(),
			}, nil
		}
		mem := memory.Memory{
			Scope:     "investigation",
			Key:       actx.InvestigationID,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.store.Store(ctx, mem); err != nil {
			return nil, fmt.Errorf("semantic store: %w", err)
		}
		return &models.AgentResponse{
			AgentName: m.ID(),
			Status:    models.AgentStatusCompleted,
			Result:    map[string]any{"stored": true},
			Metadata:  map[string]any{"confidence": 1.0},
			Timestamp: time.Now().UTC(),
		}, nil

	default:
		return &models.AgentResponse{
			AgentName: m.ID(),
			Status:    models.AgentStatusFailed,
			Error:     fmt.Sprintf("unknown action %q", msg.Action),
			Timestamp: time.Now().UTC(),
		}, nil
	}
}
