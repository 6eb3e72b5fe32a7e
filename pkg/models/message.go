package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AgentMessage addresses an agent by id and names an action. Immutable.
type AgentMessage struct {
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	MessageID string         `json:"message_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewAgentMessage builds a message with a fresh id and timestamp.
func NewAgentMessage(sender, recipient, action string, payload map[string]any) AgentMessage {
	return AgentMessage{
		Sender:    sender,
		Recipient: recipient,
		Action:    action,
		Payload:   payload,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

// AgentStatus is the outcome class of one agent execution.
type AgentStatus string

const (
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusTimedOut  AgentStatus = "timed_out"
	AgentStatusCancelled AgentStatus = "cancelled"
)

// AgentResponse is returned by an agent's Process. Immutable.
// Invariant: exactly one of Result (completed) or Error (failed) is set.
type AgentResponse struct {
	AgentName        string         `json:"agent_name"`
	Status           AgentStatus    `json:"status"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Validate enforces the result/error exclusivity invariant.
func (r *AgentResponse) Validate() error {
	switch r.Status {
	case AgentStatusCompleted:
		if len(r.Result) == 0 {
			return fmt.Errorf("completed response from %q has empty result", r.AgentName)
		}
		if r.Error != "" {
			return fmt.Errorf("completed response from %q carries an error", r.AgentName)
		}
	case AgentStatusFailed, AgentStatusTimedOut, AgentStatusCancelled:
		if r.Error == "" {
			return fmt.Errorf("%s response from %q has empty error", r.Status, r.AgentName)
		}
	default:
		return fmt.Errorf("unknown agent status %q", r.Status)
	}
	return nil
}

// Confidence reads metadata.confidence, defaulting to 1.0 when absent.
func (r *AgentResponse) Confidence() float64 {
	if v, ok := r.Metadata["confidence"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 1.0
}

// AgentContext is shared by reference across the agents of one
// investigation. Metadata mutations are append-only and single-writer
// per key; the mutex serializes map access across goroutines.
type AgentContext struct {
	InvestigationID string `json:"investigation_id"`
	UserID          string `json:"user_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	RequestID       string `json:"request_id"`

	mu       sync.RWMutex
	metadata map[string]any
}

// NewAgentContext creates a context for one investigation.
func NewAgentContext(investigationID, userID, sessionID string) *AgentContext {
	return &AgentContext{
		InvestigationID: investigationID,
		UserID:          userID,
		SessionID:       sessionID,
		RequestID:       uuid.NewString(),
		metadata:        make(map[string]any),
	}
}

// SetMetadata records a value under key. The single-writer-per-key
// contract belongs to the callers; the mutex only makes map access safe.
func (c *AgentContext) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns the value stored under key, if any.
func (c *AgentContext) Metadata(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// MetadataSnapshot returns a copy of the metadata map.
func (c *AgentContext) MetadataSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}
