package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentResponseValidate(t *testing.T) {
	tests := []struct {
		name string
		resp AgentResponse
		ok   bool
	}{
		{"completed with result", AgentResponse{Status: AgentStatusCompleted, Result: map[string]any{"message": "ok"}}, true},
		{"completed without result", AgentResponse{Status: AgentStatusCompleted}, false},
		{"completed with error", AgentResponse{Status: AgentStatusCompleted, Result: map[string]any{"m": 1}, Error: "boom"}, false},
		{"failed with error", AgentResponse{Status: AgentStatusFailed, Error: "fonte indisponível"}, true},
		{"failed without error", AgentResponse{Status: AgentStatusFailed}, false},
		{"timed out with error", AgentResponse{Status: AgentStatusTimedOut, Error: "deadline"}, true},
		{"cancelled without error", AgentResponse{Status: AgentStatusCancelled}, false},
		{"unknown status", AgentResponse{Status: AgentStatus("exploded")}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.resp.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAgentResponseConfidence(t *testing.T) {
	withValue := AgentResponse{Metadata: map[string]any{"confidence": 0.42}}
	assert.InDelta(t, 0.42, withValue.Confidence(), 1e-9)

	absent := AgentResponse{}
	assert.InDelta(t, 1.0, absent.Confidence(), 1e-9, "absent confidence defaults high")

	wrongType := AgentResponse{Metadata: map[string]any{"confidence": "alta"}}
	assert.InDelta(t, 1.0, wrongType.Confidence(), 1e-9)
}

func TestNewAgentMessage(t *testing.T) {
	msg := NewAgentMessage("router", "detective", "investigate", map[string]any{"query": "contratos"})
	assert.Equal(t, "router", msg.Sender)
	assert.Equal(t, "detective", msg.Recipient)
	assert.NotEmpty(t, msg.MessageID)
	assert.False(t, msg.Timestamp.IsZero())

	other := NewAgentMessage("router", "detective", "investigate", nil)
	assert.NotEqual(t, msg.MessageID, other.MessageID)
}

func TestAgentContextMetadataConcurrency(t *testing.T) {
	actx := NewAgentContext("inv-1", "user-1", "sess-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			actx.SetMetadata("key", n)
			actx.Metadata("key")
		}(i)
	}
	wg.Wait()

	_, ok := actx.Metadata("key")
	require.True(t, ok)

	snap := actx.MetadataSnapshot()
	snap["key"] = "mutated"
	v, _ := actx.Metadata("key")
	assert.NotEqual(t, "mutated", v, "snapshot is a copy")
}
