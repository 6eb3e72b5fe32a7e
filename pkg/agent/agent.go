// Package agent provides the agent runtime: the capability interface
// every specialist implements, the reflective execution wrapper and the
// bounded agent pool.
package agent

import (
	"context"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// Agent is the capability set every specialist implements. Process is
// the single entry point; its concrete work is specialist and opaque to
// the core.
type Agent interface {
	// ID returns the stable agent identifier used by the router.
	ID() string

	// Capabilities returns human-readable capability tags for /agents.
	Capabilities() []string

	// Process handles one message. Agent-level failures are reported in
	// the response status/error; an error return is reserved for
	// infrastructure failures where no meaningful response exists.
	Process(ctx context.Context, msg models.AgentMessage, actx *models.AgentContext) (*models.AgentResponse, error)

	// Reflect scores a prior response and may request a re-execution
	// with an adjusted message. Called by the runtime when confidence
	// falls below threshold or the response fails validation.
	Reflect(ctx context.Context, resp *models.AgentResponse) QualityScore

	// Initialize prepares the agent. Failure removes it from the pool.
	Initialize(ctx context.Context) error

	// Shutdown releases agent resources.
	Shutdown(ctx context.Context) error
}

// QualityScore is an agent's self-assessment of a response.
type QualityScore struct {
	Score float64
	// Retry requests a re-execution; Hint adjusts the next attempt
	// (merged into the message payload).
	Retry bool
	Hint  map[string]any
}

// Stateful marks agents that hold per-process state and must be
// singleton within the pool (e.g. the memory agent).
type Stateful interface {
	Stateful() bool
}

// IsStateful reports whether a must be pooled as a singleton.
func IsStateful(a Agent) bool {
	s, ok := a.(Stateful)
	return ok && s.Stateful()
}
