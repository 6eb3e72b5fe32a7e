// Package router maps classified intents onto agents and manages the
// fallback chain when a dispatch fails or comes back with low
// confidence.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cidadao-ai/vigia/pkg/agent"
	"github.com/cidadao-ai/vigia/pkg/models"
)

// SecondaryConfidenceThreshold (θ_secondary) is the floor below which a
// completed response still triggers the next fallback target.
const SecondaryConfidenceThreshold = 0.5

// ErrAllAgentsFailed is returned when the whole chain was exhausted.
var ErrAllAgentsFailed = errors.New("router: all agents in chain failed")

// intentAgentTable is the static intent → ordered agent chain mapping.
// The first entry is the default primary when the planner suggests
// nothing usable.
var intentAgentTable = map[models.IntentType][]string{
	models.IntentGreeting:      {"communicator"},
	models.IntentHelpRequest:   {"communicator"},
	models.IntentInvestigate:   {"detective", "analyst", "communicator"},
	models.IntentAnalyze:       {"analyst", "detective", "communicator"},
	models.IntentReportRequest: {"reporter", "communicator"},
	models.IntentUnknown:       {"communicator"},
}

// actionForIntent derives the AgentMessage action from the intent.
var actionForIntent = map[models.IntentType]string{
	models.IntentGreeting:      "greet",
	models.IntentHelpRequest:   "help",
	models.IntentInvestigate:   "investigate",
	models.IntentAnalyze:       "analyze",
	models.IntentReportRequest: "report",
	models.IntentUnknown:       "clarify",
}

// Router dispatches intents against the agent pool.
type Router struct {
	pool    *agent.Pool
	runtime agent.RuntimeConfig
}

// New creates a router over the pool.
func New(pool *agent.Pool, runtime agent.RuntimeConfig) *Router {
	return &Router{pool: pool, runtime: runtime}
}

// Chain resolves the ordered candidate list for an intent: the
// suggested agent first when healthy, then the static table (minus
// duplicates), with unhealthy agents filtered out. Eligible agents at
// equal table position are already ordered; the tie-break between
// equally ranked candidates is lowest pool utilization, then
// lexicographic id.
func (r *Router) Chain(intent models.Intent) []string {
	table := intentAgentTable[intent.Type]
	if table == nil {
		table = intentAgentTable[models.IntentUnknown]
	}

	var chain []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] || !r.pool.Healthy(id) {
			return
		}
		seen[id] = true
		chain = append(chain, id)
	}

	add(intent.SuggestedAgentID)
	rest := make([]string, 0, len(table))
	for _, id := range table {
		if !seen[id] && r.pool.Healthy(id) {
			rest = append(rest, id)
		}
	}
	// Stable utilization/lex ordering for the fallback portion.
	sort.SliceStable(rest, func(i, j int) bool {
		ui, uj := r.pool.Utilization(rest[i]), r.pool.Utilization(rest[j])
		if ui != uj {
			return ui < uj
		}
		return rest[i] < rest[j]
	})
	for _, id := range rest {
		add(id)
	}
	return chain
}

// DispatchTo sends one action straight to a named agent, bypassing the
// intent chain. Used for auxiliary agents (memory recall/store) that no
// intent routes to.
func (r *Router) DispatchTo(ctx context.Context, id, action string, payload map[string]any, actx *models.AgentContext) (*models.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle, err := r.pool.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	msg := models.NewAgentMessage("router", id, action, payload)
	resp := agent.Execute(ctx, handle.Agent, r.runtime, msg, actx)
	if resp.Status == models.AgentStatusCancelled {
		return nil, context.Canceled
	}
	return resp, nil
}

// Dispatch walks the chain until an agent completes with acceptable
// confidence. Every attempt is recorded in the returned response's
// metadata.orchestration for trace surfacing.
func (r *Router) Dispatch(ctx context.Context, intent models.Intent, payload map[string]any, actx *models.AgentContext) (*models.AgentResponse, error) {
	chain := r.Chain(intent)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no healthy agents for intent %s", ErrAllAgentsFailed, intent.Type)
	}

	action := actionForIntent[intent.Type]
	if action == "" {
		action = "clarify"
	}

	var trace []map[string]any
	var last *models.AgentResponse

	for position, id := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		handle, err := r.pool.Acquire(ctx, id)
		if err != nil {
			slog.Warn("Agent acquisition failed, trying next in chain", "agent", id, "error", err)
			trace = append(trace, map[string]any{
				"agent": id, "position": position, "outcome": "acquire_failed", "error": err.Error(),
			})
			continue
		}

		msg := models.NewAgentMessage("router", id, action, payload)
		started := time.Now()
		resp := agent.Execute(ctx, handle.Agent, r.runtime, msg, actx)
		handle.Release()

		entry := map[string]any{
			"agent":      id,
			"position":   position,
			"status":     string(resp.Status),
			"confidence": resp.Confidence(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}

		switch {
		case resp.Status == models.AgentStatusCancelled:
			return nil, context.Canceled
		case resp.Status != models.AgentStatusCompleted:
			entry["outcome"] = "failed"
			trace = append(trace, entry)
			last = resp
			continue
		case resp.Confidence() < SecondaryConfidenceThreshold:
			entry["outcome"] = "low_confidence"
			trace = append(trace, entry)
			last = resp
			continue
		}

		entry["outcome"] = "selected"
		trace = append(trace, entry)
		if resp.Metadata == nil {
			resp.Metadata = make(map[string]any)
		}
		resp.Metadata["orchestration"] = trace
		return resp, nil
	}

	if last != nil {
		if last.Metadata == nil {
			last.Metadata = make(map[string]any)
		}
		last.Metadata["orchestration"] = trace
	}
	return last, fmt.Errorf("%w: intent %s, %d agents tried", ErrAllAgentsFailed, intent.Type, len(chain))
}
