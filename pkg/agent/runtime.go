package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// RuntimeConfig tunes the reflective execution wrapper.
type RuntimeConfig struct {
	// ConfidenceThreshold triggers reflection below it (θ).
	ConfidenceThreshold float64
	// MaxReflectionCycles bounds re-executions (default 1).
	MaxReflectionCycles int
	// ProcessTimeout bounds one Process call (default 60s).
	ProcessTimeout time.Duration
}

// DefaultRuntimeConfig returns the documented defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ConfidenceThreshold: 0.7,
		MaxReflectionCycles: 1,
		ProcessTimeout:      60 * time.Second,
	}
}

// Execute runs one agent with status classification and the reflection
// loop. The returned response always validates; reflection exhaustion
// with low confidence yields a completed response flagged
// metadata.low_confidence rather than a failure.
func Execute(ctx context.Context, a Agent, cfg RuntimeConfig, msg models.AgentMessage, actx *models.AgentContext) *models.AgentResponse {
	if cfg.ProcessTimeout <= 0 {
		cfg = DefaultRuntimeConfig()
	}

	log := slog.With("agent", a.ID(), "action", msg.Action, "investigation_id", actx.InvestigationID)
	cycles := 0
	current := msg

	for {
		resp := runOnce(ctx, a, cfg.ProcessTimeout, current, actx)
		if resp.Metadata == nil {
			resp.Metadata = make(map[string]any)
		}
		resp.Metadata["reflection_cycles"] = cycles

		if resp.Status != models.AgentStatusCompleted {
			return resp
		}

		needsReflection := resp.Confidence() < cfg.ConfidenceThreshold || resp.Validate() != nil
		if !needsReflection {
			return resp
		}

		if cycles >= cfg.MaxReflectionCycles {
			// Exhausted: surface the best effort, flagged.
			resp.Metadata["low_confidence"] = true
			log.Info("Reflection cycles exhausted", "confidence", resp.Confidence())
			return resp
		}

		score := a.Reflect(ctx, resp)
		if !score.Retry {
			if resp.Confidence() < cfg.ConfidenceThreshold {
				resp.Metadata["low_confidence"] = true
			}
			return resp
		}

		cycles++
		log.Info("Reflection requested re-execution", "cycle", cycles, "confidence", resp.Confidence())
		current = retryMessage(current, score.Hint)
	}
}

// runOnce executes one Process call, classifying timeouts and
// cancellations off the returned error rather than ctx.Err() so a
// concurrent expiration cannot mislabel an unrelated failure.
func runOnce(ctx context.Context, a Agent, timeout time.Duration, msg models.AgentMessage, actx *models.AgentContext) *models.AgentResponse {
	procCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	resp, err := a.Process(procCtx, msg, actx)
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		status := models.AgentStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = models.AgentStatusTimedOut
		} else if errors.Is(err, context.Canceled) {
			status = models.AgentStatusCancelled
		}
		return &models.AgentResponse{
			AgentName:        a.ID(),
			Status:           status,
			Error:            err.Error(),
			ProcessingTimeMS: elapsed,
			Timestamp:        time.Now().UTC(),
		}
	}

	if resp == nil {
		return &models.AgentResponse{
			AgentName:        a.ID(),
			Status:           models.AgentStatusFailed,
			Error:            fmt.Sprintf("agent %s returned nil response", a.ID()),
			ProcessingTimeMS: elapsed,
			Timestamp:        time.Now().UTC(),
		}
	}

	if resp.ProcessingTimeMS == 0 {
		resp.ProcessingTimeMS = elapsed
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}
	if resp.AgentName == "" {
		resp.AgentName = a.ID()
	}
	return resp
}

// retryMessage merges the reflection hint into a fresh message so the
// re-execution can widen its search (e.g. expanded window).
func retryMessage(msg models.AgentMessage, hint map[string]any) models.AgentMessage {
	payload := make(map[string]any, len(msg.Payload)+len(hint)+1)
	for k, v := range msg.Payload {
		payload[k] = v
	}
	for k, v := range hint {
		payload[k] = v
	}
	payload["reflection_retry"] = true
	return models.NewAgentMessage(msg.Sender, msg.Recipient, msg.Action, payload)
}
