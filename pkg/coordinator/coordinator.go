// Package coordinator drives one investigation end to end: planning,
// collection, analysis and synthesis, with persistence at every phase
// transition and prompt cancellation at phase boundaries.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cidadao-ai/vigia/pkg/federation"
	"github.com/cidadao-ai/vigia/pkg/memory"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/planner"
	"github.com/cidadao-ai/vigia/pkg/router"
	"github.com/cidadao-ai/vigia/pkg/services"
	"github.com/cidadao-ai/vigia/pkg/stream"
)

// Config tunes one coordinator.
type Config struct {
	// InvestigationTimeout bounds the whole pipeline (default 180s).
	InvestigationTimeout time.Duration
	// TextChunkWords sets the word grouping for streamed text.
	TextChunkWords int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InvestigationTimeout: 180 * time.Second,
		TextChunkWords:       stream.DefaultTextChunkWords,
	}
}

// Coordinator owns investigations end to end.
type Coordinator struct {
	cfg            Config
	planner        *planner.Planner
	executor       *federation.Executor
	router         *router.Router
	investigations *services.InvestigationService
	memory         *services.MemoryService
	events         *services.EventService
	working        *memory.WorkingContext
}

// New wires a coordinator. memory, events and work may be nil (no
// episodic trail / no journal / no conversation window).
func New(cfg Config, p *planner.Planner, ex *federation.Executor, rt *router.Router, inv *services.InvestigationService, mem *services.MemoryService, ev *services.EventService, work *memory.WorkingContext) *Coordinator {
	if cfg.InvestigationTimeout <= 0 {
		cfg.InvestigationTimeout = DefaultConfig().InvestigationTimeout
	}
	if cfg.TextChunkWords <= 0 {
		cfg.TextChunkWords = stream.DefaultTextChunkWords
	}
	return &Coordinator{
		cfg:            cfg,
		planner:        p,
		executor:       ex,
		router:         rt,
		investigations: inv,
		memory:         mem,
		events:         ev,
		working:        work,
	}
}

// Outcome is what a finished run hands back to the caller (chat reply
// or worker logging). The stream, when attached, already carried the
// same content as events.
type Outcome struct {
	Investigation *models.Investigation
	Reply         string
	Intent        models.Intent
	// AgentID names the agent whose response drove the reply;
	// Confidence is that response's score.
	AgentID           string
	Confidence        float64
	SuggestedActions  []string
	FollowUpQuestions []string
}

// noteAgent records which agent answered and what it suggested.
func (out *Outcome) noteAgent(resp *models.AgentResponse) {
	if resp == nil {
		return
	}
	out.AgentID = resp.AgentName
	out.Confidence = resp.Confidence()
	if v, ok := resp.Result["suggested_actions"].([]string); ok {
		out.SuggestedActions = v
	}
	if v, ok := resp.Result["follow_up_questions"].([]string); ok {
		out.FollowUpQuestions = v
	}
}

// fallbackReply is the intent-conditioned text used when the pipeline
// fails: the user-visible reply must never be empty.
func fallbackReply(intent models.IntentType) string {
	switch intent {
	case models.IntentGreeting, models.IntentHelpRequest:
		return "Olá! No momento estou com dificuldades técnicas, mas volte em instantes."
	default:
		return "Não consegui consultar as fontes agora; tente novamente em instantes."
	}
}

// Run executes the investigation. inv must be in status running
// (claimed by a worker or transitioned by the caller). emitter may be
// nil for non-streaming paths; when set, Run emits the full event
// sequence and closes the emitter before returning.
func (c *Coordinator) Run(ctx context.Context, inv *models.Investigation, emitter *stream.Emitter) (*Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.InvestigationTimeout)
	defer cancel()

	log := slog.With("investigation_id", inv.ID)
	out := &Outcome{Investigation: inv}
	actx := c.agentContext(inv)

	// Conversation window: the query enters now, the reply on the way
	// out, whichever path finishes the run.
	if c.working != nil && inv.SessionID != "" {
		c.working.Append(inv.SessionID, memory.Turn{Role: "user", Text: inv.Query})
	}
	defer func() {
		if c.working != nil && inv.SessionID != "" && out.Reply != "" {
			c.working.Append(inv.SessionID, memory.Turn{Role: "assistant", Text: out.Reply})
		}
	}()

	c.emit(runCtx, inv.ID, emitter, stream.Event{
		Type: stream.EventStart,
		Data: map[string]any{"investigation_id": inv.ID, "query": inv.Query},
	})
	defer func() {
		if emitter != nil {
			emitter.Close()
		}
	}()

	// ---- planning ----
	if err := c.beginPhase(runCtx, inv, models.PhasePlanning, emitter); err != nil {
		return c.finishCancelled(inv, out, emitter, err)
	}

	plan, err := c.planner.Plan(runCtx, models.Query{Text: inv.Query, SessionID: inv.SessionID, UserID: inv.UserID})
	if err != nil {
		if planner.IsPlanError(err) {
			// Clarifying prompt, not a failure.
			return c.finishClarification(runCtx, inv, out, emitter, err)
		}
		return c.fail(runCtx, inv, out, emitter, "plan_failed", err)
	}
	out.Intent = plan.Intent
	c.record(inv.ID, "plan", plan)

	c.emit(runCtx, inv.ID, emitter, stream.Event{
		Type: stream.EventIntent,
		Data: map[string]any{
			"intent":     string(plan.Intent.Type),
			"confidence": plan.Intent.Confidence,
		},
	})
	chain := c.router.Chain(plan.Intent)
	selected := ""
	if len(chain) > 0 {
		selected = chain[0]
	}
	c.emit(runCtx, inv.ID, emitter, stream.Event{
		Type: stream.EventAgentSelected,
		Data: map[string]any{"agent": selected, "chain": chain},
	})

	// Conversational fast path: no fetch steps.
	if len(plan.Steps) == 0 {
		return c.runConversational(runCtx, inv, plan, out, actx, emitter)
	}

	// ---- collecting ----
	if err := c.beginPhase(runCtx, inv, models.PhaseCollecting, emitter); err != nil {
		return c.finishCancelled(inv, out, emitter, err)
	}

	var records []models.DataRecord
	var missing []string
	partial := false
	duplicates := 0

	for _, step := range plan.Steps {
		res, err := c.executor.Execute(runCtx, step.Capability, step.Filters, step.Strategy, step.Deadline)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(runCtx.Err(), context.Canceled) {
				return c.finishCancelled(inv, out, emitter, err)
			}
			if errors.Is(err, federation.ErrAllSourcesUnavailable) {
				return c.fail(runCtx, inv, out, emitter, "all_sources_unavailable", err)
			}
			if errors.Is(err, federation.ErrNoSources) {
				return c.finishClarification(runCtx, inv, out, emitter, err)
			}
			return c.fail(runCtx, inv, out, emitter, "collection_failed", err)
		}
		records = append(records, stepRecords(res)...)
		missing = append(missing, res.MissingSources...)
		partial = partial || res.Partial
		duplicates += res.Duplicates
		c.record(inv.ID, "federated_result", map[string]any{
			"capability":      string(step.Capability),
			"strategy":        string(res.Strategy),
			"records":         len(records),
			"duplicates":      res.Duplicates,
			"missing_sources": res.MissingSources,
		})
	}
	if partial {
		c.emit(runCtx, inv.ID, emitter, stream.Event{
			Type: stream.EventWarning,
			Data: map[string]any{"reason": "partial_results", "missing_sources": missing},
		})
	}

	// ---- analyzing ----
	if err := c.beginPhase(runCtx, inv, models.PhaseAnalyzing, emitter); err != nil {
		return c.finishCancelled(inv, out, emitter, err)
	}

	payload := map[string]any{"query": inv.Query, "records": records}
	c.recallMemories(runCtx, inv, actx, payload)
	analysis, err := c.router.Dispatch(runCtx, plan.Intent, payload, actx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return c.finishCancelled(inv, out, emitter, err)
		}
		return c.fail(runCtx, inv, out, emitter, "analysis_failed", err)
	}
	c.record(inv.ID, "agent_response", analysis)
	out.noteAgent(analysis)

	anomalies := intFromResult(analysis.Result, "anomalies_found")
	analyzed := intFromResult(analysis.Result, "records_analyzed")
	if analyzed == 0 {
		analyzed = len(records)
	}

	// ---- synthesizing ----
	if err := c.beginPhase(runCtx, inv, models.PhaseSynthesizing, emitter); err != nil {
		return c.finishCancelled(inv, out, emitter, err)
	}

	summary := c.synthesize(runCtx, inv, actx, analysis, analyzed, anomalies)
	out.Reply = summary
	c.storeMemory(runCtx, inv, actx, summary)

	for _, ev := range stream.ChunkText(summary, c.cfg.TextChunkWords) {
		c.emit(runCtx, inv.ID, emitter, ev)
	}

	// ---- done ----
	metadata := map[string]any{}
	if partial {
		metadata["partial"] = true
		metadata["missing_sources"] = missing
	}
	if low, ok := analysis.Metadata["low_confidence"].(bool); ok && low {
		metadata["low_confidence"] = true
	}
	if cycles, ok := analysis.Metadata["reflection_cycles"]; ok {
		metadata["reflection_cycles"] = cycles
	}
	if trace, ok := analysis.Metadata["orchestration"]; ok {
		metadata["orchestration"] = trace
	}

	resultBlob, _ := json.Marshal(analysis.Result)
	if _, err := c.investigations.RecordResult(runCtx, inv.ID, summary, analyzed, anomalies, resultBlob, metadata); err != nil {
		log.Error("Failed to persist result", "error", err)
	}

	final, err := c.investigations.Transition(runCtx, inv.ID, models.StatusCompleted, "")
	if err != nil {
		return c.fail(runCtx, inv, out, emitter, "persistence_failed", err)
	}
	out.Investigation = final

	c.emit(runCtx, inv.ID, emitter, stream.Event{
		Type: stream.EventDone,
		Data: map[string]any{
			"status":                 string(models.StatusCompleted),
			"total_records_analyzed": analyzed,
			"anomalies_found":        anomalies,
		},
	})
	log.Info("Investigation completed", "records", analyzed, "anomalies", anomalies)
	return out, nil
}

// runConversational handles greeting/help/unknown: one agent dispatch,
// no federation.
func (c *Coordinator) runConversational(ctx context.Context, inv *models.Investigation, plan *models.ExecutionPlan, out *Outcome, actx *models.AgentContext, emitter *stream.Emitter) (*Outcome, error) {
	payload := map[string]any{"query": inv.Query}
	if c.working != nil && inv.SessionID != "" {
		// Everything before the turn appended at the top of Run.
		if turns := c.working.Turns(inv.SessionID); len(turns) > 1 {
			payload["history"] = turns[:len(turns)-1]
		}
	}
	resp, err := c.router.Dispatch(ctx, plan.Intent, payload, actx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return c.finishCancelled(inv, out, emitter, err)
		}
		return c.fail(ctx, inv, out, emitter, "dispatch_failed", err)
	}
	c.record(inv.ID, "agent_response", resp)
	out.noteAgent(resp)

	reply, _ := resp.Result["message"].(string)
	if reply == "" {
		reply = fallbackReply(plan.Intent.Type)
	}
	out.Reply = reply

	for _, ev := range stream.ChunkText(reply, c.cfg.TextChunkWords) {
		c.emit(ctx, inv.ID, emitter, ev)
	}

	if _, err := c.investigations.RecordResult(ctx, inv.ID, reply, 0, 0, nil, nil); err != nil {
		slog.Error("Failed to persist reply", "investigation_id", inv.ID, "error", err)
	}
	final, err := c.investigations.Transition(ctx, inv.ID, models.StatusCompleted, "")
	if err != nil {
		return c.fail(ctx, inv, out, emitter, "persistence_failed", err)
	}
	out.Investigation = final

	c.emit(ctx, inv.ID, emitter, stream.Event{
		Type: stream.EventDone,
		Data: map[string]any{"status": string(models.StatusCompleted)},
	})
	return out, nil
}

// finishClarification completes the investigation with a clarifying
// prompt instead of an error: a PlanError is a conversation, not a
// failure.
func (c *Coordinator) finishClarification(ctx context.Context, inv *models.Investigation, out *Outcome, emitter *stream.Emitter, cause error) (*Outcome, error) {
	reply := "Não entendi o suficiente para investigar. Pode informar o órgão, o período ou o tipo de gasto que deseja analisar?"
	out.Reply = reply
	out.FollowUpQuestions = []string{
		"Qual órgão você quer investigar?",
		"Qual período devo considerar?",
		"O interesse é em contratos, licitações ou despesas?",
	}
	slog.Info("Plan needs clarification", "investigation_id", inv.ID, "cause", cause)

	for _, ev := range stream.ChunkText(reply, c.cfg.TextChunkWords) {
		c.emit(ctx, inv.ID, emitter, ev)
	}
	if _, err := c.investigations.RecordResult(ctx, inv.ID, reply, 0, 0, nil, map[string]any{"clarification": true}); err != nil {
		slog.Error("Failed to persist clarification", "investigation_id", inv.ID, "error", err)
	}
	final, err := c.investigations.Transition(ctx, inv.ID, models.StatusCompleted, "")
	if err == nil {
		out.Investigation = final
	}
	c.emit(ctx, inv.ID, emitter, stream.Event{
		Type: stream.EventDone,
		Data: map[string]any{"status": string(models.StatusCompleted), "clarification": true},
	})
	return out, nil
}

// fail marks the investigation failed and terminates the stream with a
// friendly reply followed by the error event.
func (c *Coordinator) fail(ctx context.Context, inv *models.Investigation, out *Outcome, emitter *stream.Emitter, reason string, cause error) (*Outcome, error) {
	slog.Error("Investigation failed", "investigation_id", inv.ID, "reason", reason, "error", cause)
	out.Reply = fallbackReply(out.Intent.Type)

	for _, ev := range stream.ChunkText(out.Reply, c.cfg.TextChunkWords) {
		c.emit(ctx, inv.ID, emitter, ev)
	}
	// Persist with a fresh context: the run context may be the reason we
	// are failing.
	if final, err := c.investigations.Transition(context.WithoutCancel(ctx), inv.ID, models.StatusFailed, reason); err == nil {
		out.Investigation = final
	}
	c.emit(ctx, inv.ID, emitter, stream.Event{
		Type: stream.EventError,
		Data: map[string]any{"reason": reason},
	})
	return out, fmt.Errorf("investigation %s failed (%s): %w", inv.ID, reason, cause)
}

// finishCancelled freezes the investigation: after this no further
// persistent side effects happen on its behalf.
func (c *Coordinator) finishCancelled(inv *models.Investigation, out *Outcome, emitter *stream.Emitter, cause error) (*Outcome, error) {
	reason := "cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "deadline_exceeded"
	}
	slog.Info("Investigation cancelled", "investigation_id", inv.ID, "reason", reason)

	persistCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if final, err := c.investigations.Transition(persistCtx, inv.ID, models.StatusCancelled, reason); err == nil {
		out.Investigation = final
	}
	c.emit(persistCtx, inv.ID, emitter, stream.Event{
		Type: stream.EventError,
		Data: map[string]any{"reason": reason},
	})
	return out, fmt.Errorf("investigation %s cancelled: %w", inv.ID, cause)
}

// beginPhase persists the phase transition and emits its progress
// checkpoint. Cancellation is observed here, at the phase boundary.
func (c *Coordinator) beginPhase(ctx context.Context, inv *models.Investigation, phase models.Phase, emitter *stream.Emitter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	updated, err := c.investigations.AdvancePhase(ctx, inv.ID, phase)
	if err != nil {
		return err
	}
	*inv = *updated
	c.emit(ctx, inv.ID, emitter, stream.Event{
		Type: stream.EventProgress,
		Data: map[string]any{
			"phase":    string(phase),
			"progress": models.PhaseCheckpoint(phase),
		},
	})
	return nil
}

// synthesize runs the reporter for analytical intents; conversational
// summaries come straight from the analysis response.
func (c *Coordinator) synthesize(ctx context.Context, inv *models.Investigation, actx *models.AgentContext, analysis *models.AgentResponse, analyzed, anomalies int) string {
	reportIntent := models.Intent{Type: models.IntentReportRequest}
	payload := map[string]any{
		"query":            inv.Query,
		"records_analyzed": analyzed,
		"anomalies_found":  anomalies,
		"findings":         analysis.Result,
	}
	resp, err := c.router.Dispatch(ctx, reportIntent, payload, actx)
	if err == nil {
		if summary, ok := resp.Result["summary"].(string); ok && summary != "" {
			c.record(inv.ID, "agent_response", resp)
			return summary
		}
	} else {
		slog.Warn("Reporter dispatch failed, using plain summary", "investigation_id", inv.ID, "error", err)
	}
	return fmt.Sprintf("Investigação concluída: %d registros analisados, %d possíveis irregularidades.", analyzed, anomalies)
}

// recallMemories asks the memory agent for prior findings related to
// the query and folds them into the analysis payload. Absence of the
// agent or a recall failure never blocks the pipeline.
func (c *Coordinator) recallMemories(ctx context.Context, inv *models.Investigation, actx *models.AgentContext, payload map[string]any) {
	resp, err := c.router.DispatchTo(ctx, "memory", "recall", map[string]any{"query": inv.Query}, actx)
	if err != nil || resp.Status != models.AgentStatusCompleted {
		slog.Debug("Semantic recall skipped", "investigation_id", inv.ID, "error", err)
		return
	}
	if intFromResult(resp.Result, "count") > 0 {
		payload["recalled_memories"] = resp.Result["memories"]
		c.record(inv.ID, "memory_recall", resp.Result)
	}
}

// storeMemory persists the finished summary through the memory agent so
// later investigations can recall it.
func (c *Coordinator) storeMemory(ctx context.Context, inv *models.Investigation, actx *models.AgentContext, summary string) {
	if _, err := c.router.DispatchTo(ctx, "memory", "store", map[string]any{"payload": summary}, actx); err != nil {
		slog.Debug("Semantic store skipped", "investigation_id", inv.ID, "error", err)
	}
}

func (c *Coordinator) agentContext(inv *models.Investigation) *models.AgentContext {
	return models.NewAgentContext(inv.ID, inv.UserID, inv.SessionID)
}

// emit pushes an event to the stream (when attached) and the journal.
// A slow-consumer termination stops further emissions but never the
// pipeline.
func (c *Coordinator) emit(ctx context.Context, investigationID string, emitter *stream.Emitter, ev stream.Event) {
	if c.events != nil {
		if err := c.events.Record(ctx, investigationID, string(ev.Type), ev.Data); err != nil {
			slog.Debug("Event journal write failed", "error", err)
		}
	}
	if emitter == nil {
		return
	}
	if err := emitter.Emit(ctx, ev); err != nil && !errors.Is(err, stream.ErrStreamClosed) {
		slog.Warn("Stream emission failed", "event", ev.Type, "error", err)
	}
}

func (c *Coordinator) record(investigationID, kind string, payload any) {
	if c.memory == nil {
		return
	}
	if err := c.memory.Record(context.Background(), investigationID, kind, payload); err != nil {
		slog.Debug("Episodic write failed", "investigation_id", investigationID, "error", err)
	}
}

func stepRecords(res *models.FederatedResult) []models.DataRecord {
	if len(res.Records) > 0 {
		return res.Records
	}
	var out []models.DataRecord
	for _, recs := range res.BySource {
		out = append(out, recs...)
	}
	return out
}

func intFromResult(result map[string]any, key string) int {
	switch v := result[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
