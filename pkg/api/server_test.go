package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidadao-ai/vigia/pkg/agent"
	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/coordinator"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/services"
	"github.com/cidadao-ai/vigia/pkg/stream"
)

// scriptedExecutor completes runs with a fixed reply and, when an
// emitter is attached, a minimal valid event sequence.
type scriptedExecutor struct {
	investigations *services.InvestigationService
	reply          string
}

func (s *scriptedExecutor) Run(ctx context.Context, inv *models.Investigation, emitter *stream.Emitter) (*coordinator.Outcome, error) {
	if emitter != nil {
		defer emitter.Close()
		_ = emitter.Emit(ctx, stream.Event{Type: stream.EventStart, Data: map[string]any{"investigation_id": inv.ID}})
		for _, ev := range stream.ChunkText(s.reply, stream.DefaultTextChunkWords) {
			_ = emitter.Emit(ctx, ev)
		}
		_ = emitter.Emit(ctx, stream.Event{Type: stream.EventDone, Data: map[string]any{"status": "completed"}})
	}
	if _, err := s.investigations.RecordResult(context.Background(), inv.ID, s.reply, 42, 3, nil, nil); err != nil {
		return nil, err
	}
	updated, err := s.investigations.Transition(context.Background(), inv.ID, models.StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	return &coordinator.Outcome{
		Investigation:    updated,
		Reply:            s.reply,
		Intent:           models.Intent{Type: models.IntentInvestigate, Confidence: 0.9},
		AgentID:          "detective",
		Confidence:       0.9,
		SuggestedActions: []string{"Gerar relatório completo"},
	}, nil
}

type fixture struct {
	server         *Server
	engine         http.Handler
	investigations *services.InvestigationService
	events         *services.EventService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	invs := services.NewInvestigationService(services.NewInMemoryInvestigationStore())
	events := services.NewEventService(services.NewInMemoryEventStore())
	memory := services.NewMemoryService(services.NewInMemoryEpisodicStore(), 90)

	pool := agent.NewPool(4)
	pool.Register("communicator", func() agent.Agent { return agent.NewCommunicator() })
	pool.Register("detective", func() agent.Agent { return agent.NewDetective() })

	cfg := config.Default()
	cfg.Stream.IdleTimeout = 2 * time.Second

	srv := NewServer(cfg, nil, invs, memory, events,
		&scriptedExecutor{investigations: invs, reply: "Encontrei 3 anomalias em 42 registros analisados."},
		pool, nil, nil)
	return &fixture{server: srv, engine: srv.Handler(), investigations: invs, events: events}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestChatMessageSynchronous(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/message", ChatMessageRequest{
		Message: "investigar contratos do ministério da saúde", SessionID: "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.InvestigationID)
	assert.NotEmpty(t, resp.MessageID)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "investigate", resp.Intent)
	assert.Equal(t, 42, resp.RecordsAnalyzed)
	assert.Equal(t, 3, resp.AnomaliesFound)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "detective", resp.AgentID)
	assert.Equal(t, "detective", resp.AgentName)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Equal(t, []string{"Gerar relatório completo"}, resp.SuggestedActions)
}

func TestChatMessageRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/chat/message", ChatMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatMessageRejectsOversizedBody(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/chat/message", ChatMessageRequest{
		Message: strings.Repeat("a", maxMessageLength+1),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamWritesEventSequence(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/stream", ChatMessageRequest{
		Message: "investigar licitações em 2025",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	events, err := stream.Decode(rec.Body)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, stream.EventStart, events[0].Type)
	assert.Equal(t, stream.EventDone, events[len(events)-1].Type)
	require.NoError(t, stream.ValidateSequence(events))
}

func TestCreateInvestigationQueuesPending(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/investigations", CreateInvestigationRequest{
		Query: "analisar gastos com diárias", SessionID: "s2",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var inv models.Investigation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.Equal(t, models.StatusPending, inv.Status)
	assert.Empty(t, inv.ClaimedBy)

	got := f.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID, nil)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestGetInvestigationNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/investigations/desconhecida", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListInvestigationsRequiresSession(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/investigations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/investigations?session_id=s1&limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelPendingInvestigation(t *testing.T) {
	f := newFixture(t)

	inv, err := f.investigations.Create(context.Background(), models.Query{Text: "consulta"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/investigations/"+inv.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.investigations.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "user_cancelled", got.FailureReason)
}

func TestCancelFinishedInvestigationConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.investigations.Create(ctx, models.Query{Text: "consulta"})
	require.NoError(t, err)
	_, err = f.investigations.Transition(ctx, inv.ID, models.StatusRunning, "")
	require.NoError(t, err)
	_, err = f.investigations.Transition(ctx, inv.ID, models.StatusCompleted, "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/investigations/"+inv.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPublicResultStripsIdentifiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.investigations.Create(ctx, models.Query{Text: "consulta", SessionID: "s9", UserID: "u9"})
	require.NoError(t, err)

	// Not terminal yet: nothing public.
	rec := f.do(t, http.MethodGet, "/api/v1/investigations/public/results/"+inv.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = f.investigations.Transition(ctx, inv.ID, models.StatusRunning, "")
	require.NoError(t, err)
	_, err = f.investigations.RecordResult(ctx, inv.ID, "pagamentos ao CPF 123.456.789-01", 10, 1, nil, nil)
	require.NoError(t, err)
	_, err = f.investigations.Transition(ctx, inv.ID, models.StatusCompleted, "")
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/v1/investigations/public/results/"+inv.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "user_id")
	assert.NotContains(t, body, "session_id")
	assert.Equal(t, "pagamentos ao CPF ***CPF***", body["summary"], "personal identifiers are redacted")
}

func TestInvestigationEventsResumable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.investigations.Create(ctx, models.Query{Text: "consulta"})
	require.NoError(t, err)
	require.NoError(t, f.events.Record(ctx, inv.ID, "progress", map[string]any{"phase": "collecting"}))
	require.NoError(t, f.events.Record(ctx, inv.ID, "done", map[string]any{"status": "completed"}))

	rec := f.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []InvestigationEventResponse `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)

	after := strconv.FormatInt(body.Events[0].ID, 10)
	rec = f.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/events?after="+after, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "done", body.Events[0].EventType)
}

func TestAgentsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Agents []AgentStatusResponse `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Agents, 2)
	assert.Equal(t, "communicator", body.Agents[0].ID)
	assert.True(t, body.Agents[0].Healthy)
}

func TestHealthWithoutDatabase(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Nil(t, body.Database)
}
