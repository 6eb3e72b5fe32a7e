package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidadao-ai/vigia/pkg/agent"
	"github.com/cidadao-ai/vigia/pkg/federation"
	"github.com/cidadao-ai/vigia/pkg/memory"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/planner"
	"github.com/cidadao-ai/vigia/pkg/registry"
	"github.com/cidadao-ai/vigia/pkg/resilience"
	"github.com/cidadao-ai/vigia/pkg/router"
	"github.com/cidadao-ai/vigia/pkg/services"
	"github.com/cidadao-ai/vigia/pkg/stream"
)

// scriptedFetcher scripts per-source records, errors and delays.
type scriptedFetcher struct {
	records map[string][]models.DataRecord
	errs    map[string]error
	delays  map[string]time.Duration
	calls   map[string]*atomic.Int32
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		records: make(map[string][]models.DataRecord),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]*atomic.Int32),
	}
}

func (f *scriptedFetcher) track(sourceID string) *atomic.Int32 {
	c := &atomic.Int32{}
	f.calls[sourceID] = c
	return c
}

func (f *scriptedFetcher) Fetch(ctx context.Context, src registry.Source, cap models.Capability, filters models.Filters) ([]models.DataRecord, error) {
	if c, ok := f.calls[src.ID]; ok {
		c.Add(1)
	}
	if d := f.delays[src.ID]; d > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	if err := f.errs[src.ID]; err != nil {
		return nil, err
	}
	return f.records[src.ID], nil
}

func contract(sourceID, contractID string, value float64) models.DataRecord {
	return models.DataRecord{
		SourceID:     sourceID,
		ContractID:   contractID,
		Organization: "Ministério da Saúde",
		Supplier:     "Fornecedora Alfa",
		Date:         time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Value:        1000,
	}
}

type fixture struct {
	coord    *Coordinator
	invs     *services.InvestigationService
	memories *services.MemoryService
	registry *registry.Registry
	fetcher  *scriptedFetcher
	working  *memory.WorkingContext
	semantic *memory.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fetcher := newScriptedFetcher()
	sources := []registry.Source{
		{ID: "fonte-a", Name: "Fonte A", Family: registry.FamilyFederal, Capabilities: []models.Capability{models.CapabilityContracts}, Priority: 1},
		{ID: "fonte-b", Name: "Fonte B", Family: registry.FamilyFederal, Capabilities: []models.Capability{models.CapabilityContracts}, Priority: 2},
	}
	reg, err := registry.New(sources, resilience.DefaultBreakerConfig())
	require.NoError(t, err)

	fedCfg := federation.DefaultConfig()
	fedCfg.Retry.MaxAttempts = 1
	executor := federation.NewExecutor(reg, fetcher, fedCfg)

	semantic := memory.NewInMemoryStore(nil)
	pool := agent.NewPool(4)
	pool.Register("communicator", func() agent.Agent { return agent.NewCommunicator() })
	pool.Register("detective", func() agent.Agent { return agent.NewDetective() })
	pool.Register("analyst", func() agent.Agent { return agent.NewAnalyst() })
	pool.Register("reporter", func() agent.Agent { return agent.NewReporter(nil) })
	pool.Register("memory", func() agent.Agent { return agent.NewMemoryAgent(semantic) })

	runtime := agent.DefaultRuntimeConfig()
	runtime.ProcessTimeout = 5 * time.Second
	rt := router.New(pool, runtime)

	invStore := services.NewInMemoryInvestigationStore()
	invs := services.NewInvestigationService(invStore)
	memories := services.NewMemoryService(services.NewInMemoryEpisodicStore(), 90)
	events := services.NewEventService(services.NewInMemoryEventStore())

	p := planner.New(planner.RuleClassifier{}, 2*time.Second)

	working := memory.NewWorkingContext(0, 0)

	cfg := DefaultConfig()
	cfg.InvestigationTimeout = 10 * time.Second
	coord := New(cfg, p, executor, rt, invs, memories, events, working)

	return &fixture{
		coord: coord, invs: invs, memories: memories, registry: reg,
		fetcher: fetcher, working: working, semantic: semantic,
	}
}

// start creates an investigation and moves it to running, the way the
// worker pool does before invoking the coordinator.
func (f *fixture) start(t *testing.T, query string) *models.Investigation {
	t.Helper()
	inv, err := f.invs.Create(context.Background(), models.Query{Text: query, SessionID: "s1"})
	require.NoError(t, err)
	inv, err = f.invs.Transition(context.Background(), inv.ID, models.StatusRunning, "")
	require.NoError(t, err)
	return inv
}

func drain(e *stream.Emitter) []stream.Event {
	var out []stream.Event
	for ev := range e.Events() {
		out = append(out, ev)
	}
	if term := e.Terminal(); term != nil {
		out = append(out, *term)
	}
	return out
}

func TestGreetingFastPath(t *testing.T) {
	f := newFixture(t)
	calls := f.fetcher.track("fonte-a")
	inv := f.start(t, "olá")

	emitter := stream.NewEmitter(stream.EmitterConfig{BufferSize: 128, OverflowWait: time.Second})
	started := time.Now()
	done := make(chan []stream.Event, 1)
	go func() { done <- drain(emitter) }()

	out, err := f.coord.Run(context.Background(), inv, emitter)
	require.NoError(t, err)
	events := <-done

	assert.Less(t, time.Since(started), 3*time.Second)
	assert.Equal(t, models.IntentGreeting, out.Intent.Type)
	assert.NotEmpty(t, out.Reply)
	assert.Equal(t, int32(0), calls.Load(), "greeting never touches sources")
	assert.Equal(t, models.StatusCompleted, out.Investigation.Status)

	require.NoError(t, stream.ValidateSequence(events))
	assert.Equal(t, stream.EventStart, events[0].Type)
	assert.Equal(t, stream.EventDone, events[len(events)-1].Type)
}

func TestInvestigationAggregateTwoSources(t *testing.T) {
	f := newFixture(t)
	// N1=3 and N2=2 with D=1 shared contract.
	f.fetcher.records["fonte-a"] = []models.DataRecord{
		contract("fonte-a", "CT-001", 1000),
		contract("fonte-a", "CT-002", 1200),
		contract("fonte-a", "CT-003", 900),
	}
	f.fetcher.records["fonte-b"] = []models.DataRecord{
		contract("fonte-b", "CT-001", 1000),
		contract("fonte-b", "CT-004", 1100),
	}
	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")

	emitter := stream.NewEmitter(stream.EmitterConfig{BufferSize: 128, OverflowWait: time.Second})
	done := make(chan []stream.Event, 1)
	go func() { done <- drain(emitter) }()

	out, err := f.coord.Run(context.Background(), inv, emitter)
	require.NoError(t, err)
	events := <-done

	assert.Equal(t, models.IntentInvestigate, out.Intent.Type)
	assert.Equal(t, models.StatusCompleted, out.Investigation.Status)
	assert.Equal(t, 4, out.Investigation.TotalRecordsAnalyzed, "N1+N2-D")
	assert.NotEmpty(t, out.Investigation.Summary)
	require.NoError(t, stream.ValidateSequence(events))
}

func TestInvestigationWithOpenCircuitedSource(t *testing.T) {
	f := newFixture(t)
	callsA := f.fetcher.track("fonte-a")
	f.fetcher.records["fonte-b"] = []models.DataRecord{contract("fonte-b", "CT-010", 500)}

	// Trip fonte-a's breaker before the run.
	breaker := f.registry.Breaker("fonte-a")
	for i := 0; i < 10; i++ {
		breaker.RecordFailure()
	}
	require.Equal(t, resilience.StateOpen, breaker.State())

	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")
	emitter := stream.NewEmitter(stream.EmitterConfig{BufferSize: 128, OverflowWait: time.Second})
	done := make(chan []stream.Event, 1)
	go func() { done <- drain(emitter) }()

	out, err := f.coord.Run(context.Background(), inv, emitter)
	require.NoError(t, err)
	events := <-done

	assert.Equal(t, int32(0), callsA.Load(), "open breaker blocks the network call")
	assert.Equal(t, models.StatusCompleted, out.Investigation.Status)
	assert.Equal(t, true, out.Investigation.Metadata["partial"])
	assert.Contains(t, out.Investigation.Metadata["missing_sources"], "fonte-a")
	require.NoError(t, stream.ValidateSequence(events))

	var sawWarning bool
	for _, ev := range events {
		if ev.Type == stream.EventWarning {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning, "partial results surface a warning event")
}

func TestAllSourcesUnavailableFails(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"fonte-a", "fonte-b"} {
		b := f.registry.Breaker(id)
		for i := 0; i < 10; i++ {
			b.RecordFailure()
		}
	}

	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")
	emitter := stream.NewEmitter(stream.EmitterConfig{BufferSize: 128, OverflowWait: time.Second})
	done := make(chan []stream.Event, 1)
	go func() { done <- drain(emitter) }()

	out, err := f.coord.Run(context.Background(), inv, emitter)
	require.Error(t, err)
	events := <-done

	assert.Equal(t, models.StatusFailed, out.Investigation.Status)
	assert.Equal(t, "all_sources_unavailable", out.Investigation.FailureReason)
	assert.NotEmpty(t, out.Reply, "user-visible reply is never empty")

	require.NoError(t, stream.ValidateSequence(events))
	last := events[len(events)-1]
	assert.Equal(t, stream.EventError, last.Type)
	assert.Equal(t, "all_sources_unavailable", last.Data["reason"])
}

func TestEmptyFederatedResultCompletes(t *testing.T) {
	f := newFixture(t)
	// Both sources respond with zero records.
	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")

	out, err := f.coord.Run(context.Background(), inv, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, out.Investigation.Status)
	assert.Equal(t, 0, out.Investigation.TotalRecordsAnalyzed)
	assert.Equal(t, 0, out.Investigation.AnomaliesFound)
	assert.NotEmpty(t, out.Investigation.Summary)
}

func TestCancellationMidCollecting(t *testing.T) {
	f := newFixture(t)
	f.fetcher.delays["fonte-a"] = 5 * time.Second
	f.fetcher.delays["fonte-b"] = 5 * time.Second

	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	out, err := f.coord.Run(ctx, inv, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(started), time.Second, "cancellation terminates promptly")

	assert.Equal(t, models.StatusCancelled, out.Investigation.Status)
	assert.Empty(t, out.Investigation.Summary, "no synthesizing side effects after cancel")

	// The status is frozen afterwards.
	_, err = f.invs.Transition(context.Background(), inv.ID, models.StatusCompleted, "")
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestClarificationInsteadOfPlanError(t *testing.T) {
	f := newFixture(t)
	// Investigate-like phrasing with no capability vocabulary at all.
	inv := f.start(t, "investigar xyzzy")

	out, err := f.coord.Run(context.Background(), inv, nil)
	require.NoError(t, err, "a plan gap is a conversation, not a failure")

	assert.Equal(t, models.StatusCompleted, out.Investigation.Status)
	assert.NotEmpty(t, out.Reply)
	assert.Equal(t, true, out.Investigation.Metadata["clarification"])
	assert.NotEmpty(t, out.FollowUpQuestions)
}

func TestWorkingContextRecordsTurns(t *testing.T) {
	f := newFixture(t)
	inv := f.start(t, "olá")

	out, err := f.coord.Run(context.Background(), inv, nil)
	require.NoError(t, err)

	turns := f.working.Turns("s1")
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "olá", turns[0].Text)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, out.Reply, turns[1].Text)
}

func TestOutcomeCarriesAnsweringAgent(t *testing.T) {
	f := newFixture(t)
	inv := f.start(t, "olá")

	out, err := f.coord.Run(context.Background(), inv, nil)
	require.NoError(t, err)

	assert.Equal(t, "communicator", out.AgentID)
	assert.Greater(t, out.Confidence, 0.0)
	assert.NotEmpty(t, out.SuggestedActions)
}

func TestSummaryStoredForLaterRecall(t *testing.T) {
	f := newFixture(t)
	f.fetcher.records["fonte-a"] = []models.DataRecord{contract("fonte-a", "CT-001", 1000)}
	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")

	out, err := f.coord.Run(context.Background(), inv, nil)
	require.NoError(t, err)

	mems, err := f.semantic.Recall(context.Background(), "contratos do Ministério da Saúde", 5)
	require.NoError(t, err)
	require.NotEmpty(t, mems, "finished summary lands in the semantic store")
	assert.Equal(t, out.Reply, mems[0].Payload)
	assert.Equal(t, inv.ID, mems[0].Key)

	// A follow-up investigation recalls the prior finding.
	second := f.start(t, "investigar contratos do Ministério da Saúde em 2024")
	_, err = f.coord.Run(context.Background(), second, nil)
	require.NoError(t, err)

	entries, err := f.memories.History(context.Background(), second.ID)
	require.NoError(t, err)
	var recalled bool
	for _, e := range entries {
		if e.Kind == "memory_recall" {
			recalled = true
		}
	}
	assert.True(t, recalled, "second run sees the first run's memory")
}

func TestEpisodicTrailWritten(t *testing.T) {
	f := newFixture(t)
	f.fetcher.records["fonte-a"] = []models.DataRecord{contract("fonte-a", "CT-001", 1000)}
	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")

	_, err := f.coord.Run(context.Background(), inv, nil)
	require.NoError(t, err)

	entries, err := f.memories.History(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	kinds := make(map[string]bool)
	for _, e := range entries {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds["plan"])
	assert.True(t, kinds["federated_result"])
	assert.True(t, kinds["agent_response"])
}

func TestProgressCheckpointsMonotone(t *testing.T) {
	f := newFixture(t)
	f.fetcher.records["fonte-a"] = []models.DataRecord{contract("fonte-a", "CT-001", 1000)}
	inv := f.start(t, "investigar contratos do Ministério da Saúde em 2024")

	emitter := stream.NewEmitter(stream.EmitterConfig{BufferSize: 128, OverflowWait: time.Second})
	done := make(chan []stream.Event, 1)
	go func() { done <- drain(emitter) }()

	_, err := f.coord.Run(context.Background(), inv, emitter)
	require.NoError(t, err)
	events := <-done

	last := -1.0
	for _, ev := range events {
		if ev.Type != stream.EventProgress {
			continue
		}
		p, ok := ev.Data["progress"].(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, p, last, "progress never decreases")
		last = p
	}
	final, err := f.invs.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, final.Progress)
}
