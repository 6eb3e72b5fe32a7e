package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/coordinator"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/services"
	"github.com/cidadao-ai/vigia/pkg/stream"
)

// stubExecutor completes claimed investigations through the service,
// optionally holding each run open until release or cancellation.
type stubExecutor struct {
	investigations *services.InvestigationService
	hold           chan struct{}
	runs           atomic.Int32
}

func (s *stubExecutor) Run(ctx context.Context, inv *models.Investigation, _ *stream.Emitter) (*coordinator.Outcome, error) {
	s.runs.Add(1)
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-ctx.Done():
			updated, err := s.investigations.Transition(context.Background(), inv.ID, models.StatusCancelled, "user_cancelled")
			if err != nil {
				return nil, err
			}
			return &coordinator.Outcome{Investigation: updated}, nil
		}
	}
	updated, err := s.investigations.Transition(context.Background(), inv.ID, models.StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	return &coordinator.Outcome{Investigation: updated, Reply: "pronto"}, nil
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		Workers:           2,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		StaleAfter:        5 * time.Minute,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolDrainsPendingInvestigations(t *testing.T) {
	svc := services.NewInvestigationService(services.NewInMemoryInvestigationStore())
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"primeira", "segunda", "terceira"} {
		inv, err := svc.Create(ctx, models.Query{Text: text})
		require.NoError(t, err)
		ids = append(ids, inv.ID)
	}

	exec := &stubExecutor{investigations: svc}
	pool := NewWorkerPool("pod-test", testQueueConfig(), svc, exec)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	waitFor(t, 3*time.Second, func() bool {
		for _, id := range ids {
			inv, err := svc.Get(ctx, id)
			if err != nil || inv.Status != models.StatusCompleted {
				return false
			}
		}
		return true
	})
	assert.Equal(t, int32(3), exec.runs.Load())
}

func TestCancelRunningInvestigation(t *testing.T) {
	svc := services.NewInvestigationService(services.NewInMemoryInvestigationStore())
	ctx := context.Background()

	inv, err := svc.Create(ctx, models.Query{Text: "investigação longa"})
	require.NoError(t, err)

	exec := &stubExecutor{investigations: svc, hold: make(chan struct{})}
	pool := NewWorkerPool("pod-test", testQueueConfig(), svc, exec)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	waitFor(t, 3*time.Second, func() bool { return pool.Cancel(inv.ID) })

	waitFor(t, 3*time.Second, func() bool {
		got, err := svc.Get(ctx, inv.ID)
		return err == nil && got.Status == models.StatusCancelled
	})
}

func TestCancelUnknownInvestigation(t *testing.T) {
	svc := services.NewInvestigationService(services.NewInMemoryInvestigationStore())
	pool := NewWorkerPool("pod-test", testQueueConfig(), svc, &stubExecutor{investigations: svc})
	assert.False(t, pool.Cancel("nope"))
}

func TestGracefulStopWaitsForInFlight(t *testing.T) {
	svc := services.NewInvestigationService(services.NewInMemoryInvestigationStore())
	ctx := context.Background()

	inv, err := svc.Create(ctx, models.Query{Text: "em andamento"})
	require.NoError(t, err)

	exec := &stubExecutor{investigations: svc, hold: make(chan struct{})}
	pool := NewWorkerPool("pod-test", testQueueConfig(), svc, exec)
	require.NoError(t, pool.Start(ctx))

	waitFor(t, 3*time.Second, func() bool {
		return pool.Health().ActiveWorkers == 1
	})

	// Release the run just after Stop begins waiting.
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(exec.hold)
	}()
	pool.Stop()

	got, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status, "stop waited for the in-flight run")
}

func TestStartupOrphanSweepRuns(t *testing.T) {
	svc := services.NewInvestigationService(services.NewInMemoryInvestigationStore())
	pool := NewWorkerPool("pod-test", testQueueConfig(), svc, &stubExecutor{investigations: svc})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	health := pool.Health()
	assert.False(t, health.LastOrphanScan.IsZero(), "startup sweep stamps the scan time")
	assert.Equal(t, 2, health.TotalWorkers)
}

func TestDuplicateStartIsNoOp(t *testing.T) {
	svc := services.NewInvestigationService(services.NewInMemoryInvestigationStore())
	pool := NewWorkerPool("pod-test", testQueueConfig(), svc, &stubExecutor{investigations: svc})
	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	assert.Equal(t, 2, pool.Health().TotalWorkers)
}
