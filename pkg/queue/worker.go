package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/services"
)

// ErrNoWork is returned by a poll cycle when the queue is empty.
var ErrNoWork = errors.New("queue: no pending investigations")

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is the per-worker health snapshot.
type WorkerHealth struct {
	ID           string       `json:"id"`
	Status       WorkerStatus `json:"status"`
	CurrentID    string       `json:"current_investigation_id,omitempty"`
	Processed    int          `json:"investigations_processed"`
	LastActivity time.Time    `json:"last_activity"`
}

// CancelRegistry is the subset of WorkerPool used by Worker for
// cancellation bookkeeping.
type CancelRegistry interface {
	Register(investigationID string, cancel context.CancelFunc)
	Unregister(investigationID string)
}

// Worker is a single queue worker that polls for and processes
// investigations.
type Worker struct {
	id             string
	podID          string
	config         *config.QueueConfig
	investigations *services.InvestigationService
	executor       InvestigationExecutor
	registry       CancelRegistry
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup

	// Health tracking
	mu           sync.RWMutex
	status       WorkerStatus
	currentID    string
	processed    int
	lastActivity time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, cfg *config.QueueConfig, invs *services.InvestigationService, executor InvestigationExecutor, registry CancelRegistry) *Worker {
	return &Worker{
		id:             id,
		podID:          podID,
		config:         cfg,
		investigations: invs,
		executor:       executor,
		registry:       registry,
		stopCh:         make(chan struct{}),
		status:         WorkerStatusIdle,
		lastActivity:   time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:           w.id,
		Status:       w.status,
		CurrentID:    w.currentID,
		Processed:    w.processed,
		LastActivity: w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoWork) {
					w.sleep(w.config.PollInterval)
					continue
				}
				log.Error("Error processing investigation", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next pending investigation and runs it.
// The coordinator writes the terminal status itself; the worker only
// keeps the heartbeat alive and the cancel registry current.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	inv, err := w.investigations.ClaimNext(ctx, w.id)
	if err != nil {
		return fmt.Errorf("claiming investigation: %w", err)
	}
	if inv == nil {
		return ErrNoWork
	}

	log := slog.With("investigation_id", inv.ID, "worker_id", w.id)
	log.Info("Investigation claimed")

	w.setStatus(WorkerStatusWorking, inv.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if w.registry != nil {
		w.registry.Register(inv.ID, cancelRun)
		defer w.registry.Unregister(inv.ID)
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(runCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, inv.ID)

	outcome, err := w.executor.Run(runCtx, inv, nil)
	cancelHeartbeat()

	if err != nil {
		log.Error("Investigation finished with error", "error", err)
		return nil
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()

	log.Info("Investigation processing complete", "status", outcome.Investigation.Status)
	return nil
}

// runHeartbeat periodically refreshes the claim so the orphan scan can
// tell a live run from a dead pod.
func (w *Worker) runHeartbeat(ctx context.Context, investigationID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.investigations.Heartbeat(ctx, investigationID); err != nil {
				slog.Warn("Heartbeat update failed", "investigation_id", investigationID, "error", err)
			}
		}
	}
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, investigationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentID = investigationID
	w.lastActivity = time.Now()
}
