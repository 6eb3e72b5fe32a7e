// Package queue runs the background worker pool that claims pending
// investigations and executes them through the coordinator.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/coordinator"
	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/services"
	"github.com/cidadao-ai/vigia/pkg/stream"
)

// orphanScanInterval is how often each pod re-scans for investigations
// whose heartbeat went stale. All pods scan independently; the marking
// is idempotent.
const orphanScanInterval = time.Minute

// InvestigationExecutor runs one claimed investigation to a terminal
// state. *coordinator.Coordinator is the production implementation.
type InvestigationExecutor interface {
	Run(ctx context.Context, inv *models.Investigation, emitter *stream.Emitter) (*coordinator.Outcome, error)
}

// orphanState tracks orphan-scan metrics (thread-safe).
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// WorkerPool manages a pool of investigation workers.
type WorkerPool struct {
	podID          string
	config         *config.QueueConfig
	investigations *services.InvestigationService
	executor       InvestigationExecutor
	workers        []*Worker
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup

	// Cancel registry: investigation_id → cancel function
	active  map[string]context.CancelFunc
	mu      sync.RWMutex
	started bool

	orphans orphanState
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, cfg *config.QueueConfig, invs *services.InvestigationService, executor InvestigationExecutor) *WorkerPool {
	return &WorkerPool{
		podID:          podID,
		config:         cfg,
		investigations: invs,
		executor:       executor,
		workers:        make([]*Worker, 0, cfg.Workers),
		stopCh:         make(chan struct{}),
		active:         make(map[string]context.CancelFunc),
	}
}

// Start runs the startup orphan sweep, spawns worker goroutines and the
// periodic orphan scan. It is safe to call multiple times; subsequent
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.Workers)

	// Investigations left running by a previous crash of any pod are
	// failed now so their sessions are not stuck forever.
	if err := p.scanOrphans(ctx); err != nil {
		slog.Error("Startup orphan sweep failed", "error", err)
	}

	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.config, p.investigations, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanScan(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current investigations before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active investigations to complete",
			"count", len(active),
			"investigation_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Register stores a cancel function for API-triggered cancellation.
func (p *WorkerPool) Register(investigationID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[investigationID] = cancel
}

// Unregister removes the cancel function when processing ends.
func (p *WorkerPool) Unregister(investigationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, investigationID)
}

// Cancel triggers context cancellation for an investigation running on
// this pod. Returns true if it was found here.
func (p *WorkerPool) Cancel(investigationID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.active[investigationID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	p.orphans.mu.Lock()
	lastScan := p.orphans.lastScan
	recovered := p.orphans.recovered
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:        len(p.workers) > 0,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		WorkerStats:      workerStats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}

// PoolHealth is the pool-level health snapshot.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// runOrphanScan periodically fails investigations with stale heartbeats.
func (p *WorkerPool) runOrphanScan(ctx context.Context) {
	ticker := time.NewTicker(orphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.scanOrphans(ctx); err != nil {
				slog.Error("Orphan scan failed", "error", err)
			}
		}
	}
}

func (p *WorkerPool) scanOrphans(ctx context.Context) error {
	count, err := p.investigations.CleanupOrphans(ctx, p.config.StaleAfter)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Warn("Recovered orphaned investigations", "count", count, "pod_id", p.podID)
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now()
	p.orphans.recovered += count
	p.orphans.mu.Unlock()
	return nil
}

// activeIDs returns IDs of currently processing investigations (for logging).
func (p *WorkerPool) activeIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
