// Package cleanup provides data retention enforcement.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/services"
)

// Service periodically enforces retention policies:
//   - Removes episodic memory entries past their expiry
//   - Trims the investigation event journal past the retention window
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config        *config.RetentionConfig
	memoryService *services.MemoryService
	eventService  *services.EventService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	memoryService *services.MemoryService,
	eventService *services.EventService,
) *Service {
	return &Service{
		config:        cfg,
		memoryService: memoryService,
		eventService:  eventService,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"episodic_retention_days", s.config.EpisodicRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll executes one retention pass. Exported so operators can trigger
// it out of band.
func (s *Service) RunAll(ctx context.Context) {
	s.cleanupEpisodicMemory(ctx)
	s.cleanupEventJournal(ctx)
}

func (s *Service) cleanupEpisodicMemory(ctx context.Context) {
	count, err := s.memoryService.RunCleanup(ctx)
	if err != nil {
		slog.Error("Retention: episodic cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed expired episodic entries", "count", count)
	}
}

func (s *Service) cleanupEventJournal(ctx context.Context) {
	count, err := s.eventService.CleanupOlderThan(ctx, s.config.EpisodicRetentionDays)
	if err != nil {
		slog.Error("Retention: event journal cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: trimmed event journal", "count", count)
	}
}
