package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/services"
)

func TestRunAllEnforcesRetention(t *testing.T) {
	ctx := context.Background()

	episodic := services.NewInMemoryEpisodicStore()
	memoryService := services.NewMemoryService(episodic, 90)
	eventService := services.NewEventService(services.NewInMemoryEventStore())

	past := time.Now().Add(-time.Hour)
	_, err := episodic.Append(ctx, services.EpisodicEntry{
		InvestigationID: "inv-1", Kind: "plan", Payload: []byte(`{}`), ExpiresAt: &past,
	})
	require.NoError(t, err)
	require.NoError(t, memoryService.Record(ctx, "inv-2", "plan", map[string]any{"steps": 1}))

	require.NoError(t, eventService.Record(ctx, "inv-1", "progress", map[string]any{"phase": "collecting"}))

	// Zero retention: everything already recorded is past the window.
	svc := NewService(&config.RetentionConfig{EpisodicRetentionDays: 0, CleanupInterval: time.Hour}, memoryService, eventService)
	svc.RunAll(ctx)

	entries, err := memoryService.History(ctx, "inv-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "expired episodic entry removed")

	kept, err := memoryService.History(ctx, "inv-2")
	require.NoError(t, err)
	assert.Len(t, kept, 1, "unexpired entry survives")

	events, err := eventService.Since(ctx, "inv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events, "journal trimmed past retention window")
}

func TestStartStopIdempotent(t *testing.T) {
	memoryService := services.NewMemoryService(services.NewInMemoryEpisodicStore(), 90)
	eventService := services.NewEventService(services.NewInMemoryEventStore())
	svc := NewService(&config.RetentionConfig{EpisodicRetentionDays: 90, CleanupInterval: time.Hour}, memoryService, eventService)

	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}
