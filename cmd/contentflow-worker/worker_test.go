package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/contentflow/pkg/channels/gochannel"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func newTestOrchestrator(
	t *testing.T,
	store persistence.Persistence,
	bus eventbus.EventBus,
	mode orchestrator.DispatchMode,
) *orchestrator.Orchestrator {
	t.Helper()

	o, err := orchestrator.New(orchestrator.Config{
		Persistence: store,
		Publisher:   bus,
		Mode:        mode,
		Logger:      slog.Default(),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })

	return o
}

func waitForStatus(t *testing.T, o *orchestrator.Orchestrator, runID string, status models.RunStatus) {
	t.Helper()

	assert.Eventually(t, func() bool {
		run, err := o.Run(context.Background(), runID)

		return err == nil && run.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_ExecutesDispatchedRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := file.NewPersistence(t.TempDir(), 100)
	require.NoError(t, err)

	bus := newTestBus(t)
	api := newTestOrchestrator(t, store, bus, orchestrator.DispatchBus)
	executor := newTestOrchestrator(t, store, bus, orchestrator.DispatchInline)

	worker := NewWorker("worker-test", executor, bus, slog.Default())
	require.NoError(t, worker.Start(ctx))

	handle, err := api.Start(ctx, orchestrator.StartRequest{Seed: map[string]any{"title": "Go tips"}})
	require.NoError(t, err)

	// The worker has no content generator, so the run fails at content.
	waitForStatus(t, api, handle.RunID, models.RunStatusFailed)

	run, err := api.Run(ctx, handle.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StageContent, run.CurrentStage)
	assert.Contains(t, run.CompletedStages, models.StageTopic)
}

func TestWorker_Recover(t *testing.T) {
	ctx := context.Background()

	store, err := file.NewPersistence(t.TempDir(), 100)
	require.NoError(t, err)

	interrupted := models.NewRun("run-interrupted", models.TriggerManual, "article", map[string]any{"title": "Go tips"})
	require.NoError(t, store.RunRepository().Create(ctx, interrupted))

	finished := models.NewRun("run-finished", models.TriggerManual, "article", nil)
	finished.Status = models.RunStatusCompleted
	require.NoError(t, store.RunRepository().Create(ctx, finished))

	bus := newTestBus(t)
	o := newTestOrchestrator(t, store, bus, orchestrator.DispatchInline)

	resumed, err := NewWorker("worker-test", o, bus, slog.Default()).Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	waitForStatus(t, o, "run-interrupted", models.RunStatusFailed)

	run, err := o.Run(ctx, "run-finished")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}
