package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/persistence"
)

// Worker executes the runs an API dispatches over the event bus.
type Worker struct {
	id           string
	orchestrator *orchestrator.Orchestrator
	subscriber   eventbus.EventSubscriber
	logger       *slog.Logger
}

func NewWorker(
	id string,
	orchestrator *orchestrator.Orchestrator,
	subscriber eventbus.EventSubscriber,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:           id,
		orchestrator: orchestrator,
		subscriber:   subscriber,
		logger:       logger,
	}
}

// Start registers the dispatch handlers and begins consuming.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker", "worker_id", w.id)

	err := w.orchestrator.RegisterHandlers(w.subscriber)
	if err != nil {
		return err
	}

	err = w.subscriber.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to run dispatches: %w", err)
	}

	return nil
}

// Recover resumes every run left running without a live execution and
// returns how many were resumed.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	status := models.RunStatusRunning

	runs, err := w.orchestrator.Runs(ctx, persistence.ListRunsOptions{Status: &status})
	if err != nil {
		return 0, fmt.Errorf("failed to list running runs: %w", err)
	}

	resumed := 0

	for _, run := range runs {
		_, err = w.orchestrator.Resume(ctx, run.ID)
		if err != nil {
			w.logger.WarnContext(ctx, "Failed to resume run", "run_id", run.ID, "error", err)

			continue
		}

		w.logger.InfoContext(ctx, "Resumed interrupted run", "run_id", run.ID, "stage", run.CurrentStage)
		resumed++
	}

	return resumed, nil
}
