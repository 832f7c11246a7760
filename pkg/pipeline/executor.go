// Package pipeline executes the stages of a content run in canonical order,
// committing every checkpoint before the next stage starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/journal"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/otelhelper"
	"github.com/dukex/contentflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor is the run state machine.
type Executor struct {
	runs      persistence.RunRepository
	stages    StageTable
	journal   *journal.Journal
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// NewExecutor creates an executor. publisher and tracer may be nil.
func NewExecutor(
	runs persistence.RunRepository,
	stages StageTable,
	jrnl *journal.Journal,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Executor {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Executor{
		runs:      runs,
		stages:    stages,
		journal:   jrnl,
		publisher: publisher,
		tracer:    tracer,
		logger:    logger.With("module", "pipeline"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs stage and every following stage of runID until the run
// completes, fails or parks at a gate. stage must be the run's current
// stage and the run must be running.
//
// A run parked at a gate is returned with a nil error and status paused.
func (e *Executor) Execute(ctx context.Context, runID string, stage models.Stage) (*models.Run, error) {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	if run.Status != models.RunStatusRunning {
		return run, fmt.Errorf("%w: run %s is %s", ErrRunNotRunning, runID, run.Status)
	}

	if run.CurrentStage != stage {
		return run, fmt.Errorf("%w: run %s is at %s, not %s", ErrStageMismatch, runID, run.CurrentStage, stage)
	}

	for run.Status == models.RunStatusRunning {
		run, err = e.step(ctx, run)
		if err != nil {
			return run, err
		}
	}

	return run, nil
}

// step executes the current stage of run and returns the stored run afterwards.
func (e *Executor) step(ctx context.Context, run *models.Run) (*models.Run, error) {
	stage := run.CurrentStage

	def, ok := e.stages[stage]
	if !ok {
		return e.fail(ctx, run, stage, fmt.Errorf("%w: %s", ErrUnknownStage, stage))
	}

	started := e.now()

	e.journal.Info(ctx, run.ID, "Stage started", map[string]any{"stage": stage})

	spanCtx, span := otelhelper.StartSpan(ctx, e.tracer, "stage."+string(stage),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.StageKey, string(stage)),
		attribute.String(otelhelper.StageKindKey, string(def.Policy)),
	)
	defer span.End()

	checkpoint, workErr := def.Work(spanCtx, run.Clone())

	switch {
	case workErr == nil:
		return e.commit(ctx, run, stage, checkpoint, started, false)

	case errors.Is(workErr, ErrSuspended):
		return e.suspended(ctx, run.ID, stage)

	case ctx.Err() != nil:
		return e.interrupted(ctx, run.ID, stage, workErr)

	case def.Policy == BestEffort:
		otelhelper.SetError(span, workErr, attribute.String(otelhelper.StageKey, string(stage)))

		e.journal.Warn(ctx, run.ID, "Best-effort stage failed, continuing", map[string]any{
			"stage": stage,
			"error": workErr.Error(),
		})
		e.publish(ctx, events.StageFailed{
			BaseEvent: e.baseEvent(events.StageFailedEvent, run.ID),
			Stage:     stage,
			Error:     workErr.Error(),
			Required:  false,
		})

		return e.commit(ctx, run, stage, models.Checkpoint{"skipped": true, "error": workErr.Error()}, started, true)

	default:
		otelhelper.SetError(span, workErr, attribute.String(otelhelper.StageKey, string(stage)))

		return e.fail(ctx, run, stage, workErr)
	}
}

func (e *Executor) commit(
	ctx context.Context,
	run *models.Run,
	stage models.Stage,
	checkpoint models.Checkpoint,
	started time.Time,
	skipped bool,
) (*models.Run, error) {
	// Committing must not be lost to a cancellation racing the stage end.
	commitCtx := context.WithoutCancel(ctx)

	updated, err := e.runs.Update(commitCtx, run.ID, func(r *models.Run) error {
		err := guardRunning(r, stage)
		if err != nil {
			return err
		}

		r.CompleteStage(stage, checkpoint, e.now())

		return nil
	})
	if err != nil {
		return e.commitFailed(ctx, run, stage, err)
	}

	duration := e.now().Sub(started)

	if !skipped {
		e.journal.Success(ctx, run.ID, "Stage completed", map[string]any{
			"stage":       stage,
			"duration_ms": duration.Milliseconds(),
		})
	}

	e.publish(ctx, events.StageCompleted{
		BaseEvent:  e.baseEvent(events.StageCompletedEvent, run.ID),
		Stage:      stage,
		Skipped:    skipped,
		DurationMs: duration.Milliseconds(),
	})

	if updated.Status == models.RunStatusCompleted {
		e.journal.Success(ctx, run.ID, "Run completed", map[string]any{"stages": len(updated.CompletedStages)})
		e.publish(ctx, events.RunCompleted{
			BaseEvent:  e.baseEvent(events.RunCompletedEvent, run.ID),
			DurationMs: e.now().Sub(updated.StartedAt).Milliseconds(),
		})
	}

	return updated, nil
}

func (e *Executor) fail(ctx context.Context, run *models.Run, stage models.Stage, cause error) (*models.Run, error) {
	updated, err := e.runs.Update(context.WithoutCancel(ctx), run.ID, func(r *models.Run) error {
		err := guardRunning(r, stage)
		if err != nil {
			return err
		}

		r.FailStage(stage, cause.Error(), e.now())

		return nil
	})
	if err != nil {
		return e.commitFailed(ctx, run, stage, err)
	}

	e.journal.Error(ctx, run.ID, "Stage failed", map[string]any{
		"stage": stage,
		"error": cause.Error(),
	})
	e.publish(ctx, events.StageFailed{
		BaseEvent: e.baseEvent(events.StageFailedEvent, run.ID),
		Stage:     stage,
		Error:     cause.Error(),
		Required:  true,
	})
	e.publish(ctx, events.RunFailed{
		BaseEvent: e.baseEvent(events.RunFailedEvent, run.ID),
		Stage:     stage,
		Error:     cause.Error(),
	})

	return updated, &StageError{RunID: run.ID, Stage: stage, Err: cause}
}

// commitFailed handles a checkpoint or failure write that the store refused.
func (e *Executor) commitFailed(ctx context.Context, run *models.Run, stage models.Stage, err error) (*models.Run, error) {
	if errors.Is(err, ErrRunAborted) {
		e.journal.Warn(ctx, run.ID, "Run left running state during stage, result discarded", map[string]any{"stage": stage})

		current, getErr := e.runs.GetByID(context.WithoutCancel(ctx), run.ID)
		if getErr != nil {
			return run, err
		}

		return current, err
	}

	e.logger.ErrorContext(ctx, "Failed to persist stage result", "run_id", run.ID, "stage", stage, "error", err)

	return run, fmt.Errorf("failed to persist stage %s: %w", stage, err)
}

func (e *Executor) suspended(ctx context.Context, runID string, stage models.Stage) (*models.Run, error) {
	run, err := e.runs.GetByID(context.WithoutCancel(ctx), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload suspended run: %w", err)
	}

	e.logger.InfoContext(ctx, "Run suspended at gate", "run_id", runID, "stage", stage)

	return run, nil
}

// interrupted handles a stage that stopped because ctx was cancelled. The
// run stays as stored so it can be resumed, unless it was aborted.
func (e *Executor) interrupted(ctx context.Context, runID string, stage models.Stage, cause error) (*models.Run, error) {
	run, err := e.runs.GetByID(context.WithoutCancel(ctx), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload interrupted run: %w", err)
	}

	if run.Status == models.RunStatusFailed {
		e.journal.Warn(ctx, runID, "Stage stopped after abort", map[string]any{"stage": stage})

		return run, fmt.Errorf("%w: %w", ErrRunAborted, cause)
	}

	e.journal.Warn(ctx, runID, "Run interrupted", map[string]any{"stage": stage, "error": cause.Error()})

	return run, ctx.Err()
}

func guardRunning(run *models.Run, stage models.Stage) error {
	if run.Status != models.RunStatusRunning {
		return fmt.Errorf("%w: status is %s", ErrRunAborted, run.Status)
	}

	if run.CurrentStage != stage {
		return fmt.Errorf("%w: run moved to %s", ErrStageMismatch, run.CurrentStage)
	}

	return nil
}

func (e *Executor) baseEvent(eventType events.EventType, runID string) events.BaseEvent {
	return events.NewBaseEvent(NewEventID(), eventType, runID)
}

func (e *Executor) publish(ctx context.Context, event eventbus.Event) {
	Publish(ctx, e.publisher, e.logger, event)
}
