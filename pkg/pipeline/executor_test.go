package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/journal"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/dukex/contentflow/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recordingPublisher) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]events.EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.GetType())
	}

	return types
}

type harness struct {
	store     *file.Persistence
	journal   *journal.Journal
	publisher *recordingPublisher
	calls     []models.Stage
	mu        sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir(), 500)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return &harness{
		store:     store,
		journal:   journal.New(store.LogRepository(), logger),
		publisher: &recordingPublisher{},
	}
}

func (h *harness) record(stage models.Stage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, stage)
}

// succeed returns a work function that records the call and emits a checkpoint.
func (h *harness) succeed(stage models.Stage) pipeline.WorkFunc {
	return func(_ context.Context, _ *models.Run) (models.Checkpoint, error) {
		h.record(stage)

		return models.Checkpoint{"stage": string(stage)}, nil
	}
}

// pauseGate parks the run the way the approval gate does.
func (h *harness) pauseGate() pipeline.WorkFunc {
	return func(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
		h.record(models.StageApproval)

		_, err := h.store.RunRepository().Update(ctx, run.ID, func(r *models.Run) error {
			r.Status = models.RunStatusPaused
			r.Checkpoints[models.StageApproval] = models.Checkpoint{"approval_id": "ap-1"}

			return nil
		})
		if err != nil {
			return nil, err
		}

		return nil, pipeline.ErrSuspended
	}
}

func (h *harness) table(t *testing.T, overrides map[models.Stage]pipeline.StageDefinition) pipeline.StageTable {
	t.Helper()

	policies := map[models.Stage]pipeline.Policy{
		models.StageMedia:    pipeline.BestEffort,
		models.StageSocial:   pipeline.BestEffort,
		models.StagePodcast:  pipeline.BestEffort,
		models.StageApproval: pipeline.Gate,
	}

	definitions := make([]pipeline.StageDefinition, 0, len(models.StageOrder))

	for _, stage := range models.StageOrder {
		if def, ok := overrides[stage]; ok {
			definitions = append(definitions, def)

			continue
		}

		policy, ok := policies[stage]
		if !ok {
			policy = pipeline.Required
		}

		work := h.succeed(stage)
		if stage == models.StageApproval {
			work = h.pauseGate()
		}

		definitions = append(definitions, pipeline.StageDefinition{Stage: stage, Policy: policy, Work: work})
	}

	table, err := pipeline.NewStageTable(definitions...)
	require.NoError(t, err)

	return table
}

func (h *harness) executor(table pipeline.StageTable) *pipeline.Executor {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return pipeline.NewExecutor(h.store.RunRepository(), table, h.journal, h.publisher, nil, logger)
}

func (h *harness) newRun(t *testing.T) *models.Run {
	t.Helper()

	run := models.NewRun("run-1", models.TriggerManual, "", map[string]any{"topic": "Go"})
	require.NoError(t, h.store.RunRepository().Create(context.Background(), run))

	return run
}

func TestNewStageTable_RequiresEveryStage(t *testing.T) {
	_, err := pipeline.NewStageTable(pipeline.StageDefinition{
		Stage:  models.StageTopic,
		Policy: pipeline.Required,
		Work:   func(context.Context, *models.Run) (models.Checkpoint, error) { return nil, nil },
	})
	require.ErrorIs(t, err, pipeline.ErrUnknownStage)

	_, err = pipeline.NewStageTable(pipeline.StageDefinition{Stage: "bogus", Policy: pipeline.Required})
	require.Error(t, err)
}

func TestExecute_RunsUntilGateAndPauses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.newRun(t)

	run, err := h.executor(h.table(t, nil)).Execute(ctx, "run-1", models.StageTopic)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusPaused, run.Status)
	assert.Equal(t, models.StageApproval, run.CurrentStage)
	assert.Equal(t, models.StageOrder[:5], run.CompletedStages)
	assert.Equal(t, []models.Stage{
		models.StageTopic, models.StageContent, models.StageMedia, models.StageTranslate, models.StageSEO, models.StageApproval,
	}, h.calls)
	assert.Equal(t, "ap-1", run.Checkpoint(models.StageApproval)["approval_id"])

	stored, err := h.store.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)

	assert.Contains(t, h.publisher.types(), events.StageCompletedEvent)
	assert.NotContains(t, h.publisher.types(), events.RunCompletedEvent)
}

func TestExecute_ResumesAfterGateToCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	run := h.newRun(t)

	// Simulate an approved gate: everything before publish is committed.
	_, err := h.store.RunRepository().Update(ctx, run.ID, func(r *models.Run) error {
		for _, stage := range models.StageOrder[:6] {
			r.CompleteStage(stage, models.Checkpoint{}, time.Now().UTC())
		}

		return nil
	})
	require.NoError(t, err)

	finished, err := h.executor(h.table(t, nil)).Execute(ctx, run.ID, models.StagePublish)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, finished.Status)
	assert.Equal(t, models.StageDone, finished.CurrentStage)
	assert.Equal(t, models.StageOrder, finished.CompletedStages)
	assert.NotNil(t, finished.CompletedAt)
	assert.Equal(t, []models.Stage{models.StagePublish, models.StageSocial, models.StagePodcast}, h.calls)
	assert.Contains(t, h.publisher.types(), events.RunCompletedEvent)

	entries, err := h.journal.Entries(ctx, models.LogFilter{CorrelationID: run.ID, Severity: models.SeveritySuccess})
	require.NoError(t, err)
	assert.Equal(t, "Run completed", entries[0].Message)
}

func TestExecute_BestEffortFailureIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.newRun(t)

	table := h.table(t, map[models.Stage]pipeline.StageDefinition{
		models.StageMedia: {
			Stage:  models.StageMedia,
			Policy: pipeline.BestEffort,
			Work: func(context.Context, *models.Run) (models.Checkpoint, error) {
				return nil, errors.New("render timed out")
			},
		},
	})

	run, err := h.executor(table).Execute(ctx, "run-1", models.StageTopic)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, run.Status)
	assert.True(t, run.HasCompleted(models.StageMedia))
	assert.True(t, run.Checkpoint(models.StageMedia).Skipped())
	assert.Equal(t, "render timed out", run.Checkpoint(models.StageMedia)["error"])

	warnings, err := h.journal.Entries(ctx, models.LogFilter{CorrelationID: "run-1", Severity: models.SeverityWarn})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
}

func TestExecute_RequiredFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.newRun(t)

	table := h.table(t, map[models.Stage]pipeline.StageDefinition{
		models.StageContent: {
			Stage:  models.StageContent,
			Policy: pipeline.Required,
			Work: func(context.Context, *models.Run) (models.Checkpoint, error) {
				return nil, errors.New("generator unavailable")
			},
		},
	})

	run, err := h.executor(table).Execute(ctx, "run-1", models.StageTopic)
	require.Error(t, err)
	assert.True(t, pipeline.IsStageError(err))

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.StageContent, stageErr.Stage)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, []models.Stage{models.StageTopic}, run.CompletedStages)
	assert.Equal(t, []models.Stage{models.StageContent}, run.FailedStages)
	assert.Equal(t, models.StageContent, run.CurrentStage)
	assert.Equal(t, "generator unavailable", run.Error)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, []models.Stage{models.StageTopic}, h.calls)
	assert.Contains(t, h.publisher.types(), events.RunFailedEvent)

	errorsLogged, err := h.journal.Entries(ctx, models.LogFilter{CorrelationID: "run-1", Severity: models.SeverityError})
	require.NoError(t, err)
	assert.Len(t, errorsLogged, 1)
}

func TestExecute_Preconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.newRun(t)

	executor := h.executor(h.table(t, nil))

	_, err := executor.Execute(ctx, "run-1", models.StageSEO)
	require.ErrorIs(t, err, pipeline.ErrStageMismatch)
	assert.True(t, pipeline.IsConflict(err))

	_, err = h.store.RunRepository().Update(ctx, "run-1", func(r *models.Run) error {
		r.Status = models.RunStatusPaused

		return nil
	})
	require.NoError(t, err)

	_, err = executor.Execute(ctx, "run-1", models.StageTopic)
	require.ErrorIs(t, err, pipeline.ErrRunNotRunning)

	_, err = executor.Execute(ctx, "missing", models.StageTopic)
	assert.True(t, persistence.IsRunNotFound(err))
	assert.Empty(t, h.calls)
}

func TestExecute_CancellationLeavesRunResumable(t *testing.T) {
	h := newHarness(t)
	h.newRun(t)

	ctx, cancel := context.WithCancel(context.Background())

	table := h.table(t, map[models.Stage]pipeline.StageDefinition{
		models.StageContent: {
			Stage:  models.StageContent,
			Policy: pipeline.Required,
			Work: func(ctx context.Context, _ *models.Run) (models.Checkpoint, error) {
				cancel()
				<-ctx.Done()

				return nil, ctx.Err()
			},
		},
	})

	run, err := h.executor(table).Execute(ctx, "run-1", models.StageTopic)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, models.StageContent, run.CurrentStage)
	assert.Empty(t, run.FailedStages)
}

func TestExecute_AbortDuringStageIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.newRun(t)

	table := h.table(t, map[models.Stage]pipeline.StageDefinition{
		models.StageTranslate: {
			Stage:  models.StageTranslate,
			Policy: pipeline.Required,
			Work: func(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
				_, err := h.store.RunRepository().Update(ctx, run.ID, func(r *models.Run) error {
					r.FailStage(r.CurrentStage, "aborted by operator", time.Now().UTC())

					return nil
				})

				return models.Checkpoint{"pt": "texto"}, err
			},
		},
	})

	run, err := h.executor(table).Execute(ctx, "run-1", models.StageTopic)
	require.ErrorIs(t, err, pipeline.ErrRunAborted)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "aborted by operator", run.Error)
	assert.False(t, run.HasCompleted(models.StageTranslate))
}
