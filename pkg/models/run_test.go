package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStage(t *testing.T) {
	t.Parallel()

	next, ok := NextStage(StageSEO)
	assert.True(t, ok)
	assert.Equal(t, StageApproval, next)

	next, ok = NextStage(StagePodcast)
	assert.False(t, ok)
	assert.Equal(t, StageDone, next)

	next, ok = NextStage(Stage("unknown"))
	assert.False(t, ok)
	assert.Equal(t, StageDone, next)
}

func TestStageOrder_IsLinear(t *testing.T) {
	t.Parallel()

	seen := make(map[Stage]bool)

	for i, stage := range StageOrder {
		assert.False(t, seen[stage], "stage %s appears twice", stage)
		seen[stage] = true

		assert.Equal(t, i, StageIndex(stage))
	}

	assert.Equal(t, StageTopic, FirstStage())
	assert.False(t, StageDone.IsValid())
}

func TestRun_CompleteStage(t *testing.T) {
	t.Parallel()

	run := NewRun("run-1", TriggerManual, "", nil)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, StageTopic, run.CurrentStage)
	assert.Equal(t, DefaultPipelineKind, run.Kind)
	assert.Empty(t, run.CompletedStages)

	now := time.Now().UTC()
	run.CompleteStage(StageTopic, Checkpoint{"topic_id": "t-1"}, now)

	assert.Equal(t, []Stage{StageTopic}, run.CompletedStages)
	assert.Equal(t, StageContent, run.CurrentStage)
	assert.Equal(t, "t-1", run.Checkpoint(StageTopic)["topic_id"])
	assert.Nil(t, run.CompletedAt)

	// Completing the same stage again never duplicates it.
	run.CompleteStage(StageTopic, nil, now)
	assert.Equal(t, []Stage{StageTopic}, run.CompletedStages)
}

func TestRun_CompleteLastStage(t *testing.T) {
	t.Parallel()

	run := NewRun("run-2", TriggerScheduled, "article", nil)
	now := time.Now().UTC()

	for _, stage := range StageOrder {
		run.CompleteStage(stage, nil, now)
	}

	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, StageDone, run.CurrentStage)
	assert.Equal(t, StageOrder, run.CompletedStages)
	require.NotNil(t, run.CompletedAt)
	assert.True(t, run.IsTerminal())
}

func TestRun_FailStage(t *testing.T) {
	t.Parallel()

	run := NewRun("run-3", TriggerManual, "article", nil)
	now := time.Now().UTC()

	run.CompleteStage(StageTopic, nil, now)
	run.FailStage(StageContent, "generator down", now)

	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, StageContent, run.CurrentStage)
	assert.Equal(t, []Stage{StageTopic}, run.CompletedStages)
	assert.Equal(t, []Stage{StageContent}, run.FailedStages)
	assert.Equal(t, "generator down", run.Error)
	require.NotNil(t, run.CompletedAt)

	first := *run.CompletedAt
	run.FailStage(StageContent, "again", now.Add(time.Hour))
	assert.Equal(t, first, *run.CompletedAt)
	assert.Len(t, run.FailedStages, 1)
}

func TestRun_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	run := NewRun("run-4", TriggerManual, "article", map[string]any{"topic": "go"})
	run.CompleteStage(StageTopic, Checkpoint{"topic_id": "a"}, time.Now())

	clone := run.Clone()
	clone.Checkpoints[StageTopic]["topic_id"] = "b"
	clone.CompletedStages = append(clone.CompletedStages, StageContent)
	clone.Seed["topic"] = "rust"

	assert.Equal(t, "a", run.Checkpoint(StageTopic)["topic_id"])
	assert.Equal(t, []Stage{StageTopic}, run.CompletedStages)
	assert.Equal(t, "go", run.Seed["topic"])
}

func TestSchedule_Validate(t *testing.T) {
	t.Parallel()

	valid := &Schedule{Name: "daily", CronExpression: "0 9 * * *"}
	require.NoError(t, valid.Validate())

	next, err := valid.NextAfter(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), next)

	assert.ErrorIs(t, (&Schedule{CronExpression: "0 9 * * *"}).Validate(), ErrInvalidSchedule)
	assert.Error(t, (&Schedule{Name: "bad", CronExpression: "not a cron"}).Validate())
}
