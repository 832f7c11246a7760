// Package models defines the pipeline run, approval and journal records.
package models

import (
	"slices"
	"time"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// TriggerKind tells how a run was started.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

// DefaultPipelineKind is used when a run is started without a kind.
const DefaultPipelineKind = "article"

// Checkpoint is the data a stage committed for downstream stages.
type Checkpoint map[string]any

// Run is one execution of the content pipeline for one content item.
type Run struct {
	ID              string               `json:"id"`
	Trigger         TriggerKind          `json:"trigger"`
	Kind            string               `json:"kind"`
	Status          RunStatus            `json:"status"`
	CurrentStage    Stage                `json:"current_stage"`
	CompletedStages []Stage              `json:"completed_stages"`
	FailedStages    []Stage              `json:"failed_stages"`
	Checkpoints     map[Stage]Checkpoint `json:"checkpoints"`
	Seed            map[string]any       `json:"seed,omitempty"`
	Error           string               `json:"error,omitempty"`
	Version         int64                `json:"version"`
	StartedAt       time.Time            `json:"started_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// NewRun creates a run in running status positioned at the first stage.
func NewRun(id string, trigger TriggerKind, kind string, seed map[string]any) *Run {
	if kind == "" {
		kind = DefaultPipelineKind
	}

	if seed == nil {
		seed = make(map[string]any)
	}

	now := time.Now().UTC()

	return &Run{
		ID:              id,
		Trigger:         trigger,
		Kind:            kind,
		Status:          RunStatusRunning,
		CurrentStage:    FirstStage(),
		CompletedStages: []Stage{},
		FailedStages:    []Stage{},
		Checkpoints:     make(map[Stage]Checkpoint),
		Seed:            seed,
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// IsTerminal reports whether the run can no longer change.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// HasCompleted reports whether stage is already in the completed list.
func (r *Run) HasCompleted(stage Stage) bool {
	return slices.Contains(r.CompletedStages, stage)
}

// Checkpoint returns the checkpoint committed by stage, or nil.
func (r *Run) Checkpoint(stage Stage) Checkpoint {
	if r.Checkpoints == nil {
		return nil
	}

	return r.Checkpoints[stage]
}

// CompleteStage appends stage to the completed list, stores its checkpoint and
// advances the current stage. Marks the run completed after the last stage.
func (r *Run) CompleteStage(stage Stage, checkpoint Checkpoint, now time.Time) {
	if !r.HasCompleted(stage) {
		r.CompletedStages = append(r.CompletedStages, stage)
	}

	if r.Checkpoints == nil {
		r.Checkpoints = make(map[Stage]Checkpoint)
	}

	if checkpoint == nil {
		checkpoint = Checkpoint{}
	}

	r.Checkpoints[stage] = checkpoint

	next, ok := NextStage(stage)
	r.CurrentStage = next

	if !ok {
		r.Status = RunStatusCompleted
		r.CompletedAt = &now
	}
}

// FailStage records stage as failed and terminates the run.
func (r *Run) FailStage(stage Stage, reason string, now time.Time) {
	if !slices.Contains(r.FailedStages, stage) {
		r.FailedStages = append(r.FailedStages, stage)
	}

	r.CurrentStage = stage
	r.Status = RunStatusFailed
	r.Error = reason

	if r.CompletedAt == nil {
		r.CompletedAt = &now
	}
}

// Clone returns a deep enough copy for handing to stage work functions.
func (r *Run) Clone() *Run {
	clone := *r
	clone.CompletedStages = slices.Clone(r.CompletedStages)
	clone.FailedStages = slices.Clone(r.FailedStages)

	clone.Checkpoints = make(map[Stage]Checkpoint, len(r.Checkpoints))
	for stage, cp := range r.Checkpoints {
		copied := make(Checkpoint, len(cp))
		for k, v := range cp {
			copied[k] = v
		}

		clone.Checkpoints[stage] = copied
	}

	clone.Seed = make(map[string]any, len(r.Seed))
	for k, v := range r.Seed {
		clone.Seed[k] = v
	}

	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}
