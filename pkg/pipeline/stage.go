package pipeline

import (
	"context"
	"fmt"

	"github.com/dukex/contentflow/pkg/models"
)

// Policy decides what a stage failure means for the run.
type Policy string

const (
	// Required stages fail the run when they fail.
	Required Policy = "required"
	// BestEffort stages are committed as skipped when they fail.
	BestEffort Policy = "best-effort"
	// Gate stages park the run and return ErrSuspended.
	Gate Policy = "gate"
)

// WorkFunc performs one stage. It receives a snapshot of the run, including
// every checkpoint committed so far, and returns the stage checkpoint.
type WorkFunc func(ctx context.Context, run *models.Run) (models.Checkpoint, error)

type StageDefinition struct {
	Stage  models.Stage
	Policy Policy
	Work   WorkFunc
}

// StageTable maps every stage of the canonical order to its definition.
type StageTable map[models.Stage]StageDefinition

// NewStageTable builds a table and checks it covers the whole canonical order.
func NewStageTable(definitions ...StageDefinition) (StageTable, error) {
	table := make(StageTable, len(definitions))

	for _, def := range definitions {
		if !def.Stage.IsValid() {
			return nil, fmt.Errorf("unknown stage %q", def.Stage)
		}

		if def.Work == nil {
			return nil, fmt.Errorf("stage %s has no work function", def.Stage)
		}

		switch def.Policy {
		case Required, BestEffort, Gate:
		default:
			return nil, fmt.Errorf("stage %s has invalid policy %q", def.Stage, def.Policy)
		}

		table[def.Stage] = def
	}

	for _, stage := range models.StageOrder {
		if _, ok := table[stage]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
		}
	}

	return table, nil
}
