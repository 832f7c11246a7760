package pipeline

import (
	"errors"
	"fmt"

	"github.com/dukex/contentflow/pkg/models"
)

var (
	// ErrSuspended is returned by a gate stage that parked the run to wait
	// for an external decision. It is not a failure.
	ErrSuspended = errors.New("run suspended at gate")

	// ErrStageMismatch indicates Execute was asked for a stage that is not the run's current stage.
	ErrStageMismatch = errors.New("stage is not the run's current stage")

	// ErrRunNotRunning indicates Execute was called on a paused or terminal run.
	ErrRunNotRunning = errors.New("run is not running")

	// ErrRunAborted indicates the run left the running status while a stage
	// was in flight, e.g. through an operator abort.
	ErrRunAborted = errors.New("run was aborted")

	// ErrUnknownStage indicates a stage with no registered work function.
	ErrUnknownStage = errors.New("no work function registered for stage")
)

// StageError reports a required stage whose failure terminated the run.
type StageError struct {
	RunID string
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s failed at stage %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStageError reports whether err terminated a run at a stage.
func IsStageError(err error) bool {
	var stageErr *StageError

	return errors.As(err, &stageErr)
}

// IsConflict reports errors caused by acting on a run in the wrong state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStageMismatch) ||
		errors.Is(err, ErrRunNotRunning) ||
		errors.Is(err, ErrRunAborted)
}
