package approval

import "errors"

var (
	// ErrApprovalAlreadyResolved indicates a second resolution of the same approval.
	ErrApprovalAlreadyResolved = errors.New("approval already resolved")

	// ErrRunNotPaused indicates an approval cannot resume its run because the
	// run is not parked at the approval's stage.
	ErrRunNotPaused = errors.New("run is not paused at the gate")

	// ErrRunNotAtGate indicates an approval was requested for a run that is
	// not running at the approval stage.
	ErrRunNotAtGate = errors.New("run is not at the approval stage")

	// ErrInvalidDecision indicates a decision status that does not resolve an approval.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// IsConflict reports errors caused by resolving an approval in the wrong state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrApprovalAlreadyResolved) || errors.Is(err, ErrRunNotPaused) ||
		errors.Is(err, ErrRunNotAtGate)
}
