package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyExists indicates a run with the same identifier already exists.
	ErrRunAlreadyExists = errors.New("run already exists")

	// ErrApprovalNotFound indicates an approval was not found.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrApprovalAlreadyExists indicates an approval with the same identifier already exists.
	ErrApprovalAlreadyExists = errors.New("approval already exists")

	// ErrApprovalNotPending indicates an approval was already resolved.
	ErrApprovalNotPending = errors.New("approval is not pending")

	// ErrVersionConflict indicates concurrent writers kept racing on the same run.
	ErrVersionConflict = errors.New("run version conflict")

	// ErrInvalidID indicates an identifier that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid identifier")
)

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string // Operation being performed (e.g., "GetByID", "Update")
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// ApprovalError wraps approval-related errors with additional context.
type ApprovalError struct {
	Op         string
	ApprovalID string
	Err        error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("%s operation failed for approval %s: %v", e.Op, e.ApprovalID, e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

func (e *ApprovalError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewApprovalError creates a new approval error with context.
func NewApprovalError(op, approvalID string, err error) *ApprovalError {
	return &ApprovalError{Op: op, ApprovalID: approvalID, Err: err}
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsApprovalNotFound checks if an error indicates an approval was not found.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}

// IsApprovalNotPending checks if an error indicates a second resolution attempt.
func IsApprovalNotPending(err error) bool {
	return errors.Is(err, ErrApprovalNotPending)
}
