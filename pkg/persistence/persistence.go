// Package persistence provides the storage abstraction for runs, approvals and journal entries.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/contentflow/pkg/models"
)

// DefaultLogCapacity is the number of journal entries retained when no capacity is configured.
const DefaultLogCapacity = 1000

// MaxUpdateAttempts bounds optimistic retries of a run update.
const MaxUpdateAttempts = 5

type Persistence interface {
	RunRepository() RunRepository
	ApprovalRepository() ApprovalRepository
	LogRepository() LogRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// RunUpdateFunc mutates a run inside an atomic read-modify-write. Returning an
// error aborts the update and nothing is written.
type RunUpdateFunc func(run *models.Run) error

// RunRepository stores pipeline runs. Runs are never evicted.
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	// Update applies fn to the latest stored version of the run and persists
	// the result atomically per record. The stored run is returned.
	Update(ctx context.Context, id string, fn RunUpdateFunc) (*models.Run, error)
	// List returns runs newest first.
	List(ctx context.Context, opts ListRunsOptions) ([]*models.Run, error)
}

// ListRunsOptions filters run listings. A nil Status matches every status.
type ListRunsOptions struct {
	Status *models.RunStatus
	Limit  int
}

// ApprovalRepository stores approval requests.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.Approval) error
	GetByID(ctx context.Context, id string) (*models.Approval, error)
	GetByMessageRef(ctx context.Context, messageRef string) (*models.Approval, error)
	ListByRun(ctx context.Context, runID string) ([]*models.Approval, error)
	// List returns approvals newest first; an empty status matches all.
	List(ctx context.Context, status models.ApprovalStatus) ([]*models.Approval, error)
	SetMessageRef(ctx context.Context, id, messageRef string) error
	// Resolve moves a pending approval to the decision status. It fails with
	// ErrApprovalNotPending when the approval was already resolved.
	Resolve(ctx context.Context, id string, decision models.Decision, at time.Time) (*models.Approval, error)
}

// LogRepository is the bounded, append-only journal store.
type LogRepository interface {
	// Append assigns the entry its sequence and evicts the oldest entries
	// beyond the store capacity.
	Append(ctx context.Context, entry *models.LogEntry) error
	// Query returns matching entries newest first.
	Query(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, error)
}

// ApplyRunUpdate runs fn against a copy of current and returns the new
// version to store, with Version and UpdatedAt bumped.
func ApplyRunUpdate(current *models.Run, fn RunUpdateFunc, now time.Time) (*models.Run, error) {
	updated := current.Clone()

	err := fn(updated)
	if err != nil {
		return nil, err
	}

	updated.ID = current.ID
	updated.Version = current.Version + 1
	updated.UpdatedAt = now

	return updated, nil
}

// EffectiveLimit clamps a requested query limit to capacity.
func EffectiveLimit(limit, capacity int) int {
	if limit <= 0 || limit > capacity {
		return capacity
	}

	return limit
}
