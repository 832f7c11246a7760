package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/lib/pq"
)

const runColumns = `id, trigger, kind, status, current_stage, completed_stages, failed_stages,
	checkpoints, seed, error_message, version, started_at, updated_at, completed_at`

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Create inserts a new run.
func (rr *RunRepository) Create(ctx context.Context, run *models.Run) error {
	checkpointsJSON, seedJSON, err := marshalRunDocuments(run)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	query := `INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	result, err := rr.db.ExecContext(ctx, query,
		run.ID,
		run.Trigger,
		run.Kind,
		run.Status,
		run.CurrentStage,
		pq.Array(stagesToStrings(run.CompletedStages)),
		pq.Array(stagesToStrings(run.FailedStages)),
		checkpointsJSON,
		seedJSON,
		run.Error,
		run.Version,
		run.StartedAt,
		run.UpdatedAt,
		run.CompletedAt,
	)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to insert run: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (rr *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	row := rr.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, fmt.Errorf("failed to scan run: %w", err))
	}

	return run, nil
}

// Update performs an optimistic read-modify-write guarded by the version
// column, retrying when a concurrent writer got there first.
func (rr *RunRepository) Update(ctx context.Context, id string, fn persistence.RunUpdateFunc) (*models.Run, error) {
	for attempt := 1; attempt <= persistence.MaxUpdateAttempts; attempt++ {
		current, err := rr.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		updated, err := persistence.ApplyRunUpdate(current, fn, time.Now().UTC())
		if err != nil {
			return nil, err
		}

		stored, err := rr.compareAndSwap(ctx, updated, current.Version)
		if err != nil {
			return nil, persistence.NewRunError("Update", id, err)
		}

		if stored {
			return updated, nil
		}

		rr.logger.DebugContext(ctx, "Run version conflict, retrying", "run_id", id, "attempt", attempt)
	}

	return nil, persistence.NewRunError("Update", id, persistence.ErrVersionConflict)
}

func (rr *RunRepository) compareAndSwap(ctx context.Context, run *models.Run, expectedVersion int64) (bool, error) {
	checkpointsJSON, seedJSON, err := marshalRunDocuments(run)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE runs SET
			status = $2,
			current_stage = $3,
			completed_stages = $4,
			failed_stages = $5,
			checkpoints = $6,
			seed = $7,
			error_message = $8,
			version = $9,
			updated_at = $10,
			completed_at = $11
		WHERE id = $1 AND version = $12
	`

	result, err := rr.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.CurrentStage,
		pq.Array(stagesToStrings(run.CompletedStages)),
		pq.Array(stagesToStrings(run.FailedStages)),
		checkpointsJSON,
		seedJSON,
		run.Error,
		run.Version,
		run.UpdatedAt,
		run.CompletedAt,
		expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// List returns runs newest first.
func (rr *RunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}

	if opts.Status != nil {
		query += ` WHERE status = $1`

		args = append(args, *opts.Status)
	}

	query += ` ORDER BY started_at DESC`

	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)

		args = append(args, opts.Limit)
	}

	rows, err := rr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, rr.logger, rows)

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func marshalRunDocuments(run *models.Run) ([]byte, []byte, error) {
	checkpointsJSON, err := json.Marshal(run.Checkpoints)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal checkpoints: %w", err)
	}

	seedJSON, err := json.Marshal(run.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal seed: %w", err)
	}

	return checkpointsJSON, seedJSON, nil
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run             models.Run
		completedStages []string
		failedStages    []string
		checkpointsJSON []byte
		seedJSON        []byte
		completedAt     sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.Trigger,
		&run.Kind,
		&run.Status,
		&run.CurrentStage,
		pq.Array(&completedStages),
		pq.Array(&failedStages),
		&checkpointsJSON,
		&seedJSON,
		&run.Error,
		&run.Version,
		&run.StartedAt,
		&run.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.CompletedStages = stringsToStages(completedStages)
	run.FailedStages = stringsToStages(failedStages)

	err = json.Unmarshal(checkpointsJSON, &run.Checkpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoints: %w", err)
	}

	err = json.Unmarshal(seedJSON, &run.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed: %w", err)
	}

	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	return &run, nil
}

func stagesToStrings(stages []models.Stage) []string {
	out := make([]string, len(stages))
	for i, stage := range stages {
		out[i] = string(stage)
	}

	return out
}

func stringsToStages(values []string) []models.Stage {
	out := make([]models.Stage, len(values))
	for i, value := range values {
		out[i] = models.Stage(value)
	}

	return out
}
