package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

const approvalColumns = `id, kind, related_id, run_id, stage, status, summary, message_ref,
	reviewer, feedback, created_at, updated_at, resolved_at`

// ApprovalRepository handles approval-related database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

func (ar *ApprovalRepository) Create(ctx context.Context, approval *models.Approval) error {
	query := `INSERT INTO approvals (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	result, err := ar.db.ExecContext(ctx, query,
		approval.ID,
		approval.Kind,
		approval.RelatedID,
		approval.RunID,
		approval.Stage,
		approval.Status,
		approval.Summary,
		approval.MessageRef,
		approval.Reviewer,
		approval.Feedback,
		approval.CreatedAt,
		approval.UpdatedAt,
		approval.ResolvedAt,
	)
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, fmt.Errorf("failed to insert approval: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, err)
	}

	if affected == 0 {
		return persistence.NewApprovalError("Create", approval.ID, persistence.ErrApprovalAlreadyExists)
	}

	return nil
}

func (ar *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.Approval, error) {
	return ar.getOne(ctx, "GetByID", id, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`)
}

func (ar *ApprovalRepository) GetByMessageRef(ctx context.Context, messageRef string) (*models.Approval, error) {
	return ar.getOne(ctx, "GetByMessageRef", messageRef, `SELECT `+approvalColumns+` FROM approvals WHERE message_ref = $1`)
}

func (ar *ApprovalRepository) getOne(ctx context.Context, op, key, query string) (*models.Approval, error) {
	approval, err := scanApproval(ar.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewApprovalError(op, key, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError(op, key, fmt.Errorf("failed to scan approval: %w", err))
	}

	return approval, nil
}

func (ar *ApprovalRepository) ListByRun(ctx context.Context, runID string) ([]*models.Approval, error) {
	return ar.list(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE run_id = $1 ORDER BY created_at DESC`, runID)
}

func (ar *ApprovalRepository) List(ctx context.Context, status models.ApprovalStatus) ([]*models.Approval, error) {
	if status == "" {
		return ar.list(ctx, `SELECT `+approvalColumns+` FROM approvals ORDER BY created_at DESC`)
	}

	return ar.list(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE status = $1 ORDER BY created_at DESC`, status)
}

func (ar *ApprovalRepository) list(ctx context.Context, query string, args ...any) ([]*models.Approval, error) {
	rows, err := ar.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}

	defer closeRows(ctx, ar.logger, rows)

	approvals := make([]*models.Approval, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, approval)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate approvals: %w", err)
	}

	return approvals, nil
}

func (ar *ApprovalRepository) SetMessageRef(ctx context.Context, id, messageRef string) error {
	result, err := ar.db.ExecContext(ctx,
		`UPDATE approvals SET message_ref = NULLIF($2, ''), updated_at = $3 WHERE id = $1`,
		id, messageRef, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewApprovalError("SetMessageRef", id, fmt.Errorf("failed to update message ref: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewApprovalError("SetMessageRef", id, err)
	}

	if affected == 0 {
		return persistence.NewApprovalError("SetMessageRef", id, persistence.ErrApprovalNotFound)
	}

	return nil
}

// Resolve moves the approval out of pending in a single conditional update,
// so only one of several concurrent resolutions can win.
func (ar *ApprovalRepository) Resolve(ctx context.Context, id string, decision models.Decision, at time.Time) (*models.Approval, error) {
	query := `
		UPDATE approvals SET
			status = $2,
			reviewer = $3,
			feedback = $4,
			updated_at = $5,
			resolved_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + approvalColumns

	approval, err := scanApproval(ar.db.QueryRowContext(ctx, query,
		id, decision.Status, decision.Reviewer, decision.Feedback, at,
	))
	if err == nil {
		return approval, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewApprovalError("Resolve", id, fmt.Errorf("failed to resolve approval: %w", err))
	}

	// Nothing matched: either the approval does not exist or it is no longer pending.
	_, getErr := ar.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	return nil, persistence.NewApprovalError("Resolve", id, persistence.ErrApprovalNotPending)
}

func scanApproval(row scanner) (*models.Approval, error) {
	var (
		approval   models.Approval
		messageRef sql.NullString
		resolvedAt sql.NullTime
	)

	err := row.Scan(
		&approval.ID,
		&approval.Kind,
		&approval.RelatedID,
		&approval.RunID,
		&approval.Stage,
		&approval.Status,
		&approval.Summary,
		&messageRef,
		&approval.Reviewer,
		&approval.Feedback,
		&approval.CreatedAt,
		&approval.UpdatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	approval.MessageRef = messageRef.String

	if resolvedAt.Valid {
		t := resolvedAt.Time
		approval.ResolvedAt = &t
	}

	return &approval, nil
}
