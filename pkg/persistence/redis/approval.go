package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

// ApprovalRepository stores approvals as JSON strings with secondary indexes
// by message reference and by run.
type ApprovalRepository struct {
	client redis.UniversalClient
	logger *slog.Logger
	keys   keyspace
}

func (ar *ApprovalRepository) Create(ctx context.Context, approval *models.Approval) error {
	data, err := json.Marshal(approval)
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, fmt.Errorf("failed to marshal approval: %w", err))
	}

	created, err := ar.client.SetNX(ctx, ar.keys.approval(approval.ID), data, 0).Result()
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, err)
	}

	if !created {
		return persistence.NewApprovalError("Create", approval.ID, persistence.ErrApprovalAlreadyExists)
	}

	_, err = ar.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, ar.keys.approvalIndex(), redis.Z{
			Score:  float64(approval.CreatedAt.UnixNano()),
			Member: approval.ID,
		})
		pipe.SAdd(ctx, ar.keys.runApprovals(approval.RunID), approval.ID)

		if approval.MessageRef != "" {
			pipe.Set(ctx, ar.keys.approvalRef(approval.MessageRef), approval.ID, 0)
		}

		return nil
	})
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, fmt.Errorf("failed to index approval: %w", err))
	}

	return nil
}

func (ar *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.Approval, error) {
	var approval models.Approval

	err := loadJSON(ctx, ar.client, ar.keys.approval(id), &approval)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	return &approval, nil
}

func (ar *ApprovalRepository) GetByMessageRef(ctx context.Context, messageRef string) (*models.Approval, error) {
	id, err := ar.client.Get(ctx, ar.keys.approvalRef(messageRef)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewApprovalError("GetByMessageRef", messageRef, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByMessageRef", messageRef, err)
	}

	return ar.GetByID(ctx, id)
}

func (ar *ApprovalRepository) ListByRun(ctx context.Context, runID string) ([]*models.Approval, error) {
	ids, err := ar.client.SMembers(ctx, ar.keys.runApprovals(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run approvals: %w", err)
	}

	all, err := ar.List(ctx, "")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	approvals := make([]*models.Approval, 0, len(ids))

	for _, approval := range all {
		if _, ok := wanted[approval.ID]; ok {
			approvals = append(approvals, approval)
		}
	}

	return approvals, nil
}

func (ar *ApprovalRepository) List(ctx context.Context, status models.ApprovalStatus) ([]*models.Approval, error) {
	ids, err := ar.client.ZRevRange(ctx, ar.keys.approvalIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read approval index: %w", err)
	}

	approvals := make([]*models.Approval, 0, len(ids))

	for _, id := range ids {
		approval, err := ar.GetByID(ctx, id)
		if err != nil {
			if persistence.IsApprovalNotFound(err) {
				continue
			}

			return nil, err
		}

		if status != "" && approval.Status != status {
			continue
		}

		approvals = append(approvals, approval)
	}

	return approvals, nil
}

func (ar *ApprovalRepository) SetMessageRef(ctx context.Context, id, messageRef string) error {
	key := ar.keys.approval(id)

	err := watchUpdate(ctx, ar.client, key, func(tx *redis.Tx) error {
		var approval models.Approval

		err := loadJSON(ctx, tx, key, &approval)
		if err != nil {
			return err
		}

		previous := approval.MessageRef
		approval.MessageRef = messageRef
		approval.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&approval)
		if err != nil {
			return fmt.Errorf("failed to marshal approval: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			if previous != "" {
				pipe.Del(ctx, ar.keys.approvalRef(previous))
			}

			if messageRef != "" {
				pipe.Set(ctx, ar.keys.approvalRef(messageRef), id, 0)
			}

			return nil
		})

		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return persistence.NewApprovalError("SetMessageRef", id, persistence.ErrApprovalNotFound)
		}

		return persistence.NewApprovalError("SetMessageRef", id, err)
	}

	return nil
}

// Resolve checks and moves the approval out of pending inside one WATCH
// transaction, so concurrent resolutions cannot both succeed.
func (ar *ApprovalRepository) Resolve(ctx context.Context, id string, decision models.Decision, at time.Time) (*models.Approval, error) {
	key := ar.keys.approval(id)

	var resolved models.Approval

	err := watchUpdate(ctx, ar.client, key, func(tx *redis.Tx) error {
		err := loadJSON(ctx, tx, key, &resolved)
		if err != nil {
			return err
		}

		if resolved.Status != models.ApprovalStatusPending {
			return persistence.ErrApprovalNotPending
		}

		resolved.Status = decision.Status
		resolved.Reviewer = decision.Reviewer
		resolved.Feedback = decision.Feedback
		resolved.UpdatedAt = at
		resolved.ResolvedAt = &at

		data, err := json.Marshal(&resolved)
		if err != nil {
			return fmt.Errorf("failed to marshal approval: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			return nil
		})

		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewApprovalError("Resolve", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("Resolve", id, err)
	}

	return &resolved, nil
}
