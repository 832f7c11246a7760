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

// RunRepository stores each run as a JSON string, indexed by start time in a sorted set.
type RunRepository struct {
	client redis.UniversalClient
	logger *slog.Logger
	keys   keyspace
}

func (rr *RunRepository) Create(ctx context.Context, run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal run: %w", err))
	}

	created, err := rr.client.SetNX(ctx, rr.keys.run(run.ID), data, 0).Result()
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	if !created {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	err = rr.client.ZAdd(ctx, rr.keys.runIndex(), redis.Z{
		Score:  float64(run.StartedAt.UnixNano()),
		Member: run.ID,
	}).Err()
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to index run: %w", err))
	}

	return nil
}

func (rr *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run

	err := loadJSON(ctx, rr.client, rr.keys.run(id), &run)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

// Update applies fn inside an optimistic WATCH transaction on the run key.
func (rr *RunRepository) Update(ctx context.Context, id string, fn persistence.RunUpdateFunc) (*models.Run, error) {
	key := rr.keys.run(id)

	var updated *models.Run

	err := watchUpdate(ctx, rr.client, key, func(tx *redis.Tx) error {
		var current models.Run

		err := loadJSON(ctx, tx, key, &current)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return persistence.ErrRunNotFound
			}

			return err
		}

		next, err := persistence.ApplyRunUpdate(&current, fn, time.Now().UTC())
		if err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			return nil
		})
		if err != nil {
			return err
		}

		updated = next

		return nil
	})
	if err != nil {
		var runErr *persistence.RunError
		if errors.As(err, &runErr) {
			return nil, err
		}

		if errors.Is(err, persistence.ErrRunNotFound) || errors.Is(err, persistence.ErrVersionConflict) {
			return nil, persistence.NewRunError("Update", id, err)
		}

		return nil, err
	}

	return updated, nil
}

func (rr *RunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.Run, error) {
	ids, err := rr.client.ZRevRange(ctx, rr.keys.runIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}

	runs := make([]*models.Run, 0, len(ids))

	for _, id := range ids {
		run, err := rr.GetByID(ctx, id)
		if err != nil {
			if persistence.IsRunNotFound(err) {
				continue
			}

			return nil, err
		}

		if opts.Status != nil && run.Status != *opts.Status {
			continue
		}

		runs = append(runs, run)

		if opts.Limit > 0 && len(runs) == opts.Limit {
			break
		}
	}

	return runs, nil
}
