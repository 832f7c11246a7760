package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// RunRepository stores one JSON document per run under <root>/runs.
type RunRepository struct {
	root  string
	locks *keyedMutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root, locks: newKeyedMutex()}
}

func (rr *RunRepository) path(id string) string {
	return filepath.Join(rr.root, runsDir, id+".json")
}

// Create saves a new run. It fails if a run with the same ID exists.
func (rr *RunRepository) Create(_ context.Context, run *models.Run) error {
	err := validateID(run.ID)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	unlock := rr.locks.lock(run.ID)
	defer unlock()

	if _, err := os.Stat(rr.path(run.ID)); err == nil {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	err = writeJSON(rr.path(run.ID), run)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

// GetByID retrieves a run by its ID from the file system.
func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	return rr.load(id)
}

func (rr *RunRepository) load(id string) (*models.Run, error) {
	err := validateID(id)
	if err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	var run models.Run

	err = readJSON(rr.path(id), &run)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

// Update applies fn under the run's lock and writes the result back.
func (rr *RunRepository) Update(_ context.Context, id string, fn persistence.RunUpdateFunc) (*models.Run, error) {
	unlock := rr.locks.lock(id)
	defer unlock()

	current, err := rr.load(id)
	if err != nil {
		return nil, err
	}

	updated, err := persistence.ApplyRunUpdate(current, fn, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	err = writeJSON(rr.path(id), updated)
	if err != nil {
		return nil, persistence.NewRunError("Update", id, err)
	}

	return updated, nil
}

// List returns runs newest first, optionally filtered by status.
func (rr *RunRepository) List(_ context.Context, opts persistence.ListRunsOptions) ([]*models.Run, error) {
	dir := filepath.Join(rr.root, runsDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Run{}, nil
		}

		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	runs := make([]*models.Run, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}

		run, err := rr.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Skip invalid files
			continue
		}

		if opts.Status != nil && run.Status != *opts.Status {
			continue
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}

	return runs, nil
}
