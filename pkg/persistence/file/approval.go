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
	"sync"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// ApprovalRepository stores one JSON document per approval under <root>/approvals.
type ApprovalRepository struct {
	root string
	mu   sync.Mutex
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(root string) *ApprovalRepository {
	return &ApprovalRepository{root: root}
}

func (ar *ApprovalRepository) path(id string) string {
	return filepath.Join(ar.root, approvalsDir, id+".json")
}

func (ar *ApprovalRepository) Create(_ context.Context, approval *models.Approval) error {
	err := validateID(approval.ID)
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, err)
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()

	if _, err := os.Stat(ar.path(approval.ID)); err == nil {
		return persistence.NewApprovalError("Create", approval.ID, persistence.ErrApprovalAlreadyExists)
	}

	err = writeJSON(ar.path(approval.ID), approval)
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, err)
	}

	return nil
}

func (ar *ApprovalRepository) GetByID(_ context.Context, id string) (*models.Approval, error) {
	return ar.load(id)
}

func (ar *ApprovalRepository) load(id string) (*models.Approval, error) {
	err := validateID(id)
	if err != nil {
		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	var approval models.Approval

	err = readJSON(ar.path(id), &approval)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	return &approval, nil
}

func (ar *ApprovalRepository) all() ([]*models.Approval, error) {
	entries, err := os.ReadDir(filepath.Join(ar.root, approvalsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Approval{}, nil
		}

		return nil, fmt.Errorf("failed to read approvals directory: %w", err)
	}

	approvals := make([]*models.Approval, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}

		approval, err := ar.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}

		approvals = append(approvals, approval)
	}

	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt.After(approvals[j].CreatedAt)
	})

	return approvals, nil
}

func (ar *ApprovalRepository) GetByMessageRef(_ context.Context, messageRef string) (*models.Approval, error) {
	approvals, err := ar.all()
	if err != nil {
		return nil, err
	}

	for _, approval := range approvals {
		if messageRef != "" && approval.MessageRef == messageRef {
			return approval, nil
		}
	}

	return nil, persistence.NewApprovalError("GetByMessageRef", messageRef, persistence.ErrApprovalNotFound)
}

func (ar *ApprovalRepository) ListByRun(_ context.Context, runID string) ([]*models.Approval, error) {
	approvals, err := ar.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Approval, 0)

	for _, approval := range approvals {
		if approval.RunID == runID {
			matched = append(matched, approval)
		}
	}

	return matched, nil
}

func (ar *ApprovalRepository) List(_ context.Context, status models.ApprovalStatus) ([]*models.Approval, error) {
	approvals, err := ar.all()
	if err != nil {
		return nil, err
	}

	if status == "" {
		return approvals, nil
	}

	matched := make([]*models.Approval, 0, len(approvals))

	for _, approval := range approvals {
		if approval.Status == status {
			matched = append(matched, approval)
		}
	}

	return matched, nil
}

func (ar *ApprovalRepository) SetMessageRef(_ context.Context, id, messageRef string) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	approval, err := ar.load(id)
	if err != nil {
		return err
	}

	approval.MessageRef = messageRef
	approval.UpdatedAt = time.Now().UTC()

	err = writeJSON(ar.path(id), approval)
	if err != nil {
		return persistence.NewApprovalError("SetMessageRef", id, err)
	}

	return nil
}

// Resolve performs the pending -> decision transition under the repository lock.
func (ar *ApprovalRepository) Resolve(_ context.Context, id string, decision models.Decision, at time.Time) (*models.Approval, error) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	approval, err := ar.load(id)
	if err != nil {
		return nil, err
	}

	if approval.Status != models.ApprovalStatusPending {
		return nil, persistence.NewApprovalError("Resolve", id, persistence.ErrApprovalNotPending)
	}

	approval.Status = decision.Status
	approval.Reviewer = decision.Reviewer
	approval.Feedback = decision.Feedback
	approval.UpdatedAt = at
	approval.ResolvedAt = &at

	err = writeJSON(ar.path(id), approval)
	if err != nil {
		return nil, persistence.NewApprovalError("Resolve", id, err)
	}

	return approval, nil
}
