package approval_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/approval"
	"github.com/dukex/contentflow/pkg/journal"
	"github.com/dukex/contentflow/pkg/mocks"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	store    *file.Persistence
	notifier *mocks.MockNotifier
	bus      *mocks.MockEventBus
	gate     *approval.Gate
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir(), 100)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	notifier := &mocks.MockNotifier{}

	gate := approval.NewGate(
		store.RunRepository(),
		store.ApprovalRepository(),
		notifier,
		journal.New(store.LogRepository(), logger),
		bus,
		logger,
	)

	return &gateFixture{store: store, notifier: notifier, bus: bus, gate: gate}
}

// runAtGate stores a run whose pre-gate stages are complete.
func (f *gateFixture) runAtGate(t *testing.T, id string) *models.Run {
	t.Helper()

	run := models.NewRun(id, models.TriggerManual, "", nil)
	now := time.Now().UTC()

	for _, stage := range models.StageOrder[:models.StageIndex(models.StageApproval)] {
		run.CompleteStage(stage, models.Checkpoint{"ok": true}, now)
	}

	require.Equal(t, models.StageApproval, run.CurrentStage)
	require.NoError(t, f.store.RunRepository().Create(context.Background(), run))

	return run
}

func (f *gateFixture) request(t *testing.T, run *models.Run) *models.Approval {
	t.Helper()

	pending, err := f.gate.RequestApproval(context.Background(), run, approval.Request{
		Kind:        models.ApprovalKindPrePublish,
		Summary:     "Ready to publish",
		PreviewLink: "https://preview.example/1",
	})
	require.NoError(t, err)

	return pending
}

func TestRequestApproval_PausesRunAndStoresMessageRef(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	f.notifier.On("Notify", mock.Anything, mock.AnythingOfType("string"), "Ready to publish", "https://preview.example/1").
		Return("msg-42", nil)

	pending := f.request(t, run)

	assert.Equal(t, models.ApprovalStatusPending, pending.Status)
	assert.Equal(t, models.StageApproval, pending.Stage)
	assert.Equal(t, "run-1", pending.RelatedID)
	assert.Equal(t, "msg-42", pending.MessageRef)

	stored, err := f.store.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)
	assert.Equal(t, models.StageApproval, stored.CurrentStage)
	assert.False(t, stored.HasCompleted(models.StageApproval))
	assert.Equal(t, pending.ID, stored.Checkpoint(models.StageApproval)["approval_id"])

	byRef, err := f.store.ApprovalRepository().GetByMessageRef(ctx, "msg-42")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, byRef.ID)

	f.notifier.AssertExpectations(t)
	f.bus.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRequestApproval_NotifyFailureKeepsRunPaused(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("chat unavailable"))

	pending := f.request(t, run)
	assert.Empty(t, pending.MessageRef)

	stored, err := f.store.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)

	entries, err := f.store.LogRepository().Query(ctx, models.LogFilter{
		CorrelationID: "run-1",
		Severity:      models.SeverityError,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Approval notification failed", entries[0].Message)

	resolution, err := f.gate.Resolve(ctx, pending.ID, models.Decision{Status: models.ApprovalStatusApproved})
	require.NoError(t, err)
	assert.True(t, resolution.Resumable())
}

func TestRequestApproval_RejectsRunNotAtGate(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := models.NewRun("run-1", models.TriggerManual, "", nil)
	require.NoError(t, f.store.RunRepository().Create(ctx, run))

	_, err := f.gate.RequestApproval(ctx, run, approval.Request{Kind: models.ApprovalKindContent})
	require.Error(t, err)
	assert.ErrorIs(t, err, approval.ErrRunNotAtGate)
	assert.True(t, approval.IsConflict(err))

	approvals, err := f.store.ApprovalRepository().ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, approvals)

	stored, err := f.store.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, stored.Status)

	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestApproval_WithdrawsApprovalWhenPauseFails(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	_, err := f.store.RunRepository().Update(ctx, "run-1", func(r *models.Run) error {
		r.FailStage(r.CurrentStage, "aborted", time.Now())

		return nil
	})
	require.NoError(t, err)

	_, err = f.gate.RequestApproval(ctx, run, approval.Request{Kind: models.ApprovalKindPrePublish})
	require.Error(t, err)

	approvals, err := f.store.ApprovalRepository().ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, models.ApprovalStatusRejected, approvals[0].Status)
	assert.Equal(t, "run could not be paused", approvals[0].Feedback)

	pending, err := f.store.ApprovalRepository().List(ctx, models.ApprovalStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestApproval_ReusesPendingApprovalOfRun(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	now := time.Now().UTC()
	leftover := &models.Approval{
		ID:        "approval-1",
		Kind:      models.ApprovalKindPrePublish,
		RelatedID: "run-1",
		RunID:     "run-1",
		Stage:     models.StageApproval,
		Status:    models.ApprovalStatusPending,
		Summary:   "Ready to publish",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.ApprovalRepository().Create(ctx, leftover))

	f.notifier.On("Notify", mock.Anything, "approval-1", "Ready to publish", mock.Anything).Return("msg-9", nil).Once()

	pending := f.request(t, run)
	assert.Equal(t, "approval-1", pending.ID)
	assert.Equal(t, "msg-9", pending.MessageRef)

	approvals, err := f.store.ApprovalRepository().ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, approvals, 1)

	stored, err := f.store.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)
	assert.Equal(t, "approval-1", stored.Checkpoint(models.StageApproval)["approval_id"])

	f.notifier.AssertExpectations(t)
}

func TestWithdraw_ClosesPendingApprovals(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("msg-1", nil)
	pending := f.request(t, run)

	withdrawn, err := f.gate.Withdraw(ctx, "run-1", "aborted by operator")
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.Equal(t, pending.ID, withdrawn[0].ID)
	assert.Equal(t, models.ApprovalStatusRejected, withdrawn[0].Status)

	again, err := f.gate.Withdraw(ctx, "run-1", "aborted by operator")
	require.NoError(t, err)
	assert.Empty(t, again)

	stored, err := f.store.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)
}

func TestResolve_ApprovedResumesAtNextStage(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("msg-1", nil)
	pending := f.request(t, run)

	resolution, err := f.gate.Resolve(ctx, pending.ID, models.Decision{
		Status:   models.ApprovalStatusApproved,
		Reviewer: "ana",
		Feedback: "ship it",
	})
	require.NoError(t, err)
	require.True(t, resolution.Resumable())

	assert.Equal(t, models.ApprovalStatusApproved, resolution.Approval.Status)
	assert.NotNil(t, resolution.Approval.ResolvedAt)
	assert.Equal(t, models.StagePublish, resolution.Run.CurrentStage)
	assert.True(t, resolution.Run.HasCompleted(models.StageApproval))

	checkpoint := resolution.Run.Checkpoint(models.StageApproval)
	assert.Equal(t, pending.ID, checkpoint["approval_id"])
	assert.Equal(t, "approved", checkpoint["decision"])
	assert.Equal(t, "ana", checkpoint["reviewer"])
	assert.Equal(t, "ship it", checkpoint["feedback"])
}

func TestResolve_RejectionFailsRun(t *testing.T) {
	tests := []struct {
		name     string
		decision models.Decision
		reason   string
	}{
		{
			name:     "rejected",
			decision: models.Decision{Status: models.ApprovalStatusRejected, Reviewer: "ana"},
			reason:   "rejected at gate",
		},
		{
			name:     "changes requested",
			decision: models.Decision{Status: models.ApprovalStatusChangesRequested, Feedback: "shorter intro"},
			reason:   "changes requested at gate: shorter intro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t)
			run := f.runAtGate(t, "run-1")

			f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", nil)
			pending := f.request(t, run)

			resolution, err := f.gate.Resolve(context.Background(), pending.ID, tt.decision)
			require.NoError(t, err)
			assert.False(t, resolution.Resumable())

			assert.Equal(t, models.RunStatusFailed, resolution.Run.Status)
			assert.Equal(t, tt.reason, resolution.Run.Error)
			assert.Equal(t, []models.Stage{models.StageApproval}, resolution.Run.FailedStages)
			assert.Equal(t, tt.decision.Status, resolution.Approval.Status)
		})
	}
}

func TestResolve_SecondResolutionConflicts(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("msg-1", nil)
	pending := f.request(t, run)

	_, err := f.gate.Resolve(ctx, pending.ID, models.Decision{Status: models.ApprovalStatusApproved})
	require.NoError(t, err)

	_, err = f.gate.Resolve(ctx, pending.ID, models.Decision{Status: models.ApprovalStatusRejected})
	require.Error(t, err)
	assert.ErrorIs(t, err, approval.ErrApprovalAlreadyResolved)
	assert.True(t, approval.IsConflict(err))

	stored, err := f.store.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, stored.Status)
	assert.Equal(t, models.StagePublish, stored.CurrentStage)
}

func TestResolve_ApprovalForRunNoLongerPaused(t *testing.T) {
	statuses := []models.ApprovalStatus{
		models.ApprovalStatusApproved,
		models.ApprovalStatusRejected,
		models.ApprovalStatusChangesRequested,
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			f := newGateFixture(t)
			ctx := context.Background()
			run := f.runAtGate(t, "run-1")

			f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", nil)
			pending := f.request(t, run)

			_, err := f.store.RunRepository().Update(ctx, "run-1", func(r *models.Run) error {
				r.FailStage(r.CurrentStage, "aborted", time.Now())

				return nil
			})
			require.NoError(t, err)

			_, err = f.gate.Resolve(ctx, pending.ID, models.Decision{Status: status, Reviewer: "ana"})
			require.Error(t, err)
			assert.ErrorIs(t, err, approval.ErrRunNotPaused)
			assert.True(t, approval.IsConflict(err))

			stored, err := f.store.ApprovalRepository().GetByID(ctx, pending.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ApprovalStatusPending, stored.Status)
			assert.Empty(t, stored.Reviewer)

			failed, err := f.store.RunRepository().GetByID(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, "aborted", failed.Error)
		})
	}
}

func TestResolve_InvalidDecision(t *testing.T) {
	f := newGateFixture(t)

	_, err := f.gate.Resolve(context.Background(), "any", models.Decision{Status: models.ApprovalStatusPending})
	assert.ErrorIs(t, err, approval.ErrInvalidDecision)
	assert.False(t, approval.IsConflict(err))
}

func TestResolveByMessageRef(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	run := f.runAtGate(t, "run-1")

	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("chat-7", nil)
	pending := f.request(t, run)

	resolution, err := f.gate.ResolveByMessageRef(ctx, "chat-7", models.Decision{Status: models.ApprovalStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, resolution.Approval.ID)
	assert.True(t, resolution.Resumable())

	_, err = f.gate.ResolveByMessageRef(ctx, "unknown", models.Decision{Status: models.ApprovalStatusApproved})
	require.Error(t, err)
}
