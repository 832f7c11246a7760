// Package approval implements the human sign-off gate: parking a run behind
// a pending approval and resolving it from an external decision.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/journal"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/pipeline"
	"github.com/dukex/contentflow/pkg/protocol"
	"github.com/google/uuid"
)

// Gate creates approvals and applies their decisions to runs. It never
// blocks waiting for a decision.
type Gate struct {
	runs      persistence.RunRepository
	approvals persistence.ApprovalRepository
	notifier  protocol.Notifier
	journal   *journal.Journal
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewGate(
	runs persistence.RunRepository,
	approvals persistence.ApprovalRepository,
	notifier protocol.Notifier,
	jrnl *journal.Journal,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		runs:      runs,
		approvals: approvals,
		notifier:  notifier,
		journal:   jrnl,
		publisher: publisher,
		logger:    logger.With("module", "approval"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Request describes what the reviewer is asked to approve.
type Request struct {
	Kind        models.ApprovalKind
	RelatedID   string
	Summary     string
	PreviewLink string
}

// RequestApproval creates a pending approval for a run standing at the
// approval stage, parks the run as paused and notifies reviewers. A pending
// approval left by an earlier attempt for the same run is reused. A
// notification failure is journaled and leaves the run paused; the approval
// can still be resolved through the API.
func (g *Gate) RequestApproval(ctx context.Context, run *models.Run, req Request) (*models.Approval, error) {
	if run.Status != models.RunStatusRunning || run.CurrentStage != models.StageApproval {
		return nil, fmt.Errorf("%w: run %s is %s at %s", ErrRunNotAtGate, run.ID, run.Status, run.CurrentStage)
	}

	if req.RelatedID == "" {
		req.RelatedID = run.ID
	}

	approval, err := g.pendingFor(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	if approval == nil {
		now := g.now()
		approval = &models.Approval{
			ID:        newApprovalID(),
			Kind:      req.Kind,
			RelatedID: req.RelatedID,
			RunID:     run.ID,
			Stage:     models.StageApproval,
			Status:    models.ApprovalStatusPending,
			Summary:   req.Summary,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = g.approvals.Create(ctx, approval)
		if err != nil {
			return nil, fmt.Errorf("failed to create approval: %w", err)
		}
	}

	_, err = g.runs.Update(ctx, run.ID, func(r *models.Run) error {
		if r.Status != models.RunStatusRunning || r.CurrentStage != approval.Stage {
			return fmt.Errorf("%w: run is %s at %s", pipeline.ErrRunAborted, r.Status, r.CurrentStage)
		}

		r.Status = models.RunStatusPaused
		r.Checkpoints[approval.Stage] = models.Checkpoint{"approval_id": approval.ID}

		return nil
	})
	if err != nil {
		g.journal.Error(ctx, run.ID, "Failed to pause run for approval", map[string]any{
			"approval_id": approval.ID,
			"error":       err.Error(),
		})
		g.withdraw(context.WithoutCancel(ctx), approval, "run could not be paused")

		return nil, fmt.Errorf("failed to pause run: %w", err)
	}

	g.journal.Info(ctx, run.ID, "Approval requested", map[string]any{
		"approval_id": approval.ID,
		"kind":        approval.Kind,
		"stage":       approval.Stage,
	})
	g.publish(ctx, events.ApprovalRequested{
		BaseEvent:  events.NewBaseEvent(pipeline.NewEventID(), events.ApprovalRequestedEvent, run.ID),
		ApprovalID: approval.ID,
		Kind:       approval.Kind,
		Summary:    approval.Summary,
	})
	g.publish(ctx, events.RunPaused{
		BaseEvent:  events.NewBaseEvent(pipeline.NewEventID(), events.RunPausedEvent, run.ID),
		Stage:      approval.Stage,
		ApprovalID: approval.ID,
	})

	if approval.MessageRef == "" {
		g.notify(ctx, approval, req.PreviewLink)
	}

	return approval, nil
}

// pendingFor returns the run's pending gate approval, or nil.
func (g *Gate) pendingFor(ctx context.Context, runID string) (*models.Approval, error) {
	existing, err := g.approvals.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals of run: %w", err)
	}

	for _, a := range existing {
		if a.Status == models.ApprovalStatusPending && a.Stage == models.StageApproval {
			return a, nil
		}
	}

	return nil, nil
}

// Withdraw rejects every pending approval of the run without touching the
// run itself. It is used once the run has been stopped by other means.
func (g *Gate) Withdraw(ctx context.Context, runID, reason string) ([]*models.Approval, error) {
	existing, err := g.approvals.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals of run: %w", err)
	}

	var withdrawn []*models.Approval

	for _, a := range existing {
		if a.Status != models.ApprovalStatusPending {
			continue
		}

		resolved := g.withdraw(ctx, a, reason)
		if resolved != nil {
			withdrawn = append(withdrawn, resolved)
		}
	}

	return withdrawn, nil
}

func (g *Gate) withdraw(ctx context.Context, approval *models.Approval, reason string) *models.Approval {
	resolved, err := g.approvals.Resolve(ctx, approval.ID, models.Decision{
		Status:   models.ApprovalStatusRejected,
		Feedback: reason,
	}, g.now())
	if err != nil {
		if !persistence.IsApprovalNotPending(err) {
			g.logger.ErrorContext(ctx, "Failed to withdraw approval",
				"approval_id", approval.ID, "run_id", approval.RunID, "error", err)
		}

		return nil
	}

	g.journal.Warn(ctx, resolved.RunID, "Approval withdrawn", map[string]any{
		"approval_id": resolved.ID,
		"reason":      reason,
	})
	g.publish(ctx, events.ApprovalResolved{
		BaseEvent:  events.NewBaseEvent(pipeline.NewEventID(), events.ApprovalResolvedEvent, resolved.RunID),
		ApprovalID: resolved.ID,
		Decision:   resolved.Status,
	})

	return resolved
}

func (g *Gate) notify(ctx context.Context, approval *models.Approval, previewLink string) {
	if g.notifier == nil {
		g.journal.Warn(ctx, approval.RunID, "No notifier configured, approval awaits API resolution", map[string]any{
			"approval_id": approval.ID,
		})

		return
	}

	messageRef, err := g.notifier.Notify(ctx, approval.ID, approval.Summary, previewLink)
	if err != nil {
		g.journal.Error(ctx, approval.RunID, "Approval notification failed", map[string]any{
			"approval_id": approval.ID,
			"error":       err.Error(),
		})

		return
	}

	if messageRef == "" {
		return
	}

	err = g.approvals.SetMessageRef(ctx, approval.ID, messageRef)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to store approval message reference",
			"approval_id", approval.ID, "message_ref", messageRef, "error", err)

		return
	}

	approval.MessageRef = messageRef
}

// Resolution is the outcome of applying a decision.
type Resolution struct {
	Approval *models.Approval
	Run      *models.Run
}

// Resumable reports whether the run is back to running and must be executed
// from its current stage.
func (r *Resolution) Resumable() bool {
	return r.Run != nil && r.Run.Status == models.RunStatusRunning
}

// Resolve applies decision to a pending approval. Approving resumes the run
// at the stage after the gate; rejecting or requesting changes fails it. Any
// decision is refused, leaving the approval pending, when the run is no
// longer parked at the approval's stage.
func (g *Gate) Resolve(ctx context.Context, approvalID string, decision models.Decision) (*Resolution, error) {
	if !decision.Status.IsDecision() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision.Status)
	}

	current, err := g.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	if current.Status != models.ApprovalStatusPending {
		return nil, fmt.Errorf("%w: approval %s is %s", ErrApprovalAlreadyResolved, approvalID, current.Status)
	}

	run, err := g.runs.GetByID(ctx, current.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run of approval: %w", err)
	}

	if !parkedAt(run, current.Stage) {
		return nil, fmt.Errorf("%w: run %s is %s at %s", ErrRunNotPaused, run.ID, run.Status, run.CurrentStage)
	}

	resolved, err := g.approvals.Resolve(ctx, approvalID, decision, g.now())
	if err != nil {
		if persistence.IsApprovalNotPending(err) {
			return nil, fmt.Errorf("%w: %w", ErrApprovalAlreadyResolved, err)
		}

		return nil, fmt.Errorf("failed to resolve approval: %w", err)
	}

	g.journal.Info(ctx, resolved.RunID, "Approval resolved", map[string]any{
		"approval_id": resolved.ID,
		"decision":    resolved.Status,
		"reviewer":    resolved.Reviewer,
	})
	g.publish(ctx, events.ApprovalResolved{
		BaseEvent:  events.NewBaseEvent(pipeline.NewEventID(), events.ApprovalResolvedEvent, resolved.RunID),
		ApprovalID: resolved.ID,
		Decision:   resolved.Status,
		Reviewer:   resolved.Reviewer,
	})

	if resolved.Status == models.ApprovalStatusApproved {
		run, err = g.resume(ctx, resolved)
	} else {
		run, err = g.reject(ctx, resolved)
	}

	if err != nil {
		return &Resolution{Approval: resolved}, err
	}

	return &Resolution{Approval: resolved, Run: run}, nil
}

// ResolveByMessageRef resolves the approval whose notification carries messageRef.
func (g *Gate) ResolveByMessageRef(ctx context.Context, messageRef string, decision models.Decision) (*Resolution, error) {
	approval, err := g.approvals.GetByMessageRef(ctx, messageRef)
	if err != nil {
		return nil, err
	}

	return g.Resolve(ctx, approval.ID, decision)
}

func (g *Gate) resume(ctx context.Context, approval *models.Approval) (*models.Run, error) {
	checkpoint := models.Checkpoint{
		"approval_id": approval.ID,
		"decision":    string(approval.Status),
		"reviewer":    approval.Reviewer,
		"feedback":    approval.Feedback,
	}

	run, err := g.runs.Update(ctx, approval.RunID, func(r *models.Run) error {
		if !parkedAt(r, approval.Stage) {
			return fmt.Errorf("%w: run is %s at %s", ErrRunNotPaused, r.Status, r.CurrentStage)
		}

		r.Status = models.RunStatusRunning
		r.CompleteStage(approval.Stage, checkpoint, g.now())

		return nil
	})
	if err != nil {
		g.journal.Error(ctx, approval.RunID, "Approved run could not be resumed", map[string]any{
			"approval_id": approval.ID,
			"error":       err.Error(),
		})

		return nil, fmt.Errorf("failed to resume run: %w", err)
	}

	g.journal.Success(ctx, run.ID, "Run resumed after approval", map[string]any{
		"approval_id": approval.ID,
		"next_stage":  run.CurrentStage,
	})
	g.publish(ctx, events.RunResumed{
		BaseEvent:  events.NewBaseEvent(pipeline.NewEventID(), events.RunResumedEvent, run.ID),
		Stage:      run.CurrentStage,
		ApprovalID: approval.ID,
	})

	return run, nil
}

func (g *Gate) reject(ctx context.Context, approval *models.Approval) (*models.Run, error) {
	reason := "rejected at gate"
	if approval.Status == models.ApprovalStatusChangesRequested {
		reason = "changes requested at gate: " + approval.Feedback
	}

	run, err := g.runs.Update(ctx, approval.RunID, func(r *models.Run) error {
		if !parkedAt(r, approval.Stage) {
			return fmt.Errorf("%w: run is %s at %s", ErrRunNotPaused, r.Status, r.CurrentStage)
		}

		r.FailStage(approval.Stage, reason, g.now())

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRunNotPaused) {
			g.journal.Warn(ctx, approval.RunID, "Rejection arrived for a run no longer paused", map[string]any{"approval_id": approval.ID})
		}

		return nil, fmt.Errorf("failed to fail rejected run: %w", err)
	}

	g.journal.Error(ctx, run.ID, "Run stopped at gate", map[string]any{
		"approval_id": approval.ID,
		"decision":    approval.Status,
		"feedback":    approval.Feedback,
	})
	g.publish(ctx, events.RunFailed{
		BaseEvent: events.NewBaseEvent(pipeline.NewEventID(), events.RunFailedEvent, run.ID),
		Stage:     approval.Stage,
		Error:     reason,
	})

	return run, nil
}

func (g *Gate) publish(ctx context.Context, event eventbus.Event) {
	pipeline.Publish(ctx, g.publisher, g.logger, event)
}

func parkedAt(run *models.Run, stage models.Stage) bool {
	return run.Status == models.RunStatusPaused && run.CurrentStage == stage
}

func newApprovalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
