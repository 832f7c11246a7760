// Package orchestrator is the composition root of the content pipeline: it
// wires stage work to collaborators and exposes starting, resuming and
// aborting runs to the HTTP API, the CLI and the worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/approval"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/journal"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/pipeline"
	"github.com/dukex/contentflow/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// DispatchMode decides where runs execute.
type DispatchMode string

const (
	// DispatchInline executes runs in goroutines of the calling process.
	DispatchInline DispatchMode = "inline"
	// DispatchBus publishes dispatch events for a worker to execute.
	DispatchBus DispatchMode = "bus"
)

// ParseDispatchMode validates a dispatch mode name.
func ParseDispatchMode(raw string) (DispatchMode, error) {
	switch DispatchMode(raw) {
	case DispatchInline, "":
		return DispatchInline, nil
	case DispatchBus:
		return DispatchBus, nil
	default:
		return "", fmt.Errorf("unsupported dispatch mode %q", raw)
	}
}

// ErrRunFinished indicates an operation on a completed or failed run.
var ErrRunFinished = errors.New("run already finished")

// IsConflict reports every error that means "the run or approval is not in
// a state that allows this operation".
func IsConflict(err error) bool {
	return errors.Is(err, ErrRunFinished) || approval.IsConflict(err) || pipeline.IsConflict(err)
}

type Config struct {
	Persistence   persistence.Persistence
	Collaborators protocol.Collaborators
	Settings      Settings
	// Publisher receives lifecycle events and, in bus mode, dispatch events.
	Publisher eventbus.EventPublisher
	Tracer    trace.Tracer
	Mode      DispatchMode
	Logger    *slog.Logger
}

type Orchestrator struct {
	store     persistence.Persistence
	runs      persistence.RunRepository
	approvals persistence.ApprovalRepository
	journal   *journal.Journal
	gate      *approval.Gate
	executor  *pipeline.Executor
	publisher eventbus.EventPublisher
	mode      DispatchMode
	tasks     *supervisor
	logger    *slog.Logger
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Persistence == nil {
		return nil, errors.New("persistence is required")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Mode == "" {
		cfg.Mode = DispatchInline
	}

	if cfg.Mode == DispatchBus && cfg.Publisher == nil {
		return nil, errors.New("bus dispatch requires an event publisher")
	}

	logger := cfg.Logger.With("module", "orchestrator")
	runs := cfg.Persistence.RunRepository()
	approvals := cfg.Persistence.ApprovalRepository()
	jrnl := journal.New(cfg.Persistence.LogRepository(), cfg.Logger)
	gate := approval.NewGate(runs, approvals, cfg.Collaborators.Notifier, jrnl, cfg.Publisher, cfg.Logger)

	stages, err := NewStageTable(cfg.Collaborators, gate, runs, jrnl, cfg.Settings, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build stage table: %w", err)
	}

	return &Orchestrator{
		store:     cfg.Persistence,
		runs:      runs,
		approvals: approvals,
		journal:   jrnl,
		gate:      gate,
		executor:  pipeline.NewExecutor(runs, stages, jrnl, cfg.Publisher, cfg.Tracer, cfg.Logger),
		publisher: cfg.Publisher,
		mode:      cfg.Mode,
		tasks:     newSupervisor(logger),
		logger:    logger,
	}, nil
}

// StartRequest carries the parameters of a new run.
type StartRequest struct {
	Trigger models.TriggerKind
	Kind    string
	Seed    map[string]any
}

// Start creates a run and dispatches it. In bus mode the returned handle is
// already done and holds the created run.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*RunHandle, error) {
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}

	if req.Trigger != models.TriggerManual && req.Trigger != models.TriggerScheduled {
		return nil, fmt.Errorf("unsupported trigger %q", req.Trigger)
	}

	run := models.NewRun(newRunID(), req.Trigger, req.Kind, req.Seed)

	err := o.runs.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	o.journal.Info(ctx, run.ID, "Run started", map[string]any{
		"trigger": run.Trigger,
		"kind":    run.Kind,
	})
	pipeline.Publish(ctx, o.publisher, o.logger, events.RunStarted{
		BaseEvent: events.NewBaseEvent(pipeline.NewEventID(), events.RunStartedEvent, run.ID),
		Trigger:   run.Trigger,
		Kind:      run.Kind,
	})

	return o.dispatch(ctx, run, events.RunRequestedEvent)
}

// ResolveApproval applies a reviewer decision. When the approval resumes the
// run, the continuation is dispatched and its handle returned.
func (o *Orchestrator) ResolveApproval(
	ctx context.Context,
	approvalID string,
	decision models.Decision,
) (*approval.Resolution, *RunHandle, error) {
	resolution, err := o.gate.Resolve(ctx, approvalID, decision)
	if err != nil {
		return resolution, nil, err
	}

	return o.afterResolution(ctx, resolution)
}

// ResolveByMessageRef applies a decision delivered by a chat callback.
func (o *Orchestrator) ResolveByMessageRef(
	ctx context.Context,
	messageRef string,
	decision models.Decision,
) (*approval.Resolution, *RunHandle, error) {
	resolution, err := o.gate.ResolveByMessageRef(ctx, messageRef, decision)
	if err != nil {
		return resolution, nil, err
	}

	return o.afterResolution(ctx, resolution)
}

func (o *Orchestrator) afterResolution(
	ctx context.Context,
	resolution *approval.Resolution,
) (*approval.Resolution, *RunHandle, error) {
	if !resolution.Resumable() {
		return resolution, nil, nil
	}

	handle, err := o.dispatch(ctx, resolution.Run, events.RunResumeRequestedEvent)
	if err != nil {
		return resolution, nil, err
	}

	return resolution, handle, nil
}

// Resume re-dispatches a running run that has no live execution, such as
// one interrupted by a shutdown.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*RunHandle, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case models.RunStatusRunning:
	case models.RunStatusPaused:
		return nil, fmt.Errorf("%w: run %s is waiting for approval", pipeline.ErrRunNotRunning, runID)
	default:
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunFinished, runID, run.Status)
	}

	return o.dispatch(ctx, run, events.RunResumeRequestedEvent)
}

func (o *Orchestrator) dispatch(ctx context.Context, run *models.Run, eventType events.EventType) (*RunHandle, error) {
	if o.mode == DispatchBus {
		return o.dispatchToBus(ctx, run, eventType)
	}

	return o.spawn(run.ID, run.CurrentStage)
}

func (o *Orchestrator) dispatchToBus(ctx context.Context, run *models.Run, eventType events.EventType) (*RunHandle, error) {
	base := events.NewBaseEvent(pipeline.NewEventID(), eventType, run.ID)

	var event eventbus.Event = events.RunRequested{BaseEvent: base}
	if eventType == events.RunResumeRequestedEvent {
		event = events.RunResumeRequested{BaseEvent: base, Stage: run.CurrentStage}
	}

	err := o.publisher.Publish(ctx, run.ID, event)
	if err != nil {
		o.journal.Error(ctx, run.ID, "Failed to dispatch run", map[string]any{"error": err.Error()})

		return nil, fmt.Errorf("failed to dispatch run: %w", err)
	}

	o.logger.InfoContext(ctx, "Run dispatched", "run_id", run.ID, "event_type", eventType)

	return finishedHandle(run), nil
}

func (o *Orchestrator) spawn(runID string, stage models.Stage) (*RunHandle, error) {
	return o.tasks.spawn(runID, func(ctx context.Context) (*models.Run, error) {
		run, err := o.executor.Execute(ctx, runID, stage)
		o.report(runID, run, err)

		return run, err
	})
}

func (o *Orchestrator) report(runID string, run *models.Run, err error) {
	switch {
	case err == nil:
		o.logger.Info("Run execution returned", "run_id", runID, "status", run.Status, "stage", run.CurrentStage)
	case errors.Is(err, context.Canceled):
		o.logger.Warn("Run execution cancelled", "run_id", runID)
	case pipeline.IsStageError(err):
		o.logger.Info("Run failed", "run_id", runID, "error", err)
	default:
		o.logger.Error("Run execution failed", "run_id", runID, "error", err)
	}
}

// RegisterHandlers subscribes the orchestrator to dispatch events so this
// process executes runs published by an API in bus mode.
func (o *Orchestrator) RegisterHandlers(subscriber eventbus.EventSubscriber) error {
	err := subscriber.Handle(events.RunRequestedEvent, o.handleDispatch)
	if err != nil {
		return fmt.Errorf("failed to register run requested handler: %w", err)
	}

	err = subscriber.Handle(events.RunResumeRequestedEvent, o.handleDispatch)
	if err != nil {
		return fmt.Errorf("failed to register run resume handler: %w", err)
	}

	return nil
}

func (o *Orchestrator) handleDispatch(ctx context.Context, event any) error {
	var runID string

	switch e := event.(type) {
	case *events.RunRequested:
		runID = e.RunID
	case *events.RunResumeRequested:
		runID = e.RunID
	default:
		return fmt.Errorf("unexpected dispatch event %T", event)
	}

	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			o.logger.WarnContext(ctx, "Dispatched run does not exist", "run_id", runID)

			return nil
		}

		return err
	}

	if run.Status != models.RunStatusRunning {
		o.logger.InfoContext(ctx, "Ignoring dispatch of run that is not running", "run_id", runID, "status", run.Status)

		return nil
	}

	_, err = o.spawn(run.ID, run.CurrentStage)
	if err != nil {
		return fmt.Errorf("failed to execute dispatched run: %w", err)
	}

	return nil
}

// Abort marks the run failed out of band, withdraws its pending approvals and
// stops its execution in this process. In-flight polls of other processes
// observe the status change.
func (o *Orchestrator) Abort(ctx context.Context, runID, reason string) (*models.Run, error) {
	if reason == "" {
		reason = "aborted by operator"
	} else {
		reason = "aborted: " + reason
	}

	run, err := o.runs.Update(ctx, runID, func(r *models.Run) error {
		if r.IsTerminal() {
			return fmt.Errorf("%w: run %s is %s", ErrRunFinished, runID, r.Status)
		}

		r.FailStage(r.CurrentStage, reason, time.Now().UTC())

		return nil
	})
	if err != nil {
		return nil, err
	}

	o.tasks.cancel(runID)

	_, err = o.gate.Withdraw(ctx, runID, reason)
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to withdraw approvals of aborted run", "run_id", runID, "error", err)
	}

	o.journal.Error(ctx, runID, "Run aborted", map[string]any{
		"stage":  run.CurrentStage,
		"reason": reason,
	})
	pipeline.Publish(ctx, o.publisher, o.logger, events.RunFailed{
		BaseEvent: events.NewBaseEvent(pipeline.NewEventID(), events.RunFailedEvent, runID),
		Stage:     run.CurrentStage,
		Error:     reason,
	})

	return run, nil
}

func (o *Orchestrator) Run(ctx context.Context, runID string) (*models.Run, error) {
	return o.runs.GetByID(ctx, runID)
}

func (o *Orchestrator) Runs(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.Run, error) {
	return o.runs.List(ctx, opts)
}

func (o *Orchestrator) Approval(ctx context.Context, approvalID string) (*models.Approval, error) {
	return o.approvals.GetByID(ctx, approvalID)
}

func (o *Orchestrator) Approvals(ctx context.Context, status models.ApprovalStatus) ([]*models.Approval, error) {
	return o.approvals.List(ctx, status)
}

func (o *Orchestrator) RunApprovals(ctx context.Context, runID string) ([]*models.Approval, error) {
	return o.approvals.ListByRun(ctx, runID)
}

func (o *Orchestrator) Logs(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, error) {
	return o.journal.Entries(ctx, filter)
}

func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	return o.store.HealthCheck(ctx)
}

// Shutdown stops accepting runs, cancels running executions and waits for
// them. Interrupted runs stay running in the store and can be resumed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.tasks.shutdown(ctx)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
