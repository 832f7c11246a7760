// Package scheduler starts pipeline runs from cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/robfig/cron/v3"
)

// Starter creates and dispatches a run.
type Starter interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (*orchestrator.RunHandle, error)
}

type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	entries map[string]cron.EntryID
	logger  *slog.Logger
}

// New registers every active schedule. It fails on the first invalid expression.
func New(starter Starter, schedules []models.Schedule, logger *slog.Logger) (*Scheduler, error) {
	logger = logger.With("module", "scheduler")
	cronLog := cronLogger{logger: logger}

	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		)),
		starter: starter,
		entries: make(map[string]cron.EntryID, len(schedules)),
		logger:  logger,
	}

	for _, schedule := range schedules {
		if !schedule.Active {
			logger.Info("Skipping inactive schedule", "schedule", schedule.Name)

			continue
		}

		parsed, err := schedule.Parse()
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression for schedule %s: %w", schedule.Name, err)
		}

		s.entries[schedule.Name] = s.cron.Schedule(parsed, cron.FuncJob(s.job(schedule)))
	}

	return s, nil
}

func (s *Scheduler) job(schedule models.Schedule) func() {
	return func() {
		seed := maps.Clone(schedule.Seed)
		if seed == nil {
			seed = make(map[string]any)
		}

		seed["schedule"] = schedule.Name
		seed["scheduled_at"] = time.Now().UTC().Format(time.RFC3339)

		handle, err := s.starter.Start(context.Background(), orchestrator.StartRequest{
			Trigger: models.TriggerScheduled,
			Kind:    schedule.Kind,
			Seed:    seed,
		})
		if err != nil {
			s.logger.Error("Failed to start scheduled run", "schedule", schedule.Name, "error", err)

			return
		}

		s.logger.Info("Scheduled run started", "schedule", schedule.Name, "run_id", handle.RunID)
	}
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", "schedules", len(s.entries))
	s.cron.Start()
}

// Next returns the next activation of the named schedule.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}

	return s.cron.Entry(id).Next, true
}

// Stop stops firing and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler")

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
