// Package journal is the append-only observability log of the pipeline.
// Every entry is persisted to a bounded store and mirrored to slog.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/google/uuid"
)

// Journal records log entries through a LogRepository.
type Journal struct {
	repo   persistence.LogRepository
	logger *slog.Logger
	now    func() time.Time
}

// New creates a journal writing to repo and mirroring entries to logger.
func New(repo persistence.LogRepository, logger *slog.Logger) *Journal {
	return &Journal{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends a single entry. It returns the stored entry with its
// sequence assigned.
func (j *Journal) Record(
	ctx context.Context,
	severity models.Severity,
	correlationID, message string,
	data map[string]any,
) (*models.LogEntry, error) {
	if !severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q", severity)
	}

	entry := &models.LogEntry{
		ID:            newEntryID(),
		Timestamp:     j.now(),
		Severity:      severity,
		Message:       message,
		Data:          data,
		CorrelationID: correlationID,
	}

	j.mirror(ctx, entry)

	err := j.repo.Append(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to append journal entry: %w", err)
	}

	return entry, nil
}

// Info records at info severity. Store failures are logged, never returned.
func (j *Journal) Info(ctx context.Context, correlationID, message string, data map[string]any) {
	j.record(ctx, models.SeverityInfo, correlationID, message, data)
}

func (j *Journal) Warn(ctx context.Context, correlationID, message string, data map[string]any) {
	j.record(ctx, models.SeverityWarn, correlationID, message, data)
}

func (j *Journal) Error(ctx context.Context, correlationID, message string, data map[string]any) {
	j.record(ctx, models.SeverityError, correlationID, message, data)
}

func (j *Journal) Success(ctx context.Context, correlationID, message string, data map[string]any) {
	j.record(ctx, models.SeveritySuccess, correlationID, message, data)
}

// Note records an agent-note: free-form commentary from a collaborator.
func (j *Journal) Note(ctx context.Context, correlationID, message string, data map[string]any) {
	j.record(ctx, models.SeverityAgentNote, correlationID, message, data)
}

// Entries returns stored entries newest first.
func (j *Journal) Entries(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, error) {
	entries, err := j.repo.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}

	return entries, nil
}

func (j *Journal) record(ctx context.Context, severity models.Severity, correlationID, message string, data map[string]any) {
	_, err := j.Record(context.WithoutCancel(ctx), severity, correlationID, message, data)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to persist journal entry", "error", err, "message", message)
	}
}

func (j *Journal) mirror(ctx context.Context, entry *models.LogEntry) {
	attrs := make([]any, 0, 4)
	if entry.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", entry.CorrelationID)
	}

	if len(entry.Data) > 0 {
		attrs = append(attrs, "data", entry.Data)
	}

	j.logger.Log(ctx, slogLevel(entry.Severity), entry.Message, attrs...)
}

func slogLevel(severity models.Severity) slog.Level {
	switch severity {
	case models.SeverityWarn:
		return slog.LevelWarn
	case models.SeverityError:
		return slog.LevelError
	case models.SeverityAgentNote:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
