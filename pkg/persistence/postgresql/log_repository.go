package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// LogRepository stores the journal ring in the log_entries table.
type LogRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	capacity int
}

// NewLogRepository creates a new log repository keeping at most capacity rows.
func NewLogRepository(db *sql.DB, logger *slog.Logger, capacity int) *LogRepository {
	return &LogRepository{db: db, logger: logger, capacity: capacity}
}

// Append inserts the entry and deletes rows older than the newest capacity
// entries in the same transaction.
func (lr *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	var dataJSON []byte

	if entry.Data != nil {
		var err error

		dataJSON, err = json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal log data: %w", err)
		}
	}

	transaction, err := lr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var sequence int64

	err = transaction.QueryRowContext(ctx, `
		INSERT INTO log_entries (id, timestamp, severity, message, data, correlation_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING sequence`,
		entry.ID, entry.Timestamp, entry.Severity, entry.Message, dataJSON, entry.CorrelationID,
	).Scan(&sequence)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	_, err = transaction.ExecContext(ctx, `
		DELETE FROM log_entries
		WHERE sequence < (
			SELECT MIN(sequence) FROM (
				SELECT sequence FROM log_entries ORDER BY sequence DESC LIMIT $1
			) AS newest
		)`, lr.capacity)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to trim log entries: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit log entry: %w", err)
	}

	entry.Sequence = sequence

	return nil
}

// Query returns matching entries newest first.
func (lr *LogRepository) Query(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, error) {
	rows, err := lr.db.QueryContext(ctx, `
		SELECT sequence, id, timestamp, severity, message, data, correlation_id
		FROM log_entries
		WHERE ($1 = '' OR correlation_id = $1) AND ($2 = '' OR severity = $2)
		ORDER BY sequence DESC
		LIMIT $3`,
		filter.CorrelationID, filter.Severity, persistence.EffectiveLimit(filter.Limit, lr.capacity),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}

	defer closeRows(ctx, lr.logger, rows)

	entries := make([]*models.LogEntry, 0)

	for rows.Next() {
		var (
			entry         models.LogEntry
			dataJSON      []byte
			correlationID sql.NullString
		)

		err := rows.Scan(&entry.Sequence, &entry.ID, &entry.Timestamp, &entry.Severity, &entry.Message, &dataJSON, &correlationID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		if len(dataJSON) > 0 {
			err = json.Unmarshal(dataJSON, &entry.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}

		entry.CorrelationID = correlationID.String
		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate log entries: %w", err)
	}

	return entries, nil
}
