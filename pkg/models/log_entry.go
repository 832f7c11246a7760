package models

import "time"

// Severity is the level of a journal entry.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarn      Severity = "warn"
	SeverityError     Severity = "error"
	SeveritySuccess   Severity = "success"
	SeverityAgentNote Severity = "agent-note"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityError, SeveritySuccess, SeverityAgentNote:
		return true
	default:
		return false
	}
}

// LogEntry is an immutable journal record. Sequence orders entries within a
// store; higher is newer.
type LogEntry struct {
	ID            string         `json:"id"`
	Sequence      int64          `json:"sequence"`
	Timestamp     time.Time      `json:"timestamp"`
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// LogFilter narrows journal queries. Zero values match everything.
type LogFilter struct {
	CorrelationID string
	Severity      Severity
	Limit         int
}

// Matches reports whether entry passes the filter, ignoring Limit.
func (f LogFilter) Matches(entry *LogEntry) bool {
	if f.CorrelationID != "" && entry.CorrelationID != f.CorrelationID {
		return false
	}

	if f.Severity != "" && entry.Severity != f.Severity {
		return false
	}

	return true
}
