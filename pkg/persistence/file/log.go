package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// journalDocument is the on-disk form of the ring, oldest entry first.
type journalDocument struct {
	NextSequence int64              `json:"next_sequence"`
	Entries      []*models.LogEntry `json:"entries"`
}

// LogRepository stores the journal ring as a single JSON document. Every
// append re-reads the document under an advisory lock on a sibling lock
// file, so processes sharing a root see each other's entries and never
// reuse a sequence number.
type LogRepository struct {
	path     string
	lockPath string
	capacity int

	mu sync.Mutex
}

// NewLogRepository opens the ring under root and checks that any persisted
// document is readable.
func NewLogRepository(root string, capacity int) (*LogRepository, error) {
	if capacity <= 0 {
		capacity = persistence.DefaultLogCapacity
	}

	err := os.MkdirAll(root, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	repo := &LogRepository{
		path:     filepath.Join(root, logFile),
		lockPath: filepath.Join(root, logLockFile),
		capacity: capacity,
	}

	_, err = repo.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	return repo, nil
}

func (lr *LogRepository) load() (journalDocument, error) {
	var doc journalDocument

	err := readJSON(lr.path, &doc)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return journalDocument{}, err
	}

	if doc.NextSequence < 1 {
		doc.NextSequence = 1
	}

	return doc, nil
}

func (lr *LogRepository) trim(doc *journalDocument) {
	if overflow := len(doc.Entries) - lr.capacity; overflow > 0 {
		doc.Entries = append([]*models.LogEntry(nil), doc.Entries[overflow:]...)
	}
}

func (lr *LogRepository) Append(_ context.Context, entry *models.LogEntry) error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	unlock, err := lockFile(lr.lockPath)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := lr.load()
	if err != nil {
		return fmt.Errorf("failed to load journal: %w", err)
	}

	stored := *entry
	stored.Sequence = doc.NextSequence

	doc.NextSequence++
	doc.Entries = append(doc.Entries, &stored)
	lr.trim(&doc)

	err = writeJSON(lr.path, doc)
	if err != nil {
		return fmt.Errorf("failed to persist journal entry: %w", err)
	}

	entry.Sequence = stored.Sequence

	return nil
}

// Query reads the latest document. Writes replace the file atomically, so
// no lock is taken.
func (lr *LogRepository) Query(_ context.Context, filter models.LogFilter) ([]*models.LogEntry, error) {
	doc, err := lr.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	lr.trim(&doc)

	limit := persistence.EffectiveLimit(filter.Limit, lr.capacity)
	result := make([]*models.LogEntry, 0, min(limit, len(doc.Entries)))

	for i := len(doc.Entries) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.Matches(doc.Entries[i]) {
			result = append(result, doc.Entries[i])
		}
	}

	return result, nil
}
