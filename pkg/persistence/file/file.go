// Package file provides file-based persistence for runs, approvals and the journal.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/contentflow/pkg/persistence"
)

const (
	runsDir      = "runs"
	approvalsDir = "approvals"
	logFile      = "journal.json"
	logLockFile  = "journal.lock"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	runRepo      *RunRepository
	approvalRepo *ApprovalRepository
	logRepo      *LogRepository
}

// NewPersistence creates a new instance of Persistence with the specified root
// directory. logCapacity bounds the journal ring.
func NewPersistence(root string, logCapacity int) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(cleanRoot, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence root %s: %w", cleanRoot, err)
	}

	logRepo, err := NewLogRepository(cleanRoot, logCapacity)
	if err != nil {
		return nil, err
	}

	return &Persistence{
		root:         cleanRoot,
		runRepo:      NewRunRepository(cleanRoot),
		approvalRepo: NewApprovalRepository(cleanRoot),
		logRepo:      logRepo,
	}, nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return fp.approvalRepo
}

func (fp *Persistence) LogRepository() persistence.LogRepository {
	return fp.logRepo
}

// validateID validates that an identifier is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: identifier cannot be empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: identifier contains invalid characters", persistence.ErrInvalidID)
	}

	return nil
}

// writeJSON replaces path atomically: the document is written to a temporary
// file in the same directory and renamed over the target.
func writeJSON(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	return nil
}

// readJSON loads path into value. The returned error wraps os.ErrNotExist
// when the file is missing.
func readJSON(path string, value any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from validated identifiers
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}

// keyedMutex hands out one mutex per key so updates to different records
// never wait on each other.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()

	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}

	k.mu.Unlock()

	lock.Lock()

	return lock.Unlock
}
