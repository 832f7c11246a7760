package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/contentflow/pkg/models"
)

var (
	// ErrShuttingDown indicates the orchestrator no longer accepts work.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// RunHandle observes one supervised execution of a run.
type RunHandle struct {
	RunID string

	done chan struct{}
	run  *models.Run
	err  error
}

func newRunHandle(runID string) *RunHandle {
	return &RunHandle{RunID: runID, done: make(chan struct{})}
}

// finishedHandle returns a handle that is already done, used when the
// execution happens elsewhere.
func finishedHandle(run *models.Run) *RunHandle {
	h := newRunHandle(run.ID)
	h.run = run
	close(h.done)

	return h
}

// Done is closed when the execution returned.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the execution error once Done is closed.
func (h *RunHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the execution returns or ctx is done. The returned run
// is the stored run when execution stopped: paused at a gate, completed,
// failed, or interrupted.
func (h *RunHandle) Wait(ctx context.Context) (*models.Run, error) {
	select {
	case <-h.done:
		return h.run, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type executeFunc func(ctx context.Context) (*models.Run, error)

type task struct {
	cancel context.CancelFunc
	handle *RunHandle
	prev   *task
}

// supervisor owns the goroutines executing runs. Executions of the same run
// are serialized: a new one waits for the previous to return.
type supervisor struct {
	base   context.Context
	stop   context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	active  map[string]*task
	closing bool
}

func newSupervisor(logger *slog.Logger) *supervisor {
	base, stop := context.WithCancel(context.Background())

	return &supervisor{
		base:   base,
		stop:   stop,
		logger: logger,
		active: make(map[string]*task),
	}
}

func (s *supervisor) spawn(runID string, fn executeFunc) (*RunHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return nil, ErrShuttingDown
	}

	ctx, cancel := context.WithCancel(s.base)
	t := &task{cancel: cancel, handle: newRunHandle(runID), prev: s.active[runID]}
	s.active[runID] = t

	s.wg.Add(1)

	go s.run(ctx, runID, t, fn)

	return t.handle, nil
}

func (s *supervisor) run(ctx context.Context, runID string, t *task, fn executeFunc) {
	handle := t.handle

	defer s.wg.Done()
	defer close(handle.done)
	defer s.release(runID, t)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Run execution panicked", "run_id", runID, "panic", r)
			handle.err = fmt.Errorf("run %s panicked: %v", runID, r)
		}
	}()

	if t.prev != nil {
		select {
		case <-t.prev.handle.done:
		case <-ctx.Done():
			handle.err = ctx.Err()

			return
		}
	}

	handle.run, handle.err = fn(ctx)
}

func (s *supervisor) release(runID string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.cancel()
	t.prev = nil

	if s.active[runID] == t {
		delete(s.active, runID)
	}
}

// cancel stops every execution of runID. It reports whether one was found.
func (s *supervisor) cancel(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.active[runID]

	for ; t != nil; t = t.prev {
		t.cancel()
	}

	return ok
}

func (s *supervisor) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}

// shutdown cancels every task and waits for them to return or ctx to end.
func (s *supervisor) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.stop()

	finished := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop %d runs: %w", s.activeCount(), ctx.Err())
	}
}
