// Package poller drives asynchronous external jobs to a terminal state with
// bounded polling.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/contentflow/pkg/models"
)

const (
	DefaultTimeout     = 10 * time.Minute
	DefaultInterval    = 5 * time.Second
	DefaultMaxInterval = time.Minute
	DefaultMultiplier  = 1.5
)

// ErrTimeout is returned when the job did not reach a terminal state before the deadline.
var ErrTimeout = errors.New("task polling timed out")

// TaskFailedError reports a job that reached the failed state. It is terminal.
type TaskFailedError struct {
	TaskID string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

// IsTaskFailed reports whether err is a terminal job failure.
func IsTaskFailed(err error) bool {
	var taskErr *TaskFailedError

	return errors.As(err, &taskErr)
}

// StatusFunc asks the external system for the current state of taskID. A
// returned error is treated as transient.
type StatusFunc func(ctx context.Context, taskID string) (models.TaskStatus, error)

// Options tunes a single polling loop. Zero values fall back to the defaults.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	// BackoffAfter is the number of attempts spaced by Interval before the
	// wait starts growing by Multiplier. Zero keeps the interval fixed.
	BackoffAfter int
	MaxInterval  time.Duration
	Multiplier   float64
	// Check runs before every attempt; a non-nil error stops polling with
	// that error. Used to observe an out-of-band abort of the owning run.
	Check  func(ctx context.Context) error
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}

	if o.MaxInterval < o.Interval {
		o.MaxInterval = max(DefaultMaxInterval, o.Interval)
	}

	if o.Multiplier <= 1 {
		o.Multiplier = DefaultMultiplier
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	return o
}

// PollUntilDone calls statusFn until the job succeeds, fails, or the timeout
// elapses. statusFn is never called once the deadline has passed, and no wait
// extends past it.
func PollUntilDone(ctx context.Context, taskID string, statusFn StatusFunc, opts Options) (map[string]any, error) {
	opts = opts.withDefaults()

	deadline := time.Now().Add(opts.Timeout)
	schedule := newWaitSchedule(opts)

	var lastErr error

	for attempt := 1; ; attempt++ {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}

		if opts.Check != nil {
			err = opts.Check(ctx)
			if err != nil {
				return nil, err
			}
		}

		if !time.Now().Before(deadline) {
			return nil, timeoutError(taskID, opts.Timeout, lastErr)
		}

		status, err := statusFn(ctx, taskID)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = err
			opts.Logger.DebugContext(ctx, "Transient task status error", "task_id", taskID, "attempt", attempt, "error", err)
		case status.State == models.TaskSucceeded:
			return status.Artifact, nil
		case status.State == models.TaskFailed:
			return nil, &TaskFailedError{TaskID: taskID, Reason: status.Reason}
		default:
			lastErr = nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, timeoutError(taskID, opts.Timeout, lastErr)
		}

		err = sleep(ctx, min(schedule.next(attempt), remaining))
		if err != nil {
			return nil, err
		}
	}
}

func timeoutError(taskID string, timeout time.Duration, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("task %s: %w after %s (last error: %v)", taskID, ErrTimeout, timeout, lastErr)
	}

	return fmt.Errorf("task %s: %w after %s", taskID, ErrTimeout, timeout)
}

// waitSchedule yields a fixed interval for the first attempts and an
// exponentially growing one afterwards.
type waitSchedule struct {
	interval     time.Duration
	backoffAfter int
	growth       *backoff.ExponentialBackOff
}

func newWaitSchedule(opts Options) *waitSchedule {
	growth := backoff.NewExponentialBackOff()
	growth.InitialInterval = min(time.Duration(float64(opts.Interval)*opts.Multiplier), opts.MaxInterval)
	growth.Multiplier = opts.Multiplier
	growth.MaxInterval = opts.MaxInterval
	growth.RandomizationFactor = 0
	growth.Reset()

	return &waitSchedule{
		interval:     opts.Interval,
		backoffAfter: opts.BackoffAfter,
		growth:       growth,
	}
}

func (w *waitSchedule) next(attempt int) time.Duration {
	if w.backoffAfter <= 0 || attempt < w.backoffAfter {
		return w.interval
	}

	return w.growth.NextBackOff()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
