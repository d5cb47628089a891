package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onedrived/onedrived/internal/store"
)

// Backoff policy for retryable task failures.
const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 5 * time.Minute

	// claimPollInterval bounds how long a blocked claim waits before
	// re-checking the queue, covering tasks whose backoff deadline
	// elapses while workers are parked.
	claimPollInterval = time.Second
)

// Pool is the synchronization point between the seeding logic and the
// workers. Persistence and the deduplication invariant live in the store;
// Pool adds blocking claims and in-process wakeups on top. It is the only
// component that mutates task status.
type Pool struct {
	store       *store.Store
	maxAttempts int
	logger      *slog.Logger

	// notify wakes one blocked claimer after an enqueue. Buffered so
	// enqueuers never block; a lost wakeup is covered by the poll tick.
	notify chan struct{}
}

// NewPool creates a task pool over the given store. maxAttempts bounds
// retryable executions per task before terminal failure.
func NewPool(st *store.Store, maxAttempts int, logger *slog.Logger) *Pool {
	return &Pool{
		store:       st,
		maxAttempts: maxAttempts,
		logger:      logger,
		notify:      make(chan struct{}, 1),
	}
}

// Add enqueues a task unless a non-terminal task already exists for its
// (drive, local path) key. Returns whether the task was inserted.
func (p *Pool) Add(ctx context.Context, t *store.Task) (bool, error) {
	inserted, err := p.store.AddTask(ctx, t)
	if err != nil {
		return false, err
	}

	if inserted {
		p.signal()
	}

	return inserted, nil
}

// HasPending reports whether a non-terminal task exists for the key.
func (p *Pool) HasPending(ctx context.Context, driveID, localPath string) (bool, error) {
	return p.store.HasPendingTask(ctx, driveID, localPath)
}

// Claim blocks until a task is eligible and this caller wins it, or ctx is
// canceled. Exactly one worker ever holds any given task.
func (p *Pool) Claim(ctx context.Context) (*store.Task, error) {
	for {
		task, err := p.store.ClaimNextTask(ctx)
		if err != nil {
			return nil, err
		}

		if task != nil {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.notify:
		case <-time.After(claimPollInterval):
		}
	}
}

// Complete marks a running task done.
func (p *Pool) Complete(ctx context.Context, t *store.Task) error {
	if err := p.store.CompleteTask(ctx, t.ID); err != nil {
		return err
	}

	p.logger.Debug("task done",
		"id", t.ID, "kind", t.Kind, "drive_id", t.DriveID, "path", t.LocalPath)

	return nil
}

// FailRetryable re-enqueues a running task with an exponential backoff
// deadline, or fails it terminally when attempts are exhausted. Returns
// whether the task will be retried.
func (p *Pool) FailRetryable(ctx context.Context, t *store.Task, taskErr error) (bool, error) {
	if t.Attempts >= p.maxAttempts {
		if err := p.FailTerminal(ctx, t, fmt.Errorf("attempts exhausted: %w", taskErr)); err != nil {
			return false, err
		}

		return false, nil
	}

	delay := retryDelay(t.Attempts)
	notBefore := store.NowNano() + int64(delay)

	if err := p.store.RetryTask(ctx, t.ID, notBefore, taskErr.Error()); err != nil {
		return false, err
	}

	p.logger.Warn("task re-queued after retryable failure",
		"id", t.ID, "kind", t.Kind, "drive_id", t.DriveID, "path", t.LocalPath,
		"attempt", t.Attempts, "backoff", delay.String(), "error", taskErr.Error())

	p.signalAfter(delay)

	return true, nil
}

// FailTerminal marks a running task failed. The error is persisted and
// logged with enough context for the operator to diagnose.
func (p *Pool) FailTerminal(ctx context.Context, t *store.Task, taskErr error) error {
	if err := p.store.FailTask(ctx, t.ID, taskErr.Error()); err != nil {
		return err
	}

	p.logger.Error("task failed",
		"id", t.ID, "kind", t.Kind, "drive_id", t.DriveID, "path", t.LocalPath,
		"attempts", t.Attempts, "error", taskErr.Error())

	return nil
}

// signal wakes one blocked claimer without ever blocking the caller.
func (p *Pool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// signalAfter schedules a wakeup for when a backoff deadline elapses.
func (p *Pool) signalAfter(d time.Duration) {
	time.AfterFunc(d, p.signal)
}

// retryDelay computes bounded exponential backoff from the attempt count
// (1-based: the first retry waits the base delay).
func retryDelay(attempts int) time.Duration {
	delay := retryBaseDelay

	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}

	return delay
}
