package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/onedrived/onedrived/internal/store"
)

// executor holds the dependencies task handlers need. One instance is
// shared by all workers; it carries no per-task state.
type executor struct {
	store            *store.Store
	pool             *Pool
	client           RemoteClient
	conflictStrategy string
	logger           *slog.Logger
}

// enqueue adds a follow-up task produced while executing another task.
func (e *executor) enqueue(ctx context.Context, t *store.Task) error {
	_, err := e.pool.Add(ctx, t)

	return err
}

// execute dispatches a claimed task to its handler. Panics in handlers are
// converted to terminal errors so one bad task cannot take down a worker.
func (e *executor) execute(ctx context.Context, t *store.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: task %d panicked: %v", t.ID, r)
		}
	}()

	switch t.Kind {
	case store.TaskDirSync:
		return e.runDirSync(ctx, t)
	case store.TaskUpload:
		return e.runUpload(ctx, t)
	case store.TaskDownload:
		return e.runDownload(ctx, t)
	case store.TaskDelete:
		return e.runDelete(ctx, t)
	case store.TaskMove:
		return e.runMove(ctx, t)
	case store.TaskConflict:
		return e.runConflict(ctx, t)
	default:
		return fmt.Errorf("engine: unknown task kind %q", t.Kind)
	}
}

// workerStats counts task outcomes across all workers.
type workerStats struct {
	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// worker claims and executes tasks until its context is canceled. It parks
// while the network is down so attempts are not burned on a dead link.
type worker struct {
	id    int
	pool  *Pool
	exec  *executor
	net   NetworkState
	stats *workerStats

	logger *slog.Logger
}

func (w *worker) run(ctx context.Context) error {
	w.logger.Debug("worker started", "worker", w.id)

	for {
		if err := w.net.WaitOnline(ctx); err != nil {
			return nil
		}

		task, err := w.pool.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Debug("worker stopping", "worker", w.id)

				return nil
			}

			return fmt.Errorf("engine: worker %d claim: %w", w.id, err)
		}

		if err := w.handle(ctx, task); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}
}

// handle executes one task and settles its outcome in the pool. Only pool
// bookkeeping errors propagate; task failures are recorded, not fatal.
func (w *worker) handle(ctx context.Context, task *store.Task) error {
	w.logger.Debug("worker executing task",
		"worker", w.id, "id", task.ID, "kind", task.Kind, "path", task.LocalPath)

	taskErr := w.exec.execute(ctx, task)
	if taskErr == nil {
		w.stats.completed.Add(1)

		return w.pool.Complete(ctx, task)
	}

	// A shutdown mid-task is not a task failure; leave it Running for
	// the startup reset to re-enqueue.
	if ctx.Err() != nil {
		w.logger.Debug("task interrupted by shutdown", "worker", w.id, "id", task.ID)

		return nil
	}

	if classifyFailure(taskErr) == dispositionTerminal {
		w.stats.failed.Add(1)

		return w.pool.FailTerminal(ctx, task, taskErr)
	}

	retrying, err := w.pool.FailRetryable(ctx, task, taskErr)
	if err != nil {
		return err
	}

	if retrying {
		w.stats.retried.Add(1)
	} else {
		w.stats.failed.Add(1)
	}

	return nil
}
