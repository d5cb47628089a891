package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/onedrived/onedrived/internal/config"
	"github.com/onedrived/onedrived/internal/store"
)

// Engine owns the synchronization loop: the scheduler that seeds sweeps,
// the pool the tasks flow through, and the workers that drain it.
type Engine struct {
	cfg    *config.Config
	store  *store.Store
	pool   *Pool
	exec   *executor
	net    NetworkState
	stats  *workerStats
	logger *slog.Logger
}

// New assembles an engine from its dependencies. Nothing starts until Run.
func New(cfg *config.Config, st *store.Store, client RemoteClient,
	net NetworkState, logger *slog.Logger,
) *Engine {
	pool := NewPool(st, cfg.MaxAttempts, logger)

	return &Engine{
		cfg:   cfg,
		store: st,
		pool:  pool,
		exec: &executor{
			store:            st,
			pool:             pool,
			client:           client,
			conflictStrategy: cfg.ConflictStrategy,
			logger:           logger,
		},
		net:    net,
		stats:  &workerStats{},
		logger: logger,
	}
}

// RefreshDrives pulls drive metadata from the remote, matches it against
// the configured drives, and caches the result. It also creates any
// missing sync root directories. Called once at startup and whenever a
// listing is needed again.
func (e *Engine) RefreshDrives(ctx context.Context) error {
	remote, err := e.exec.client.ListDrives(ctx)
	if err != nil {
		return fmt.Errorf("engine: refresh drives: %w", err)
	}

	byID := make(map[string]int, len(remote))
	for i, d := range remote {
		byID[strings.ToLower(d.ID)] = i
	}

	for id, dc := range e.cfg.Drives {
		i, ok := byID[strings.ToLower(id)]
		if !ok {
			e.logger.Warn("configured drive not found on account, skipping",
				"drive_id", id)

			continue
		}

		d := remote[i]

		if err := os.MkdirAll(dc.SyncRoot, 0o755); err != nil {
			return fmt.Errorf("engine: create sync root for drive %s: %w", id, err)
		}

		rec := &store.DriveRecord{
			ID:          d.ID,
			DriveType:   d.DriveType,
			QuotaTotal:  d.QuotaTotal,
			QuotaUsed:   d.QuotaUsed,
			SyncRoot:    dc.SyncRoot,
			RefreshedAt: store.NowNano(),
		}
		if rec.DriveType == "" {
			rec.DriveType = dc.Type
		}

		if err := e.store.UpsertDrive(ctx, rec); err != nil {
			return err
		}

		e.logger.Info("drive ready",
			"drive_id", d.ID, "type", rec.DriveType, "sync_root", dc.SyncRoot,
			"quota_used", d.QuotaUsed, "quota_total", d.QuotaTotal)
	}

	return nil
}

// Run recovers tasks orphaned by a prior crash, then runs the scheduler
// and workers until ctx is canceled. In-flight tasks are left Running at
// shutdown; the next startup's reset re-enqueues them.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.store.ResetRunningTasks(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	scheduler := NewScheduler(e.pool, e.store, e.net, e.cfg.PollDuration(), e.logger)
	group.Go(func() error {
		return scheduler.Run(ctx)
	})

	for i := 0; i < e.cfg.Workers; i++ {
		w := &worker{
			id:     i,
			pool:   e.pool,
			exec:   e.exec,
			net:    e.net,
			stats:  e.stats,
			logger: e.logger,
		}
		group.Go(func() error {
			return w.run(ctx)
		})
	}

	e.logger.Info("sync engine running",
		"workers", e.cfg.Workers, "poll_interval", e.cfg.PollInterval)

	err := group.Wait()

	completed, retried, failed := e.Stats()
	e.logger.Info("sync engine stopped",
		"completed", completed, "retried", retried, "failed", failed)

	return err
}

// Stats returns cumulative task outcome counters.
func (e *Engine) Stats() (completed, retried, failed int64) {
	return e.stats.completed.Load(), e.stats.retried.Load(), e.stats.failed.Load()
}
