package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/onedrived/onedrived/internal/store"
)

// Scheduler seeds one root dirsync task per configured drive at a fixed
// interval. The deduplication contract makes seeding idempotent: while a
// previous sweep of a drive is still in flight, the new root task is
// silently dropped.
type Scheduler struct {
	pool     *Pool
	store    *store.Store
	net      NetworkState
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates the seeding loop for all drives in the store.
func NewScheduler(pool *Pool, st *store.Store, net NetworkState,
	interval time.Duration, logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		pool:     pool,
		store:    st,
		net:      net,
		interval: interval,
		logger:   logger,
	}
}

// Run seeds immediately, then on every tick, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.net.WaitOnline(ctx); err != nil {
			return nil
		}

		s.seed(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// seed enqueues the root dirsync for every drive. Failures are logged and
// skipped; a drive that cannot be seeded this round gets another chance on
// the next tick.
func (s *Scheduler) seed(ctx context.Context) {
	drives, err := s.store.ListDrives(ctx)
	if err != nil {
		s.logger.Error("list drives for seeding", "error", err)

		return
	}

	for _, drv := range drives {
		inserted, err := s.pool.Add(ctx, &store.Task{
			Kind:      store.TaskDirSync,
			DriveID:   drv.ID,
			LocalPath: "",
			RemoteID:  "",
		})
		if err != nil {
			s.logger.Error("seed root sync", "drive_id", drv.ID, "error", err)

			continue
		}

		if inserted {
			s.logger.Info("sync sweep started", "drive_id", drv.ID)
		} else {
			s.logger.Debug("previous sweep still in flight", "drive_id", drv.ID)
		}
	}
}
