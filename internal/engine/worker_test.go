package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onedrived/onedrived/internal/store"
)

func startWorker(t *testing.T, env *testEnv) (stats *workerStats, stop func()) {
	t.Helper()

	stats = &workerStats{}
	w := &worker{
		id:     0,
		pool:   env.pool,
		exec:   env.exec,
		net:    alwaysOnline{},
		stats:  stats,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = w.run(ctx)
	}()

	return stats, func() {
		cancel()
		<-done
	}
}

func TestWorker_ExecutesDownloadTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.content["f1"] = []byte("data")

	_, err := env.pool.Add(ctx, &store.Task{
		Kind:        store.TaskDownload,
		DriveID:     "d1",
		LocalPath:   "f.bin",
		RemoteID:    "f1",
		RemoteSize:  4,
		RemoteMtime: baseTime.UnixNano(),
	})
	require.NoError(t, err)

	stats, stop := startWorker(t, env)
	defer stop()

	require.Eventually(t, func() bool {
		return stats.completed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(env.syncRoot, "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	counts, err := env.st.TaskCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[store.TaskDone])
}

func TestWorker_TerminalFailureIsRecorded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// No such content: the fake remote answers 404, which is terminal.
	_, err := env.pool.Add(ctx, &store.Task{
		Kind: store.TaskDownload, DriveID: "d1", LocalPath: "ghost.bin", RemoteID: "missing",
	})
	require.NoError(t, err)

	stats, stop := startWorker(t, env)
	defer stop()

	require.Eventually(t, func() bool {
		return stats.failed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	failed, err := env.st.ListTasksByStatus(ctx, store.TaskFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "ghost.bin", failed[0].LocalPath)
	assert.NotEmpty(t, failed[0].LastError)
}

func TestWorker_RetryableFailureRequeues(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// A task against an unknown drive fails with a generic error, which
	// classifies as retryable.
	_, err := env.pool.Add(ctx, &store.Task{
		Kind: store.TaskDownload, DriveID: "dX", LocalPath: "f.bin", RemoteID: "f1",
	})
	require.NoError(t, err)

	stats, stop := startWorker(t, env)
	defer stop()

	require.Eventually(t, func() bool {
		return stats.retried.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	stop()

	pending, err := env.st.ListTasksByStatus(ctx, store.TaskPending)
	require.NoError(t, err)

	if len(pending) == 1 {
		assert.GreaterOrEqual(t, pending[0].Attempts, 1)
		assert.NotEmpty(t, pending[0].LastError)
	}
}

func TestWorkers_NeverShareATask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.content["f1"] = []byte("one")
	env.remote.content["f2"] = []byte("two")
	env.remote.content["f3"] = []byte("three")

	for i, id := range []string{"f1", "f2", "f3"} {
		_, err := env.pool.Add(ctx, &store.Task{
			Kind:        store.TaskDownload,
			DriveID:     "d1",
			LocalPath:   string(rune('a'+i)) + ".bin",
			RemoteID:    id,
			RemoteMtime: baseTime.UnixNano(),
		})
		require.NoError(t, err)
	}

	statsA, stopA := startWorker(t, env)
	statsB, stopB := startWorker(t, env)

	defer stopA()
	defer stopB()

	require.Eventually(t, func() bool {
		return statsA.completed.Load()+statsB.completed.Load() == 3
	}, 5*time.Second, 10*time.Millisecond)

	// Each task was executed exactly once across both workers.
	counts, err := env.st.TaskCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[store.TaskDone])
	assert.Zero(t, counts[store.TaskPending])
}
