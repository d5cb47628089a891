package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onedrived/onedrived/internal/store"
)

func TestPool_AddReportsDuplicates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	inserted, err := env.pool.Add(ctx, &store.Task{
		Kind: store.TaskUpload, DriveID: "d1", LocalPath: "a.txt",
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = env.pool.Add(ctx, &store.Task{
		Kind: store.TaskUpload, DriveID: "d1", LocalPath: "a.txt",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestPool_ClaimBlocksUntilAdd(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	claimed := make(chan *store.Task, 1)

	go func() {
		task, err := env.pool.Claim(ctx)
		if err == nil {
			claimed <- task
		}
	}()

	// Give the claimer time to park on the empty queue.
	select {
	case <-claimed:
		t.Fatal("claim returned before any task was added")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := env.pool.Add(ctx, &store.Task{
		Kind: store.TaskDownload, DriveID: "d1", LocalPath: "wake.txt",
	})
	require.NoError(t, err)

	select {
	case task := <-claimed:
		assert.Equal(t, "wake.txt", task.LocalPath)
	case <-time.After(2 * time.Second):
		t.Fatal("claim did not wake after add")
	}
}

func TestPool_ClaimHonorsCancellation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		_, err := env.pool.Claim(ctx)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("claim did not return after cancellation")
	}
}

func TestPool_FailRetryableSchedulesBackoff(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.pool.Add(ctx, &store.Task{
		Kind: store.TaskDownload, DriveID: "d1", LocalPath: "flaky.bin",
	})
	require.NoError(t, err)

	task, err := env.pool.Claim(ctx)
	require.NoError(t, err)

	retrying, err := env.pool.FailRetryable(ctx, task, errors.New("http 503"))
	require.NoError(t, err)
	assert.True(t, retrying)

	pending, err := env.st.ListTasksByStatus(ctx, store.TaskPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Greater(t, pending[0].NotBefore, store.NowNano(), "backoff deadline must be in the future")
	assert.Equal(t, "http 503", pending[0].LastError)
}

func TestPool_FailRetryableExhaustsToTerminal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.pool.Add(ctx, &store.Task{
		Kind: store.TaskDownload, DriveID: "d1", LocalPath: "doomed.bin",
	})
	require.NoError(t, err)

	task, err := env.pool.Claim(ctx)
	require.NoError(t, err)

	// At the attempt cap the retry path fails terminally instead.
	task.Attempts = 5

	retrying, err := env.pool.FailRetryable(ctx, task, errors.New("still broken"))
	require.NoError(t, err)
	assert.False(t, retrying)

	failed, err := env.st.ListTasksByStatus(ctx, store.TaskFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "attempts exhausted")
	assert.Contains(t, failed[0].LastError, "still broken")
}

func TestRetryDelay_GrowsExponentiallyToCap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, retryBaseDelay, retryDelay(1))
	assert.Equal(t, 2*retryBaseDelay, retryDelay(2))
	assert.Equal(t, 4*retryBaseDelay, retryDelay(3))
	assert.Equal(t, retryMaxDelay, retryDelay(20))
}
