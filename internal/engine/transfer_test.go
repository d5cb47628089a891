package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onedrived/onedrived/internal/config"
	"github.com/onedrived/onedrived/internal/store"
)

func TestRunUpload_RecordsBaselineAfterConfirm(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.writeLocal(t, "docs/report.txt", "contents", baseTime)

	require.NoError(t, env.st.UpsertItem(ctx, &store.ItemRecord{
		DriveID: "d1", LocalPath: "docs", RemoteID: "docs1", IsDir: true, SyncedAt: 1,
	}))

	err := env.exec.runUpload(ctx, &store.Task{
		Kind: store.TaskUpload, DriveID: "d1", LocalPath: "docs/report.txt", RemoteID: "docs1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"report.txt"}, env.remote.uploaded)

	rec, err := env.st.GetItem(ctx, "d1", "docs/report.txt")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(8), rec.Size)
	assert.Equal(t, baseTime.UnixNano(), rec.Mtime)
	assert.NotEmpty(t, rec.RemoteID)
}

func TestRunUpload_VanishedSourceIsNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	err := env.exec.runUpload(context.Background(), &store.Task{
		Kind: store.TaskUpload, DriveID: "d1", LocalPath: "never-existed.txt",
	})
	require.NoError(t, err)
	assert.Empty(t, env.remote.uploaded)
}

func TestRunDownload_SetsMtimeAndRecord(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.content["f1"] = []byte("remote bytes")

	err := env.exec.runDownload(ctx, &store.Task{
		Kind:        store.TaskDownload,
		DriveID:     "d1",
		LocalPath:   "sub/file.bin",
		RemoteID:    "f1",
		RemoteSize:  12,
		RemoteMtime: baseTime.UnixNano(),
		RemoteETag:  `"e1"`,
	})
	require.NoError(t, err)

	abs := filepath.Join(env.syncRoot, "sub", "file.bin")

	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", string(data))

	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Unix(), info.ModTime().Unix())

	rec, err := env.st.GetItem(ctx, "d1", "sub/file.bin")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, `"e1"`, rec.ETag)
	assert.Equal(t, int64(12), rec.Size)
}

func TestRunDelete_LocalSide(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.writeLocal(t, "trash/junk.txt", "x", baseTime)
	require.NoError(t, env.st.UpsertItem(ctx, &store.ItemRecord{
		DriveID: "d1", LocalPath: "trash", RemoteID: "t1", IsDir: true, SyncedAt: 1,
	}))
	require.NoError(t, env.st.UpsertItem(ctx, &store.ItemRecord{
		DriveID: "d1", LocalPath: "trash/junk.txt", RemoteID: "j1", SyncedAt: 1,
	}))

	err := env.exec.runDelete(ctx, &store.Task{
		Kind: store.TaskDelete, DriveID: "d1", LocalPath: "trash", RemoteID: "",
	})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(env.syncRoot, "trash"))
	assert.True(t, os.IsNotExist(statErr))

	for _, p := range []string{"trash", "trash/junk.txt"} {
		rec, err := env.st.GetItem(ctx, "d1", p)
		require.NoError(t, err)
		assert.Nil(t, rec, p)
	}
}

func TestRunDelete_RemoteSide(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.st.UpsertItem(ctx, &store.ItemRecord{
		DriveID: "d1", LocalPath: "a.txt", RemoteID: "a1", SyncedAt: 1,
	}))

	err := env.exec.runDelete(ctx, &store.Task{
		Kind: store.TaskDelete, DriveID: "d1", LocalPath: "a.txt", RemoteID: "a1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a1"}, env.remote.deleted)

	rec, err := env.st.GetItem(ctx, "d1", "a.txt")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRunMove_AppliesRemoteRenameLocally(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.writeLocal(t, "old.txt", "aaa", baseTime)
	require.NoError(t, env.st.UpsertItem(ctx, &store.ItemRecord{
		DriveID: "d1", LocalPath: "old.txt", RemoteID: "a1",
		Size: 3, Mtime: baseTime.UnixNano(), ETag: `"v1"`, SyncedAt: 1,
	}))

	err := env.exec.runMove(ctx, &store.Task{
		Kind:         store.TaskMove,
		DriveID:      "d1",
		LocalPath:    "old.txt",
		NewLocalPath: "new.txt",
		RemoteID:     "a1",
		RemoteSize:   3,
		RemoteMtime:  baseTime.UnixNano(),
		RemoteETag:   `"v2"`,
	})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(env.syncRoot, "old.txt"))
	assert.True(t, os.IsNotExist(statErr))

	data, err := os.ReadFile(filepath.Join(env.syncRoot, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aaa", string(data))

	rec, err := env.st.GetItem(ctx, "d1", "new.txt")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "a1", rec.RemoteID)
	assert.Equal(t, `"v2"`, rec.ETag)
}

func TestRunConflict_KeepBoth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.writeLocal(t, "a.txt", "local edit", baseTime)
	env.remote.content["a1"] = []byte("remote edit")

	err := env.exec.runConflict(ctx, &store.Task{
		Kind:        store.TaskConflict,
		DriveID:     "d1",
		LocalPath:   "a.txt",
		RemoteID:    "a1",
		RemoteSize:  11,
		RemoteMtime: baseTime.Add(time.Hour).UnixNano(),
		RemoteETag:  `"v2"`,
	})
	require.NoError(t, err)

	// The original name now holds the remote version.
	data, err := os.ReadFile(filepath.Join(env.syncRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote edit", string(data))

	// The local edit survives under a conflict-copy name, queued for upload.
	entries, err := os.ReadDir(env.syncRoot)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var copyName string

	for _, entry := range entries {
		if entry.Name() != "a.txt" {
			copyName = entry.Name()
		}
	}

	require.Contains(t, copyName, "conflict copy")

	copyData, err := os.ReadFile(filepath.Join(env.syncRoot, copyName))
	require.NoError(t, err)
	assert.Equal(t, "local edit", string(copyData))

	pending := env.pendingByPath(t)
	require.Contains(t, pending, copyName)
	assert.Equal(t, store.TaskUpload, pending[copyName].Kind)
}

func TestRunConflict_KeepLocal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.exec.conflictStrategy = config.ConflictKeepLocal
	ctx := context.Background()

	env.writeLocal(t, "a.txt", "local wins", baseTime)
	env.remote.content["a1"] = []byte("remote loses")

	err := env.exec.runConflict(ctx, &store.Task{
		Kind: store.TaskConflict, DriveID: "d1", LocalPath: "a.txt", RemoteID: "a1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, env.remote.uploaded)

	// Local content untouched.
	data, err := os.ReadFile(filepath.Join(env.syncRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "local wins", string(data))
}

func TestRunConflict_KeepRemote(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.exec.conflictStrategy = config.ConflictKeepRemote
	ctx := context.Background()

	env.writeLocal(t, "a.txt", "local loses", baseTime)
	env.remote.content["a1"] = []byte("remote wins")

	err := env.exec.runConflict(ctx, &store.Task{
		Kind:        store.TaskConflict,
		DriveID:     "d1",
		LocalPath:   "a.txt",
		RemoteID:    "a1",
		RemoteSize:  11,
		RemoteMtime: baseTime.UnixNano(),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(env.syncRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote wins", string(data))
}

func TestConflictName_PreservesExtension(t *testing.T) {
	t.Parallel()

	name := conflictName("report.txt")
	assert.Contains(t, name, "report (conflict copy ")
	assert.Equal(t, ".txt", filepath.Ext(name))

	bare := conflictName("Makefile")
	assert.Contains(t, bare, "Makefile (conflict copy ")
}
