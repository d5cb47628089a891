package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onedrived/onedrived/internal/config"
	"github.com/onedrived/onedrived/internal/drive"
	"github.com/onedrived/onedrived/internal/store"
)

// tempFilePrefix marks in-progress download files so dirsync ignores them.
const tempFilePrefix = ".onedrived-"

// runUpload pushes a local file to the remote parent directory named by the
// task. The item record is written only after the remote confirms, with the
// pre-upload local signature as the new baseline.
func (e *executor) runUpload(ctx context.Context, t *store.Task) error {
	syncRoot, err := e.syncRoot(ctx, t.DriveID)
	if err != nil {
		return err
	}

	abs := resolveLocalPath(syncRoot, t.LocalPath)

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		// Deleted between enqueue and execution; the next dirsync pass
		// reconciles whatever state remains.
		e.logger.Info("upload source vanished, skipping",
			"drive_id", t.DriveID, "path", t.LocalPath)

		return nil
	}

	if err != nil {
		return err
	}

	meta, err := e.client.Upload(ctx, t.DriveID, t.RemoteID, path.Base(t.LocalPath), abs)
	if err != nil {
		return err
	}

	return e.store.UpsertItem(ctx, &store.ItemRecord{
		DriveID:   t.DriveID,
		LocalPath: t.LocalPath,
		RemoteID:  meta.ID,
		Size:      info.Size(),
		Mtime:     info.ModTime().UnixNano(),
		ETag:      meta.ETag,
		SyncedAt:  store.NowNano(),
	})
}

// runDownload fetches the remote item into the task's local path. The
// client writes through a temp file and renames, so a partial transfer
// never shadows the destination. The local mtime is set to the remote
// mtime so the recorded signature matches the file on disk.
func (e *executor) runDownload(ctx context.Context, t *store.Task) error {
	syncRoot, err := e.syncRoot(ctx, t.DriveID)
	if err != nil {
		return err
	}

	abs := resolveLocalPath(syncRoot, t.LocalPath)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}

	if err := e.client.Download(ctx, t.DriveID, t.RemoteID, abs); err != nil {
		return err
	}

	mtime := time.Unix(0, t.RemoteMtime)
	if err := os.Chtimes(abs, mtime, mtime); err != nil {
		return err
	}

	return e.store.UpsertItem(ctx, &store.ItemRecord{
		DriveID:   t.DriveID,
		LocalPath: t.LocalPath,
		RemoteID:  t.RemoteID,
		Size:      t.RemoteSize,
		Mtime:     t.RemoteMtime,
		ETag:      t.RemoteETag,
		SyncedAt:  store.NowNano(),
	})
}

// runDelete propagates a one-sided deletion. An empty RemoteID means the
// remote side is already gone and the local copy follows; a non-empty one
// means the local copy is gone and the remote item follows. Either way the
// cached subtree records are dropped afterwards.
func (e *executor) runDelete(ctx context.Context, t *store.Task) error {
	if t.RemoteID == "" {
		syncRoot, err := e.syncRoot(ctx, t.DriveID)
		if err != nil {
			return err
		}

		abs := resolveLocalPath(syncRoot, t.LocalPath)
		if err := os.RemoveAll(abs); err != nil {
			return err
		}
	} else {
		err := e.client.Delete(ctx, t.DriveID, t.RemoteID)
		if err != nil && !errors.Is(err, drive.ErrNotFound) {
			return err
		}
	}

	return e.store.DeleteSubtree(ctx, t.DriveID, t.LocalPath)
}

// runMove applies a remote rename locally: the file or directory moves to
// the new path on disk and the cached subtree paths are rewritten to
// match. Remote renames are the only source of move tasks; a local rename
// has no watcher to observe it and surfaces as a delete plus an add.
func (e *executor) runMove(ctx context.Context, t *store.Task) error {
	syncRoot, err := e.syncRoot(ctx, t.DriveID)
	if err != nil {
		return err
	}

	oldAbs := resolveLocalPath(syncRoot, t.LocalPath)
	newAbs := filepath.Join(syncRoot, filepath.FromSlash(t.NewLocalPath))

	rec, err := e.store.GetItem(ctx, t.DriveID, t.LocalPath)
	if err != nil {
		return err
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return err
	}

	if err := e.store.RenameSubtree(ctx, t.DriveID, t.LocalPath, t.NewLocalPath); err != nil {
		return err
	}

	if rec == nil {
		return nil
	}

	rec.LocalPath = t.NewLocalPath
	rec.Size = t.RemoteSize
	rec.Mtime = t.RemoteMtime
	rec.ETag = t.RemoteETag
	rec.SyncedAt = store.NowNano()

	return e.store.UpsertItem(ctx, rec)
}

// runConflict resolves a both-sides-modified file per the configured
// strategy. keep_both renames the local copy aside, downloads the remote
// version into place, and re-uploads the renamed copy so neither edit is
// lost. keep_local and keep_remote pick one side outright.
func (e *executor) runConflict(ctx context.Context, t *store.Task) error {
	switch e.conflictStrategy {
	case config.ConflictKeepLocal:
		return e.conflictKeepLocal(ctx, t)
	case config.ConflictKeepRemote:
		return e.runDownload(ctx, t)
	default:
		return e.conflictKeepBoth(ctx, t)
	}
}

func (e *executor) conflictKeepLocal(ctx context.Context, t *store.Task) error {
	parentID, err := e.parentRemoteID(ctx, t.DriveID, t.LocalPath)
	if err != nil {
		return err
	}

	syncRoot, err := e.syncRoot(ctx, t.DriveID)
	if err != nil {
		return err
	}

	abs := resolveLocalPath(syncRoot, t.LocalPath)

	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	meta, err := e.client.Upload(ctx, t.DriveID, parentID, path.Base(t.LocalPath), abs)
	if err != nil {
		return err
	}

	return e.store.UpsertItem(ctx, &store.ItemRecord{
		DriveID:   t.DriveID,
		LocalPath: t.LocalPath,
		RemoteID:  meta.ID,
		Size:      info.Size(),
		Mtime:     info.ModTime().UnixNano(),
		ETag:      meta.ETag,
		SyncedAt:  store.NowNano(),
	})
}

func (e *executor) conflictKeepBoth(ctx context.Context, t *store.Task) error {
	syncRoot, err := e.syncRoot(ctx, t.DriveID)
	if err != nil {
		return err
	}

	abs := resolveLocalPath(syncRoot, t.LocalPath)
	copyName := conflictName(path.Base(t.LocalPath))
	copyRel := childPath(relParent(t.LocalPath), copyName)
	copyAbs := filepath.Join(filepath.Dir(abs), copyName)

	if err := os.Rename(abs, copyAbs); err != nil {
		return err
	}

	e.logger.Info("conflict: kept local edit as copy",
		"drive_id", t.DriveID, "path", t.LocalPath, "copy", copyRel)

	if err := e.runDownload(ctx, t); err != nil {
		return err
	}

	parentID, err := e.parentRemoteID(ctx, t.DriveID, t.LocalPath)
	if err != nil {
		return err
	}

	return e.enqueue(ctx, &store.Task{
		Kind:      store.TaskUpload,
		DriveID:   t.DriveID,
		LocalPath: copyRel,
		RemoteID:  parentID,
	})
}

// syncRoot returns the configured local root for a drive.
func (e *executor) syncRoot(ctx context.Context, driveID string) (string, error) {
	drv, err := e.store.GetDrive(ctx, driveID)
	if err != nil {
		return "", err
	}

	if drv == nil {
		return "", fmt.Errorf("engine: drive %s is not configured", driveID)
	}

	return drv.SyncRoot, nil
}

// parentRemoteID resolves the remote directory containing relPath via the
// item cache. The drive root has no record and maps to the empty ID.
func (e *executor) parentRemoteID(ctx context.Context, driveID, relPath string) (string, error) {
	parent := relParent(relPath)
	if parent == "" {
		return "", nil
	}

	rec, err := e.store.GetItem(ctx, driveID, parent)
	if err != nil {
		return "", err
	}

	if rec == nil {
		return "", fmt.Errorf("engine: parent directory %s is not tracked", parent)
	}

	return rec.RemoteID, nil
}

// relParent returns the parent of a relative path, "" for top-level names.
func relParent(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}

	return dir
}

// conflictName derives the sibling name a conflicting local copy is saved
// under, keeping the extension so the file stays openable.
func conflictName(name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	short := uuid.NewString()[:8]

	return fmt.Sprintf("%s (conflict copy %s)%s", base, short, ext)
}
