package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/onedrived/onedrived/internal/drive"
	"github.com/onedrived/onedrived/internal/store"
)

// localEntry is one directory child as seen on disk. diskName keeps the
// on-disk spelling; the map key is the NFC-normalized name used for
// comparison against remote names.
type localEntry struct {
	diskName string
	isDir    bool
	size     int64
	mtime    int64
}

// runDirSync reconciles one directory level. It compares three views of the
// directory — local disk, remote listing, and the item cache — and emits
// transfer tasks for every divergence plus one child dirsync task per
// subdirectory present on both sides. It never transfers file content
// itself, so a single dirsync stays cheap and the subtree fans out across
// workers.
func (e *executor) runDirSync(ctx context.Context, t *store.Task) error {
	drv, err := e.store.GetDrive(ctx, t.DriveID)
	if err != nil {
		return err
	}

	if drv == nil {
		return fmt.Errorf("engine: drive %s is not configured", t.DriveID)
	}

	absDir := filepath.Join(drv.SyncRoot, filepath.FromSlash(t.LocalPath))

	local, err := e.readLocalDir(absDir)
	if err != nil {
		return err
	}

	children, err := e.client.ListChildren(ctx, t.DriveID, t.RemoteID)
	if err != nil {
		return err
	}

	remote := make(map[string]drive.ItemMeta, len(children))
	for _, meta := range children {
		remote[norm.NFC.String(meta.Name)] = meta
	}

	tracked, err := e.store.ListDirItems(ctx, t.DriveID, t.LocalPath)
	if err != nil {
		return err
	}

	handled := e.detectRenames(ctx, t, local, remote, tracked)

	for _, name := range unionNames(local, remote, tracked) {
		if handled[name] {
			continue
		}

		err := e.syncName(ctx, t, drv, absDir, name,
			lookupLocal(local, name), lookupRemote(remote, name), tracked[name])
		if err != nil {
			return err
		}
	}

	return nil
}

// syncName reconciles a single child name across the three views.
// loc, meta, and rec are nil when the name is absent from that view.
func (e *executor) syncName(ctx context.Context, t *store.Task, drv *store.DriveRecord,
	absDir, name string, loc *localEntry, meta *drive.ItemMeta, rec *store.ItemRecord,
) error {
	relPath := childPath(t.LocalPath, name)

	switch {
	case loc != nil && meta != nil:
		if loc.isDir != meta.IsDir {
			return e.resolveTypeMismatch(ctx, t, absDir, name, loc.diskName, relPath, meta)
		}

		if loc.isDir {
			return e.syncBothDirs(ctx, t, relPath, meta)
		}

		return e.syncBothFiles(ctx, t, name, relPath, loc, meta, rec)

	case loc != nil: // local only
		if rec != nil {
			return e.syncRemoteGone(ctx, t, relPath, loc, rec)
		}

		return e.syncLocalNew(ctx, t, name, relPath, loc)

	case meta != nil: // remote only
		if rec != nil {
			return e.syncLocalGone(ctx, t, name, relPath, meta, rec)
		}

		return e.syncRemoteNew(ctx, t, drv, absDir, name, relPath, meta)

	case rec != nil:
		// Gone from both sides; drop the stale record.
		if rec.IsDir {
			return e.store.DeleteSubtree(ctx, t.DriveID, relPath)
		}

		return e.store.DeleteItem(ctx, t.DriveID, relPath)
	}

	return nil
}

// syncBothDirs records the directory pair and fans out a child dirsync.
func (e *executor) syncBothDirs(ctx context.Context, t *store.Task, relPath string, meta *drive.ItemMeta) error {
	err := e.store.UpsertItem(ctx, &store.ItemRecord{
		DriveID:   t.DriveID,
		LocalPath: relPath,
		RemoteID:  meta.ID,
		IsDir:     true,
		ETag:      meta.ETag,
		SyncedAt:  store.NowNano(),
	})
	if err != nil {
		return err
	}

	return e.enqueue(ctx, &store.Task{
		Kind:      store.TaskDirSync,
		DriveID:   t.DriveID,
		LocalPath: relPath,
		RemoteID:  meta.ID,
	})
}

// syncBothFiles handles a file present on both sides. With a baseline
// record, one-sided changes transfer in that direction and two-sided
// changes are a conflict. Without a baseline, equal signatures adopt the
// pair silently and differing signatures are a conflict — there is no way
// to know which side is newer.
func (e *executor) syncBothFiles(ctx context.Context, t *store.Task,
	name, relPath string, loc *localEntry, meta *drive.ItemMeta, rec *store.ItemRecord,
) error {
	remoteMtime := meta.ModifiedAt.UnixNano()

	if rec == nil {
		if sameSignature(loc.size, loc.mtime, meta.Size, remoteMtime) {
			return e.store.UpsertItem(ctx, &store.ItemRecord{
				DriveID:   t.DriveID,
				LocalPath: relPath,
				RemoteID:  meta.ID,
				Size:      meta.Size,
				Mtime:     remoteMtime,
				ETag:      meta.ETag,
				SyncedAt:  store.NowNano(),
			})
		}

		return e.enqueueConflict(ctx, t, relPath, meta)
	}

	localChanged := !sameSignature(loc.size, loc.mtime, rec.Size, rec.Mtime)
	remoteChanged := remoteDiffers(rec, meta)

	switch {
	case localChanged && remoteChanged:
		return e.enqueueConflict(ctx, t, relPath, meta)

	case localChanged:
		return e.enqueue(ctx, &store.Task{
			Kind:      store.TaskUpload,
			DriveID:   t.DriveID,
			LocalPath: relPath,
			RemoteID:  t.RemoteID, // parent directory
		})

	case remoteChanged:
		return e.enqueue(ctx, &store.Task{
			Kind:        store.TaskDownload,
			DriveID:     t.DriveID,
			LocalPath:   relPath,
			RemoteID:    meta.ID,
			RemoteSize:  meta.Size,
			RemoteMtime: remoteMtime,
			RemoteETag:  meta.ETag,
		})
	}

	return nil
}

// syncRemoteGone handles a tracked entry that disappeared remotely while
// still present locally. An unchanged local copy follows the deletion; a
// locally modified copy is re-uploaded instead so user edits survive.
func (e *executor) syncRemoteGone(ctx context.Context, t *store.Task,
	relPath string, loc *localEntry, rec *store.ItemRecord,
) error {
	if !rec.IsDir && !sameSignature(loc.size, loc.mtime, rec.Size, rec.Mtime) {
		e.logger.Info("remote item deleted but local copy modified, re-uploading",
			"drive_id", t.DriveID, "path", relPath)

		return e.enqueue(ctx, &store.Task{
			Kind:      store.TaskUpload,
			DriveID:   t.DriveID,
			LocalPath: relPath,
			RemoteID:  t.RemoteID,
		})
	}

	return e.enqueue(ctx, &store.Task{
		Kind:      store.TaskDelete,
		DriveID:   t.DriveID,
		LocalPath: relPath,
		RemoteID:  "", // remote already gone: delete the local side
	})
}

// syncLocalGone handles a tracked entry that disappeared locally while
// still present remotely. An unchanged remote copy follows the deletion; a
// remotely modified copy is re-downloaded instead.
func (e *executor) syncLocalGone(ctx context.Context, t *store.Task,
	name, relPath string, meta *drive.ItemMeta, rec *store.ItemRecord,
) error {
	if !rec.IsDir && remoteDiffers(rec, meta) {
		e.logger.Info("local item deleted but remote copy modified, re-downloading",
			"drive_id", t.DriveID, "path", relPath)

		return e.enqueue(ctx, &store.Task{
			Kind:        store.TaskDownload,
			DriveID:     t.DriveID,
			LocalPath:   relPath,
			RemoteID:    meta.ID,
			RemoteSize:  meta.Size,
			RemoteMtime: meta.ModifiedAt.UnixNano(),
			RemoteETag:  meta.ETag,
		})
	}

	return e.enqueue(ctx, &store.Task{
		Kind:      store.TaskDelete,
		DriveID:   t.DriveID,
		LocalPath: relPath,
		RemoteID:  meta.ID,
	})
}

// syncLocalNew handles an untracked entry that exists only locally.
// Directories are created remotely in-line so the child dirsync has a
// parent to target; files become upload tasks.
func (e *executor) syncLocalNew(ctx context.Context, t *store.Task, name, relPath string, loc *localEntry) error {
	if !loc.isDir {
		return e.enqueue(ctx, &store.Task{
			Kind:      store.TaskUpload,
			DriveID:   t.DriveID,
			LocalPath: relPath,
			RemoteID:  t.RemoteID,
		})
	}

	meta, err := e.client.CreateDir(ctx, t.DriveID, t.RemoteID, name)
	if err != nil {
		if errors.Is(err, drive.ErrNameConflict) {
			// Created remotely since we listed; the next pass sees it
			// on both sides.
			e.logger.Debug("remote directory appeared concurrently",
				"drive_id", t.DriveID, "path", relPath)

			return nil
		}

		return err
	}

	return e.syncBothDirs(ctx, t, relPath, meta)
}

// syncRemoteNew handles an untracked entry that exists only remotely.
// Directories are created locally in-line; files become download tasks.
func (e *executor) syncRemoteNew(ctx context.Context, t *store.Task, drv *store.DriveRecord,
	absDir, name string, relPath string, meta *drive.ItemMeta,
) error {
	if !meta.IsDir {
		return e.enqueue(ctx, &store.Task{
			Kind:        store.TaskDownload,
			DriveID:     t.DriveID,
			LocalPath:   relPath,
			RemoteID:    meta.ID,
			RemoteSize:  meta.Size,
			RemoteMtime: meta.ModifiedAt.UnixNano(),
			RemoteETag:  meta.ETag,
		})
	}

	if err := os.MkdirAll(filepath.Join(absDir, name), 0o755); err != nil {
		return err
	}

	return e.syncBothDirs(ctx, t, relPath, meta)
}

// resolveTypeMismatch handles a name that is a directory on one side and a
// file on the other. The local side is renamed out of the way with a
// conflict suffix and the remote side is then treated as new; the renamed
// copy is picked up as a local-only entry on the next pass.
func (e *executor) resolveTypeMismatch(ctx context.Context, t *store.Task,
	absDir, name, diskName, relPath string, meta *drive.ItemMeta,
) error {
	renamed := conflictName(name)

	if err := os.Rename(filepath.Join(absDir, diskName), filepath.Join(absDir, renamed)); err != nil {
		return err
	}

	e.logger.Warn("file/directory type mismatch, renamed local side",
		"drive_id", t.DriveID, "path", relPath, "renamed_to", renamed)

	if err := e.store.DeleteSubtree(ctx, t.DriveID, relPath); err != nil {
		return err
	}

	drv, err := e.store.GetDrive(ctx, t.DriveID)
	if err != nil {
		return err
	}

	return e.syncRemoteNew(ctx, t, drv, absDir, name, relPath, meta)
}

// detectRenames finds remote children whose item ID matches a tracked
// record under a different name, meaning the item was renamed remotely.
// Each detected pair becomes one move task, and both names are marked
// handled so the main loop does not also emit a delete and a download.
func (e *executor) detectRenames(ctx context.Context, t *store.Task,
	local map[string]*localEntry, remote map[string]drive.ItemMeta,
	tracked map[string]*store.ItemRecord,
) map[string]bool {
	handled := make(map[string]bool)

	for newName, meta := range remote {
		if tracked[newName] != nil || meta.ID == "" {
			continue
		}

		for oldName, rec := range tracked {
			if rec.RemoteID != meta.ID || oldName == newName {
				continue
			}

			// Only a clean rename: old spelling still on disk, new
			// spelling not taken locally.
			if local[oldName] == nil || local[newName] != nil || remote[oldName].ID != "" {
				continue
			}

			task := &store.Task{
				Kind:         store.TaskMove,
				DriveID:      t.DriveID,
				LocalPath:    childPath(t.LocalPath, oldName),
				NewLocalPath: childPath(t.LocalPath, newName),
				RemoteID:     meta.ID,
				RemoteSize:   meta.Size,
				RemoteMtime:  meta.ModifiedAt.UnixNano(),
				RemoteETag:   meta.ETag,
			}

			if err := e.enqueue(ctx, task); err != nil {
				e.logger.Error("enqueue move task", "path", task.LocalPath, "error", err)

				continue
			}

			handled[oldName] = true
			handled[newName] = true

			break
		}
	}

	return handled
}

// enqueueConflict emits a conflict task carrying the remote signature so
// the handler can resolve per the configured strategy.
func (e *executor) enqueueConflict(ctx context.Context, t *store.Task, relPath string, meta *drive.ItemMeta) error {
	e.logger.Warn("both sides modified, conflict queued",
		"drive_id", t.DriveID, "path", relPath, "strategy", e.conflictStrategy)

	return e.enqueue(ctx, &store.Task{
		Kind:        store.TaskConflict,
		DriveID:     t.DriveID,
		LocalPath:   relPath,
		RemoteID:    meta.ID,
		RemoteSize:  meta.Size,
		RemoteMtime: meta.ModifiedAt.UnixNano(),
		RemoteETag:  meta.ETag,
	})
}

// readLocalDir lists a directory, skipping symlinks and other irregular
// entries. A missing directory reads as empty so dirsync can reconcile a
// subtree that was deleted locally.
func (e *executor) readLocalDir(absDir string) (map[string]*localEntry, error) {
	dirents, err := os.ReadDir(absDir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*localEntry{}, nil
	}

	if err != nil {
		return nil, err
	}

	entries := make(map[string]*localEntry, len(dirents))

	for _, d := range dirents {
		if strings.HasPrefix(d.Name(), tempFilePrefix) {
			continue
		}

		info, err := d.Info()
		if err != nil {
			// Entry vanished between ReadDir and stat.
			continue
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			e.logger.Debug("skipping irregular file", "path", filepath.Join(absDir, d.Name()))

			continue
		}

		entries[norm.NFC.String(d.Name())] = &localEntry{
			diskName: d.Name(),
			isDir:    info.IsDir(),
			size:     info.Size(),
			mtime:    info.ModTime().UnixNano(),
		}
	}

	return entries, nil
}

// resolveLocalPath maps a slash-separated relative path to its on-disk
// absolute location. Tasks and item records store NFC-normalized paths,
// but the file system may hold a decomposed spelling (macOS writes NFD),
// so any segment that does not exist verbatim is matched against the
// directory listing by NFC form. Unmatched segments stay literal, so a
// genuinely missing path still stats as fs.ErrNotExist for the caller.
func resolveLocalPath(syncRoot, relPath string) string {
	abs := syncRoot
	if relPath == "" {
		return abs
	}

	for _, seg := range strings.Split(relPath, "/") {
		cand := filepath.Join(abs, seg)

		if _, err := os.Lstat(cand); err == nil {
			abs = cand

			continue
		}

		abs = filepath.Join(abs, diskSpelling(abs, seg))
	}

	return abs
}

// diskSpelling returns the entry of dir whose NFC form equals name, or
// name itself when no entry matches.
func diskSpelling(dir, name string) string {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return name
	}

	for _, d := range dirents {
		if norm.NFC.String(d.Name()) == name {
			return d.Name()
		}
	}

	return name
}

// sameSignature compares two (size, mtime) pairs at second precision.
func sameSignature(size1, mtime1, size2, mtime2 int64) bool {
	return size1 == size2 && truncateToSeconds(mtime1) == truncateToSeconds(mtime2)
}

// remoteDiffers reports whether the remote item diverged from the cached
// record. ETags are authoritative when both sides have one; otherwise fall
// back to the size+mtime signature.
func remoteDiffers(rec *store.ItemRecord, meta *drive.ItemMeta) bool {
	if rec.ETag != "" && meta.ETag != "" {
		return rec.ETag != meta.ETag
	}

	return !sameSignature(rec.Size, rec.Mtime, meta.Size, meta.ModifiedAt.UnixNano())
}

// childPath joins a relative directory path with a child name.
func childPath(dir, name string) string {
	return path.Join(dir, name)
}

// unionNames returns the sorted union of child names across the three
// views. Sorted for deterministic task ordering, which keeps tests and
// logs stable.
func unionNames(local map[string]*localEntry, remote map[string]drive.ItemMeta,
	tracked map[string]*store.ItemRecord,
) []string {
	seen := make(map[string]struct{}, len(local)+len(remote)+len(tracked))

	for name := range local {
		seen[name] = struct{}{}
	}

	for name := range remote {
		seen[name] = struct{}{}
	}

	for name := range tracked {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func lookupLocal(m map[string]*localEntry, name string) *localEntry {
	return m[name]
}

func lookupRemote(m map[string]drive.ItemMeta, name string) *drive.ItemMeta {
	if meta, ok := m[name]; ok {
		return &meta
	}

	return nil
}
