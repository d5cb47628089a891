package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
)

// ItemRecord is the persistent record of a synchronized local⇄remote item
// pair. It exists only for items confirmed present on both sides; its
// signature (size + mtime) is the baseline the diff compares against.
type ItemRecord struct {
	DriveID   string
	LocalPath string // relative to the drive's sync root
	RemoteID  string
	IsDir     bool
	Size      int64
	Mtime     int64 // Unix nanoseconds, truncated to seconds for comparison
	ETag      string
	SyncedAt  int64
}

const itemColumns = `drive_id, local_path, parent_path, remote_id, is_dir,
	size, mtime, etag, synced_at`

// GetItem returns the record for a path, or (nil, nil) when the pair is
// not tracked — callers use the nil record to distinguish "new item" from
// "known item".
func (s *Store) GetItem(ctx context.Context, driveID, localPath string) (*ItemRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE drive_id = ? AND local_path = ?`,
		driveID, localPath)

	rec, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil record means "not tracked"
	}

	if err != nil {
		return nil, fmt.Errorf("store: get item %s/%s: %w", driveID, localPath, err)
	}

	return rec, nil
}

// UpsertItem inserts or updates an item record. Called only after a
// transfer is confirmed — the record always reflects a synchronized state.
func (s *Store) UpsertItem(ctx context.Context, rec *ItemRecord) error {
	parent := parentPath(rec.LocalPath)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (drive_id, local_path) DO UPDATE SET
			parent_path = excluded.parent_path,
			remote_id   = excluded.remote_id,
			is_dir      = excluded.is_dir,
			size        = excluded.size,
			mtime       = excluded.mtime,
			etag        = excluded.etag,
			synced_at   = excluded.synced_at`,
		rec.DriveID, rec.LocalPath, parent, rec.RemoteID, rec.IsDir,
		rec.Size, rec.Mtime, rec.ETag, rec.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert item %s/%s: %w", rec.DriveID, rec.LocalPath, err)
	}

	return nil
}

// DeleteItem removes the record for a path. Called when the item is
// confirmed gone from both sides.
func (s *Store) DeleteItem(ctx context.Context, driveID, localPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE drive_id = ? AND local_path = ?`,
		driveID, localPath)
	if err != nil {
		return fmt.Errorf("store: delete item %s/%s: %w", driveID, localPath, err)
	}

	return nil
}

// DeleteSubtree removes the record for dirPath and every record beneath it.
// Used when a whole directory disappears from both sides. Prefix matching
// uses SUBSTR, not LIKE: path names may contain '_' or '%', and LIKE
// compares ASCII case-insensitively.
func (s *Store) DeleteSubtree(ctx context.Context, driveID, dirPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items
		 WHERE drive_id = ? AND (local_path = ?
		   OR SUBSTR(local_path, 1, LENGTH(?) + 1) = ? || '/')`,
		driveID, dirPath, dirPath, dirPath)
	if err != nil {
		return fmt.Errorf("store: delete subtree %s/%s: %w", driveID, dirPath, err)
	}

	return nil
}

// ListDirItems returns records whose parent directory is dirPath, keyed by
// base name. The dirsync diff consults this map for tracked-but-missing
// detection.
func (s *Store) ListDirItems(ctx context.Context, driveID, dirPath string) (map[string]*ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE drive_id = ? AND parent_path = ?`,
		driveID, dirPath)
	if err != nil {
		return nil, fmt.Errorf("store: list dir items %s/%s: %w", driveID, dirPath, err)
	}
	defer rows.Close()

	records := make(map[string]*ItemRecord)

	for rows.Next() {
		rec, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scan item row: %w", scanErr)
		}

		records[path.Base(rec.LocalPath)] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate item rows: %w", err)
	}

	return records, nil
}

// RenameSubtree rewrites item paths after a move: the record at oldPath and
// all records beneath it get the new prefix. The prefix length is computed
// in SQL so SUBSTR and LENGTH agree on characters; a Go byte length would
// misalign on multibyte names. Prefix matching avoids LIKE for the same
// reasons as DeleteSubtree.
func (s *Store) RenameSubtree(ctx context.Context, driveID, oldPath, newPath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items
		 SET local_path = ? || SUBSTR(local_path, LENGTH(?) + 1),
		     parent_path = CASE
				WHEN local_path = ? THEN ?
				ELSE ? || SUBSTR(parent_path, LENGTH(?) + 1)
		     END
		 WHERE drive_id = ? AND (local_path = ?
		   OR SUBSTR(local_path, 1, LENGTH(?) + 1) = ? || '/')`,
		newPath, oldPath,
		oldPath, parentPath(newPath),
		newPath, oldPath,
		driveID, oldPath, oldPath, oldPath)
	if err != nil {
		return fmt.Errorf("store: rename subtree %s -> %s: %w", oldPath, newPath, err)
	}

	return nil
}

// scanItem scans a full item row.
func scanItem(row interface{ Scan(...any) error }) (*ItemRecord, error) {
	var (
		rec    ItemRecord
		parent string
	)

	err := row.Scan(
		&rec.DriveID, &rec.LocalPath, &parent, &rec.RemoteID, &rec.IsDir,
		&rec.Size, &rec.Mtime, &rec.ETag, &rec.SyncedAt,
	)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// parentPath returns the slash-separated parent of a relative path,
// "" for top-level entries.
func parentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}

	return dir
}
