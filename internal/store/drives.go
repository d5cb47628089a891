package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DriveRecord is cached metadata for one remote drive, including where its
// local mirror lives. Read-mostly; refreshed on demand from the API.
type DriveRecord struct {
	ID          string
	DriveType   string // "personal" or "business"
	QuotaTotal  int64
	QuotaUsed   int64
	SyncRoot    string // absolute local directory
	RefreshedAt int64
}

// UpsertDrive inserts or updates a cached drive record.
func (s *Store) UpsertDrive(ctx context.Context, d *DriveRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drives (id, drive_type, quota_total, quota_used, sync_root, refreshed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			drive_type   = excluded.drive_type,
			quota_total  = excluded.quota_total,
			quota_used   = excluded.quota_used,
			sync_root    = excluded.sync_root,
			refreshed_at = excluded.refreshed_at`,
		d.ID, d.DriveType, d.QuotaTotal, d.QuotaUsed, d.SyncRoot, d.RefreshedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert drive %s: %w", d.ID, err)
	}

	return nil
}

// GetDrive returns one cached drive, or (nil, nil) when unknown.
func (s *Store) GetDrive(ctx context.Context, id string) (*DriveRecord, error) {
	d := &DriveRecord{}

	err := s.db.QueryRowContext(ctx,
		`SELECT id, drive_type, quota_total, quota_used, sync_root, refreshed_at
		 FROM drives WHERE id = ?`, id).Scan(
		&d.ID, &d.DriveType, &d.QuotaTotal, &d.QuotaUsed, &d.SyncRoot, &d.RefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil record means "unknown drive"
	}

	if err != nil {
		return nil, fmt.Errorf("store: get drive %s: %w", id, err)
	}

	return d, nil
}

// ListDrives returns all cached drives ordered by id.
func (s *Store) ListDrives(ctx context.Context) ([]*DriveRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, drive_type, quota_total, quota_used, sync_root, refreshed_at
		 FROM drives ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list drives: %w", err)
	}
	defer rows.Close()

	var drives []*DriveRecord

	for rows.Next() {
		d := &DriveRecord{}

		err := rows.Scan(&d.ID, &d.DriveType, &d.QuotaTotal, &d.QuotaUsed,
			&d.SyncRoot, &d.RefreshedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan drive row: %w", err)
		}

		drives = append(drives, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate drive rows: %w", err)
	}

	return drives, nil
}
