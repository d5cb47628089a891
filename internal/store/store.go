// Package store persists the daemon's durable state — the task queue, the
// item cache, and cached drive metadata — in an embedded SQLite database
// with WAL mode. All state survives process restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// Store wraps the SQLite database holding tasks, items, and drives.
// A single connection is used (sole-writer pattern) so that claim
// transactions serialize without SQLITE_BUSY churn.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at dbPath, applies pragmas and
// migrations, and returns a ready Store. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	// Sole writer: serializes claim transactions and keeps the in-memory
	// database visible to every caller.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("state database ready", "path", dbPath)

	return &Store{db: db, logger: logger}, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing state database")

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close database: %w", err)
	}

	return nil
}

// NowNano returns the current time as Unix nanoseconds. All timestamps in
// the database use this representation.
func NowNano() int64 {
	return time.Now().UnixNano()
}
