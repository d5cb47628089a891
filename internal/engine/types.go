// Package engine implements the synchronization core: the deduplicated
// task pool, the worker scheduling loop, the directory-diff algorithm, and
// the interval-based seeding scheduler.
package engine

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/onedrived/onedrived/internal/drive"
)

// RemoteClient is the subset of the drive API the engine consumes.
// Defined here per Go convention "accept interfaces, return structs";
// internal/drive provides the real implementation, tests provide fakes.
type RemoteClient interface {
	ListChildren(ctx context.Context, driveID, dirID string) ([]drive.ItemMeta, error)
	CreateDir(ctx context.Context, driveID, parentID, name string) (*drive.ItemMeta, error)
	Upload(ctx context.Context, driveID, parentID, name, localPath string) (*drive.ItemMeta, error)
	Download(ctx context.Context, driveID, itemID, localDest string) error
	Delete(ctx context.Context, driveID, itemID string) error
	Move(ctx context.Context, driveID, itemID, newParentID, newName string) (*drive.ItemMeta, error)
	ListDrives(ctx context.Context) ([]drive.Drive, error)
}

// NetworkState reports reachability to workers. Implemented by
// internal/netmon; tests provide fakes.
type NetworkState interface {
	State() (online bool, generation uint64)
	WaitOnline(ctx context.Context) error
}

// disposition says what the worker should do with a failed task.
type disposition int

const (
	dispositionRetry disposition = iota
	dispositionTerminal
)

// classifyFailure maps a task execution error to retry-or-terminal.
// Local filesystem errors are terminal (permissions and disk problems do
// not heal by retrying); remote and transport errors retry with backoff up
// to the attempt cap.
func classifyFailure(err error) disposition {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return dispositionTerminal
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return dispositionTerminal
	}

	var remoteErr *drive.RemoteError
	if errors.As(err, &remoteErr) {
		if drive.IsRetryable(remoteErr) {
			return dispositionRetry
		}

		return dispositionTerminal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return dispositionRetry
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return dispositionRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dispositionRetry
	}

	// Unknown failures retry until the attempt cap; the cap bounds the
	// damage if the error turns out to be permanent.
	return dispositionRetry
}

// truncateToSeconds truncates a nanosecond timestamp to whole seconds.
// The remote API does not store fractional seconds, so signatures must be
// compared at second precision to avoid false modification positives.
func truncateToSeconds(ns int64) int64 {
	return (ns / int64(time.Second)) * int64(time.Second)
}
