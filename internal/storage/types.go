package storage

import (
	"context"
	"errors"
	"time"

	"dkwatch/internal/standings"
)

var (
	// ErrDisabled is returned by a nil-safe call into disabled storage.
	ErrDisabled = errors.New("storage disabled")
	// ErrNoSnapshot is returned when no snapshot has been saved yet.
	ErrNoSnapshot = errors.New("no snapshot stored")
)

// Config configures storage.
//
// Driver values: "sqlite" (or "sqlite3"), "csvdir". Empty or "none"
// disables persistence.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SnapshotMeta identifies a stored snapshot without its entries.
type SnapshotMeta struct {
	ID         int64     `json:"id"`
	TakenAt    time.Time `json:"taken_at"`
	EntryCount int       `json:"entry_count"`
}

// Run is the durable form of one tick outcome.
type Run struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	EntryCount int           `json:"entry_count"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
}

// Store is the persistence API used by the app and the HTTP server.
type Store interface {
	SaveSnapshot(ctx context.Context, snap standings.Snapshot) (int64, error)
	LatestSnapshot(ctx context.Context) (standings.Snapshot, error)
	// SnapshotAt loads one snapshot by the ID SaveSnapshot returned.
	SnapshotAt(ctx context.Context, id int64) (standings.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotMeta, error)
	AppendRun(ctx context.Context, r Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
	// PruneBefore removes snapshots (and run records) older than cutoff,
	// returning the number of snapshots removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
