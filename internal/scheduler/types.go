package scheduler

import (
	"context"
	"sync"
	"time"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Config controls the scheduler.
type Config struct {
	// Interval is the poll cadence. Must be > 0.
	Interval time.Duration
	// RunTimeout bounds a single tick. 0 means no per-tick timeout.
	RunTimeout time.Duration
	// HistorySize caps the in-memory outcome ring. <= 0 uses a default.
	HistorySize int
}

// Outcome is the ephemeral run record of one tick: when it started, how
// long it took, and whether it failed. Consumed by the log sink, the
// history ring and the run-record store.
type Outcome struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// OK reports whether the tick succeeded.
func (o Outcome) OK() bool { return o.Error == "" }

// runState is the overlap guard shared between invocations of one job.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (r *runState) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *runState) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// CronInfo describes one registered cron job.
type CronInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Snapshot is a point-in-time view of the scheduler for diagnostics.
type Snapshot struct {
	Interval time.Duration
	Running  bool
	Ticks    uint64
	History  []Outcome
	Crons    []CronInfo
}
