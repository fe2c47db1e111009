// Package agent drives the sync pipeline: a recurring cycle that mirrors
// "today" and "yesterday" from the branch ERP into the cloud store, an
// on-demand historical backfill, and a queue drain triggered whenever
// connectivity is restored.
//
// The agent owns every shared resource explicitly (ERP pool, cloud pool,
// local queue) and runs a single cooperative loop: one cycle's extract,
// publish, and queue operations happen in sequence, never in parallel, so
// the bounded ERP pool is never starved by overlapping work.
package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aquraretail/erpsync/internal/cloud"
	"github.com/aquraretail/erpsync/internal/events"
	"github.com/aquraretail/erpsync/internal/model"
	"github.com/aquraretail/erpsync/internal/queue"
)

// ErrBusy is returned when an operation cannot start because a sync pass
// or backfill is already in flight.
var ErrBusy = errors.New("a sync operation is already running")

// Extractor is the slice of the ERP source the agent uses.
type Extractor interface {
	Extract(ctx context.Context, saleDate string) (*model.DailySalesAggregate, error)
	DateRange(ctx context.Context) (first, last string, err error)
}

// Publisher is the slice of the cloud store the agent uses.
type Publisher interface {
	Publish(ctx context.Context, agg *model.DailySalesAggregate) error
	Check(ctx context.Context) error
}

// Queue is the durable local queue the agent falls back to when the cloud
// is unreachable.
type Queue interface {
	Enqueue(ctx context.Context, agg *model.DailySalesAggregate) error
	Pending(ctx context.Context, maxRetries int) ([]*model.QueueRecord, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error) error
	Prune(ctx context.Context, retentionDays int) (int64, error)
	Depth(ctx context.Context) (int, error)
	Stats(ctx context.Context, maxRetries int) (*queue.Stats, error)
}

// State is the scheduler's current activity.
type State int32

const (
	// StateIdle means no sync pass is in flight.
	StateIdle State = iota
	// StateSyncing means a periodic today/yesterday pass is running.
	StateSyncing
	// StateBackfill means a historical backfill is walking the date range.
	StateBackfill
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}

// Config holds the agent's scheduling parameters.
type Config struct {
	// BranchID identifies the branch in emitted events.
	BranchID int
	// Interval is the initial periodic cycle interval; SetInterval
	// changes it at runtime.
	Interval time.Duration
	// RetentionDays is how long synced queue records are kept.
	RetentionDays int
	// MaxRetries bounds replay attempts for store-rejected records.
	MaxRetries int
}

// Agent is the sync scheduler. Construct with New and drive with Run;
// Backfill may be invoked from another goroutine and is mutually exclusive
// with the periodic pass.
type Agent struct {
	cfg       Config
	extractor Extractor
	publisher Publisher
	queue     Queue
	probe     *cloud.Probe
	emitter   *events.Emitter

	state atomic.Int32
	// interval holds the cycle interval in nanoseconds. It lives outside
	// cfg because the config watcher goroutine rewrites it while Run reads
	// it.
	interval atomic.Int64
	now      func() time.Time
}

// New creates an agent over the given collaborators.
func New(cfg Config, ext Extractor, pub Publisher, q Queue, em *events.Emitter) *Agent {
	a := &Agent{
		cfg:       cfg,
		extractor: ext,
		publisher: pub,
		queue:     q,
		probe:     cloud.NewProbe(pub),
		emitter:   em,
		now:       time.Now,
	}
	a.interval.Store(int64(cfg.Interval))
	return a
}

// State returns the scheduler's current state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// SetInterval updates the cycle interval for the next Run loop iteration.
// Safe to call from the config watcher goroutine while Run is looping.
func (a *Agent) SetInterval(d time.Duration) {
	if d >= time.Second {
		a.interval.Store(int64(d))
	}
}

// Interval returns the current cycle interval.
func (a *Agent) Interval() time.Duration {
	return time.Duration(a.interval.Load())
}

// Run executes the periodic sync loop until ctx is cancelled: one cycle
// immediately, then one per interval. A cycle that has not finished when
// the next tick arrives causes that tick to be skipped rather than
// overlapped. Returns nil on clean shutdown.
func (a *Agent) Run(ctx context.Context) error {
	a.emitter.Infof("sync agent started for branch %d (interval %s)", a.cfg.BranchID, a.Interval())

	a.RunCycle(ctx)

	ticker := time.NewTicker(a.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.emitter.Infof("sync agent stopped")
			return nil
		case <-ticker.C:
			ticker.Reset(a.Interval())
			a.RunCycle(ctx)
		}
	}
}

// tryEnter moves Idle to the given state. It is the re-entrancy guard that
// keeps Syncing and Backfill mutually exclusive and prevents overlapping
// cycles from piling up SQL and HTTP calls.
func (a *Agent) tryEnter(s State) bool {
	return a.state.CompareAndSwap(int32(StateIdle), int32(s))
}

func (a *Agent) leave() {
	a.state.Store(int32(StateIdle))
}
