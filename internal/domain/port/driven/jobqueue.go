package driven

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// Sentinel errors returned by JobQueue implementations.
var (
	// ErrJobNotFound indicates the job does not exist or is not in the expected state.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueUnavailable indicates the broker could not be reached.
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// JobQueue defines the driven port for the durable delayed job broker. The
// broker is the single source of truth for job state: at most one waiting or
// active job may exist per dedup key at any time.
type JobQueue interface {
	// Schedule removes any non-terminal job sharing spec.DedupKey and enqueues a
	// new one due no earlier than spec.Delay from now, atomically per key.
	Schedule(ctx context.Context, spec model.JobSpec) (model.Job, error)

	// Claim moves the next due waiting job to active for the given worker and
	// increments its attempt count. Returns nil, nil when nothing is due.
	Claim(ctx context.Context, workerID string) (*model.Job, error)

	// Complete marks an active job completed with an optional result.
	Complete(ctx context.Context, id string, result json.RawMessage) error

	// Fail records a failed attempt. The job is re-queued with exponential
	// backoff until its retry policy is exhausted, then marked failed.
	Fail(ctx context.Context, id string, reason string) (model.Job, error)

	// Release returns an active job to waiting, due immediately, without
	// counting the interrupted attempt. Used when a worker stops mid-run.
	Release(ctx context.Context, id string) error

	// Counts returns per-state job counts.
	Counts(ctx context.Context) (model.JobCounts, error)

	// List returns all jobs grouped by resolved state.
	List(ctx context.Context) (model.JobsByState, error)

	// PurgeOlderThan removes completed and failed jobs finished more than age ago.
	PurgeOlderThan(ctx context.Context, age time.Duration) (model.PurgeResult, error)

	// PurgeAll removes every job regardless of state.
	PurgeAll(ctx context.Context) (model.PurgeAllResult, error)

	// Recover re-queues jobs left active by a previous process and restores the
	// one-live-job-per-key invariant. Returns the number of re-queued jobs.
	Recover(ctx context.Context) (int, error)

	// Stalled returns active jobs claimed before the cutoff.
	Stalled(ctx context.Context, cutoff time.Time) ([]model.Job, error)
}
