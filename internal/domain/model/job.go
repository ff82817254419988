package model

import (
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed" // Waiting with a run time still in the future.
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are expected for the state.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobNameSyncBuilding is the task type that re-syncs a single building's sale orders.
const JobNameSyncBuilding = "sync-building"

// maxRetryDelay bounds the exponential backoff between attempts.
const maxRetryDelay = 24 * time.Hour

// RetryPolicy controls how a failed job is retried.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultRetryPolicy mirrors the queue defaults: 3 attempts, 60s doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffBase: time.Minute}
}

// Delay returns the wait before the next attempt after the given (1-based)
// attempt failed: base * 2^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BackoffBase <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for range attempt {
		d = b.NextBackOff()
	}
	return d
}

// JobSpec describes a job to enqueue.
type JobSpec struct {
	Name     string
	DedupKey string
	Payload  json.RawMessage
	Delay    time.Duration
	Retry    RetryPolicy
}

// Job is a queued unit of work as recorded by the queue broker.
type Job struct {
	ID           string
	Name         string
	DedupKey     string
	Payload      json.RawMessage
	State        JobState
	Attempts     int
	Retry        RetryPolicy
	Delay        time.Duration
	CreatedAt    time.Time
	RunAt        time.Time
	ProcessedAt  time.Time // Zero until first claimed.
	FinishedAt   time.Time // Zero until completed or failed.
	FailedReason string
	Result       json.RawMessage
	WorkerID     string
}

// StateAt resolves the stored state against now, reporting a waiting job whose
// run time has not arrived as delayed.
func (j Job) StateAt(now time.Time) JobState {
	if j.State == JobStateWaiting && j.RunAt.After(now) {
		return JobStateDelayed
	}
	return j.State
}

// Remaining returns the time left until the job becomes due, never negative.
func (j Job) Remaining(now time.Time) time.Duration {
	if d := j.RunAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// JobCounts is a point-in-time snapshot of job counts per state.
type JobCounts struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// JobsByState groups jobs by their resolved state.
type JobsByState struct {
	Waiting   []Job
	Active    []Job
	Completed []Job
	Failed    []Job
	Delayed   []Job
}

// Add places a job in the bucket for its resolved state.
func (g *JobsByState) Add(j Job, now time.Time) {
	switch j.StateAt(now) {
	case JobStateWaiting:
		g.Waiting = append(g.Waiting, j)
	case JobStateDelayed:
		g.Delayed = append(g.Delayed, j)
	case JobStateActive:
		g.Active = append(g.Active, j)
	case JobStateCompleted:
		g.Completed = append(g.Completed, j)
	case JobStateFailed:
		g.Failed = append(g.Failed, j)
	}
}

// PurgeResult reports an age-based purge of terminal jobs.
type PurgeResult struct {
	Cleaned int
	Total   int
}

// PurgeAllResult reports removed jobs per state.
type PurgeAllResult struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
	Total     int
}

// SyncBuildingPayload is the payload of a sync-building job.
type SyncBuildingPayload struct {
	BuildingID   int64  `json:"buildingId"`
	BuildingName string `json:"buildingName,omitempty"`
	SaleOrderID  int64  `json:"saleOrderId,omitempty"`
}
