package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobQueue = (*JobQueue)(nil)

// JobQueue is a durable delayed job broker on SQLite. A delayed job is stored as
// waiting with a future run_at. All mutations go through the single writer
// connection, so each transaction is serialized, and the partial unique index
// idx_jobs_live_dedup rejects a second live job for the same dedup key.
type JobQueue struct {
	db  *DB
	now func() time.Time
}

// NewJobQueue creates a new JobQueue backed by the given DB.
func NewJobQueue(db *DB) *JobQueue {
	return &JobQueue{db: db, now: time.Now}
}

const jobColumns = `id, name, dedup_key, payload, state, attempts, max_attempts, backoff_ms,
	delay_ms, created_at, run_at, processed_at, finished_at, failed_reason, result, worker_id`

// Schedule replaces any live job sharing the dedup key with a new waiting job.
func (q *JobQueue) Schedule(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	now := q.now().UTC()
	job := newJob(spec, now)

	payload := string(job.Payload)

	tx, err := q.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const remove = `DELETE FROM jobs WHERE dedup_key = ? AND state IN ('waiting', 'active')`
	if _, err := tx.ExecContext(ctx, remove, job.DedupKey); err != nil {
		return model.Job{}, fmt.Errorf("remove live jobs for key %s: %w", job.DedupKey, err)
	}

	const insert = `
		INSERT INTO jobs (id, name, dedup_key, payload, state, attempts, max_attempts,
			backoff_ms, delay_ms, created_at, run_at)
		VALUES (?, ?, ?, ?, 'waiting', 0, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		job.ID, job.Name, job.DedupKey, payload, job.Retry.MaxAttempts,
		job.Retry.BackoffBase.Milliseconds(), job.Delay.Milliseconds(),
		job.CreatedAt.UnixMilli(), job.RunAt.UnixMilli(),
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("insert job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Job{}, fmt.Errorf("commit job %s: %w", job.ID, err)
	}

	return job, nil
}

// Claim activates the earliest due waiting job.
func (q *JobQueue) Claim(ctx context.Context, workerID string) (*model.Job, error) {
	now := q.now().UTC().UnixMilli()

	query := `
		UPDATE jobs
		SET state = 'active', attempts = attempts + 1, processed_at = ?, worker_id = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'waiting' AND run_at <= ?
			ORDER BY run_at, created_at
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := scanJob(q.db.Writer.QueryRowContext(ctx, query, now, workerID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	return job, nil
}

// Complete marks an active job completed.
func (q *JobQueue) Complete(ctx context.Context, id string, result json.RawMessage) error {
	const query = `
		UPDATE jobs SET state = 'completed', finished_at = ?, result = ?
		WHERE id = ? AND state = 'active'
	`

	var stored sql.NullString
	if len(result) > 0 {
		stored = sql.NullString{String: string(result), Valid: true}
	}

	res, err := q.db.Writer.ExecContext(ctx, query, q.now().UTC().UnixMilli(), stored, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("complete job %s: %w", id, driven.ErrJobNotFound)
	}

	return nil
}

// Fail records a failed attempt, re-queueing with backoff while attempts remain.
func (q *JobQueue) Fail(ctx context.Context, id string, reason string) (model.Job, error) {
	now := q.now().UTC()

	tx, err := q.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ? AND state = 'active'`
	job, err := scanJob(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("fail job %s: %w", id, driven.ErrJobNotFound)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("fail job %s: %w", id, err)
	}

	job.FailedReason = reason
	job.WorkerID = ""

	if job.Attempts >= job.Retry.MaxAttempts {
		job.State = model.JobStateFailed
		job.FinishedAt = now
		const update = `
			UPDATE jobs SET state = 'failed', finished_at = ?, failed_reason = ?, worker_id = ''
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, update, now.UnixMilli(), reason, id); err != nil {
			return model.Job{}, fmt.Errorf("mark job %s failed: %w", id, err)
		}
	} else {
		job.State = model.JobStateWaiting
		job.RunAt = now.Add(job.Retry.Delay(job.Attempts))
		const update = `
			UPDATE jobs SET state = 'waiting', run_at = ?, failed_reason = ?, worker_id = ''
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, update, job.RunAt.UnixMilli(), reason, id); err != nil {
			return model.Job{}, fmt.Errorf("requeue job %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Job{}, fmt.Errorf("commit job %s: %w", id, err)
	}

	return *job, nil
}

// Release returns an active job to waiting and takes back its attempt.
func (q *JobQueue) Release(ctx context.Context, id string) error {
	const query = `
		UPDATE jobs SET state = 'waiting', attempts = MAX(attempts - 1, 0), run_at = ?, worker_id = ''
		WHERE id = ? AND state = 'active'
	`

	res, err := q.db.Writer.ExecContext(ctx, query, q.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("release job %s: %w", id, driven.ErrJobNotFound)
	}

	return nil
}

// Counts returns per-state counts, splitting waiting jobs into waiting and delayed.
func (q *JobQueue) Counts(ctx context.Context) (model.JobCounts, error) {
	const query = `
		SELECT CASE WHEN state = 'waiting' AND run_at > ? THEN 'delayed' ELSE state END AS s, COUNT(*)
		FROM jobs
		GROUP BY s
	`

	rows, err := q.db.Reader.QueryContext(ctx, query, q.now().UTC().UnixMilli())
	if err != nil {
		return model.JobCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var counts model.JobCounts
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return model.JobCounts{}, fmt.Errorf("scan job count: %w", err)
		}
		switch model.JobState(state) {
		case model.JobStateWaiting:
			counts.Waiting = n
		case model.JobStateDelayed:
			counts.Delayed = n
		case model.JobStateActive:
			counts.Active = n
		case model.JobStateCompleted:
			counts.Completed = n
		case model.JobStateFailed:
			counts.Failed = n
		}
	}

	if err := rows.Err(); err != nil {
		return model.JobCounts{}, fmt.Errorf("iterate job counts: %w", err)
	}

	return counts, nil
}

// List returns every job grouped by resolved state, oldest first.
func (q *JobQueue) List(ctx context.Context) (model.JobsByState, error) {
	jobs, err := q.query(ctx, q.db.Reader, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return model.JobsByState{}, fmt.Errorf("list jobs: %w", err)
	}

	now := q.now().UTC()
	var grouped model.JobsByState
	for _, j := range jobs {
		grouped.Add(j, now)
	}

	return grouped, nil
}

// PurgeOlderThan removes terminal jobs finished more than age ago. Total is the
// number of terminal jobs examined.
func (q *JobQueue) PurgeOlderThan(ctx context.Context, age time.Duration) (model.PurgeResult, error) {
	cutoff := q.now().UTC().Add(-age).UnixMilli()

	tx, err := q.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.PurgeResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var result model.PurgeResult
	const count = `SELECT COUNT(*) FROM jobs WHERE state IN ('completed', 'failed')`
	if err := tx.QueryRowContext(ctx, count).Scan(&result.Total); err != nil {
		return model.PurgeResult{}, fmt.Errorf("count terminal jobs: %w", err)
	}

	const purge = `
		DELETE FROM jobs
		WHERE state IN ('completed', 'failed') AND finished_at IS NOT NULL AND finished_at < ?
	`
	res, err := tx.ExecContext(ctx, purge, cutoff)
	if err != nil {
		return model.PurgeResult{}, fmt.Errorf("purge jobs: %w", err)
	}
	cleaned, err := res.RowsAffected()
	if err != nil {
		return model.PurgeResult{}, fmt.Errorf("check rows affected: %w", err)
	}
	result.Cleaned = int(cleaned)

	if err := tx.Commit(); err != nil {
		return model.PurgeResult{}, fmt.Errorf("commit purge: %w", err)
	}

	return result, nil
}

// PurgeAll removes every job and reports how many were removed per resolved state.
func (q *JobQueue) PurgeAll(ctx context.Context) (model.PurgeAllResult, error) {
	now := q.now().UTC().UnixMilli()

	tx, err := q.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.PurgeAllResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const count = `
		SELECT CASE WHEN state = 'waiting' AND run_at > ? THEN 'delayed' ELSE state END AS s, COUNT(*)
		FROM jobs
		GROUP BY s
	`
	rows, err := tx.QueryContext(ctx, count, now)
	if err != nil {
		return model.PurgeAllResult{}, fmt.Errorf("count jobs: %w", err)
	}

	var result model.PurgeAllResult
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return model.PurgeAllResult{}, fmt.Errorf("scan job count: %w", err)
		}
		switch model.JobState(state) {
		case model.JobStateWaiting:
			result.Waiting = n
		case model.JobStateDelayed:
			result.Delayed = n
		case model.JobStateActive:
			result.Active = n
		case model.JobStateCompleted:
			result.Completed = n
		case model.JobStateFailed:
			result.Failed = n
		}
		result.Total += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return model.PurgeAllResult{}, fmt.Errorf("iterate job counts: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return model.PurgeAllResult{}, fmt.Errorf("purge all jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.PurgeAllResult{}, fmt.Errorf("commit purge: %w", err)
	}

	return result, nil
}

// Recover returns jobs left active by a previous process to the waiting state,
// due immediately. The attempt that was in flight stays counted.
func (q *JobQueue) Recover(ctx context.Context) (int, error) {
	const query = `UPDATE jobs SET state = 'waiting', run_at = ?, worker_id = '' WHERE state = 'active'`

	res, err := q.db.Writer.ExecContext(ctx, query, q.now().UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("recover active jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return int(n), nil
}

// Stalled returns active jobs claimed before the cutoff.
func (q *JobQueue) Stalled(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = 'active' AND processed_at < ? ORDER BY processed_at`

	jobs, err := q.query(ctx, q.db.Reader, query, cutoff.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list stalled jobs: %w", err)
	}

	return jobs, nil
}

func (q *JobQueue) query(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Job, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

// newJob builds a waiting job from a spec. An empty dedup key falls back to the
// job id so the job never collides with another.
func newJob(spec model.JobSpec, now time.Time) model.Job {
	retry := spec.Retry
	if retry.MaxAttempts < 1 {
		retry = model.DefaultRetryPolicy()
	}

	delay := spec.Delay
	if delay < 0 {
		delay = 0
	}

	payload := spec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	id := uuid.NewString()
	key := spec.DedupKey
	if key == "" {
		key = id
	}

	// Stored timestamps have millisecond precision.
	now = now.Truncate(time.Millisecond)

	return model.Job{
		ID:        id,
		Name:      spec.Name,
		DedupKey:  key,
		Payload:   payload,
		State:     model.JobStateWaiting,
		Retry:     retry,
		Delay:     delay,
		CreatedAt: now,
		RunAt:     now.Add(delay).Truncate(time.Millisecond),
	}
}

func scanJob(s scanner) (*model.Job, error) {
	var (
		j                       model.Job
		payload, state          string
		backoffMs, delayMs      int64
		createdAt, runAt        int64
		processedAt, finishedAt sql.NullInt64
		result                  sql.NullString
	)
	err := s.Scan(&j.ID, &j.Name, &j.DedupKey, &payload, &state, &j.Attempts,
		&j.Retry.MaxAttempts, &backoffMs, &delayMs, &createdAt, &runAt,
		&processedAt, &finishedAt, &j.FailedReason, &result, &j.WorkerID)
	if err != nil {
		return nil, err
	}

	j.Payload = json.RawMessage(payload)
	j.State = model.JobState(state)
	j.Retry.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	j.Delay = time.Duration(delayMs) * time.Millisecond
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	j.RunAt = time.UnixMilli(runAt).UTC()
	if processedAt.Valid {
		j.ProcessedAt = time.UnixMilli(processedAt.Int64).UTC()
	}
	if finishedAt.Valid {
		j.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}

	return &j, nil
}
