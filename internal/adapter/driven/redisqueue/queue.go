// Package redisqueue implements the durable job queue on Redis. Each job is a
// hash; per-state sorted sets index job ids by their relevant timestamp and a
// string key per dedup key points at the single live job holding it. State
// transitions run as Lua scripts so each one is atomic.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobQueue = (*Queue)(nil)

// DefaultPrefix namespaces all queue keys.
const DefaultPrefix = "ordersync:queue:"

// Queue is the Redis implementation of the JobQueue port interface.
type Queue struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

// New creates a Queue on the given client. An empty prefix uses DefaultPrefix.
func New(rdb redis.Cmdable, prefix string) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{rdb: rdb, prefix: prefix, now: time.Now}
}

// Connect opens a client from a redis:// URL and verifies it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w: %w", driven.ErrQueueUnavailable, err)
	}

	return rdb, nil
}

func (q *Queue) key(name string) string { return q.prefix + name }
func (q *Queue) jobKey(id string) string { return q.prefix + "job:" + id }

func (q *Queue) waitingKey() string   { return q.key("waiting") }
func (q *Queue) activeKey() string    { return q.key("active") }
func (q *Queue) completedKey() string { return q.key("completed") }
func (q *Queue) failedKey() string    { return q.key("failed") }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, driven.ErrQueueUnavailable, err)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Schedule replaces any live job sharing the dedup key with a new waiting job.
func (q *Queue) Schedule(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	job := newJob(spec, q.now().UTC())

	args := []any{q.prefix, job.ID, job.DedupKey, millis(job.RunAt)}
	args = append(args, encodeJob(job)...)

	err := scheduleScript.Run(ctx, q.rdb, []string{q.waitingKey(), q.activeKey()}, args...).Err()
	if err != nil {
		return model.Job{}, unavailable("schedule job "+job.ID, err)
	}

	return job, nil
}

// Claim activates the earliest due waiting job.
func (q *Queue) Claim(ctx context.Context, workerID string) (*model.Job, error) {
	now := q.now().UTC()

	id, err := claimScript.Run(ctx, q.rdb, []string{q.waitingKey(), q.activeKey()},
		q.prefix, millis(now), workerID).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("claim job", err)
	}

	job, err := q.get(ctx, id)
	if err != nil {
		return nil, err
	}
	// A job replaced right after the claim is gone; nothing to run.
	if job == nil {
		return nil, nil
	}

	return job, nil
}

// Complete marks an active job completed.
func (q *Queue) Complete(ctx context.Context, id string, result json.RawMessage) error {
	n, err := completeScript.Run(ctx, q.rdb, []string{q.activeKey(), q.completedKey()},
		q.prefix, id, millis(q.now().UTC()), string(result)).Int()
	if err != nil {
		return unavailable("complete job "+id, err)
	}
	if n == 0 {
		return fmt.Errorf("complete job %s: %w", id, driven.ErrJobNotFound)
	}
	return nil
}

// Fail records a failed attempt, re-queueing with backoff while attempts remain.
func (q *Queue) Fail(ctx context.Context, id string, reason string) (model.Job, error) {
	now := q.now().UTC()

	job, err := q.get(ctx, id)
	if err != nil {
		return model.Job{}, err
	}
	if job == nil || job.State != model.JobStateActive {
		return model.Job{}, fmt.Errorf("fail job %s: %w", id, driven.ErrJobNotFound)
	}

	terminal := job.Attempts >= job.Retry.MaxAttempts
	job.FailedReason = reason
	job.WorkerID = ""
	if terminal {
		job.State = model.JobStateFailed
		job.FinishedAt = now
	} else {
		job.State = model.JobStateWaiting
		job.RunAt = now.Add(job.Retry.Delay(job.Attempts))
	}

	flag := "0"
	if terminal {
		flag = "1"
	}

	n, err := failScript.Run(ctx, q.rdb,
		[]string{q.waitingKey(), q.activeKey(), q.failedKey()},
		q.prefix, id, millis(now), reason, strconv.Itoa(job.Attempts), flag, millis(job.RunAt),
	).Int()
	if err != nil {
		return model.Job{}, unavailable("fail job "+id, err)
	}
	if n == 0 {
		return model.Job{}, fmt.Errorf("fail job %s: %w", id, driven.ErrJobNotFound)
	}

	return *job, nil
}

// Release returns an active job to waiting and takes back its attempt.
func (q *Queue) Release(ctx context.Context, id string) error {
	n, err := releaseScript.Run(ctx, q.rdb, []string{q.waitingKey(), q.activeKey()},
		q.prefix, id, millis(q.now().UTC())).Int()
	if err != nil {
		return unavailable("release job "+id, err)
	}
	if n == 0 {
		return fmt.Errorf("release job %s: %w", id, driven.ErrJobNotFound)
	}
	return nil
}

// Counts returns per-state counts, splitting waiting jobs into waiting and delayed.
func (q *Queue) Counts(ctx context.Context) (model.JobCounts, error) {
	now := millis(q.now().UTC())

	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCount(ctx, q.waitingKey(), "-inf", now)
	delayed := pipe.ZCount(ctx, q.waitingKey(), "("+now, "+inf")
	active := pipe.ZCard(ctx, q.activeKey())
	completed := pipe.ZCard(ctx, q.completedKey())
	failed := pipe.ZCard(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return model.JobCounts{}, unavailable("count jobs", err)
	}

	return model.JobCounts{
		Waiting:   int(waiting.Val()),
		Delayed:   int(delayed.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}

// List returns every job grouped by resolved state.
func (q *Queue) List(ctx context.Context) (model.JobsByState, error) {
	var ids []string
	for _, set := range []string{q.waitingKey(), q.activeKey(), q.completedKey(), q.failedKey()} {
		members, err := q.rdb.ZRange(ctx, set, 0, -1).Result()
		if err != nil {
			return model.JobsByState{}, unavailable("list jobs", err)
		}
		ids = append(ids, members...)
	}

	jobs, err := q.getMany(ctx, ids)
	if err != nil {
		return model.JobsByState{}, err
	}

	now := q.now().UTC()
	var grouped model.JobsByState
	for _, j := range jobs {
		grouped.Add(j, now)
	}

	return grouped, nil
}

// PurgeOlderThan removes terminal jobs finished more than age ago.
func (q *Queue) PurgeOlderThan(ctx context.Context, age time.Duration) (model.PurgeResult, error) {
	cutoff := q.now().UTC().Add(-age)

	vals, err := purgeOlderScript.Run(ctx, q.rdb, []string{q.completedKey(), q.failedKey()},
		q.prefix, millis(cutoff)).Int64Slice()
	if err != nil {
		return model.PurgeResult{}, unavailable("purge jobs", err)
	}
	if len(vals) != 2 {
		return model.PurgeResult{}, fmt.Errorf("purge jobs: unexpected reply length %d", len(vals))
	}

	return model.PurgeResult{Cleaned: int(vals[0]), Total: int(vals[1])}, nil
}

// PurgeAll removes every job and reports how many were removed per resolved state.
func (q *Queue) PurgeAll(ctx context.Context) (model.PurgeAllResult, error) {
	keys := []string{q.waitingKey(), q.activeKey(), q.completedKey(), q.failedKey()}

	vals, err := purgeAllScript.Run(ctx, q.rdb, keys, q.prefix, millis(q.now().UTC())).Int64Slice()
	if err != nil {
		return model.PurgeAllResult{}, unavailable("purge all jobs", err)
	}
	if len(vals) != 5 {
		return model.PurgeAllResult{}, fmt.Errorf("purge all jobs: unexpected reply length %d", len(vals))
	}

	result := model.PurgeAllResult{
		Waiting:   int(vals[0]),
		Delayed:   int(vals[1]),
		Active:    int(vals[2]),
		Completed: int(vals[3]),
		Failed:    int(vals[4]),
	}
	result.Total = result.Waiting + result.Delayed + result.Active + result.Completed + result.Failed

	return result, nil
}

// Recover returns jobs left active by a previous process to the waiting state
// and rebuilds the dedup index from live jobs.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, q.rdb, []string{q.waitingKey(), q.activeKey()},
		q.prefix, millis(q.now().UTC())).Int()
	if err != nil {
		return 0, unavailable("recover jobs", err)
	}
	return n, nil
}

// Stalled returns active jobs claimed before the cutoff.
func (q *Queue) Stalled(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + millis(cutoff.UTC()),
	}).Result()
	if err != nil {
		return nil, unavailable("list stalled jobs", err)
	}

	return q.getMany(ctx, ids)
}

func (q *Queue) get(ctx context.Context, id string) (*model.Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, unavailable("get job "+id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	job, err := decodeJob(fields)
	if err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) getMany(ctx context.Context, ids []string) ([]model.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("get jobs", err)
	}

	jobs := make([]model.Job, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Removed between the index read and the fetch.
			continue
		}
		job, err := decodeJob(fields)
		if err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, nil
}
