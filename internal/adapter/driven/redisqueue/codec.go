package redisqueue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// newJob builds a waiting job from a spec. An empty dedup key falls back to the
// job id so the job never collides with another.
func newJob(spec model.JobSpec, now time.Time) model.Job {
	retry := spec.Retry
	if retry.MaxAttempts < 1 {
		retry = model.DefaultRetryPolicy()
	}

	delay := max(spec.Delay, 0)

	payload := spec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	id := uuid.NewString()
	key := spec.DedupKey
	if key == "" {
		key = id
	}

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

// encodeJob flattens a new job into HSET field/value pairs.
func encodeJob(j model.Job) []any {
	return []any{
		"id", j.ID,
		"name", j.Name,
		"dedup_key", j.DedupKey,
		"payload", string(j.Payload),
		"state", string(j.State),
		"attempts", strconv.Itoa(j.Attempts),
		"max_attempts", strconv.Itoa(j.Retry.MaxAttempts),
		"backoff_ms", strconv.FormatInt(j.Retry.BackoffBase.Milliseconds(), 10),
		"delay_ms", strconv.FormatInt(j.Delay.Milliseconds(), 10),
		"created_at", millis(j.CreatedAt),
		"run_at", millis(j.RunAt),
	}
}

func decodeJob(f map[string]string) (*model.Job, error) {
	j := model.Job{
		ID:           f["id"],
		Name:         f["name"],
		DedupKey:     f["dedup_key"],
		Payload:      json.RawMessage(f["payload"]),
		State:        model.JobState(f["state"]),
		FailedReason: f["failed_reason"],
		WorkerID:     f["worker_id"],
	}
	if r := f["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"attempts", &j.Attempts},
		{"max_attempts", &j.Retry.MaxAttempts},
	}
	for _, i := range ints {
		v, err := strconv.Atoi(f[i.field])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", i.field, err)
		}
		*i.dst = v
	}

	durations := []struct {
		field string
		dst   *time.Duration
	}{
		{"backoff_ms", &j.Retry.BackoffBase},
		{"delay_ms", &j.Delay},
	}
	for _, d := range durations {
		v, err := strconv.ParseInt(f[d.field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", d.field, err)
		}
		*d.dst = time.Duration(v) * time.Millisecond
	}

	times := []struct {
		field    string
		dst      *time.Time
		optional bool
	}{
		{"created_at", &j.CreatedAt, false},
		{"run_at", &j.RunAt, false},
		{"processed_at", &j.ProcessedAt, true},
		{"finished_at", &j.FinishedAt, true},
	}
	for _, t := range times {
		raw, ok := f[t.field]
		if !ok || raw == "" {
			if t.optional {
				continue
			}
			return nil, fmt.Errorf("field %s missing", t.field)
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", t.field, err)
		}
		*t.dst = time.UnixMilli(v).UTC()
	}

	return &j, nil
}
