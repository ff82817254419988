package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// DefaultTestJobDelay is the delay of a manually enqueued test job.
const DefaultTestJobDelay = 5 * time.Second

// JobHandler processes one claimed job. The returned value is stored as the
// job result; a returned error fails the attempt and lets the queue retry it.
type JobHandler interface {
	Handle(ctx context.Context, job model.Job) (any, error)
}

// QueueConfig configures QueueService.
type QueueConfig struct {
	Workers      int
	PollInterval time.Duration
	StallTimeout time.Duration
	Retry        model.RetryPolicy
}

// JobView is a job annotated with the time left until it becomes due.
type JobView struct {
	model.Job
	ProcessAt time.Time
	Remaining time.Duration
}

// JobListing groups job views by resolved state.
type JobListing struct {
	Waiting   []JobView
	Active    []JobView
	Completed []JobView
	Failed    []JobView
	Delayed   []JobView
}

// QueueService runs the worker pool that drains the job queue and exposes the
// queue's administrative operations.
type QueueService struct {
	queue    driven.JobQueue
	cfg      QueueConfig
	handlers map[string]JobHandler
	now      func() time.Time
	logger   *slog.Logger
}

// NewQueueService creates a QueueService. Handlers must be registered before Run.
func NewQueueService(queue driven.JobQueue, cfg QueueConfig, logger *slog.Logger) *QueueService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = model.DefaultRetryPolicy()
	}
	return &QueueService{
		queue:    queue,
		cfg:      cfg,
		handlers: make(map[string]JobHandler),
		now:      time.Now,
		logger:   logger.With("component", "queue"),
	}
}

// Register binds a handler to a job name.
func (s *QueueService) Register(name string, h JobHandler) {
	s.handlers[name] = h
}

// Run recovers jobs orphaned by a previous process, then runs the workers and
// the stall detector until ctx is canceled. A job whose handler fails because
// of the cancellation is released back to the queue without using an attempt.
func (s *QueueService) Run(ctx context.Context) error {
	recovered, err := s.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if recovered > 0 {
		s.logger.Warn("re-queued jobs left active by a previous run", "count", recovered)
	}

	var wg sync.WaitGroup
	for i := range s.cfg.Workers {
		workerID := fmt.Sprintf("%s-%d", uuid.NewString()[:8], i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx, workerID)
		}()
	}

	if s.cfg.StallTimeout > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watchStalled(ctx)
		}()
	}

	s.logger.Info("queue workers started", "workers", s.cfg.Workers, "poll_interval", s.cfg.PollInterval)
	wg.Wait()
	s.logger.Info("queue workers stopped")
	return nil
}

func (s *QueueService) work(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		job, err := s.queue.Claim(ctx, workerID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("claim failed", "worker", workerID, "error", err)
			}
		}
		if job != nil {
			s.process(ctx, *job)
			continue
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// process runs the handler for a claimed job and settles the attempt.
func (s *QueueService) process(ctx context.Context, job model.Job) {
	logger := s.logger.With("job_id", job.ID, "job_name", job.Name, "attempt", job.Attempts)
	logger.Info("job active")

	start := time.Now()
	result, err := s.runHandler(ctx, job)
	jobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	// Settle even when ctx was canceled mid-run so the attempt is recorded.
	settleCtx := context.WithoutCancel(ctx)

	if err == nil {
		var raw json.RawMessage
		if result != nil {
			raw, err = json.Marshal(result)
			if err != nil {
				err = fmt.Errorf("encode job result: %w", err)
			}
		}
		if err == nil {
			if cerr := s.queue.Complete(settleCtx, job.ID, raw); cerr != nil {
				s.logSettleError(logger, "complete job failed", cerr)
				return
			}
			jobsProcessedTotal.WithLabelValues(job.Name, outcomeCompleted).Inc()
			logger.Info("job completed", "result", string(raw))
			return
		}
	}

	// A stop mid-run is not a failed attempt. Hand the job back so the next
	// run picks it up without spending one of its attempts.
	if ctx.Err() != nil {
		if rerr := s.queue.Release(settleCtx, job.ID); rerr != nil {
			s.logSettleError(logger, "release job failed", rerr, "cause", err)
			return
		}
		jobsProcessedTotal.WithLabelValues(job.Name, outcomeReleased).Inc()
		logger.Info("job released on shutdown", "cause", err)
		return
	}

	failed, ferr := s.queue.Fail(settleCtx, job.ID, err.Error())
	if ferr != nil {
		s.logSettleError(logger, "fail job failed", ferr, "cause", err)
		return
	}

	if failed.State == model.JobStateFailed {
		jobsProcessedTotal.WithLabelValues(job.Name, outcomeFailed).Inc()
		logger.Error("job failed", "error", err, "attempts", failed.Attempts)
		return
	}

	jobsProcessedTotal.WithLabelValues(job.Name, outcomeRetried).Inc()
	logger.Warn("job attempt failed, retrying", "error", err, "next_run", failed.RunAt)
}

// logSettleError reports a failed Complete or Fail. A job replaced by a newer
// one with the same dedup key while it ran is gone, which is expected.
func (s *QueueService) logSettleError(logger *slog.Logger, msg string, err error, args ...any) {
	if errors.Is(err, driven.ErrJobNotFound) {
		logger.Info("job replaced while running, result dropped")
		return
	}
	logger.Error(msg, append([]any{"error", err}, args...)...)
}

func (s *QueueService) runHandler(ctx context.Context, job model.Job) (result any, err error) {
	h, ok := s.handlers[job.Name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job %q", job.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, job)
}

func (s *QueueService) watchStalled(ctx context.Context) {
	interval := max(s.cfg.StallTimeout/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckStalled(ctx)
		}
	}
}

// CheckStalled logs active jobs that have run longer than the stall timeout.
// Stalled jobs are reported only; recovery is left to operators or a restart.
func (s *QueueService) CheckStalled(ctx context.Context) int {
	stalled, err := s.queue.Stalled(ctx, s.now().Add(-s.cfg.StallTimeout))
	if err != nil {
		s.logger.Error("stall check failed", "error", err)
		return 0
	}

	jobsStalled.Set(float64(len(stalled)))
	for _, j := range stalled {
		s.logger.Warn("job stalled",
			"job_id", j.ID,
			"job_name", j.Name,
			"worker", j.WorkerID,
			"active_since", j.ProcessedAt,
		)
	}
	return len(stalled)
}

// Schedule enqueues a job, applying the default retry policy when the JobSpec carries none.
func (s *QueueService) Schedule(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	if spec.Retry.MaxAttempts < 1 {
		spec.Retry = s.cfg.Retry
	}

	job, err := s.queue.Schedule(ctx, spec)
	if err != nil {
		return model.Job{}, err
	}

	jobsScheduledTotal.Inc()
	s.logger.Info("job scheduled",
		"job_id", job.ID,
		"job_name", job.Name,
		"dedup_key", job.DedupKey,
		"run_at", job.RunAt,
	)
	return job, nil
}

// ScheduleTestJob enqueues a one-off sync of a building. Its dedup key is
// unique per call so it never replaces a scheduled job.
func (s *QueueService) ScheduleTestJob(ctx context.Context, buildingID int64, delay time.Duration) (model.Job, error) {
	if delay <= 0 {
		delay = DefaultTestJobDelay
	}

	payload, err := json.Marshal(model.SyncBuildingPayload{BuildingID: buildingID})
	if err != nil {
		return model.Job{}, fmt.Errorf("encode payload: %w", err)
	}

	return s.Schedule(ctx, model.JobSpec{
		Name:     model.JobNameSyncBuilding,
		DedupKey: fmt.Sprintf("test-sync-%d-%d", buildingID, s.now().UnixMilli()),
		Payload:  payload,
		Delay:    delay,
	})
}

// Counts returns per-state job counts.
func (s *QueueService) Counts(ctx context.Context) (model.JobCounts, error) {
	return s.queue.Counts(ctx)
}

// ListAll returns every job grouped by state with its remaining time to fire.
func (s *QueueService) ListAll(ctx context.Context) (JobListing, error) {
	grouped, err := s.queue.List(ctx)
	if err != nil {
		return JobListing{}, err
	}

	now := s.now()
	views := func(jobs []model.Job) []JobView {
		out := make([]JobView, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, JobView{Job: j, ProcessAt: j.RunAt, Remaining: j.Remaining(now)})
		}
		return out
	}

	return JobListing{
		Waiting:   views(grouped.Waiting),
		Active:    views(grouped.Active),
		Completed: views(grouped.Completed),
		Failed:    views(grouped.Failed),
		Delayed:   views(grouped.Delayed),
	}, nil
}

// PurgeOlderThan removes completed and failed jobs finished more than the
// given number of hours ago.
func (s *QueueService) PurgeOlderThan(ctx context.Context, hours int) (model.PurgeResult, error) {
	if hours < 0 {
		return model.PurgeResult{}, errors.New("age in hours must not be negative")
	}

	result, err := s.queue.PurgeOlderThan(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		return model.PurgeResult{}, err
	}

	s.logger.Info("old jobs purged", "age_hours", hours, "cleaned", result.Cleaned, "total", result.Total)
	return result, nil
}

// PurgeAll removes every job in every state.
func (s *QueueService) PurgeAll(ctx context.Context) (model.PurgeAllResult, error) {
	result, err := s.queue.PurgeAll(ctx)
	if err != nil {
		return model.PurgeAllResult{}, err
	}

	s.logger.Warn("all jobs purged", "total", result.Total)
	return result, nil
}
