package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// ErrCycleRunning is returned when a daily cycle is requested while one is in progress.
var ErrCycleRunning = errors.New("daily cycle already running")

// JobScheduler enqueues jobs. Both driven.JobQueue and QueueService satisfy it.
type JobScheduler interface {
	Schedule(ctx context.Context, spec model.JobSpec) (model.Job, error)
}

// SchedulerConfig configures SyncScheduler.
type SchedulerConfig struct {
	// MaturationOffset is how long after an order starts its remote lifecycle completes.
	MaturationOffset time.Duration
	CronSpec         string
	Location         *time.Location
	Retry            model.RetryPolicy
}

// CycleReport summarizes one daily cycle.
type CycleReport struct {
	Groups    int
	Scheduled int
	Skipped   int
	Failed    int
}

// ScheduleResult reports the outcome of ScheduleGroupSyncAt.
type ScheduleResult struct {
	Success      bool
	Message      string
	ScheduledFor time.Time
	DelayMs      int64
	JobID        string
}

// SyncScheduler turns the newest unresolved order of each sales building into
// one delayed, deduplicated sync job that fires when the order matures.
type SyncScheduler struct {
	jobs      JobScheduler
	buildings driven.BuildingStore
	orders    driven.OrderStore
	cfg       SchedulerConfig
	now       func() time.Time
	logger    *slog.Logger

	cron    *cron.Cron
	running atomic.Bool
}

// NewSyncScheduler creates a new SyncScheduler with all required dependencies.
func NewSyncScheduler(
	jobs JobScheduler,
	buildings driven.BuildingStore,
	orders driven.OrderStore,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *SyncScheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &SyncScheduler{
		jobs:      jobs,
		buildings: buildings,
		orders:    orders,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start registers the daily cycle with the cron runner and starts it. The
// cycle runs with ctx, so canceling ctx aborts an in-flight cycle.
func (s *SyncScheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.cfg.Location))
	_, err := c.AddFunc(s.cfg.CronSpec, func() {
		if _, err := s.RunDailyCycle(ctx); err != nil {
			s.logger.Error("daily cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", s.cfg.CronSpec, err)
	}

	s.cron = c
	c.Start()

	s.logger.Info("daily cycle scheduled",
		"cron", s.cfg.CronSpec,
		"timezone", s.cfg.Location.String(),
		"next_run", c.Entries()[0].Next,
	)
	return nil
}

// Stop halts the cron runner and waits for a running cycle to return.
func (s *SyncScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunDailyCycle schedules a sync job for every sales building whose newest
// unresolved order has not matured yet. Groups are visited sequentially; a
// failure for one group is logged and counted without aborting the rest.
func (s *SyncScheduler) RunDailyCycle(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleRunning
	}
	defer s.running.Store(false)

	start := time.Now()

	groups, err := s.buildings.ListSyncGroups(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("list sync groups: %w", err)
	}

	report := CycleReport{Groups: len(groups)}
	for _, g := range groups {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		switch s.scheduleGroup(ctx, g) {
		case outcomeScheduled:
			report.Scheduled++
		case outcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	s.logger.Info("daily cycle complete",
		"groups", report.Groups,
		"scheduled", report.Scheduled,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return report, nil
}

// scheduleGroup handles a single group and returns its outcome label.
func (s *SyncScheduler) scheduleGroup(ctx context.Context, g model.SyncGroup) string {
	outcome := outcomeFailed
	defer func() { cycleGroupsTotal.WithLabelValues(outcome).Inc() }()

	pending, err := s.orders.LatestUnresolved(ctx, g.ID)
	if err != nil {
		s.logger.Error("pending order lookup failed", "building_id", g.ID, "error", err)
		return outcome
	}
	if pending == nil {
		s.logger.Debug("no unresolved orders", "building_id", g.ID)
		outcome = outcomeSkipped
		return outcome
	}

	now := s.now()
	deadline := pending.StartedAt.Add(s.cfg.MaturationOffset)
	if deadline.Before(now) {
		s.logger.Info("order already matured, skipping",
			"building_id", g.ID,
			"order_id", pending.OrderID,
			"started_at", pending.StartedAt,
			"deadline", deadline,
		)
		outcome = outcomeSkipped
		return outcome
	}

	name := pending.GroupName
	if name == "" {
		name = g.Name
	}

	result := s.ScheduleGroupSyncAt(ctx, g.ID, deadline, name, pending.OrderID)
	if !result.Success {
		s.logger.Warn("group sync not scheduled", "building_id", g.ID, "reason", result.Message)
		return outcome
	}

	outcome = outcomeScheduled
	return outcome
}

// ScheduleGroupSyncAt enqueues a sync-building job for the group to fire at
// executionTime, replacing any live job for the same group and order. A time in
// the past fires as soon as a worker is free. Queue failures are reported in
// the result rather than returned.
func (s *SyncScheduler) ScheduleGroupSyncAt(
	ctx context.Context,
	groupID int64,
	executionTime time.Time,
	groupName string,
	orderID int64,
) ScheduleResult {
	delay := max(executionTime.Sub(s.now()), 0)
	// Millisecond resolution, matching the queue's stored timestamps.
	delay = delay.Truncate(time.Millisecond)

	result := ScheduleResult{
		ScheduledFor: executionTime.UTC(),
		DelayMs:      delay.Milliseconds(),
	}

	payload, err := json.Marshal(model.SyncBuildingPayload{
		BuildingID:   groupID,
		BuildingName: groupName,
		SaleOrderID:  orderID,
	})
	if err != nil {
		result.DelayMs = 0
		result.Message = fmt.Sprintf("encode payload: %v", err)
		return result
	}

	job, err := s.jobs.Schedule(ctx, model.JobSpec{
		Name:     model.JobNameSyncBuilding,
		DedupKey: GroupDedupKey(groupID, orderID),
		Payload:  payload,
		Delay:    delay,
		Retry:    s.cfg.Retry,
	})
	if err != nil {
		s.logger.Error("schedule group sync failed", "building_id", groupID, "error", err)
		result.DelayMs = 0
		result.Message = schedulingFailureMessage(err)
		return result
	}

	s.logger.Info("group sync scheduled",
		"building_id", groupID,
		"order_id", orderID,
		"job_id", job.ID,
		"scheduled_for", result.ScheduledFor,
		"delay", delay,
	)

	result.Success = true
	result.JobID = job.ID
	result.Message = fmt.Sprintf("sync scheduled for building %d", groupID)
	return result
}

// GroupDedupKey is the dedup key of a group's sync job: "<groupID>:<orderID>".
func GroupDedupKey(groupID, orderID int64) string {
	return fmt.Sprintf("%d:%d", groupID, orderID)
}

// schedulingFailureMessage summarizes a queue error without exposing transport detail.
func schedulingFailureMessage(err error) string {
	if errors.Is(err, driven.ErrQueueUnavailable) {
		return "scheduling failed: queue unavailable"
	}
	return "scheduling failed: could not enqueue job"
}
