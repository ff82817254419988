package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/ordersync/internal/application"
	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

type handlerFunc func(ctx context.Context, job model.Job) (any, error)

func (f handlerFunc) Handle(ctx context.Context, job model.Job) (any, error) { return f(ctx, job) }

var queueNow = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func newQueueService(q *mockJobQueue) *application.QueueService {
	svc := application.NewQueueService(q, application.QueueConfig{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		Retry:        model.RetryPolicy{MaxAttempts: 3, BackoffBase: time.Minute},
	}, discardLogger())
	svc.SetClock(fixedClock(queueNow))
	return svc
}

// runUntilSettled runs the service until n jobs have been settled.
func runUntilSettled(t *testing.T, svc *application.QueueService, q *mockJobQueue, n int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	for range n {
		select {
		case <-q.settled:
		case <-time.After(5 * time.Second):
			cancel()
			t.Fatal("timed out waiting for job to settle")
		}
	}
	cancel()
	require.NoError(t, <-done)
}

func TestQueueService_Run_CompletesJob(t *testing.T) {
	q := newMockJobQueue(model.Job{ID: "j1", Name: model.JobNameSyncBuilding})
	svc := newQueueService(q)
	svc.Register(model.JobNameSyncBuilding, handlerFunc(func(_ context.Context, job model.Job) (any, error) {
		assert.Equal(t, 1, job.Attempts)
		return map[string]int{"count": 2}, nil
	}))

	runUntilSettled(t, svc, q, 1)

	require.Len(t, q.completed, 1)
	assert.Equal(t, "j1", q.completed[0].id)
	assert.JSONEq(t, `{"count":2}`, string(q.completed[0].result))
	assert.Empty(t, q.failed)
}

func TestQueueService_Run_FailsOnHandlerError(t *testing.T) {
	q := newMockJobQueue(model.Job{ID: "j1", Name: model.JobNameSyncBuilding})
	svc := newQueueService(q)
	svc.Register(model.JobNameSyncBuilding, handlerFunc(func(context.Context, model.Job) (any, error) {
		return nil, errors.New("remote returned 502")
	}))

	runUntilSettled(t, svc, q, 1)

	require.Len(t, q.failed, 1)
	assert.Equal(t, "remote returned 502", q.failed[0].reason)
	assert.Empty(t, q.completed)
}

func TestQueueService_Run_RecoversHandlerPanic(t *testing.T) {
	q := newMockJobQueue(model.Job{ID: "j1", Name: model.JobNameSyncBuilding})
	q.failState = model.JobStateFailed
	svc := newQueueService(q)
	svc.Register(model.JobNameSyncBuilding, handlerFunc(func(context.Context, model.Job) (any, error) {
		panic("nil map")
	}))

	runUntilSettled(t, svc, q, 1)

	require.Len(t, q.failed, 1)
	assert.True(t, strings.Contains(q.failed[0].reason, "nil map"))
}

func TestQueueService_Run_UnknownJobNameFails(t *testing.T) {
	q := newMockJobQueue(model.Job{ID: "j1", Name: "rebuild-index"})
	svc := newQueueService(q)

	runUntilSettled(t, svc, q, 1)

	require.Len(t, q.failed, 1)
	assert.Contains(t, q.failed[0].reason, "rebuild-index")
}

func TestQueueService_Run_ReplacedJobDoesNotStopWorkers(t *testing.T) {
	q := newMockJobQueue(
		model.Job{ID: "j1", Name: model.JobNameSyncBuilding},
		model.Job{ID: "j2", Name: model.JobNameSyncBuilding},
	)
	q.gone = map[string]bool{"j1": true}
	svc := newQueueService(q)
	svc.Register(model.JobNameSyncBuilding, handlerFunc(func(context.Context, model.Job) (any, error) {
		return nil, nil
	}))

	runUntilSettled(t, svc, q, 2)

	require.Len(t, q.completed, 2)
	assert.Equal(t, "j1", q.completed[0].id)
	assert.Equal(t, "j2", q.completed[1].id)
	assert.Empty(t, q.failed)
}

func TestQueueService_Run_ShutdownReleasesInterruptedJob(t *testing.T) {
	q := newMockJobQueue(model.Job{
		ID:    "j1",
		Name:  model.JobNameSyncBuilding,
		Retry: model.RetryPolicy{MaxAttempts: 1, BackoffBase: time.Minute},
	})
	svc := newQueueService(q)

	started := make(chan struct{})
	svc.Register(model.JobNameSyncBuilding, handlerFunc(func(ctx context.Context, _ model.Job) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("handler never started")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"j1"}, q.released)
	assert.Empty(t, q.failed)
	assert.Empty(t, q.completed)
}

func TestQueueService_Run_RecoverFailureAborts(t *testing.T) {
	q := newMockJobQueue()
	q.err = errors.New("queue unavailable")
	svc := newQueueService(q)

	err := svc.Run(context.Background())

	require.Error(t, err)
}

func TestQueueService_CheckStalled(t *testing.T) {
	q := newMockJobQueue()
	q.stalled = []model.Job{{ID: "j1", Name: model.JobNameSyncBuilding, State: model.JobStateActive}}
	svc := newQueueService(q)

	assert.Equal(t, 1, svc.CheckStalled(context.Background()))
}

func TestQueueService_Schedule_DefaultsRetry(t *testing.T) {
	q := newMockJobQueue()
	svc := newQueueService(q)

	_, err := svc.Schedule(context.Background(), model.JobSpec{Name: model.JobNameSyncBuilding, DedupKey: "10:1"})

	require.NoError(t, err)
	require.Len(t, q.scheduled, 1)
	assert.Equal(t, model.RetryPolicy{MaxAttempts: 3, BackoffBase: time.Minute}, q.scheduled[0].Retry)
}

func TestQueueService_ScheduleTestJob(t *testing.T) {
	q := newMockJobQueue()
	svc := newQueueService(q)

	_, err := svc.ScheduleTestJob(context.Background(), 10, 0)

	require.NoError(t, err)
	require.Len(t, q.scheduled, 1)
	spec := q.scheduled[0]
	assert.Equal(t, application.DefaultTestJobDelay, spec.Delay)
	assert.Equal(t, "test-sync-10-1773122400000", spec.DedupKey)

	var payload model.SyncBuildingPayload
	require.NoError(t, json.Unmarshal(spec.Payload, &payload))
	assert.Equal(t, int64(10), payload.BuildingID)
}

func TestQueueService_ListAll_AnnotatesRemaining(t *testing.T) {
	q := newMockJobQueue()
	q.list = model.JobsByState{
		Delayed: []model.Job{{ID: "d1", RunAt: queueNow.Add(90 * time.Second)}},
		Waiting: []model.Job{{ID: "w1", RunAt: queueNow.Add(-time.Second)}},
	}
	svc := newQueueService(q)

	listing, err := svc.ListAll(context.Background())

	require.NoError(t, err)
	require.Len(t, listing.Delayed, 1)
	assert.Equal(t, 90*time.Second, listing.Delayed[0].Remaining)
	assert.Equal(t, queueNow.Add(90*time.Second), listing.Delayed[0].ProcessAt)
	require.Len(t, listing.Waiting, 1)
	assert.Zero(t, listing.Waiting[0].Remaining)
	assert.Empty(t, listing.Active)
}

func TestQueueService_PurgeOlderThan(t *testing.T) {
	q := newMockJobQueue()
	q.purge = model.PurgeResult{Cleaned: 2, Total: 5}
	svc := newQueueService(q)

	result, err := svc.PurgeOlderThan(context.Background(), 24)

	require.NoError(t, err)
	assert.Equal(t, model.PurgeResult{Cleaned: 2, Total: 5}, result)
	assert.Equal(t, 24*time.Hour, q.purgeAge)

	_, err = svc.PurgeOlderThan(context.Background(), -1)
	require.Error(t, err)
}

func TestQueueService_PurgeAll(t *testing.T) {
	q := newMockJobQueue()
	q.purgeAll = model.PurgeAllResult{Waiting: 1, Failed: 2, Total: 3}
	svc := newQueueService(q)

	result, err := svc.PurgeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
}

func TestQueueService_WithProcessorEndToEnd(t *testing.T) {
	q := newMockJobQueue(syncJob(t, model.SyncBuildingPayload{BuildingID: 10}))
	svc := newQueueService(q)
	syncer := &stubSyncer{result: model.SyncResult{BuildingID: 10, Success: true, Count: 3}}
	svc.Register(model.JobNameSyncBuilding, application.NewSyncProcessor(syncer, discardLogger()))

	runUntilSettled(t, svc, q, 1)

	require.Len(t, q.completed, 1)
	var result application.SyncJobResult
	require.NoError(t, json.Unmarshal(q.completed[0].result, &result))
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Count)
}
