package application_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// --- TokenStore ---

type mockTokenStore struct {
	mu      sync.Mutex
	records []model.Credential
	latest  func() (*model.Credential, error)
	saveErr error
}

func (m *mockTokenStore) Save(_ context.Context, credential string) (model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return model.Credential{}, m.saveErr
	}
	rec := model.Credential{ID: int64(len(m.records) + 1), Value: credential, CreatedAt: time.Now()}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *mockTokenStore) Latest(_ context.Context) (*model.Credential, error) {
	if m.latest != nil {
		return m.latest()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil, nil
	}
	rec := m.records[len(m.records)-1]
	return &rec, nil
}

func (m *mockTokenStore) Prune(_ context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) <= keep {
		return 0, nil
	}
	removed := len(m.records) - keep
	m.records = m.records[removed:]
	return removed, nil
}

// --- MarketClient ---

type mockMarketClient struct {
	csrf           func() (string, error)
	login          func(csrf string) (string, error)
	saleOrders     func(credential string, buildingID int64) ([]model.SaleOrder, error)
	buildings      func(credential string) ([]model.Building, error)
	loginCalls     int
	lastCredential string
}

func (m *mockMarketClient) FetchCSRFToken(_ context.Context) (string, error) {
	if m.csrf == nil {
		return "csrf-token", nil
	}
	return m.csrf()
}

func (m *mockMarketClient) Login(_ context.Context, csrf string) (string, error) {
	m.loginCalls++
	return m.login(csrf)
}

func (m *mockMarketClient) FetchSaleOrders(_ context.Context, credential string, buildingID int64) ([]model.SaleOrder, error) {
	m.lastCredential = credential
	return m.saleOrders(credential, buildingID)
}

func (m *mockMarketClient) FetchBuildings(_ context.Context, credential string) ([]model.Building, error) {
	m.lastCredential = credential
	return m.buildings(credential)
}

// --- OrderStore ---

type mockOrderStore struct {
	mu       sync.Mutex
	upserted []model.SaleOrder
	upsertFn func(model.SaleOrder) error
	latest   func(buildingID int64) (*model.PendingOrder, error)
	pending  []model.PendingOrder

	byID      map[int64]model.SaleOrder
	listFn    func(filter model.OrderFilter, limit, offset int) ([]model.SaleOrder, error)
	listCalls []listCall
	count     int
	countErr  error
	analyzed  int
	prices    []model.ResourcePrices
	pricesErr error
	pricesWin [2]time.Time
}

type listCall struct {
	filter        model.OrderFilter
	limit, offset int
}

func (m *mockOrderStore) Upsert(_ context.Context, order model.SaleOrder) error {
	if m.upsertFn != nil {
		if err := m.upsertFn(order); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, order)
	return nil
}

func (m *mockOrderStore) GetByID(_ context.Context, id int64) (*model.SaleOrder, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *mockOrderStore) LatestUnresolved(_ context.Context, buildingID int64) (*model.PendingOrder, error) {
	if m.latest == nil {
		return nil, nil
	}
	return m.latest(buildingID)
}

func (m *mockOrderStore) ListLatestUnresolvedPerGroup(_ context.Context) ([]model.PendingOrder, error) {
	return m.pending, nil
}

func (m *mockOrderStore) List(_ context.Context, filter model.OrderFilter, limit, offset int) ([]model.SaleOrder, error) {
	m.mu.Lock()
	m.listCalls = append(m.listCalls, listCall{filter: filter, limit: limit, offset: offset})
	m.mu.Unlock()
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn(filter, limit, offset)
}

func (m *mockOrderStore) Count(_ context.Context, _ model.OrderFilter) (int, error) {
	return m.count, m.countErr
}

func (m *mockOrderStore) ResourcePrices(_ context.Context, from, before time.Time) (int, []model.ResourcePrices, error) {
	m.pricesWin = [2]time.Time{from, before}
	return m.analyzed, m.prices, m.pricesErr
}

// --- BuildingStore ---

type mockBuildingStore struct {
	groups    []model.SyncGroup
	listErr   error
	existing  map[int64]bool
	upserted  []model.Building
	upsertErr error
	all       []model.Building
}

func (m *mockBuildingStore) Upsert(_ context.Context, b model.Building) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	if m.existing == nil {
		m.existing = make(map[int64]bool)
	}
	created := !m.existing[b.ID]
	m.existing[b.ID] = true
	m.upserted = append(m.upserted, b)
	return created, nil
}

func (m *mockBuildingStore) GetByID(_ context.Context, id int64) (*model.Building, error) {
	for _, b := range m.all {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *mockBuildingStore) List(_ context.Context) ([]model.Building, error) {
	return m.all, m.listErr
}

func (m *mockBuildingStore) ListSyncGroups(_ context.Context) ([]model.SyncGroup, error) {
	return m.groups, m.listErr
}

// --- JobScheduler ---

type mockJobScheduler struct {
	mu    sync.Mutex
	specs []model.JobSpec
	err   error
}

func (m *mockJobScheduler) Schedule(_ context.Context, spec model.JobSpec) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.Job{}, m.err
	}
	m.specs = append(m.specs, spec)
	return model.Job{ID: "job-" + spec.DedupKey, Name: spec.Name, DedupKey: spec.DedupKey}, nil
}

// --- JobQueue ---

type failCall struct {
	id     string
	reason string
}

type completeCall struct {
	id     string
	result json.RawMessage
}

type mockJobQueue struct {
	mu        sync.Mutex
	pending   []model.Job
	completed []completeCall
	failed    []failCall
	released  []string
	scheduled []model.JobSpec
	failState model.JobState
	recovered int
	stalled   []model.Job
	counts    model.JobCounts
	list      model.JobsByState
	purge     model.PurgeResult
	purgeAge  time.Duration
	purgeAll  model.PurgeAllResult
	err       error
	gone      map[string]bool
	settled   chan struct{}
}

func newMockJobQueue(jobs ...model.Job) *mockJobQueue {
	return &mockJobQueue{pending: jobs, failState: model.JobStateWaiting, settled: make(chan struct{}, 16)}
}

func (m *mockJobQueue) Schedule(_ context.Context, spec model.JobSpec) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.Job{}, m.err
	}
	m.scheduled = append(m.scheduled, spec)
	return model.Job{ID: "job-1", Name: spec.Name, DedupKey: spec.DedupKey, Payload: spec.Payload, Retry: spec.Retry}, nil
}

func (m *mockJobQueue) Claim(_ context.Context, workerID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, nil
	}
	job := m.pending[0]
	m.pending = m.pending[1:]
	job.State = model.JobStateActive
	job.Attempts++
	job.WorkerID = workerID
	return &job, nil
}

func (m *mockJobQueue) Complete(_ context.Context, id string, result json.RawMessage) error {
	m.mu.Lock()
	m.completed = append(m.completed, completeCall{id: id, result: result})
	gone := m.gone[id]
	m.mu.Unlock()
	m.settled <- struct{}{}
	if gone {
		return fmt.Errorf("complete job %s: %w", id, driven.ErrJobNotFound)
	}
	return nil
}

func (m *mockJobQueue) Fail(_ context.Context, id string, reason string) (model.Job, error) {
	m.mu.Lock()
	m.failed = append(m.failed, failCall{id: id, reason: reason})
	state := m.failState
	m.mu.Unlock()
	m.settled <- struct{}{}
	return model.Job{ID: id, State: state, Attempts: 1}, nil
}

func (m *mockJobQueue) Release(_ context.Context, id string) error {
	m.mu.Lock()
	m.released = append(m.released, id)
	m.mu.Unlock()
	m.settled <- struct{}{}
	return nil
}

func (m *mockJobQueue) Counts(_ context.Context) (model.JobCounts, error) {
	return m.counts, m.err
}

func (m *mockJobQueue) List(_ context.Context) (model.JobsByState, error) {
	return m.list, m.err
}

func (m *mockJobQueue) PurgeOlderThan(_ context.Context, age time.Duration) (model.PurgeResult, error) {
	m.purgeAge = age
	return m.purge, m.err
}

func (m *mockJobQueue) PurgeAll(_ context.Context) (model.PurgeAllResult, error) {
	return m.purgeAll, m.err
}

func (m *mockJobQueue) Recover(_ context.Context) (int, error) {
	return m.recovered, m.err
}

func (m *mockJobQueue) Stalled(_ context.Context, _ time.Time) ([]model.Job, error) {
	return m.stalled, m.err
}
