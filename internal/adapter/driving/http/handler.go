package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/ordersync/internal/application"
	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// QueueAdmin exposes the job queue's administrative operations.
type QueueAdmin interface {
	ScheduleTestJob(ctx context.Context, buildingID int64, delay time.Duration) (model.Job, error)
	Counts(ctx context.Context) (model.JobCounts, error)
	ListAll(ctx context.Context) (application.JobListing, error)
	PurgeOlderThan(ctx context.Context, hours int) (model.PurgeResult, error)
	PurgeAll(ctx context.Context) (model.PurgeAllResult, error)
}

// CycleScheduler runs the daily cycle and schedules single group syncs.
type CycleScheduler interface {
	RunDailyCycle(ctx context.Context) (application.CycleReport, error)
	ScheduleGroupSyncAt(ctx context.Context, groupID int64, at time.Time, groupName string, orderID int64) application.ScheduleResult
}

// TokenStatus reports the expiry of the stored credential.
type TokenStatus interface {
	Status(ctx context.Context) (*model.ExpirationAssessment, error)
}

// OrderSyncer runs on-demand syncs against the remote API.
type OrderSyncer interface {
	SyncBuilding(ctx context.Context, buildingID int64) (model.SyncResult, error)
	SyncBuildings(ctx context.Context) (model.BuildingSyncResult, error)
	PendingOrders(ctx context.Context) ([]model.PendingOrder, error)
}

// OrderQueries answers read-only queries over stored orders and buildings.
type OrderQueries interface {
	ListOrders(ctx context.Context, filter model.OrderFilter, page, pageSize int) (model.OrderPage, error)
	GetOrder(ctx context.Context, id int64) (*model.SaleOrder, error)
	StatsByDate(ctx context.Context, from, to time.Time, buildingID int64) (model.OrderStats, error)
	AveragePricesByDate(ctx context.Context, day time.Time) (model.DailyPrices, error)
	ListBuildings(ctx context.Context) ([]model.Building, error)
	GetBuilding(ctx context.Context, id int64) (*model.Building, error)
}

// HealthChecker reports the health of the service's dependencies.
type HealthChecker interface {
	Check(ctx context.Context) application.HealthReport
}

// Handler is the HTTP driving adapter that serves the admin API.
type Handler struct {
	queue     QueueAdmin
	scheduler CycleScheduler
	tokens    TokenStatus
	syncer    OrderSyncer
	orders    OrderQueries
	health    HealthChecker
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	queue QueueAdmin,
	scheduler CycleScheduler,
	tokens TokenStatus,
	syncer OrderSyncer,
	orders OrderQueries,
	health HealthChecker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		queue:     queue,
		scheduler: scheduler,
		tokens:    tokens,
		syncer:    syncer,
		orders:    orders,
		health:    health,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging, recovery and, when signer has a key, bearer auth middleware.
func NewServeMux(h *Handler, signer TokenSigner, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/queue/test-job", h.ScheduleTestJob)
	mux.HandleFunc("GET /api/v1/queue/stats", h.QueueStats)
	mux.HandleFunc("GET /api/v1/queue/jobs", h.ListJobs)
	mux.HandleFunc("DELETE /api/v1/queue/clean/{hours}", h.PurgeOlderThan)
	mux.HandleFunc("DELETE /api/v1/queue/clean-all", h.PurgeAll)
	mux.HandleFunc("POST /api/v1/scheduler/run", h.RunCycle)
	mux.HandleFunc("POST /api/v1/scheduler/buildings/{id}", h.ScheduleBuilding)
	mux.HandleFunc("GET /api/v1/token/status", h.TokenStatus)
	mux.HandleFunc("POST /api/v1/sync/buildings", h.SyncBuildings)
	mux.HandleFunc("POST /api/v1/sync/buildings/{id}", h.SyncBuilding)
	mux.HandleFunc("GET /api/v1/orders/pending", h.PendingOrders)
	mux.HandleFunc("GET /api/v1/orders", h.ListOrders)
	mux.HandleFunc("GET /api/v1/orders/stats", h.OrderStats)
	mux.HandleFunc("GET /api/v1/orders/prices/{date}", h.AveragePrices)
	mux.HandleFunc("GET /api/v1/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/v1/buildings", h.ListBuildings)
	mux.HandleFunc("GET /api/v1/buildings/{id}", h.GetBuilding)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	var wrapped http.Handler = mux
	if len(signer.Key) > 0 {
		wrapped = authMiddleware(signer, wrapped)
	}
	// Recovery innermost so panics are caught before logging.
	wrapped = recoveryMiddleware(logger, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ScheduleTestJob enqueues a one-off sync of a building.
func (h *Handler) ScheduleTestJob(w http.ResponseWriter, r *http.Request) {
	var req TestJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuildingID <= 0 {
		writeError(w, http.StatusBadRequest, "buildingId is required")
		return
	}
	if req.DelayMs < 0 {
		writeError(w, http.StatusBadRequest, "delayMs must not be negative")
		return
	}

	job, err := h.queue.ScheduleTestJob(r.Context(), req.BuildingID, time.Duration(req.DelayMs)*time.Millisecond)
	if err != nil {
		h.logger.Error("failed to schedule test job", "building_id", req.BuildingID, "error", err)
		writeQueueError(w, err)
		return
	}

	writeData(w, http.StatusCreated, "test job scheduled", map[string]any{
		"jobId":      job.ID,
		"buildingId": req.BuildingID,
		"delayMs":    job.Delay.Milliseconds(),
		"processAt":  formatTime(job.RunAt),
	})
}

// QueueStats returns per-state job counts.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	c, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.Error("failed to count jobs", "error", err)
		writeQueueError(w, err)
		return
	}

	writeData(w, http.StatusOK, "", StatsResponse{
		Waiting:   c.Waiting,
		Active:    c.Active,
		Completed: c.Completed,
		Failed:    c.Failed,
		Delayed:   c.Delayed,
		Total:     c.Waiting + c.Active + c.Completed + c.Failed + c.Delayed,
	})
}

// ListJobs returns all jobs grouped by state with their remaining time to fire.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	listing, err := h.queue.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeQueueError(w, err)
		return
	}

	writeData(w, http.StatusOK, "", toJobListResponse(listing))
}

// PurgeOlderThan removes completed and failed jobs older than the given hours.
func (h *Handler) PurgeOlderThan(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(r.PathValue("hours"))
	if err != nil || hours < 0 {
		writeError(w, http.StatusBadRequest, "invalid age in hours")
		return
	}

	result, err := h.queue.PurgeOlderThan(r.Context(), hours)
	if err != nil {
		h.logger.Error("failed to purge jobs", "hours", hours, "error", err)
		writeQueueError(w, err)
		return
	}

	writeData(w, http.StatusOK, "old jobs cleaned", PurgeResponse{Cleaned: result.Cleaned, Total: result.Total})
}

// PurgeAll removes every job.
func (h *Handler) PurgeAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.PurgeAll(r.Context())
	if err != nil {
		h.logger.Error("failed to purge all jobs", "error", err)
		writeQueueError(w, err)
		return
	}

	writeData(w, http.StatusOK, "all jobs cleaned", PurgeAllResponse{
		Waiting:   result.Waiting,
		Active:    result.Active,
		Completed: result.Completed,
		Failed:    result.Failed,
		Delayed:   result.Delayed,
		Total:     result.Total,
	})
}

// RunCycle runs the daily scheduling cycle immediately. The cycle runs to the
// end even if the client goes away.
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.RunDailyCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, application.ErrCycleRunning) {
			writeError(w, http.StatusConflict, "daily cycle already running")
			return
		}
		h.logger.Error("daily cycle failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeData(w, http.StatusOK, "daily cycle complete", CycleResponse{
		Groups:    report.Groups,
		Scheduled: report.Scheduled,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	})
}

// ScheduleBuilding schedules a sync of one building at a given time.
func (h *Handler) ScheduleBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid building id")
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	at, err := time.Parse(time.RFC3339, req.ExecutionTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "executionTime must be an RFC 3339 timestamp")
		return
	}

	result := h.scheduler.ScheduleGroupSyncAt(r.Context(), id, at, req.BuildingName, req.SaleOrderID)
	if !result.Success {
		writeError(w, http.StatusServiceUnavailable, result.Message)
		return
	}

	writeData(w, http.StatusCreated, result.Message, ScheduleResponse{
		ScheduledFor: formatTime(result.ScheduledFor),
		DelayMs:      result.DelayMs,
		JobID:        result.JobID,
	})
}

// TokenStatus returns the expiry of the stored credential without renewing it.
func (h *Handler) TokenStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tokens.Status(r.Context())
	if err != nil {
		if errors.Is(err, model.ErrMalformedCredential) {
			writeError(w, http.StatusUnprocessableEntity, "stored credential has no readable expiry")
			return
		}
		h.logger.Error("failed to read token status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "no credential stored")
		return
	}

	writeData(w, http.StatusOK, "", TokenStatusResponse{
		ExpiresAt:      formatTime(status.ExpiresAt),
		DaysRemaining:  status.DaysRemaining,
		HoursRemaining: status.HoursRemaining,
		IsExpired:      status.IsExpired,
		MaxAge:         status.MaxAge,
	})
}

// SyncBuilding syncs one building's sale orders immediately.
func (h *Handler) SyncBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid building id")
		return
	}

	result, err := h.syncer.SyncBuilding(r.Context(), id)
	if err != nil {
		h.logger.Error("on-demand sync failed", "building_id", id, "error", err)
		writeSyncError(w, err)
		return
	}

	writeData(w, http.StatusOK, result.Message, SyncResponse{BuildingID: result.BuildingID, Count: result.Count})
}

// SyncBuildings refreshes the list of sales buildings.
func (h *Handler) SyncBuildings(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.SyncBuildings(r.Context())
	if err != nil {
		h.logger.Error("building refresh failed", "error", err)
		writeSyncError(w, err)
		return
	}

	writeData(w, http.StatusOK, "sales buildings synced", BuildingSyncResponse{
		Created: toGroupResponses(result.Created),
		Updated: toGroupResponses(result.Updated),
	})
}

// PendingOrders lists the newest unresolved order of every sales building.
func (h *Handler) PendingOrders(w http.ResponseWriter, r *http.Request) {
	pending, err := h.syncer.PendingOrders(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending orders", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PendingOrderResponse, 0, len(pending))
	for _, p := range pending {
		resp = append(resp, PendingOrderResponse{
			BuildingID:   p.GroupID,
			BuildingName: p.GroupName,
			SaleOrderID:  p.OrderID,
			StartedAt:    formatTime(p.StartedAt),
		})
	}

	writeData(w, http.StatusOK, "", resp)
}

// Health reports the health of the service and its dependencies. It answers
// 503 only when a dependency is failing; a degraded service is still live.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: string(application.HealthOK),
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if h.health == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	report := h.health.Check(r.Context())
	resp.Status = string(report.Status)
	resp.Components = make([]ComponentResponse, 0, len(report.Components))
	for _, c := range report.Components {
		resp.Components = append(resp.Components, ComponentResponse{
			Name:   c.Name,
			Status: string(c.Status),
			Detail: c.Detail,
		})
	}

	status := http.StatusOK
	if report.Status == application.HealthFailing {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// writeQueueError maps a queue error to a summarized response.
func writeQueueError(w http.ResponseWriter, err error) {
	if errors.Is(err, driven.ErrQueueUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// writeSyncError maps a sync error to a summarized response.
func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrAuthenticationFailed), errors.Is(err, model.ErrFailedRenewal):
		writeError(w, http.StatusBadGateway, "authentication with the remote API failed")
	case errors.Is(err, model.ErrSyncOperation):
		writeError(w, http.StatusBadGateway, "sync with the remote API failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
