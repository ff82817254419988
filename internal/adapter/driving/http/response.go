package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/ordersync/internal/application"
	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// envelope is the body of every admin API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeData writes a successful envelope.
func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeError writes a failed envelope with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// TestJobRequest is the JSON body for the test job endpoint.
type TestJobRequest struct {
	BuildingID int64 `json:"buildingId"`
	DelayMs    int64 `json:"delayMs"`
}

// ScheduleRequest is the JSON body for manually scheduling a building sync.
type ScheduleRequest struct {
	ExecutionTime string `json:"executionTime"`
	BuildingName  string `json:"buildingName"`
	SaleOrderID   int64  `json:"saleOrderId"`
}

// JobResponse is the JSON representation of a queued job.
type JobResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	DedupKey      string          `json:"dedupKey"`
	Data          json.RawMessage `json:"data,omitempty"`
	State         string          `json:"state"`
	Attempts      int             `json:"attemptsMade"`
	MaxAttempts   int             `json:"maxAttempts"`
	CreatedAt     string          `json:"createdAt"`
	ProcessAt     string          `json:"processAt"`
	RemainingMs   int64           `json:"remainingMs"`
	RemainingTime string          `json:"remainingTime"`
	ProcessedAt   string          `json:"processedOn,omitempty"`
	FinishedAt    string          `json:"finishedOn,omitempty"`
	FailedReason  string          `json:"failedReason,omitempty"`
	Result        json.RawMessage `json:"returnValue,omitempty"`
}

// JobListResponse groups job representations by state.
type JobListResponse struct {
	Waiting   []JobResponse `json:"waiting"`
	Delayed   []JobResponse `json:"delayed"`
	Active    []JobResponse `json:"active"`
	Completed []JobResponse `json:"completed"`
	Failed    []JobResponse `json:"failed"`
}

// StatsResponse is the JSON representation of per-state job counts.
type StatsResponse struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// PurgeResponse is the JSON representation of an age-based purge.
type PurgeResponse struct {
	Cleaned int `json:"cleaned"`
	Total   int `json:"total"`
}

// PurgeAllResponse is the JSON representation of a full purge.
type PurgeAllResponse struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// CycleResponse is the JSON representation of a daily cycle report.
type CycleResponse struct {
	Groups    int `json:"groups"`
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ScheduleResponse is the JSON representation of a manual schedule result.
type ScheduleResponse struct {
	ScheduledFor string `json:"scheduledFor"`
	DelayMs      int64  `json:"delayMs"`
	JobID        string `json:"jobId,omitempty"`
}

// TokenStatusResponse is the JSON representation of the stored credential's expiry.
type TokenStatusResponse struct {
	ExpiresAt      string `json:"expiresAt"`
	DaysRemaining  int    `json:"daysRemaining"`
	HoursRemaining int    `json:"hoursRemaining"`
	IsExpired      bool   `json:"isExpired"`
	MaxAge         int64  `json:"maxAge,omitempty"`
}

// SyncResponse is the JSON representation of a building sync.
type SyncResponse struct {
	BuildingID int64 `json:"buildingId"`
	Count      int   `json:"count"`
}

// BuildingSyncResponse is the JSON representation of a sales-office refresh.
type BuildingSyncResponse struct {
	Created []GroupResponse `json:"created"`
	Updated []GroupResponse `json:"updated"`
}

// GroupResponse is the JSON representation of a sync group.
type GroupResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PendingOrderResponse is the JSON representation of a group's newest unresolved order.
type PendingOrderResponse struct {
	BuildingID   int64  `json:"buildingId"`
	BuildingName string `json:"buildingName"`
	SaleOrderID  int64  `json:"saleOrderId"`
	StartedAt    string `json:"startedAt"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status     string              `json:"status"`
	Time       string              `json:"time"`
	Components []ComponentResponse `json:"components,omitempty"`
}

// ComponentResponse is the JSON representation of one dependency's health.
type ComponentResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ResourceResponse is one resource line of a sale order.
type ResourceResponse struct {
	Kind   int     `json:"kind"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// SaleOrderResponse is the JSON representation of a stored sale order.
type SaleOrderResponse struct {
	ID           int64              `json:"id"`
	BuildingID   int64              `json:"buildingId"`
	Datetime     string             `json:"datetime"`
	SearchCost   int64              `json:"searchCost"`
	Resources    []ResourceResponse `json:"resources"`
	QualityBonus *float64           `json:"qualityBonus"`
	SpeedBonus   *float64           `json:"speedBonus"`
	Resolved     bool               `json:"resolved"`
	CreatedAt    string             `json:"createdAt"`
	UpdatedAt    string             `json:"updatedAt"`
}

// OrderPageResponse is one page of sale orders.
type OrderPageResponse struct {
	Orders     []SaleOrderResponse `json:"orders"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"totalPages"`
}

// ResourceStatsResponse aggregates one resource kind over a date range.
type ResourceStatsResponse struct {
	Kind          int     `json:"kind"`
	TotalAmount   float64 `json:"totalAmount"`
	TotalOrders   int     `json:"totalOrders"`
	AverageAmount float64 `json:"averageAmount"`
	AveragePrice  float64 `json:"averagePrice"`
	MinPrice      float64 `json:"minPrice"`
	MaxPrice      float64 `json:"maxPrice"`
}

// OrderStatsResponse summarizes the orders resolving within a date range.
type OrderStatsResponse struct {
	From              string                  `json:"from"`
	To                string                  `json:"to"`
	BuildingID        int64                   `json:"buildingId,omitempty"`
	TotalOrders       int                     `json:"totalOrders"`
	ResolvedOrders    int                     `json:"resolvedOrders"`
	TotalSearchCost   int64                   `json:"totalSearchCost"`
	AverageSearchCost float64                 `json:"averageSearchCost"`
	Resources         []ResourceStatsResponse `json:"resources"`
}

// ResourcePricesResponse is the price summary of one resource kind.
type ResourcePricesResponse struct {
	Kind                int     `json:"kind"`
	AveragePrice        float64 `json:"averagePrice"`
	AverageQualityBonus float64 `json:"averageQualityBonus"`
	TotalOrders         int     `json:"totalOrders"`
	TotalAmount         float64 `json:"totalAmount"`
	MinPrice            float64 `json:"minPrice"`
	MaxPrice            float64 `json:"maxPrice"`
}

// DailyPricesResponse is the price summary of the orders resolving on a day.
type DailyPricesResponse struct {
	Date           string                   `json:"date"`
	OrdersAnalyzed int                      `json:"ordersAnalyzed"`
	Resources      []ResourcePricesResponse `json:"resources"`
}

// BuildingResponse is the JSON representation of a stored building.
type BuildingResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Kind      string `json:"kind"`
	Category  string `json:"category"`
	Cost      int64  `json:"cost"`
	UpdatedAt string `json:"updatedAt"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// toJobResponse converts an annotated job to its JSON representation.
func toJobResponse(v application.JobView, state model.JobState) JobResponse {
	return JobResponse{
		ID:            v.ID,
		Name:          v.Name,
		DedupKey:      v.DedupKey,
		Data:          v.Payload,
		State:         string(state),
		Attempts:      v.Attempts,
		MaxAttempts:   v.Retry.MaxAttempts,
		CreatedAt:     formatTime(v.CreatedAt),
		ProcessAt:     formatTime(v.ProcessAt),
		RemainingMs:   v.Remaining.Milliseconds(),
		RemainingTime: v.Remaining.Round(time.Second).String(),
		ProcessedAt:   formatTime(v.ProcessedAt),
		FinishedAt:    formatTime(v.FinishedAt),
		FailedReason:  v.FailedReason,
		Result:        v.Result,
	}
}

func toJobResponses(views []application.JobView, state model.JobState) []JobResponse {
	out := make([]JobResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toJobResponse(v, state))
	}
	return out
}

// toJobListResponse converts a job listing to its JSON representation.
// Empty states are rendered as empty arrays, not null.
func toJobListResponse(l application.JobListing) JobListResponse {
	return JobListResponse{
		Waiting:   toJobResponses(l.Waiting, model.JobStateWaiting),
		Delayed:   toJobResponses(l.Delayed, model.JobStateDelayed),
		Active:    toJobResponses(l.Active, model.JobStateActive),
		Completed: toJobResponses(l.Completed, model.JobStateCompleted),
		Failed:    toJobResponses(l.Failed, model.JobStateFailed),
	}
}

func toGroupResponses(groups []model.SyncGroup) []GroupResponse {
	out := make([]GroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupResponse{ID: g.ID, Name: g.Name})
	}
	return out
}

func toSaleOrderResponse(o model.SaleOrder) SaleOrderResponse {
	resources := make([]ResourceResponse, 0, len(o.Resources))
	for _, r := range o.Resources {
		resources = append(resources, ResourceResponse{Kind: r.Kind, Amount: r.Amount, Price: r.Price})
	}
	return SaleOrderResponse{
		ID:           o.ID,
		BuildingID:   o.BuildingID,
		Datetime:     formatTime(o.Datetime),
		SearchCost:   o.SearchCost,
		Resources:    resources,
		QualityBonus: o.QualityBonus,
		SpeedBonus:   o.SpeedBonus,
		Resolved:     o.Resolved,
		CreatedAt:    formatTime(o.CreatedAt),
		UpdatedAt:    formatTime(o.UpdatedAt),
	}
}

func toOrderPageResponse(p model.OrderPage) OrderPageResponse {
	orders := make([]SaleOrderResponse, 0, len(p.Orders))
	for _, o := range p.Orders {
		orders = append(orders, toSaleOrderResponse(o))
	}
	return OrderPageResponse{
		Orders:     orders,
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}
}

func toOrderStatsResponse(s model.OrderStats) OrderStatsResponse {
	resources := make([]ResourceStatsResponse, 0, len(s.Resources))
	for _, r := range s.Resources {
		resources = append(resources, ResourceStatsResponse(r))
	}
	return OrderStatsResponse{
		From:              s.From.Format(time.DateOnly),
		To:                s.To.Format(time.DateOnly),
		BuildingID:        s.BuildingID,
		TotalOrders:       s.TotalOrders,
		ResolvedOrders:    s.ResolvedOrders,
		TotalSearchCost:   s.TotalSearchCost,
		AverageSearchCost: s.AverageSearchCost,
		Resources:         resources,
	}
}

func toDailyPricesResponse(d model.DailyPrices) DailyPricesResponse {
	resources := make([]ResourcePricesResponse, 0, len(d.Resources))
	for _, r := range d.Resources {
		resources = append(resources, ResourcePricesResponse(r))
	}
	return DailyPricesResponse{
		Date:           d.Date.Format(time.DateOnly),
		OrdersAnalyzed: d.OrdersAnalyzed,
		Resources:      resources,
	}
}

func toBuildingResponse(b model.Building) BuildingResponse {
	return BuildingResponse{
		ID:        b.ID,
		Name:      b.Name,
		Size:      b.Size,
		Kind:      b.Kind,
		Category:  b.Category,
		Cost:      b.Cost,
		UpdatedAt: formatTime(b.UpdatedAt),
	}
}
