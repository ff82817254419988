package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	statsBatchSize  = 500
)

// ErrInvalidDateRange is returned when a range ends before it starts.
var ErrInvalidDateRange = errors.New("date range ends before it starts")

// OrderStatsService answers read-only queries over synced orders and buildings.
// Days are UTC calendar days of the resolution time, which is the placement
// time plus the maturation offset.
type OrderStatsService struct {
	orders     driven.OrderStore
	buildings  driven.BuildingStore
	maturation time.Duration
	logger     *slog.Logger
}

// NewOrderStatsService creates a new OrderStatsService.
func NewOrderStatsService(
	orders driven.OrderStore,
	buildings driven.BuildingStore,
	maturation time.Duration,
	logger *slog.Logger,
) *OrderStatsService {
	return &OrderStatsService{
		orders:     orders,
		buildings:  buildings,
		maturation: maturation,
		logger:     logger.With("component", "orderstats"),
	}
}

// ListOrders returns one page of orders matching the filter. A page below 1
// becomes 1; the page size defaults to 10 and is capped at 100.
func (s *OrderStatsService) ListOrders(ctx context.Context, filter model.OrderFilter, page, pageSize int) (model.OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	total, err := s.orders.Count(ctx, filter)
	if err != nil {
		return model.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	orders, err := s.orders.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return model.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	if orders == nil {
		orders = []model.SaleOrder{}
	}

	return model.OrderPage{
		Orders:     orders,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// GetOrder returns an order by id, or nil if it is unknown.
func (s *OrderStatsService) GetOrder(ctx context.Context, id int64) (*model.SaleOrder, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// StatsByDate summarizes the orders resolving between the from and to days,
// both inclusive. A zero to means the single day from. A non-zero buildingID
// restricts the summary to that building.
func (s *OrderStatsService) StatsByDate(ctx context.Context, from, to time.Time, buildingID int64) (model.OrderStats, error) {
	from = truncateDay(from)
	if to.IsZero() {
		to = from
	}
	to = truncateDay(to)
	if to.Before(from) {
		return model.OrderStats{}, fmt.Errorf("stats from %s to %s: %w",
			from.Format(time.DateOnly), to.Format(time.DateOnly), ErrInvalidDateRange)
	}

	filter := model.OrderFilter{
		BuildingID:   buildingID,
		PlacedFrom:   from.Add(-s.maturation),
		PlacedBefore: to.AddDate(0, 0, 1).Add(-s.maturation),
	}

	var all []model.SaleOrder
	for offset := 0; ; offset += statsBatchSize {
		batch, err := s.orders.List(ctx, filter, statsBatchSize, offset)
		if err != nil {
			return model.OrderStats{}, fmt.Errorf("list orders for stats: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < statsBatchSize {
			break
		}
	}

	stats := model.SummarizeOrders(all)
	stats.From = from
	stats.To = to
	stats.BuildingID = buildingID

	s.logger.Debug("order stats computed",
		"from", from.Format(time.DateOnly),
		"to", to.Format(time.DateOnly),
		"building_id", buildingID,
		"orders", stats.TotalOrders,
	)

	return stats, nil
}

// AveragePricesByDate summarizes resource prices of the resolved orders with a
// quality bonus that resolve on the given day.
func (s *OrderStatsService) AveragePricesByDate(ctx context.Context, day time.Time) (model.DailyPrices, error) {
	day = truncateDay(day)
	from := day.Add(-s.maturation)
	before := day.AddDate(0, 0, 1).Add(-s.maturation)

	analyzed, prices, err := s.orders.ResourcePrices(ctx, from, before)
	if err != nil {
		return model.DailyPrices{}, fmt.Errorf("average prices on %s: %w", day.Format(time.DateOnly), err)
	}

	result := model.DailyPrices{
		Date:           day,
		OrdersAnalyzed: analyzed,
		Resources:      make([]model.ResourcePrices, 0, len(prices)),
	}
	for _, p := range prices {
		result.Resources = append(result.Resources, p.RoundPrices())
	}

	return result, nil
}

// ListBuildings returns every known building.
func (s *OrderStatsService) ListBuildings(ctx context.Context) ([]model.Building, error) {
	buildings, err := s.buildings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	if buildings == nil {
		buildings = []model.Building{}
	}
	return buildings, nil
}

// GetBuilding returns a building by id, or nil if it is unknown.
func (s *OrderStatsService) GetBuilding(ctx context.Context, id int64) (*model.Building, error) {
	b, err := s.buildings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get building %d: %w", id, err)
	}
	return b, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
