package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// OrderStore defines the driven port for sale order persistence. It doubles as
// the read-only entity-state provider consumed by the scheduler.
type OrderStore interface {
	// Upsert inserts or updates a sale order by id.
	Upsert(ctx context.Context, order model.SaleOrder) error

	// GetByID returns the order or nil if it does not exist.
	GetByID(ctx context.Context, id int64) (*model.SaleOrder, error)

	// LatestUnresolved returns the most recent unresolved order of a building,
	// or nil if it has none.
	LatestUnresolved(ctx context.Context, buildingID int64) (*model.PendingOrder, error)

	// ListLatestUnresolvedPerGroup returns the most recent unresolved order of
	// every sales building that has one.
	ListLatestUnresolvedPerGroup(ctx context.Context) ([]model.PendingOrder, error)

	// List returns orders matching the filter, newest first.
	List(ctx context.Context, filter model.OrderFilter, limit, offset int) ([]model.SaleOrder, error)

	// Count returns the number of orders matching the filter.
	Count(ctx context.Context, filter model.OrderFilter) (int, error)

	// ResourcePrices summarizes prices per resource kind over resolved orders
	// with a quality bonus placed in [from, before). It also returns how many
	// orders were analyzed.
	ResourcePrices(ctx context.Context, from, before time.Time) (int, []model.ResourcePrices, error)
}
