package driven

import (
	"context"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// BuildingStore defines the driven port for building persistence.
type BuildingStore interface {
	// Upsert inserts or updates a building and reports whether it was created.
	Upsert(ctx context.Context, b model.Building) (created bool, err error)
	GetByID(ctx context.Context, id int64) (*model.Building, error)
	// List returns every known building ordered by id.
	List(ctx context.Context) ([]model.Building, error)
	// ListSyncGroups returns all sales-office buildings ordered by id.
	ListSyncGroups(ctx context.Context) ([]model.SyncGroup, error)
}
