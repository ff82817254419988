package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// CredentialProvider hands out a session credential that is valid right now.
type CredentialProvider interface {
	GetValidCredential(ctx context.Context) (string, error)
}

// SyncAllResult aggregates a sync over every sales building.
type SyncAllResult struct {
	Results    []model.SyncResult
	TotalCount int
}

// OrderSyncService pulls sale orders and buildings from the remote API and
// persists them.
type OrderSyncService struct {
	client    driven.MarketClient
	tokens    CredentialProvider
	orders    driven.OrderStore
	buildings driven.BuildingStore
	logger    *slog.Logger
}

// NewOrderSyncService creates a new OrderSyncService with all required dependencies.
func NewOrderSyncService(
	client driven.MarketClient,
	tokens CredentialProvider,
	orders driven.OrderStore,
	buildings driven.BuildingStore,
	logger *slog.Logger,
) *OrderSyncService {
	return &OrderSyncService{
		client:    client,
		tokens:    tokens,
		orders:    orders,
		buildings: buildings,
		logger:    logger.With("component", "ordersync"),
	}
}

// SyncBuilding fetches the sale orders of one building and upserts them.
// Remote and storage failures wrap model.ErrSyncOperation; credential failures
// are returned as they come from the provider.
func (s *OrderSyncService) SyncBuilding(ctx context.Context, buildingID int64) (model.SyncResult, error) {
	credential, err := s.tokens.GetValidCredential(ctx)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("sync building %d: %w", buildingID, err)
	}

	orders, err := s.client.FetchSaleOrders(ctx, credential, buildingID)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("%w: building %d: %w", model.ErrSyncOperation, buildingID, err)
	}

	now := time.Now().UTC()
	for _, o := range orders {
		o.BuildingID = buildingID
		o.Resolved = o.IsResolved()
		o.UpdatedAt = now
		if err := s.orders.Upsert(ctx, o); err != nil {
			return model.SyncResult{}, fmt.Errorf("%w: building %d: %w", model.ErrSyncOperation, buildingID, err)
		}
	}

	s.logger.Info("sale orders synced", "building_id", buildingID, "count", len(orders))

	return model.SyncResult{
		BuildingID: buildingID,
		Success:    true,
		Message:    "sale orders synced",
		Count:      len(orders),
	}, nil
}

// SyncAll syncs every sales building. A failing building is reported in its
// result and does not stop the others.
func (s *OrderSyncService) SyncAll(ctx context.Context) (SyncAllResult, error) {
	groups, err := s.buildings.ListSyncGroups(ctx)
	if err != nil {
		return SyncAllResult{}, fmt.Errorf("list sales buildings: %w", err)
	}

	var out SyncAllResult
	for _, g := range groups {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		result, err := s.SyncBuilding(ctx, g.ID)
		if err != nil {
			s.logger.Error("building sync failed", "building_id", g.ID, "error", err)
			result = model.SyncResult{
				BuildingID: g.ID,
				Message:    fmt.Sprintf("sync building %d failed: %v", g.ID, err),
			}
		}
		out.Results = append(out.Results, result)
		out.TotalCount += result.Count
	}

	return out, nil
}

// SyncBuildings refreshes the stored list of sales buildings from the remote API.
func (s *OrderSyncService) SyncBuildings(ctx context.Context) (model.BuildingSyncResult, error) {
	credential, err := s.tokens.GetValidCredential(ctx)
	if err != nil {
		return model.BuildingSyncResult{}, fmt.Errorf("sync buildings: %w", err)
	}

	remote, err := s.client.FetchBuildings(ctx, credential)
	if err != nil {
		return model.BuildingSyncResult{}, fmt.Errorf("%w: buildings: %w", model.ErrSyncOperation, err)
	}

	var result model.BuildingSyncResult
	now := time.Now().UTC()
	for _, b := range remote {
		if b.Category != model.BuildingCategorySales {
			continue
		}
		b.UpdatedAt = now

		created, err := s.buildings.Upsert(ctx, b)
		if err != nil {
			return result, fmt.Errorf("%w: building %d: %w", model.ErrSyncOperation, b.ID, err)
		}

		group := model.SyncGroup{ID: b.ID, Name: b.Name}
		if created {
			result.Created = append(result.Created, group)
		} else {
			result.Updated = append(result.Updated, group)
		}
	}

	s.logger.Info("sales buildings synced", "created", len(result.Created), "updated", len(result.Updated))

	return result, nil
}

// PendingOrders lists the newest unresolved order of every sales building.
func (s *OrderSyncService) PendingOrders(ctx context.Context) ([]model.PendingOrder, error) {
	pending, err := s.orders.ListLatestUnresolvedPerGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	return pending, nil
}
