package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

func makeBuilding(id int64, name, category string) model.Building {
	return model.Building{
		ID:        id,
		Name:      name,
		Size:      3,
		Kind:      "B",
		Category:  category,
		Cost:      2500,
		UpdatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuildingRepo_UpsertCreatesThenUpdates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildingRepo(db)
	ctx := context.Background()

	created, err := repo.Upsert(ctx, makeBuilding(10, "Shop North", model.BuildingCategorySales))
	require.NoError(t, err)
	assert.True(t, created)

	b := makeBuilding(10, "Shop North Renamed", model.BuildingCategorySales)
	b.Size = 5
	created, err = repo.Upsert(ctx, b)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.GetByID(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Shop North Renamed", got.Name)
	assert.Equal(t, 5, got.Size)
	assert.Equal(t, int64(2500), got.Cost)
	assert.Equal(t, b.UpdatedAt, got.UpdatedAt)
}

func TestBuildingRepo_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildingRepo(db)

	got, err := repo.GetByID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildingRepo_ListSyncGroups_OnlySales(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildingRepo(db)
	ctx := context.Background()

	for _, b := range []model.Building{
		makeBuilding(30, "Shop C", model.BuildingCategorySales),
		makeBuilding(20, "Farm", "production"),
		makeBuilding(10, "Shop A", model.BuildingCategorySales),
	} {
		_, err := repo.Upsert(ctx, b)
		require.NoError(t, err)
	}

	groups, err := repo.ListSyncGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.SyncGroup{
		{ID: 10, Name: "Shop A"},
		{ID: 30, Name: "Shop C"},
	}, groups)
}

func TestBuildingRepo_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildingRepo(db)
	ctx := context.Background()

	empty, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, b := range []model.Building{
		makeBuilding(30, "Shop C", model.BuildingCategorySales),
		makeBuilding(20, "Farm", "production"),
	} {
		_, err := repo.Upsert(ctx, b)
		require.NoError(t, err)
	}

	got, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[0].ID)
	assert.Equal(t, "production", got[0].Category)
	assert.Equal(t, int64(30), got[1].ID)
}
