package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BuildingStore = (*BuildingRepo)(nil)

// BuildingRepo is the SQLite implementation of the BuildingStore port interface.
type BuildingRepo struct {
	db *DB
}

// NewBuildingRepo creates a new BuildingRepo backed by the given DB.
func NewBuildingRepo(db *DB) *BuildingRepo {
	return &BuildingRepo{db: db}
}

// Upsert inserts or updates a building by id and reports whether it was newly created.
func (r *BuildingRepo) Upsert(ctx context.Context, b model.Building) (bool, error) {
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM buildings WHERE id = ?`, b.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check building %d: %w", b.ID, err)
	}

	const query = `
		INSERT INTO buildings (id, name, size, kind, category, cost, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			size = excluded.size,
			kind = excluded.kind,
			category = excluded.category,
			cost = excluded.cost,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		b.ID, b.Name, b.Size, b.Kind, b.Category, b.Cost, formatTime(updatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("upsert building %d: %w", b.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit building %d: %w", b.ID, err)
	}

	return exists == 0, nil
}

// GetByID returns the building or nil, nil if it does not exist.
func (r *BuildingRepo) GetByID(ctx context.Context, id int64) (*model.Building, error) {
	const query = `SELECT id, name, size, kind, category, cost, updated_at FROM buildings WHERE id = ?`

	b, err := scanBuilding(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get building %d: %w", id, err)
	}

	return b, nil
}

// List returns every known building ordered by id.
func (r *BuildingRepo) List(ctx context.Context) ([]model.Building, error) {
	const query = `SELECT id, name, size, kind, category, cost, updated_at FROM buildings ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	defer rows.Close()

	var buildings []model.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan building: %w", err)
		}
		buildings = append(buildings, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buildings: %w", err)
	}

	return buildings, nil
}

// ListSyncGroups returns every sales-office building ordered by id.
func (r *BuildingRepo) ListSyncGroups(ctx context.Context) ([]model.SyncGroup, error) {
	const query = `SELECT id, name FROM buildings WHERE category = ? ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query, model.BuildingCategorySales)
	if err != nil {
		return nil, fmt.Errorf("list sync groups: %w", err)
	}
	defer rows.Close()

	var groups []model.SyncGroup
	for rows.Next() {
		var g model.SyncGroup
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan sync group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync groups: %w", err)
	}

	return groups, nil
}

func scanBuilding(s scanner) (*model.Building, error) {
	var (
		b         model.Building
		updatedAt string
	)
	if err := s.Scan(&b.ID, &b.Name, &b.Size, &b.Kind, &b.Category, &b.Cost, &updatedAt); err != nil {
		return nil, err
	}

	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	b.UpdatedAt = t

	return &b, nil
}
