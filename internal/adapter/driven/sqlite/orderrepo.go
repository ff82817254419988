package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OrderStore = (*OrderRepo)(nil)

// OrderRepo is the SQLite implementation of the OrderStore port interface.
type OrderRepo struct {
	db *DB
}

// NewOrderRepo creates a new OrderRepo backed by the given DB.
func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db}
}

// Upsert inserts or updates a sale order by id. created_at is preserved on update.
func (r *OrderRepo) Upsert(ctx context.Context, o model.SaleOrder) error {
	resources := o.Resources
	if resources == nil {
		resources = []model.Resource{}
	}
	resourcesJSON, err := json.Marshal(resources)
	if err != nil {
		return fmt.Errorf("marshal resources for order %d: %w", o.ID, err)
	}

	now := time.Now().UTC()
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	const query = `
		INSERT INTO sale_orders (
			id, building_id, datetime, search_cost, resources,
			quality_bonus, speed_bonus, resolved, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			building_id = excluded.building_id,
			datetime = excluded.datetime,
			search_cost = excluded.search_cost,
			resources = excluded.resources,
			quality_bonus = excluded.quality_bonus,
			speed_bonus = excluded.speed_bonus,
			resolved = excluded.resolved,
			updated_at = excluded.updated_at
	`
	_, err = r.db.Writer.ExecContext(ctx, query,
		o.ID, o.BuildingID, formatTime(o.Datetime), o.SearchCost, string(resourcesJSON),
		nullFloat(o.QualityBonus), nullFloat(o.SpeedBonus), boolToInt(o.Resolved),
		formatTime(createdAt), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert sale order %d: %w", o.ID, err)
	}

	return nil
}

// GetByID returns the order or nil, nil if it does not exist.
func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*model.SaleOrder, error) {
	query := `SELECT ` + saleOrderColumns + ` FROM sale_orders WHERE id = ?`

	o, err := scanSaleOrder(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sale order %d: %w", id, err)
	}

	return o, nil
}

// LatestUnresolved returns the newest unresolved order of a building, or nil, nil.
func (r *OrderRepo) LatestUnresolved(ctx context.Context, buildingID int64) (*model.PendingOrder, error) {
	const query = `
		SELECT o.building_id, COALESCE(b.name, ''), o.id, o.datetime
		FROM sale_orders o
		LEFT JOIN buildings b ON b.id = o.building_id
		WHERE o.building_id = ? AND o.resolved = 0
		ORDER BY o.datetime DESC, o.id DESC
		LIMIT 1
	`

	p, err := scanPendingOrder(r.db.Reader.QueryRowContext(ctx, query, buildingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest unresolved order for building %d: %w", buildingID, err)
	}

	return p, nil
}

// ListLatestUnresolvedPerGroup returns, for every sales building, its newest
// unresolved order. Buildings without one are omitted.
func (r *OrderRepo) ListLatestUnresolvedPerGroup(ctx context.Context) ([]model.PendingOrder, error) {
	const query = `
		SELECT b.id, b.name, o.id, o.datetime
		FROM (
			SELECT id, building_id, datetime,
			       ROW_NUMBER() OVER (PARTITION BY building_id ORDER BY datetime DESC, id DESC) AS rn
			FROM sale_orders
			WHERE resolved = 0
		) o
		JOIN buildings b ON b.id = o.building_id
		WHERE o.rn = 1 AND b.category = ?
		ORDER BY b.id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, model.BuildingCategorySales)
	if err != nil {
		return nil, fmt.Errorf("list latest unresolved orders: %w", err)
	}
	defer rows.Close()

	var pending []model.PendingOrder
	for rows.Next() {
		p, err := scanPendingOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		pending = append(pending, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending orders: %w", err)
	}

	return pending, nil
}

const saleOrderColumns = `id, building_id, datetime, search_cost, resources,
	quality_bonus, speed_bonus, resolved, created_at, updated_at`

// orderWhere renders the filter as a WHERE clause and its arguments.
func orderWhere(f model.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.BuildingID != 0 {
		conds = append(conds, "building_id = ?")
		args = append(args, f.BuildingID)
	}
	if f.Resolved != nil {
		conds = append(conds, "resolved = ?")
		args = append(args, boolToInt(*f.Resolved))
	}
	if !f.PlacedFrom.IsZero() {
		conds = append(conds, "datetime >= ?")
		args = append(args, formatTime(f.PlacedFrom))
	}
	if !f.PlacedBefore.IsZero() {
		conds = append(conds, "datetime < ?")
		args = append(args, formatTime(f.PlacedBefore))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns orders matching the filter, newest first. A limit below 1
// returns every match.
func (r *OrderRepo) List(ctx context.Context, filter model.OrderFilter, limit, offset int) ([]model.SaleOrder, error) {
	where, args := orderWhere(filter)
	if limit < 1 {
		limit = -1
	}
	query := `SELECT ` + saleOrderColumns + ` FROM sale_orders` + where +
		` ORDER BY datetime DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sale orders: %w", err)
	}
	defer rows.Close()

	var orders []model.SaleOrder
	for rows.Next() {
		o, err := scanSaleOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale orders: %w", err)
	}

	return orders, nil
}

// Count returns the number of orders matching the filter.
func (r *OrderRepo) Count(ctx context.Context, filter model.OrderFilter) (int, error) {
	where, args := orderWhere(filter)

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM sale_orders`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sale orders: %w", err)
	}

	return n, nil
}

// analyzedOrders restricts to resolved orders with a quality bonus and at
// least one resource, placed in [?, ?).
const analyzedOrders = `
	o.datetime >= ? AND o.datetime < ?
	AND o.resolved = 1
	AND json_array_length(o.resources) > 0
	AND o.quality_bonus IS NOT NULL
`

// ResourcePrices summarizes prices per resource kind over the analyzed orders
// placed in [from, before) and returns how many orders were analyzed.
func (r *OrderRepo) ResourcePrices(ctx context.Context, from, before time.Time) (int, []model.ResourcePrices, error) {
	lo, hi := formatTime(from), formatTime(before)

	var analyzed int
	countQuery := `SELECT COUNT(*) FROM sale_orders o WHERE` + analyzedOrders
	if err := r.db.Reader.QueryRowContext(ctx, countQuery, lo, hi).Scan(&analyzed); err != nil {
		return 0, nil, fmt.Errorf("count analyzed sale orders: %w", err)
	}

	query := `
		SELECT CAST(json_extract(r.value, '$.kind') AS INTEGER) AS kind,
		       AVG(json_extract(r.value, '$.price')),
		       AVG(o.quality_bonus),
		       COUNT(*),
		       COALESCE(SUM(json_extract(r.value, '$.amount')), 0),
		       MIN(json_extract(r.value, '$.price')),
		       MAX(json_extract(r.value, '$.price'))
		FROM sale_orders o, json_each(o.resources) r
		WHERE` + analyzedOrders + `
		GROUP BY kind
		ORDER BY kind
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, lo, hi)
	if err != nil {
		return 0, nil, fmt.Errorf("summarize resource prices: %w", err)
	}
	defer rows.Close()

	var prices []model.ResourcePrices
	for rows.Next() {
		p, err := scanResourcePrices(rows)
		if err != nil {
			return 0, nil, fmt.Errorf("scan resource prices: %w", err)
		}
		prices = append(prices, *p)
	}

	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate resource prices: %w", err)
	}

	return analyzed, prices, nil
}

func scanResourcePrices(s scanner) (*model.ResourcePrices, error) {
	var p model.ResourcePrices
	err := s.Scan(&p.Kind, &p.AveragePrice, &p.AverageQualityBonus, &p.TotalOrders,
		&p.TotalAmount, &p.MinPrice, &p.MaxPrice)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPendingOrder(s scanner) (*model.PendingOrder, error) {
	var (
		p         model.PendingOrder
		startedAt string
	)
	if err := s.Scan(&p.GroupID, &p.GroupName, &p.OrderID, &startedAt); err != nil {
		return nil, err
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse datetime: %w", err)
	}
	p.StartedAt = t

	return &p, nil
}

func scanSaleOrder(s scanner) (*model.SaleOrder, error) {
	var (
		o                    model.SaleOrder
		datetime, resources  string
		quality, speed       sql.NullFloat64
		resolved             int
		createdAt, updatedAt string
	)
	err := s.Scan(&o.ID, &o.BuildingID, &datetime, &o.SearchCost, &resources,
		&quality, &speed, &resolved, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(resources), &o.Resources); err != nil {
		return nil, fmt.Errorf("unmarshal resources: %w", err)
	}
	if quality.Valid {
		o.QualityBonus = &quality.Float64
	}
	if speed.Valid {
		o.SpeedBonus = &speed.Float64
	}
	o.Resolved = resolved == 1

	if o.Datetime, err = parseTime(datetime); err != nil {
		return nil, fmt.Errorf("parse datetime: %w", err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &o, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
