package model

import "time"

// Resource is a single resource line of a sale order.
type Resource struct {
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
	Kind   int     `json:"kind"`
}

// SaleOrder is a time-bounded order harvested from the remote API. Quality and
// speed bonuses are only reported once the order has resolved remotely.
type SaleOrder struct {
	ID           int64
	BuildingID   int64
	Datetime     time.Time
	SearchCost   int64
	Resources    []Resource
	QualityBonus *float64
	SpeedBonus   *float64
	Resolved     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsResolved reports whether the remote lifecycle of the order has completed:
// both bonuses are present and at least one resource was delivered.
func (o SaleOrder) IsResolved() bool {
	return o.QualityBonus != nil && o.SpeedBonus != nil && len(o.Resources) > 0
}

// SyncResult summarizes the re-sync of one building's sale orders.
type SyncResult struct {
	BuildingID int64
	Success    bool
	Message    string
	Count      int
}
