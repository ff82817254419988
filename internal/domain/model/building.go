package model

import "time"

// BuildingCategorySales marks sales-office buildings, the only ones that carry sale orders.
const BuildingCategorySales = "sales"

// Building is a company building known to the remote API.
type Building struct {
	ID        int64
	Name      string
	Size      int
	Kind      string
	Category  string
	Cost      int64
	UpdatedAt time.Time
}

// SyncGroup is a building whose sale orders are scheduled for re-sync.
type SyncGroup struct {
	ID   int64
	Name string
}

// PendingOrder is the most recent unresolved sale order of a sync group.
type PendingOrder struct {
	GroupID   int64
	GroupName string
	OrderID   int64
	StartedAt time.Time
}

// BuildingSyncResult summarizes a refresh of the sales-office list.
type BuildingSyncResult struct {
	Created []SyncGroup
	Updated []SyncGroup
}
