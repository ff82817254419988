package model

import (
	"math"
	"sort"
	"time"
)

// OrderFilter selects stored sale orders. Zero values leave a field unbounded.
type OrderFilter struct {
	BuildingID int64
	Resolved   *bool
	// PlacedFrom is inclusive and PlacedBefore exclusive; both bound Datetime.
	PlacedFrom   time.Time
	PlacedBefore time.Time
}

// OrderPage is one page of sale orders, newest first.
type OrderPage struct {
	Orders     []SaleOrder
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// ResourceStats aggregates the resource lines of one kind across many orders.
type ResourceStats struct {
	Kind          int
	TotalAmount   float64
	TotalOrders   int
	AverageAmount float64
	AveragePrice  float64
	MinPrice      float64
	MaxPrice      float64
}

// OrderStats summarizes the sale orders resolving within a date range.
type OrderStats struct {
	From              time.Time
	To                time.Time
	BuildingID        int64
	TotalOrders       int
	ResolvedOrders    int
	TotalSearchCost   int64
	AverageSearchCost float64
	Resources         []ResourceStats
}

// ResourcePrices is the price summary of one resource kind over resolved orders.
type ResourcePrices struct {
	Kind                int
	AveragePrice        float64
	AverageQualityBonus float64
	TotalOrders         int
	TotalAmount         float64
	MinPrice            float64
	MaxPrice            float64
}

// DailyPrices is the per-resource price summary of the orders resolving on Date.
type DailyPrices struct {
	Date           time.Time
	OrdersAnalyzed int
	Resources      []ResourcePrices
}

// SummarizeOrders aggregates orders into search-cost totals and per-kind
// resource stats. An order counts once per kind however many lines of that
// kind it has; AverageAmount is per order, AveragePrice per line.
func SummarizeOrders(orders []SaleOrder) OrderStats {
	type acc struct {
		stats    ResourceStats
		lines    int
		priceSum float64
		orders   map[int64]struct{}
	}

	var stats OrderStats
	byKind := make(map[int]*acc)

	for _, o := range orders {
		stats.TotalOrders++
		stats.TotalSearchCost += o.SearchCost
		if o.Resolved {
			stats.ResolvedOrders++
		}

		for _, r := range o.Resources {
			a, ok := byKind[r.Kind]
			if !ok {
				a = &acc{
					stats:  ResourceStats{Kind: r.Kind, MinPrice: r.Price, MaxPrice: r.Price},
					orders: make(map[int64]struct{}),
				}
				byKind[r.Kind] = a
			}
			a.stats.TotalAmount += r.Amount
			a.stats.MinPrice = math.Min(a.stats.MinPrice, r.Price)
			a.stats.MaxPrice = math.Max(a.stats.MaxPrice, r.Price)
			a.priceSum += r.Price
			a.lines++
			a.orders[o.ID] = struct{}{}
		}
	}

	if stats.TotalOrders > 0 {
		stats.AverageSearchCost = roundTo(float64(stats.TotalSearchCost)/float64(stats.TotalOrders), 2)
	}

	stats.Resources = make([]ResourceStats, 0, len(byKind))
	for _, a := range byKind {
		s := a.stats
		s.TotalOrders = len(a.orders)
		s.AverageAmount = roundTo(s.TotalAmount/float64(s.TotalOrders), 2)
		s.AveragePrice = roundTo(a.priceSum/float64(a.lines), 2)
		s.MinPrice = roundTo(s.MinPrice, 2)
		s.MaxPrice = roundTo(s.MaxPrice, 2)
		stats.Resources = append(stats.Resources, s)
	}
	sort.Slice(stats.Resources, func(i, j int) bool { return stats.Resources[i].Kind < stats.Resources[j].Kind })

	return stats
}

// RoundPrices rounds prices to cents and the quality bonus to four places.
func (p ResourcePrices) RoundPrices() ResourcePrices {
	p.AveragePrice = roundTo(p.AveragePrice, 2)
	p.AverageQualityBonus = roundTo(p.AverageQualityBonus, 4)
	p.MinPrice = roundTo(p.MinPrice, 2)
	p.MaxPrice = roundTo(p.MaxPrice, 2)
	return p
}

func roundTo(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
