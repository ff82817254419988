package httphandler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/ordersync/internal/application"
	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// ListOrders returns a page of stored orders. Query parameters: page,
// pageSize, buildingId, resolved and from/to placement dates (YYYY-MM-DD,
// to inclusive).
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := optionalInt(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, err := optionalInt(q.Get("pageSize"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pageSize")
		return
	}

	var filter model.OrderFilter
	if filter.BuildingID, err = optionalID(q.Get("buildingId")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid buildingId")
		return
	}
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		filter.Resolved = &resolved
	}
	if filter.PlacedFrom, err = optionalDate(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from must be a YYYY-MM-DD date")
		return
	}
	to, err := optionalDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be a YYYY-MM-DD date")
		return
	}
	if !to.IsZero() {
		filter.PlacedBefore = to.AddDate(0, 0, 1)
	}

	result, err := h.orders.ListOrders(r.Context(), filter, page, pageSize)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeData(w, http.StatusOK, "", toOrderPageResponse(result))
}

// GetOrder returns one stored order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "order_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	writeData(w, http.StatusOK, "", toSaleOrderResponse(*o))
}

// OrderStats summarizes the orders resolving between the from and to days.
// from is required; to defaults to from.
func (h *Handler) OrderStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := time.Parse(time.DateOnly, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be a YYYY-MM-DD date")
		return
	}
	to, err := optionalDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be a YYYY-MM-DD date")
		return
	}
	buildingID, err := optionalID(q.Get("buildingId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buildingId")
		return
	}

	stats, err := h.orders.StatsByDate(r.Context(), from, to, buildingID)
	if err != nil {
		if errors.Is(err, application.ErrInvalidDateRange) {
			writeError(w, http.StatusBadRequest, "to must not be before from")
			return
		}
		h.logger.Error("failed to compute order stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeData(w, http.StatusOK, "", toOrderStatsResponse(stats))
}

// AveragePrices summarizes resource prices of the orders resolving on a day.
func (h *Handler) AveragePrices(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse(time.DateOnly, r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	prices, err := h.orders.AveragePricesByDate(r.Context(), day)
	if err != nil {
		h.logger.Error("failed to compute average prices", "date", day.Format(time.DateOnly), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeData(w, http.StatusOK, "", toDailyPricesResponse(prices))
}

// ListBuildings returns every stored building.
func (h *Handler) ListBuildings(w http.ResponseWriter, r *http.Request) {
	buildings, err := h.orders.ListBuildings(r.Context())
	if err != nil {
		h.logger.Error("failed to list buildings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]BuildingResponse, 0, len(buildings))
	for _, b := range buildings {
		resp = append(resp, toBuildingResponse(b))
	}

	writeData(w, http.StatusOK, "", resp)
}

// GetBuilding returns one stored building.
func (h *Handler) GetBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid building id")
		return
	}

	b, err := h.orders.GetBuilding(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get building", "building_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "building not found")
		return
	}

	writeData(w, http.StatusOK, "", toBuildingResponse(*b))
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func optionalID(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func optionalDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, v)
}
