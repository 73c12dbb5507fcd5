// README: Location handlers: driver position submission and latest lookup.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trackd/internal/http/middleware"
	"trackd/internal/modules/location"
	"trackd/internal/modules/order"
	"trackd/internal/types"
)

type LocationHandler struct {
	location *location.Service
	orders   *order.Service
}

func NewLocationHandler(svc *location.Service, orders *order.Service) *LocationHandler {
	return &LocationHandler{location: svc, orders: orders}
}

type positionRequest struct {
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	RecordedAt *time.Time `json:"recorded_at"`
}

func (h *LocationHandler) Submit(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	cmd := location.SubmitCommand{
		OrderID:  types.ID(id),
		Position: types.Point{Lat: *req.Lat, Lng: *req.Lng},
	}
	if req.RecordedAt != nil {
		cmd.RecordedAt = *req.RecordedAt
	}
	smp, err := h.location.Submit(c.Request.Context(), middleware.Caller(c), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, smp)
}

func (h *LocationHandler) Latest(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	ctx := c.Request.Context()
	o, err := h.orders.Get(ctx, types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !canView(middleware.Caller(c), o) {
		writeDomainError(c, errForbidden)
		return
	}
	smp, err := h.location.Latest(ctx, o.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, smp)
}
