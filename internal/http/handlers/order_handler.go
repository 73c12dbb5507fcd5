// README: Order handlers: read, status transitions and new-order announcements.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trackd/internal/http/middleware"
	"trackd/internal/modules/order"
	"trackd/internal/types"
)

type OrderHandler struct {
	orders *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{orders: svc}
}

type statusRequest struct {
	Status   string `json:"status"`
	DriverID string `json:"driver_id"`
}

type statusResponse struct {
	Order     orderResponse      `json:"order"`
	Change    order.StatusChange `json:"change"`
	Delivered int                `json:"delivered"`
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	o, err := h.orders.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !canView(middleware.Caller(c), o) {
		writeDomainError(c, errForbidden)
		return
	}
	writeJSON(c, http.StatusOK, toOrderResponse(o))
}

// UpdateStatus applies one transition on behalf of the caller. The caller's
// role is the actor; guests never get here because the route is behind Auth.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return
	}
	to := order.Status(req.Status)
	if !to.Valid() {
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	if req.DriverID != "" && !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "invalid driver_id")
		return
	}
	who := middleware.Caller(c)
	res, err := h.orders.Transition(c.Request.Context(), order.TransitionCommand{
		OrderID:  types.ID(id),
		To:       to,
		Actor:    who.Role,
		ActorID:  who.ScopeID(),
		DriverID: types.ID(req.DriverID),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, statusResponse{
		Order:     toOrderResponse(&res.Order),
		Change:    res.Change,
		Delivered: res.Delivered,
	})
}

// Announce is called by the order-placement collaborator once an order is
// committed. Repeated calls are harmless.
func (h *OrderHandler) Announce(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	switch middleware.CallerRole(c) {
	case types.RoleAdmin, types.RoleSystem:
	default:
		writeDomainError(c, errForbidden)
		return
	}
	sent, err := h.orders.Announce(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"announced": sent})
}
