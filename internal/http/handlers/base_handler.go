// README: Base handler utilities (JSON helpers, error mapping, order view).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trackd/internal/modules/location"
	"trackd/internal/modules/order"
	"trackd/internal/realtime"
	"trackd/internal/types"
)

var errForbidden = errors.New("forbidden")

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the id alphabet used by the storefront (alnum, '-' and '_').
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// errorStatus maps domain errors onto HTTP status codes. Unknown errors are 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, order.ErrBadRequest), errors.Is(err, location.ErrInvalidSample), errors.Is(err, realtime.ErrBadTopic):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound), errors.Is(err, location.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrTerminalState),
		errors.Is(err, order.ErrConflict), errors.Is(err, order.ErrNotActionable),
		errors.Is(err, location.ErrNotMoving), errors.Is(err, location.ErrStaleSample):
		return http.StatusConflict
	case errors.Is(err, order.ErrUnauthorizedActor), errors.Is(err, location.ErrNotAssigned),
		errors.Is(err, realtime.ErrForbiddenTopic), errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNoDriverAssigned):
		return http.StatusUnprocessableEntity
	case errors.Is(err, location.ErrThrottled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeError(c, status, "internal error")
		return
	}
	writeError(c, status, err.Error())
}

type orderResponse struct {
	ID            types.ID            `json:"id"`
	CustomerID    types.ID            `json:"customer_id"`
	RestaurantID  types.ID            `json:"restaurant_id"`
	DriverID      *types.ID           `json:"driver_id,omitempty"`
	Status        order.Status        `json:"status"`
	StatusVersion int                 `json:"status_version"`
	ETAMinutes    *int                `json:"eta_minutes,omitempty"`
	History       []order.StatusStamp `json:"history"`
	Origin        types.Point         `json:"origin"`
	Destination   types.Point         `json:"destination"`
	ScheduledAt   *time.Time          `json:"scheduled_at,omitempty"`
	Summary       order.Summary       `json:"order_summary"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		RestaurantID:  o.RestaurantID,
		DriverID:      o.DriverID,
		Status:        o.Status,
		StatusVersion: o.StatusVersion,
		History:       o.History,
		Origin:        o.Origin,
		Destination:   o.Destination,
		ScheduledAt:   o.ScheduledAt,
		Summary:       o.Summary,
		CreatedAt:     o.CreatedAt,
	}
	if resp.History == nil {
		resp.History = []order.StatusStamp{}
	}
	if eta, ok := order.ETABand(o.Status); ok {
		m := int(eta.Minutes())
		resp.ETAMinutes = &m
	}
	return resp
}

// canView reports whether who is a party to o.
func canView(who realtime.Identity, o *order.Order) bool {
	switch who.Role {
	case types.RoleAdmin, types.RoleSystem:
		return true
	case types.RoleRestaurant:
		return who.ScopeID() == o.RestaurantID
	case types.RoleDriver:
		return o.Driver() != "" && who.ScopeID() == o.Driver()
	case types.RoleGuest:
		return false
	default:
		return who.SubjectID == o.CustomerID
	}
}

// viewerFor maps an identity onto the listing it may see.
func viewerFor(who realtime.Identity) order.Viewer {
	return order.Viewer{ID: who.ScopeID(), Role: who.Role}
}
