// README: Base handler utilities (JSON helpers, caller checks, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/ride"
	"dispatch/internal/modules/subscription"
	"dispatch/internal/modules/wallet"
	"dispatch/internal/modules/worker"
	"dispatch/internal/types"
)

const (
	RolePassenger = "passenger"
	RoleDriver    = "driver"
	RoleAdmin     = "admin"
)

type errorResponse struct {
	Error string `json:"error"`
}

type pointReq struct {
	Lat float64 `json:"lat" binding:"gte=-90,lte=90"`
	Lng float64 `json:"lng" binding:"gte=-180,lte=180"`
}

func (p pointReq) point() types.Point {
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

// isValidID accepts the uuid-style ids we generate plus external uids (Firebase, JWT sub).
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

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrBadRequest), errors.Is(err, presence.ErrBadRequest),
		errors.Is(err, location.ErrBadRequest), errors.Is(err, pricing.ErrBadRequest),
		errors.Is(err, worker.ErrBadRequest), errors.Is(err, wallet.ErrBadRequest),
		errors.Is(err, subscription.ErrBadRequest), errors.Is(err, pricing.ErrUnknownServiceType),
		errors.Is(err, subscription.ErrUnknownPlan), errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, types.ErrInvalidPoint):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, worker.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound), errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, subscription.ErrNoTickets):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrAlreadyClaimed), errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrActiveRide), errors.Is(err, ride.ErrWorkerBusy),
		errors.Is(err, wallet.ErrDuplicateReference), errors.Is(err, location.ErrWorkerOffline):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, subscription.ErrQuotaExhausted),
		errors.Is(err, presence.ErrBelowMinimumBalance):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// callerRole treats a token without a role claim as a passenger.
func callerRole(c *gin.Context) string {
	if r := middleware.CallerRole(c); r != "" {
		return r
	}
	return RolePassenger
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func requireRole(c *gin.Context, roles ...string) bool {
	role := callerRole(c)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	writeError(c, http.StatusForbidden, "forbidden: "+roles[0]+" role required")
	return false
}

func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
