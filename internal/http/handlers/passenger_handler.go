// README: Passenger handlers for ride history.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/ride"
)

type PassengerHandler struct {
	rides *ride.Service
}

func NewPassengerHandler(svc *ride.Service) *PassengerHandler {
	return &PassengerHandler{rides: svc}
}

func (h *PassengerHandler) ListRides(c *gin.Context) {
	if !requireRole(c, RolePassenger) {
		return
	}
	rides, err := h.rides.ListByPassenger(c.Request.Context(), callerID(c), queryLimit(c, 20, 100))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"rides": rides})
}
