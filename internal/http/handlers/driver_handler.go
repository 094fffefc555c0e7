// README: Driver handlers for availability and profile.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/presence"
	"dispatch/internal/modules/worker"
)

type DriverHandler struct {
	presence *presence.Registry
	workers  *worker.Service
}

func NewDriverHandler(registry *presence.Registry, workers *worker.Service) *DriverHandler {
	return &DriverHandler{presence: registry, workers: workers}
}

type availabilityReq struct {
	IsOnline *bool `json:"isOnline" binding:"required"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	if !requireRole(c, RoleDriver) {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.presence.SetOnline(c.Request.Context(), callerID(c), *req.IsOnline); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driverId": callerID(c), "isOnline": *req.IsOnline})
}

func (h *DriverHandler) GetProfile(c *gin.Context) {
	if !requireRole(c, RoleDriver) {
		return
	}
	p, err := h.workers.Profile(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

type profileReq struct {
	ServiceTypes      []string `json:"serviceTypes" binding:"dive,oneof=car ac_car moto"`
	WomenOnlyEligible bool     `json:"womenOnlyEligible"`
}

// UpdateProfile stores the declared service types. The completed-ride count is server owned.
func (h *DriverHandler) UpdateProfile(c *gin.Context) {
	if !requireRole(c, RoleDriver) {
		return
	}
	var req profileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	p, err := h.workers.Profile(ctx, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	p.ServiceTypes = req.ServiceTypes
	p.WomenOnlyEligible = req.WomenOnlyEligible
	if err := h.workers.UpdateProfile(ctx, p); err != nil {
		writeServiceError(c, err)
		return
	}
	h.presence.SetProfile(p.ID, p)
	writeJSON(c, http.StatusOK, p)
}
