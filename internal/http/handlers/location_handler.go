// README: Location handlers for driver position updates and nearby views.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/location"
	"dispatch/internal/types"
)

type LocationHandler struct {
	location      *location.Cache
	defaultRadius float64
}

func NewLocationHandler(cache *location.Cache, defaultRadiusKm float64) *LocationHandler {
	return &LocationHandler{location: cache, defaultRadius: defaultRadiusKm}
}

func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// Only the authenticated driver may update their own location.
	if callerRole(c) != RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	if callerID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req pointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.location.UpdateLocation(c.Request.Context(), id, req.Lat, req.Lng); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

// Nearby lists cached drivers around lat/lng. The scan is linear in the number of cached drivers.
func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	origin := types.Point{Lat: lat, Lng: lng}
	if err := origin.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}
	radius := h.defaultRadius
	if v := c.Query("radiusKm"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 || r > 50 {
			writeError(c, http.StatusBadRequest, "radiusKm must be within (0, 50]")
			return
		}
		radius = r
	}
	writeJSON(c, http.StatusOK, map[string]any{"workers": h.location.Nearby(origin, radius)})
}
