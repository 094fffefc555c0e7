// README: Fare estimate handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/subscription"
)

type PricingHandler struct {
	pricing *pricing.Service
	subs    *subscription.Service
}

func NewPricingHandler(pricingSvc *pricing.Service, subs *subscription.Service) *PricingHandler {
	return &PricingHandler{pricing: pricingSvc, subs: subs}
}

type estimateReq struct {
	Pickup      *pointReq `json:"pickup" binding:"required"`
	Dropoff     *pointReq `json:"dropoff" binding:"required"`
	ServiceType string    `json:"serviceType" binding:"required,oneof=car ac_car moto"`
	Shared      bool      `json:"shared"`
}

// Estimate quotes a trip for the caller; the student discount follows their subscription.
func (h *PricingHandler) Estimate(c *gin.Context) {
	var req estimateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	student := false
	if h.subs != nil {
		var err error
		if student, err = h.subs.IsStudent(ctx, callerID(c)); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	q, err := h.pricing.Estimate(ctx, pricing.EstimateRequest{
		Pickup:      req.Pickup.point(),
		Dropoff:     req.Dropoff.point(),
		ServiceType: pricing.ServiceType(req.ServiceType),
		Student:     student,
		Shared:      req.Shared,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

// Tiers exposes the commission schedule.
func (h *PricingHandler) Tiers(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]any{"tiers": pricing.Tiers})
}
