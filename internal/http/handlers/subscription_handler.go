// README: Subscription and lottery handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/subscription"
	"dispatch/internal/types"
)

type SubscriptionHandler struct {
	subs *subscription.Service
}

func NewSubscriptionHandler(svc *subscription.Service) *SubscriptionHandler {
	return &SubscriptionHandler{subs: svc}
}

type subscribeReq struct {
	Plan string `json:"plan" binding:"required"`
}

func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var req subscribeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := h.subs.Subscribe(c.Request.Context(), callerID(c), req.Plan)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) Active(c *gin.Context) {
	sub, err := h.subs.Active(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Plans(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]any{"plans": subscription.Plans})
}

func (h *SubscriptionHandler) Tickets(c *gin.Context) {
	tickets, err := h.subs.Tickets(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"tickets": tickets})
}

type referralReq struct {
	UserID string `json:"userId" binding:"required,max=64"`
	Ref    string `json:"ref" binding:"required,max=128"`
}

// GrantReferral issues a referral ticket. Repeating the same ref is a no-op.
func (h *SubscriptionHandler) GrantReferral(c *gin.Context) {
	if !requireRole(c, RoleAdmin) {
		return
	}
	var req referralReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.subs.EarnTicket(c.Request.Context(), types.ID(req.UserID), subscription.SourceReferral, req.Ref)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(c, status, map[string]any{"created": created})
}

func (h *SubscriptionHandler) Draw(c *gin.Context) {
	if !requireRole(c, RoleAdmin) {
		return
	}
	drawID, ok := pathID(c, "drawId")
	if !ok {
		return
	}
	t, err := h.subs.Draw(c.Request.Context(), string(drawID))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}
