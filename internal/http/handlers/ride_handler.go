// README: Ride handlers for request, claim, start, complete, cancel and history.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/ride"
	"dispatch/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{rides: svc}
}

type createRideReq struct {
	Pickup         *pointReq `json:"pickup" binding:"required"`
	Dropoff        *pointReq `json:"dropoff" binding:"required"`
	PickupAddress  string    `json:"pickupAddress" binding:"max=512"`
	DropoffAddress string    `json:"dropoffAddress" binding:"max=512"`
	ServiceType    string    `json:"serviceType" binding:"required,oneof=car ac_car moto"`
	CounterOffer   *int64    `json:"counterOffer" binding:"omitempty,gt=0"`
	WomenOnly      bool      `json:"womenOnly"`
	Shared         bool      `json:"shared"`
	PaymentMethod  string    `json:"paymentMethod" binding:"omitempty,oneof=wallet cash"`
}

func (h *RideHandler) Create(c *gin.Context) {
	if !requireRole(c, RolePassenger) {
		return
	}
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		PassengerID:    callerID(c),
		Pickup:         req.Pickup.point(),
		Dropoff:        req.Dropoff.point(),
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		ServiceType:    req.ServiceType,
		CounterOffer:   req.CounterOffer,
		WomenOnly:      req.WomenOnly,
		Shared:         req.Shared,
		PaymentMethod:  ride.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

// load returns the ride when the caller is its passenger, its driver or an admin.
func (h *RideHandler) load(c *gin.Context) (*ride.Ride, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	uid := callerID(c)
	if callerRole(c) != RoleAdmin && r.PassengerID != uid && !r.IsDriver(uid) {
		writeError(c, http.StatusForbidden, "forbidden: not a party to this ride")
		return nil, false
	}
	return r, true
}

func (h *RideHandler) Get(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Events(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	events, err := h.rides.Events(c.Request.Context(), r.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"rideId": r.ID, "events": events})
}

func (h *RideHandler) Claim(c *gin.Context) {
	h.driverAction(c, func(id, driver types.ID) (*ride.Ride, error) {
		return h.rides.Claim(c.Request.Context(), ride.ClaimCommand{RideID: id, DriverID: driver})
	})
}

func (h *RideHandler) Start(c *gin.Context) {
	h.driverAction(c, func(id, driver types.ID) (*ride.Ride, error) {
		return h.rides.Start(c.Request.Context(), ride.StartCommand{RideID: id, DriverID: driver})
	})
}

func (h *RideHandler) Complete(c *gin.Context) {
	h.driverAction(c, func(id, driver types.ID) (*ride.Ride, error) {
		return h.rides.Complete(c.Request.Context(), ride.CompleteCommand{RideID: id, DriverID: driver})
	})
}

func (h *RideHandler) driverAction(c *gin.Context, do func(id, driver types.ID) (*ride.Ride, error)) {
	if !requireRole(c, RoleDriver) {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := do(id, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type cancelRideReq struct {
	Reason string `json:"reason" binding:"max=256"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	if !requireRole(c, RolePassenger, RoleDriver) {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelRideReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	actor := ride.ActorPassenger
	if callerRole(c) == RoleDriver {
		actor = ride.ActorDriver
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:    id,
		ActorType: actor,
		ActorID:   callerID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
