// README: Websocket envelope and the closed set of inbound message types.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	MsgRegister       = "register"
	MsgLocationUpdate = "worker.locationUpdate"
	MsgOnline         = "worker.online"
	MsgRideRequest    = "ride.request"
	MsgRideClaim      = "ride.claim"
	MsgRideStart      = "ride.start"
	MsgRideComplete   = "ride.complete"
	MsgRideCancel     = "ride.cancel"

	EventRegistered    = "registered"
	EventRideCreated   = "ride.created"
	EventWorkersNearby = "workers.nearby"
	EventError         = "error"
)

var ErrUnknownType = errors.New("unknown message type")

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type RegisterMsg struct {
	UserID string `json:"userId"`
	Role   string `json:"role" validate:"required,oneof=passenger driver"`
}

type LocationMsg struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type OnlineMsg struct {
	IsOnline *bool `json:"isOnline" validate:"required"`
}

type PointMsg struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type RideRequestMsg struct {
	Pickup         *PointMsg `json:"pickup" validate:"required"`
	Dropoff        *PointMsg `json:"dropoff" validate:"required"`
	PickupAddress  string    `json:"pickupAddress" validate:"max=512"`
	DropoffAddress string    `json:"dropoffAddress" validate:"max=512"`
	ServiceType    string    `json:"serviceType" validate:"required,oneof=car ac_car moto"`
	CounterOffer   *int64    `json:"counterOffer" validate:"omitempty,gt=0"`
	WomenOnly      bool      `json:"womenOnly"`
	Shared         bool      `json:"shared"`
	PaymentMethod  string    `json:"paymentMethod" validate:"omitempty,oneof=wallet cash"`
}

// RideRefMsg carries the ride id for claim, start and complete.
type RideRefMsg struct {
	RequestID string `json:"requestId" validate:"required"`
}

type RideCancelMsg struct {
	RequestID string `json:"requestId" validate:"required"`
	Reason    string `json:"reason" validate:"max=256"`
}

// ErrorPayload is sent to the acting connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	For     string `json:"for,omitempty"`
}

// decoders maps every accepted type to a fresh payload value.
var decoders = map[string]func() any{
	MsgRegister:       func() any { return &RegisterMsg{} },
	MsgLocationUpdate: func() any { return &LocationMsg{} },
	MsgOnline:         func() any { return &OnlineMsg{} },
	MsgRideRequest:    func() any { return &RideRequestMsg{} },
	MsgRideClaim:      func() any { return &RideRefMsg{} },
	MsgRideStart:      func() any { return &RideRefMsg{} },
	MsgRideComplete:   func() any { return &RideRefMsg{} },
	MsgRideCancel:     func() any { return &RideCancelMsg{} },
}

// Decode parses and validates one inbound frame.
func Decode(v *validator.Validate, raw []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("malformed envelope: %w", err)
	}
	mk, ok := decoders[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	msg := mk()
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return env.Type, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
	}
	if err := v.Struct(msg); err != nil {
		return env.Type, nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}
