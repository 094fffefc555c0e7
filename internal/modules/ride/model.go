// README: Ride aggregate, status definitions and the lifecycle transition table.
package ride

import (
	"time"

	"dispatch/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type PaymentMethod string

const (
	PaymentWallet PaymentMethod = "wallet"
	PaymentCash   PaymentMethod = "cash"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentWallet || p == PaymentCash
}

const (
	ActorPassenger = "passenger"
	ActorDriver    = "driver"
	ActorSystem    = "system"
)

type Ride struct {
	ID             types.ID      `json:"id"`
	PassengerID    types.ID      `json:"passengerId"`
	DriverID       *types.ID     `json:"driverId,omitempty"`
	Status         Status        `json:"status"`
	StatusVersion  int           `json:"statusVersion"`
	Pickup         types.Point   `json:"pickup"`
	Dropoff        types.Point   `json:"dropoff"`
	PickupAddress  string        `json:"pickupAddress,omitempty"`
	DropoffAddress string        `json:"dropoffAddress,omitempty"`
	ServiceType    string        `json:"serviceType"`
	DistanceKm     float64       `json:"distanceKm"`
	EstimatedPrice types.Money   `json:"estimatedPrice"`
	CounterOffer   *types.Money  `json:"counterOffer,omitempty"`
	WomenOnly      bool          `json:"womenOnly"`
	Shared         bool          `json:"shared"`
	Student        bool          `json:"student"`
	PaymentMethod  PaymentMethod `json:"paymentMethod"`

	FinalPrice   *types.Money `json:"finalPrice,omitempty"`
	Commission   *types.Money `json:"commission,omitempty"`
	DriverNet    *types.Money `json:"driverNet,omitempty"`
	CommissionBP int64        `json:"commissionBp,omitempty"`
	DriverTier   string       `json:"driverTier,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	CancelReason string    `json:"cancelReason,omitempty"`
	CancelActor  string    `json:"cancelActor,omitempty"`
	CancelledBy  *types.ID `json:"cancelledBy,omitempty"`

	SettlementPending bool `json:"settlementPending"`
}

// Price is the amount the passenger pays: the counter-offer when present, else the estimate.
func (r *Ride) Price() types.Money {
	if r.CounterOffer != nil {
		return *r.CounterOffer
	}
	return r.EstimatedPrice
}

func (r *Ride) IsDriver(id types.ID) bool {
	return r.DriverID != nil && *r.DriverID == id
}

type Event struct {
	ID         int64     `json:"id"`
	RideID     types.ID  `json:"rideId"`
	FromStatus Status    `json:"from"`
	ToStatus   Status    `json:"to"`
	ActorType  string    `json:"actorType"`
	ActorID    *types.ID `json:"actorId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Transition is one guarded status change. It applies only while the stored ride still has
// status From at StatusVersion Version.
type Transition struct {
	RideID  types.ID
	From    Status
	To      Status
	Version int
	At      time.Time

	DriverID    *types.ID
	ClearDriver bool

	FinalPrice   *int64
	Commission   *int64
	DriverNet    *int64
	CommissionBP int64
	DriverTier   string

	CancelReason string
	CancelActor  string
	CancelledBy  *types.ID
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func IsActive(s Status) bool {
	return s == StatusPending || s == StatusAccepted || s == StatusInProgress
}
