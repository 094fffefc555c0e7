// README: Subscription plans, ride quotas and lottery tickets.
package subscription

import (
	"errors"
	"time"

	"dispatch/internal/types"
)

var (
	ErrNotFound       = errors.New("subscription not found")
	ErrUnknownPlan    = errors.New("unknown subscription plan")
	ErrQuotaExhausted = errors.New("subscription ride quota exhausted")
	ErrNoTickets      = errors.New("no unconsumed lottery tickets")
	ErrBadRequest     = errors.New("bad request")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

type Plan struct {
	Name        string        `json:"name"`
	DiscountPct int64         `json:"discountPct"`
	Rides       int           `json:"rides"`
	Duration    time.Duration `json:"duration"`
}

const (
	PlanStudent  = "student"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

var Plans = map[string]Plan{
	PlanStudent:  {Name: PlanStudent, DiscountPct: 30, Rides: 40, Duration: 30 * 24 * time.Hour},
	PlanStandard: {Name: PlanStandard, DiscountPct: 10, Rides: 20, Duration: 30 * 24 * time.Hour},
	PlanPremium:  {Name: PlanPremium, DiscountPct: 15, Rides: 60, Duration: 30 * 24 * time.Hour},
}

type Subscription struct {
	ID             types.ID  `json:"id"`
	UserID         types.ID  `json:"userId"`
	Plan           string    `json:"plan"`
	Status         Status    `json:"status"`
	RidesRemaining int       `json:"ridesRemaining"`
	DiscountPct    int64     `json:"discountPct"`
	StartedAt      time.Time `json:"startedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type TicketSource string

const (
	SourceRideCompleted TicketSource = "ride_completed"
	SourceReferral      TicketSource = "referral"
	SourceSubscription  TicketSource = "subscription"
)

func (s TicketSource) Valid() bool {
	switch s {
	case SourceRideCompleted, SourceReferral, SourceSubscription:
		return true
	}
	return false
}

type Ticket struct {
	ID         types.ID     `json:"id"`
	UserID     types.ID     `json:"userId"`
	Source     TicketSource `json:"source"`
	SourceRef  string       `json:"sourceRef"`
	EarnedAt   time.Time    `json:"earnedAt"`
	ConsumedAt *time.Time   `json:"consumedAt,omitempty"`
	DrawID     string       `json:"drawId,omitempty"`
}
