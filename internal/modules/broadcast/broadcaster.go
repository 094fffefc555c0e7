// README: Request broadcaster; fans a new ride out to the online pool.
package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

const EventNewRequest = "ride.newRequest"

// fanoutLimit bounds concurrent sends per broadcast.
const fanoutLimit = 32

// Request is the ride.newRequest payload.
type Request struct {
	RideID         types.ID     `json:"rideId"`
	PassengerID    types.ID     `json:"passengerId"`
	Pickup         types.Point  `json:"pickup"`
	Dropoff        types.Point  `json:"dropoff"`
	PickupAddress  string       `json:"pickupAddress,omitempty"`
	DropoffAddress string       `json:"dropoffAddress,omitempty"`
	ServiceType    string       `json:"serviceType"`
	EstimatedPrice types.Money  `json:"estimatedPrice"`
	CounterOffer   *types.Money `json:"counterOffer,omitempty"`
	WomenOnly      bool         `json:"womenOnly"`
	Shared         bool         `json:"shared"`
	PaymentMethod  string       `json:"paymentMethod"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type Registry interface {
	Pool() []types.ID
	Session(userID types.ID) (presence.Session, bool)
	SendTo(ctx context.Context, userID types.ID, event string, payload any) bool
}

type Locator interface {
	Get(workerID types.ID) (location.Position, bool)
}

type Broadcaster struct {
	registry Registry
	locator  Locator
	eligible Eligibility
	log      logrus.FieldLogger
}

// New builds a broadcaster. eligible may be nil to reach the whole pool.
func New(registry Registry, locator Locator, eligible Eligibility, log logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{registry: registry, locator: locator, eligible: eligible, log: log}
}

// Broadcast sends req to every eligible online worker and returns how many live
// connections accepted it. It never touches the ride itself.
func (b *Broadcaster) Broadcast(ctx context.Context, req Request) int {
	targets := b.targets(req)

	var reached atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanoutLimit)
	for _, id := range targets {
		id := id
		g.Go(func() error {
			if b.registry.SendTo(gctx, id, EventNewRequest, req) {
				reached.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(reached.Load())
	observability.BroadcastFanout.Observe(float64(n))
	b.log.WithFields(logrus.Fields{
		"ride_id":    req.RideID,
		"candidates": len(targets),
		"reached":    n,
	}).Info("ride request broadcast")
	return n
}

func (b *Broadcaster) targets(req Request) []types.ID {
	pool := b.registry.Pool()
	if b.eligible == nil {
		return pool
	}
	out := make([]types.ID, 0, len(pool))
	for _, id := range pool {
		c := Candidate{WorkerID: id}
		if s, ok := b.registry.Session(id); ok {
			c.Session = s
		}
		if b.locator != nil {
			if p, ok := b.locator.Get(id); ok {
				c.Position = &p
			}
		}
		if b.eligible(req, c) {
			out = append(out, id)
		}
	}
	return out
}
