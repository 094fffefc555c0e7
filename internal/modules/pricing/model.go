// README: Pricing rates per service type and commission tiers per worker.
package pricing

import "dispatch/internal/types"

type ServiceType string

const (
	ServiceCar   ServiceType = "car"
	ServiceACCar ServiceType = "ac_car"
	ServiceMoto  ServiceType = "moto"
)

func (t ServiceType) Valid() bool {
	_, ok := DefaultRates[t]
	return ok
}

type Rate struct {
	ServiceType ServiceType
	BaseFare    int64
	PerKm       int64
}

var DefaultRates = map[ServiceType]Rate{
	ServiceCar:   {ServiceType: ServiceCar, BaseFare: 500, PerKm: 200},
	ServiceACCar: {ServiceType: ServiceACCar, BaseFare: 700, PerKm: 250},
	ServiceMoto:  {ServiceType: ServiceMoto, BaseFare: 300, PerKm: 100},
}

// Tier is a worker classification by lifetime completed rides.
// RateBP is the platform commission in basis points.
type Tier struct {
	Name     string `json:"name"`
	MinRides int64  `json:"minRides"`
	RateBP   int64  `json:"rateBp"`
}

// Tiers is ordered from the highest threshold down; the last entry matches everyone.
var Tiers = []Tier{
	{Name: "platinum", MinRides: 1000, RateBP: 800},
	{Name: "gold", MinRides: 500, RateBP: 1000},
	{Name: "silver", MinRides: 300, RateBP: 1200},
	{Name: "bronze", MinRides: 100, RateBP: 1500},
	{Name: "base", MinRides: 0, RateBP: 2000},
}

type EstimateRequest struct {
	Pickup      types.Point
	Dropoff     types.Point
	ServiceType ServiceType
	Student     bool
	Shared      bool
}

type Quote struct {
	ServiceType     ServiceType `json:"serviceType"`
	DistanceKm      float64     `json:"distanceKm"`
	Subtotal        int64       `json:"subtotal"`
	StudentDiscount bool        `json:"studentDiscount"`
	SharedDiscount  bool        `json:"sharedDiscount"`
	Total           types.Money `json:"total"`
}

type Split struct {
	Tier       Tier
	Fare       int64
	Commission int64
	Net        int64
}
