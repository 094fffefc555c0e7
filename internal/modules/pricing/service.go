// README: Pricing service computes fare estimates and commission splits.
package pricing

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"dispatch/internal/config"
	"dispatch/internal/types"
)

var (
	ErrUnknownServiceType = errors.New("unknown service type")
	ErrBadRequest         = errors.New("bad request")
)

// DistanceProvider returns the trip distance between two points in kilometres.
type DistanceProvider interface {
	DistanceKm(ctx context.Context, from, to types.Point) (float64, error)
}

type Service struct {
	mu         sync.RWMutex
	rates      map[ServiceType]Rate
	studentPct int64
	sharedPct  int64
	currency   string
	distance   DistanceProvider
	log        logrus.FieldLogger
}

func NewService(cfg config.PricingConfig, distance DistanceProvider, log logrus.FieldLogger) *Service {
	rates := make(map[ServiceType]Rate, len(DefaultRates))
	for k, v := range DefaultRates {
		rates[k] = v
	}
	return &Service{
		rates:      rates,
		studentPct: cfg.StudentDiscountPct,
		sharedPct:  cfg.SharedDiscountPct,
		currency:   cfg.Currency,
		distance:   distance,
		log:        log,
	}
}

// LoadRates overrides the built-in rates with rows from the store.
func (s *Service) LoadRates(ctx context.Context, store *Store) error {
	rates, err := store.ListRates(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rates {
		if !r.ServiceType.Valid() {
			s.log.WithField("service_type", r.ServiceType).Warn("ignoring rate for unknown service type")
			continue
		}
		s.rates[r.ServiceType] = r
	}
	return nil
}

func (s *Service) Currency() string {
	return s.currency
}

// DistanceKm prefers the configured road-distance provider and falls back to haversine.
func (s *Service) DistanceKm(ctx context.Context, from, to types.Point) float64 {
	if s.distance != nil {
		km, err := s.distance.DistanceKm(ctx, from, to)
		if err == nil {
			return km
		}
		s.log.WithError(err).Warn("road distance unavailable, using haversine")
	}
	return types.HaversineKm(from, to)
}

func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (Quote, error) {
	if err := req.Pickup.Validate(); err != nil {
		return Quote{}, ErrBadRequest
	}
	if err := req.Dropoff.Validate(); err != nil {
		return Quote{}, ErrBadRequest
	}
	km := s.DistanceKm(ctx, req.Pickup, req.Dropoff)
	return s.Quote(req.ServiceType, km, req.Student, req.Shared)
}

// Quote prices a trip of km kilometres. Discounts compose multiplicatively and the
// result is rounded half up to the nearest 100.
func (s *Service) Quote(serviceType ServiceType, km float64, student, shared bool) (Quote, error) {
	s.mu.RLock()
	rate, ok := s.rates[serviceType]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, ErrUnknownServiceType
	}
	if km < 0 || math.IsNaN(km) || math.IsInf(km, 0) {
		return Quote{}, ErrBadRequest
	}

	price := float64(rate.BaseFare) + km*float64(rate.PerKm)
	subtotal := price
	if student {
		price = price * float64(100-s.studentPct) / 100
	}
	if shared {
		price = price * float64(100-s.sharedPct) / 100
	}

	return Quote{
		ServiceType:     serviceType,
		DistanceKm:      km,
		Subtotal:        int64(math.Round(subtotal)),
		StudentDiscount: student,
		SharedDiscount:  shared,
		Total:           types.Money{Amount: roundToHundred(price), Currency: s.currency},
	}, nil
}

// Commission is recomputed for every call; callers pass the worker's current ride count.
func (s *Service) Commission(fare, completedRides int64) Split {
	return SplitFare(fare, completedRides)
}

func roundToHundred(v float64) int64 {
	return int64(math.Floor(v/100+0.5)) * 100
}
