package pricing

import (
	"context"
	"errors"
	"testing"

	"dispatch/internal/config"
	"dispatch/internal/logging"
	"dispatch/internal/types"
)

func newTestService(distance DistanceProvider) *Service {
	return NewService(config.PricingConfig{
		Currency:           "XOF",
		StudentDiscountPct: 30,
		SharedDiscountPct:  20,
	}, distance, logging.Discard())
}

func TestService_Quote(t *testing.T) {
	tests := []struct {
		name    string
		service ServiceType
		km      float64
		student bool
		shared  bool
		want    int64
	}{
		{name: "car 10km no discount", service: ServiceCar, km: 10, want: 2500},
		// 2500 * 0.7 = 1750 -> half up -> 1800
		{name: "car 10km student", service: ServiceCar, km: 10, student: true, want: 1800},
		// 2500 * 0.8 = 2000
		{name: "car 10km shared", service: ServiceCar, km: 10, shared: true, want: 2000},
		// 2500 * 0.7 * 0.8 = 1400
		{name: "car 10km student+shared", service: ServiceCar, km: 10, student: true, shared: true, want: 1400},
		// 500 + 2.3*200 = 960 -> 1000
		{name: "car rounds up", service: ServiceCar, km: 2.3, want: 1000},
		// 500 + 2.2*200 = 940 -> 900
		{name: "car rounds down", service: ServiceCar, km: 2.2, want: 900},
		{name: "zero distance is base fare", service: ServiceCar, km: 0, want: 500},
		// 700 + 4*250 = 1700
		{name: "ac car", service: ServiceACCar, km: 4, want: 1700},
		// 300 + 7.5*100 = 1050 -> 1100
		{name: "moto half rounds up", service: ServiceMoto, km: 7.5, want: 1100},
	}

	s := newTestService(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := s.Quote(tt.service, tt.km, tt.student, tt.shared)
			if err != nil {
				t.Fatalf("Quote() error = %v", err)
			}
			if q.Total.Amount != tt.want {
				t.Errorf("Quote() = %d, want %d", q.Total.Amount, tt.want)
			}
			if q.Total.Currency != "XOF" {
				t.Errorf("currency = %q", q.Total.Currency)
			}
		})
	}
}

func TestService_QuoteRejects(t *testing.T) {
	s := newTestService(nil)
	if _, err := s.Quote("bus", 3, false, false); err != ErrUnknownServiceType {
		t.Fatalf("expected ErrUnknownServiceType, got %v", err)
	}
	if _, err := s.Quote(ServiceCar, -1, false, false); err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

type fixedDistance struct {
	km  float64
	err error
}

func (f fixedDistance) DistanceKm(context.Context, types.Point, types.Point) (float64, error) {
	return f.km, f.err
}

func TestService_EstimateUsesDistanceProvider(t *testing.T) {
	s := newTestService(fixedDistance{km: 10})
	q, err := s.Estimate(context.Background(), EstimateRequest{
		Pickup:      types.Point{Lat: 5.30, Lng: -4.00},
		Dropoff:     types.Point{Lat: 5.31, Lng: -4.01},
		ServiceType: ServiceCar,
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if q.DistanceKm != 10 || q.Total.Amount != 2500 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestService_EstimateFallsBackToHaversine(t *testing.T) {
	s := newTestService(fixedDistance{err: errors.New("quota exceeded")})
	pickup := types.Point{Lat: 0, Lng: 0}
	dropoff := types.Point{Lat: 0, Lng: 0}
	q, err := s.Estimate(context.Background(), EstimateRequest{Pickup: pickup, Dropoff: dropoff, ServiceType: ServiceMoto})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if q.DistanceKm != 0 || q.Total.Amount != 300 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestService_EstimateRejectsBadPoint(t *testing.T) {
	s := newTestService(nil)
	_, err := s.Estimate(context.Background(), EstimateRequest{
		Pickup:      types.Point{Lat: 100, Lng: 0},
		ServiceType: ServiceCar,
	})
	if err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}
