package types

import (
	"math"
	"testing"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         Point{Lat: 25.033, Lng: 121.565},
			b:         Point{Lat: 25.033, Lng: 121.565},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Taipei 101 to Taipei Main Station",
			a:         Point{Lat: 25.0340, Lng: 121.5645},
			b:         Point{Lat: 25.0478, Lng: 121.5170},
			wantKm:    5.0,
			tolerance: 1.0,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         Point{Lat: 40.7128, Lng: -74.0060},
			b:         Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	a := Point{Lat: 25.0, Lng: 121.0}
	b := Point{Lat: 26.0, Lng: 122.0}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestPointValidate(t *testing.T) {
	cases := []struct {
		p    Point
		want error
	}{
		{Point{Lat: 0, Lng: 0}, nil},
		{Point{Lat: 90, Lng: 180}, nil},
		{Point{Lat: 91, Lng: 0}, ErrInvalidPoint},
		{Point{Lat: 0, Lng: -181}, ErrInvalidPoint},
	}
	for _, tc := range cases {
		if got := tc.p.Validate(); got != tc.want {
			t.Errorf("Validate(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
}
