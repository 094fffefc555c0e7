// README: Broadcast eligibility predicates; all disabled unless configured.
package broadcast

import (
	"fmt"

	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/types"
)

// Candidate is an online worker considered for a request.
type Candidate struct {
	WorkerID types.ID
	Session  presence.Session
	Position *location.Position
}

// Eligibility decides whether a candidate should receive a request. A nil Eligibility admits everyone.
type Eligibility func(req Request, c Candidate) bool

// WithinRadius admits workers whose last known position is within km of the pickup.
// Workers with no known position are excluded.
func WithinRadius(km float64) Eligibility {
	return func(req Request, c Candidate) bool {
		if c.Position == nil {
			return false
		}
		return types.HaversineKm(c.Position.Point, req.Pickup) <= km
	}
}

func ServiceTypeMatch() Eligibility {
	return func(req Request, c Candidate) bool {
		return c.Session.Profile.Serves(req.ServiceType)
	}
}

// WomenOnlyMatch restricts women-only requests to eligible workers.
func WomenOnlyMatch() Eligibility {
	return func(req Request, c Candidate) bool {
		return !req.WomenOnly || c.Session.Profile.WomenOnlyEligible
	}
}

func All(preds ...Eligibility) Eligibility {
	return func(req Request, c Candidate) bool {
		for _, p := range preds {
			if p != nil && !p(req, c) {
				return false
			}
		}
		return true
	}
}

// FromConfig builds the predicate named by filters ("radius", "service_type", "women_only").
// It returns nil when no filters are named.
func FromConfig(filters []string, radiusKm float64) (Eligibility, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	preds := make([]Eligibility, 0, len(filters))
	for _, f := range filters {
		switch f {
		case "radius":
			preds = append(preds, WithinRadius(radiusKm))
		case "service_type":
			preds = append(preds, ServiceTypeMatch())
		case "women_only":
			preds = append(preds, WomenOnlyMatch())
		default:
			return nil, fmt.Errorf("unknown broadcast filter %q", f)
		}
	}
	return All(preds...), nil
}
