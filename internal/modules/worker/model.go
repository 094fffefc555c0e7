// README: Worker profile and completed-ride counter (commission tier source).
package worker

import (
	"errors"
	"time"

	"dispatch/internal/types"
)

var (
	ErrNotFound   = errors.New("worker not found")
	ErrBadRequest = errors.New("bad request")
)

type Profile struct {
	ID types.ID `json:"driverId"`
	// ServiceTypes the worker can serve (car, ac_car, moto).
	ServiceTypes      []string  `json:"serviceTypes"`
	WomenOnlyEligible bool      `json:"womenOnlyEligible"`
	CompletedRides    int       `json:"completedRides"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Serves reports whether the worker declared serviceType. An empty list serves all types.
func (p Profile) Serves(serviceType string) bool {
	if len(p.ServiceTypes) == 0 {
		return true
	}
	for _, s := range p.ServiceTypes {
		if s == serviceType {
			return true
		}
	}
	return false
}
