// README: Shared identifiers and geo primitives.
package types

import (
	"errors"

	"github.com/google/uuid"
)

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var ErrInvalidPoint = errors.New("coordinates out of range")

// Validate rejects points outside WGS84 bounds.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidPoint
	}
	return nil
}

func NewID() ID {
	return ID(uuid.NewString())
}
