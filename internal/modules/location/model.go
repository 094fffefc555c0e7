// README: Worker positions held by the location cache.
package location

import (
	"context"
	"errors"
	"time"

	"dispatch/internal/types"
)

var (
	ErrBadRequest    = errors.New("bad request")
	ErrWorkerOffline = errors.New("worker is offline")
)

type Position struct {
	WorkerID  types.ID    `json:"driverId"`
	Point     types.Point `json:"point"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// DriverLocation is a position with its distance from a queried origin.
type DriverLocation struct {
	DriverID types.ID    `json:"driverId"`
	Point    types.Point `json:"point"`
	Distance float64     `json:"distanceKm"`
}

// GeoMirror keeps an external geo index in step with the cache.
type GeoMirror interface {
	SetPosition(ctx context.Context, p Position) error
	RemovePosition(ctx context.Context, workerID types.ID) error
}

// Publisher emits accepted updates to a location stream.
type Publisher interface {
	PublishLocation(ctx context.Context, p Position) error
}

// OnlineChecker reports whether a worker is in the available pool.
type OnlineChecker interface {
	IsOnline(workerID types.ID) bool
}
