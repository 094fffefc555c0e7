// README: Location cache; last-write-wins worker positions with a naive nearby scan.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/types"
)

// Cache is the authoritative in-process position map. Mirror and publisher are optional
// and are called outside the lock; their failures are logged, never returned.
type Cache struct {
	mu        sync.RWMutex
	positions map[types.ID]Position

	pool      OnlineChecker
	mirror    GeoMirror
	publisher Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewCache(mirror GeoMirror, publisher Publisher, log logrus.FieldLogger) *Cache {
	return &Cache{
		positions: make(map[types.ID]Position),
		mirror:    mirror,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequireOnline makes UpdateLocation refuse workers that are not in pool.
func (c *Cache) RequireOnline(pool OnlineChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = pool
}

// UpdateLocation overwrites the worker's position. Invalid coordinates are rejected, and so
// are offline workers once RequireOnline is set.
func (c *Cache) UpdateLocation(ctx context.Context, workerID types.ID, lat, lng float64) error {
	if workerID == "" {
		return ErrBadRequest
	}
	pt := types.Point{Lat: lat, Lng: lng}
	if err := pt.Validate(); err != nil {
		return err
	}
	pos := Position{WorkerID: workerID, Point: pt, UpdatedAt: c.now()}

	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()
	if pool != nil && !pool.IsOnline(workerID) {
		return ErrWorkerOffline
	}

	c.mu.Lock()
	c.positions[workerID] = pos
	c.mu.Unlock()

	// The worker may have gone offline between the check and the write.
	if pool != nil && !pool.IsOnline(workerID) {
		c.Remove(ctx, workerID)
		return ErrWorkerOffline
	}

	if c.mirror != nil {
		if err := c.mirror.SetPosition(ctx, pos); err != nil {
			c.log.WithError(err).WithField("driver_id", workerID).Warn("geo mirror update failed")
		}
	}
	if c.publisher != nil {
		if err := c.publisher.PublishLocation(ctx, pos); err != nil {
			c.log.WithError(err).WithField("driver_id", workerID).Warn("location publish failed")
		}
	}
	return nil
}

func (c *Cache) Get(workerID types.ID) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[workerID]
	return p, ok
}

// Snapshot returns a copy of every cached position.
func (c *Cache) Snapshot() map[types.ID]Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.ID]Position, len(c.positions))
	for id, p := range c.positions {
		out[id] = p
	}
	return out
}

// Nearby scans every cached position and keeps those within radiusKm, closest first.
// This is O(n) per call.
func (c *Cache) Nearby(origin types.Point, radiusKm float64) []DriverLocation {
	snap := c.Snapshot()
	result := make([]DriverLocation, 0, len(snap))
	for id, p := range snap {
		d := types.HaversineKm(origin, p.Point)
		if d <= radiusKm {
			result = append(result, DriverLocation{DriverID: id, Point: p.Point, Distance: d})
		}
	}
	sortByDistance(result, func(d DriverLocation) float64 { return d.Distance })
	return result
}

// DistanceTo returns the distance from the worker's cached position to p.
func (c *Cache) DistanceTo(workerID types.ID, p types.Point) (float64, bool) {
	pos, ok := c.Get(workerID)
	if !ok {
		return 0, false
	}
	return types.HaversineKm(pos.Point, p), true
}

func (c *Cache) Remove(ctx context.Context, workerID types.ID) {
	c.mu.Lock()
	_, had := c.positions[workerID]
	delete(c.positions, workerID)
	c.mu.Unlock()

	if had && c.mirror != nil {
		if err := c.mirror.RemovePosition(ctx, workerID); err != nil {
			c.log.WithError(err).WithField("driver_id", workerID).Warn("geo mirror removal failed")
		}
	}
}
