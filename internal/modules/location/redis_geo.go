// README: Redis GEO mirror of the location cache.
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/types"
)

type RedisGeo struct {
	redis *redis.Client
	key   string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{redis: client, key: key}
}

func (g *RedisGeo) SetPosition(ctx context.Context, p Position) error {
	return g.redis.GeoAdd(ctx, g.key, &redis.GeoLocation{
		Name:      string(p.WorkerID),
		Longitude: p.Point.Lng,
		Latitude:  p.Point.Lat,
	}).Err()
}

func (g *RedisGeo) RemovePosition(ctx context.Context, workerID types.ID) error {
	return g.redis.ZRem(ctx, g.key, string(workerID)).Err()
}

var _ GeoMirror = (*RedisGeo)(nil)
