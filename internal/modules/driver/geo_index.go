// README: Redis GEO mirror of online driver positions for cross-process lookups.
package driver

import (
	"context"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/types"
)

const driverGeoKey = "directory:drivers:online"

// GeoIndex mirrors the directory into a Redis GEO set. Only online drivers
// with a fix are members.
type GeoIndex struct {
	redis *redis.Client
}

func NewGeoIndex(redis *redis.Client) *GeoIndex {
	return &GeoIndex{redis: redis}
}

func (g *GeoIndex) Sync(ctx context.Context, r Record) error {
	if !r.Online || r.Position == nil {
		return g.redis.ZRem(ctx, driverGeoKey, string(r.ID)).Err()
	}
	return g.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(r.ID),
		Longitude: r.Position.Lng,
		Latitude:  r.Position.Lat,
	}).Err()
}

// NearbyIDs returns member ids within radiusKm of p, closest first.
func (g *GeoIndex) NearbyIDs(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := g.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
