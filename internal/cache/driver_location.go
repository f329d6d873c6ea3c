package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aditya/towbid/internal/geo"
	"github.com/redis/go-redis/v9"
)

const (
	driverLocationKeyPrefix = "drivers:locations:"
	driverMetaKeyPrefix     = "driver:meta:"
	locationTTL             = 5 * time.Minute
	nearbyLimit             = 100
)

type DriverLocation struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	UpdatedAt int64   `json:"updated_at"`
}

// DriverLocationCache keeps one GEO set per service type so a lookup only
// touches drivers equipped for the request. Postgres stays the source of truth.
type DriverLocationCache interface {
	geo.Locator
	UpdateLocation(ctx context.Context, driverID string, specialties []string, lat, lng float64) error
	GetDriverLocation(ctx context.Context, driverID string) (*DriverLocation, error)
	RemoveDriver(ctx context.Context, driverID string, specialties []string) error
	SetDriverMeta(ctx context.Context, driverID, status string, rating float64) error
	GetDriverMeta(ctx context.Context, driverID string) (map[string]string, error)
}

type driverLocationCache struct {
	redis *redis.Client
}

func NewDriverLocationCache(redisClient *redis.Client) DriverLocationCache {
	return &driverLocationCache{redis: redisClient}
}

func (c *driverLocationCache) UpdateLocation(ctx context.Context, driverID string, specialties []string, lat, lng float64) error {
	pipe := c.redis.TxPipeline()
	for _, serviceType := range specialties {
		pipe.GeoAdd(ctx, driverLocationKeyPrefix+serviceType, &redis.GeoLocation{
			Name:      driverID,
			Longitude: lng,
			Latitude:  lat,
		})
	}

	locJSON, err := json.Marshal(DriverLocation{Lat: lat, Lng: lng, UpdatedAt: time.Now().Unix()})
	if err != nil {
		return err
	}
	pipe.Set(ctx, locationKey(driverID), locJSON, locationTTL)

	_, err = pipe.Exec(ctx)
	return err
}

func (c *driverLocationCache) GetDriverLocation(ctx context.Context, driverID string) (*DriverLocation, error) {
	data, err := c.redis.Get(ctx, locationKey(driverID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var loc DriverLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// NearbyDrivers returns online drivers with a fresh position, nearest first.
func (c *driverLocationCache) NearbyDrivers(ctx context.Context, origin geo.Point, radiusKm float64, serviceType string) ([]geo.Match, error) {
	locations, err := c.redis.GeoRadius(ctx, driverLocationKeyPrefix+serviceType, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    nearbyLimit,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make([]geo.Match, 0, len(locations))
	for _, loc := range locations {
		meta, err := c.GetDriverMeta(ctx, loc.Name)
		if err != nil || meta["status"] != "online" {
			continue
		}
		// GEO members never expire on their own
		if n, err := c.redis.Exists(ctx, locationKey(loc.Name)).Result(); err != nil || n == 0 {
			continue
		}
		result = append(result, geo.Match{ID: loc.Name, DistanceKm: loc.Dist})
	}
	return result, nil
}

func (c *driverLocationCache) RemoveDriver(ctx context.Context, driverID string, specialties []string) error {
	pipe := c.redis.TxPipeline()
	for _, serviceType := range specialties {
		pipe.ZRem(ctx, driverLocationKeyPrefix+serviceType, driverID)
	}
	pipe.Del(ctx, locationKey(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *driverLocationCache) SetDriverMeta(ctx context.Context, driverID, status string, rating float64) error {
	return c.redis.HSet(ctx, driverMetaKeyPrefix+driverID, map[string]interface{}{
		"status": status,
		"rating": fmt.Sprintf("%.1f", rating),
	}).Err()
}

func (c *driverLocationCache) GetDriverMeta(ctx context.Context, driverID string) (map[string]string, error) {
	return c.redis.HGetAll(ctx, driverMetaKeyPrefix+driverID).Result()
}

func locationKey(driverID string) string {
	return driverMetaKeyPrefix + driverID + ":location"
}
