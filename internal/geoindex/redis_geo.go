// Package geoindex mirrors last-known vehicle positions into Redis GEO so
// other processes (and the nearby projection, as a fallback) can query them
// without holding the in-process fleet state.
package geoindex

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/transit-dispatch/internal/models"
)

type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func metaKey(id string) string { return "vehicle:meta:" + id }

// Upsert writes the position plus a metadata hash. Failures are returned so
// callers can count them, but a mirror write failing never affects the fleet
// state itself.
func (r *RedisGeo) Upsert(ctx context.Context, v models.Vehicle) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: v.Pos.Lng, Latitude: v.Pos.Lat, Name: v.ID}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(v.ID), map[string]interface{}{
		"line_id":   v.LineID,
		"occupancy": strconv.FormatFloat(v.Occupancy, 'f', -1, 64),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

// Near returns vehicles within radiusM of the point, closest first.
func (r *RedisGeo) Near(ctx context.Context, lat, lng, radiusM float64, limit int) []models.Vehicle {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Vehicle, 0, len(res))
	for _, g := range res {
		v := models.Vehicle{ID: g.Name, Pos: models.LatLng{Lat: g.Latitude, Lng: g.Longitude}, Source: models.SourceTelemetry}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			v.LineID = m["line_id"]
			if occ, err := strconv.ParseFloat(m["occupancy"], 64); err == nil {
				v.Occupancy = occ
			}
		}
		out = append(out, v)
	}
	return out
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
