package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yegors/co-utm/internal/config"
	"github.com/yegors/co-utm/internal/registry"
)

// NewClient builds a client from configuration. The connection is checked
// once; a failed ping is returned so the caller can decide to run without it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return client, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// CachedDroneLocation is the value stored per drone
type CachedDroneLocation struct {
	DroneID     string    `json:"drone_id"`
	FlightID    string    `json:"flight_id"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	AltitudeMSL float64   `json:"altitude_msl"`
	Heading     float64   `json:"heading"`
	GroundSpeed float64   `json:"ground_speed"`
	Timestamp   time.Time `json:"timestamp"`
}

// DroneLocationCache mirrors each drone's latest accepted position into Redis
// for consumers outside this process. Entries expire when telemetry stops.
type DroneLocationCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewDroneLocationCache(client *goredis.Client, ttlSeconds int) *DroneLocationCache {
	return &DroneLocationCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}
}

// Set stores the position carried by an accepted telemetry point
func (c *DroneLocationCache) Set(ctx context.Context, point registry.TelemetryPoint) error {
	bytes, err := json.Marshal(locationFromPoint(point))
	if err != nil {
		return fmt.Errorf("marshal drone location: %w", err)
	}
	return c.client.Set(ctx, droneLocationKey(point.DroneID), bytes, c.ttl).Err()
}

// Get returns nil without error when nothing is cached for the drone
func (c *DroneLocationCache) Get(ctx context.Context, droneID string) (*CachedDroneLocation, error) {
	bytes, err := c.client.Get(ctx, droneLocationKey(droneID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get drone location: %w", err)
	}

	var loc CachedDroneLocation
	if err := json.Unmarshal(bytes, &loc); err != nil {
		return nil, fmt.Errorf("unmarshal drone location: %w", err)
	}
	return &loc, nil
}

func locationFromPoint(p registry.TelemetryPoint) CachedDroneLocation {
	return CachedDroneLocation{
		DroneID:     p.DroneID,
		FlightID:    p.FlightID,
		Lat:         p.Position.Lat,
		Lon:         p.Position.Lon,
		AltitudeMSL: p.Position.AltitudeMSL,
		Heading:     p.Heading,
		GroundSpeed: p.GroundSpeed,
		Timestamp:   p.Timestamp,
	}
}

func droneLocationKey(droneID string) string {
	return fmt.Sprintf("utm:drone:location:%s", droneID)
}
