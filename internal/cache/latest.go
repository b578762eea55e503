// Package cache mirrors each device's newest reading into Redis so dashboard reads skip the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"smartmeter/internal/model"
)

const keyPrefix = "readings:latest:"

type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLatestCache(client *redis.Client, ttl time.Duration) *LatestCache {
	return &LatestCache{client: client, ttl: ttl}
}

func Key(deviceIP string) string {
	return keyPrefix + deviceIP
}

// Record stores reading as its device's newest, unless a newer one is already cached.
func (c *LatestCache) Record(ctx context.Context, reading model.Reading) error {
	current, ok, err := c.Get(ctx, reading.DeviceIP)
	if err != nil {
		return err
	}
	if ok && current.Timestamp.After(reading.Timestamp) {
		return nil
	}
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	return c.client.Set(ctx, Key(reading.DeviceIP), payload, c.ttl).Err()
}

// Get returns the cached reading for deviceIP; ok is false on a miss.
func (c *LatestCache) Get(ctx context.Context, deviceIP string) (model.Reading, bool, error) {
	payload, err := c.client.Get(ctx, Key(deviceIP)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Reading{}, false, nil
	}
	if err != nil {
		return model.Reading{}, false, err
	}
	var reading model.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return model.Reading{}, false, fmt.Errorf("decode cached reading: %w", err)
	}
	return reading, true, nil
}
