package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"smartmeter/internal/model"
)

func TestKey(t *testing.T) {
	if got := Key("192.168.1.40"); got != "readings:latest:192.168.1.40" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLatestCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	device := fmt.Sprintf("10.1.%d.1", time.Now().UnixNano()%250)
	t.Cleanup(func() { client.Del(ctx, Key(device)) })

	cache := NewLatestCache(client, time.Minute)
	if _, ok, err := cache.Get(ctx, device); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := cache.Record(ctx, model.Reading{ID: "a", DeviceIP: device, Value: 4, Timestamp: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := cache.Record(ctx, model.Reading{ID: "old", DeviceIP: device, Value: 1, Timestamp: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("record older: %v", err)
	}
	got, ok, err := cache.Get(ctx, device)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.ID != "a" || got.Value != 4 || !got.Timestamp.Equal(now) {
		t.Fatalf("expected newest reading to stay cached, got %+v", got)
	}
}
