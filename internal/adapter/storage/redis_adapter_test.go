package storage

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/seventeenk/storefront/internal/core/domain"
)

func getRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr(), 10)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestOpenRedis_InvalidURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not a url", 0); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestSetIdempotency_Success(t *testing.T) {
	_, client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Hour, "")

	// First call should succeed
	ok, err := adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	// Second call should fail (key exists)
	ok, err = adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}
}

func TestSetIdempotency_Expires(t *testing.T) {
	mr, client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute, "")

	if ok, _ := adapter.SetIdempotency(ctx, "ttl-key"); !ok {
		t.Fatal("expected first call to succeed")
	}
	if ttl := mr.TTL(idempotencyKeyPrefix + "ttl-key"); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)

	if ok, _ := adapter.SetIdempotency(ctx, "ttl-key"); !ok {
		t.Error("expected key to be claimable after expiry")
	}
}

func TestReleaseIdempotency(t *testing.T) {
	_, client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, 0, "")

	adapter.SetIdempotency(ctx, "release-key")
	if err := adapter.ReleaseIdempotency(ctx, "release-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := adapter.SetIdempotency(ctx, "release-key"); !ok {
		t.Error("expected key to be claimable after release")
	}
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	_, client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, 0, "")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestPublishFulfillment(t *testing.T) {
	mr, client := getRedisClient(t)
	adapter := NewRedisAdapter(client, 0, "")

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultEventsChannel)
	// miniredis delivers synchronously, so receive before publishing.
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() { ch <- <-sub.Messages() }()

	event := domain.FulfillmentEvent{ItemID: "X", Email: "a@b.com", Source: domain.SourcePayment, Reference: "ref-1", At: time.Now().UTC()}
	if err := adapter.PublishFulfillment(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		var got domain.FulfillmentEvent
		if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ItemID != "X" || got.Reference != "ref-1" || got.Source != domain.SourcePayment {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}
}

// countingCatalog counts backing GetItem calls.
type countingCatalog struct {
	*SQLAdapter
	gets atomic.Int32
}

func (c *countingCatalog) GetItem(ctx context.Context, itemID string) (*domain.MarketplaceItem, error) {
	c.gets.Add(1)
	return c.SQLAdapter.GetItem(ctx, itemID)
}

func TestCachedCatalog_ReadThroughAndInvalidate(t *testing.T) {
	mr, client := getRedisClient(t)
	ctx := context.Background()

	backing := &countingCatalog{SQLAdapter: adapters(t)["sqlite"]}
	cache := NewCachedCatalog(backing, client, time.Minute, nil)

	item := testItem("cached", time.Now().UTC())
	if err := cache.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := cache.GetItem(ctx, item.ID)
		if err != nil || got == nil {
			t.Fatalf("GetItem failed: %v", err)
		}
		if got.DriveLink != item.DriveLink || !got.CreatedAt.Equal(item.CreatedAt) {
			t.Errorf("unexpected cached item %+v", got)
		}
	}
	if backing.gets.Load() != 1 {
		t.Errorf("expected 1 backing read, got %d", backing.gets.Load())
	}
	if !mr.Exists(itemCacheKeyPrefix + item.ID) {
		t.Error("expected cache entry")
	}

	if err := cache.IncrementDownloads(ctx, item.ID); err != nil {
		t.Fatalf("IncrementDownloads failed: %v", err)
	}
	if mr.Exists(itemCacheKeyPrefix + item.ID) {
		t.Error("expected cache entry to be dropped after increment")
	}

	got, _ := cache.GetItem(ctx, item.ID)
	if got.Downloads != 1 {
		t.Errorf("expected 1 download after invalidation, got %d", got.Downloads)
	}
}

func TestCachedCatalog_MissIsNotCached(t *testing.T) {
	mr, client := getRedisClient(t)
	cache := NewCachedCatalog(adapters(t)["sqlite"], client, 0, nil)

	got, err := cache.GetItem(context.Background(), "nonexistent-item")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil, got %+v %v", got, err)
	}
	if mr.Exists(itemCacheKeyPrefix + "nonexistent-item") {
		t.Error("expected no cache entry for a missing item")
	}
}

func TestCachedCatalog_RedisDownFallsBack(t *testing.T) {
	mr, client := getRedisClient(t)
	ctx := context.Background()
	backing := adapters(t)["sqlite"]
	cache := NewCachedCatalog(backing, client, 0, nil)

	item := testItem("fallback", time.Now().UTC())
	if err := backing.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	mr.Close()

	got, err := cache.GetItem(ctx, item.ID)
	if err != nil || got == nil || got.ID != item.ID {
		t.Fatalf("expected fallback read, got %+v %v", got, err)
	}
}
