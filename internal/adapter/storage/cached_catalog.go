package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/port"
)

const (
	itemCacheKeyPrefix  = "catalog:item:"
	DefaultItemCacheTTL = 5 * time.Minute
)

// CachedCatalog is a read-through Redis cache in front of item lookups.
// Writes go to the backing store first and then drop the cached copy.
// Any cache error falls back to the backing store.
type CachedCatalog struct {
	port.CatalogRepository
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedCatalog(backing port.CatalogRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultItemCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedCatalog{
		CatalogRepository: backing,
		client:            client,
		ttl:               ttl,
		log:               logger.Named("item_cache"),
	}
}

func (c *CachedCatalog) GetItem(ctx context.Context, itemID string) (*domain.MarketplaceItem, error) {
	key := itemCacheKeyPrefix + itemID

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var item domain.MarketplaceItem
		if err := msgpack.Unmarshal(raw, &item); err == nil {
			return &item, nil
		}
		c.log.Warn("discarding undecodable cache entry", zap.String("item_id", itemID))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("item cache read", zap.String("item_id", itemID), zap.Error(err))
	}

	item, err := c.CatalogRepository.GetItem(ctx, itemID)
	if err != nil || item == nil {
		return item, err
	}

	if b, err := msgpack.Marshal(item); err != nil {
		c.log.Warn("encode cache entry", zap.String("item_id", itemID), zap.Error(err))
	} else if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.log.Warn("item cache write", zap.String("item_id", itemID), zap.Error(err))
	}
	return item, nil
}

func (c *CachedCatalog) CreateItem(ctx context.Context, item domain.MarketplaceItem) error {
	if err := c.CatalogRepository.CreateItem(ctx, item); err != nil {
		return err
	}
	c.invalidate(ctx, item.ID)
	return nil
}

func (c *CachedCatalog) IncrementDownloads(ctx context.Context, itemID string) error {
	if err := c.CatalogRepository.IncrementDownloads(ctx, itemID); err != nil {
		return err
	}
	c.invalidate(ctx, itemID)
	return nil
}

func (c *CachedCatalog) invalidate(ctx context.Context, itemID string) {
	if err := c.client.Del(ctx, itemCacheKeyPrefix+itemID).Err(); err != nil {
		c.log.Warn("item cache invalidate", zap.String("item_id", itemID), zap.Error(err))
	}
}

var _ port.CatalogRepository = (*CachedCatalog)(nil)
