package service

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"combopos/backend/internal/cache"
	"combopos/backend/internal/domain"
	"combopos/backend/internal/store"
)

// cachedCatalog serves the expander's sub-group lookups from the catalog
// cache and falls back to the repository on a miss. Cache failures are
// logged and never fail a lookup.
type cachedCatalog struct {
	repo  store.Repository
	cache cache.CatalogCache
	ttl   time.Duration
}

func newCachedCatalog(repo store.Repository, catalogCache cache.CatalogCache, ttl time.Duration) *cachedCatalog {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &cachedCatalog{repo: repo, cache: catalogCache, ttl: ttl}
}

func (c *cachedCatalog) GetSubGroup(ctx context.Context, id string) (domain.SubGroup, error) {
	if cached, ok, err := c.cache.GetSubGroup(ctx, id); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[catalog] WARN: cache read failed sub_group=%s: %v", id, err)
	}

	sub, err := c.repo.GetSubGroup(ctx, id)
	if err != nil {
		return domain.SubGroup{}, err
	}
	if err := c.cache.SetSubGroup(ctx, *sub, c.ttl); err != nil {
		log.Printf("[catalog] WARN: cache write failed sub_group=%s: %v", id, err)
	}
	return *sub, nil
}

func (c *cachedCatalog) FindActiveSubGroupsByPrice(ctx context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, error) {
	if cached, ok, err := c.cache.GetPriceMatches(ctx, groupID, price); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[catalog] WARN: cache read failed group=%s price=%s: %v", groupID, cache.PriceField(price), err)
	}

	matches, err := c.repo.FindActiveSubGroupsByPrice(ctx, groupID, price)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetPriceMatches(ctx, groupID, price, matches, c.ttl); err != nil {
		log.Printf("[catalog] WARN: cache write failed group=%s price=%s: %v", groupID, cache.PriceField(price), err)
	}
	return matches, nil
}

// GetProductsByIDs always reads through; products are not cached.
func (c *cachedCatalog) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return c.repo.GetProductsByIDs(ctx, ids)
}

func (c *cachedCatalog) invalidate(ctx context.Context, groupID string, subGroupIDs ...string) {
	if err := c.cache.Invalidate(ctx, groupID, subGroupIDs...); err != nil {
		log.Printf("[catalog] WARN: cache invalidation failed group=%s sub_groups=%v: %v", groupID, subGroupIDs, err)
	}
}
