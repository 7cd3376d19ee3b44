package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"combopos/backend/internal/domain"
)

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) GetSubGroup(ctx context.Context, id string) (*domain.SubGroup, bool, error) {
	val, err := c.client.Get(ctx, SubGroupKey(id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sub domain.SubGroup
	if err := json.Unmarshal([]byte(val), &sub); err != nil {
		return nil, false, err
	}
	return &sub, true, nil
}

func (c *RedisCatalogCache) SetSubGroup(ctx context.Context, sub domain.SubGroup, ttl time.Duration) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, SubGroupKey(sub.ID), payload, ttl).Err()
}

func (c *RedisCatalogCache) GetPriceMatches(ctx context.Context, groupID string, price decimal.Decimal) ([]domain.SubGroup, bool, error) {
	val, err := c.client.HGet(ctx, GroupPricesKey(groupID), PriceField(price)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var subs []domain.SubGroup
	if err := json.Unmarshal([]byte(val), &subs); err != nil {
		return nil, false, err
	}
	return subs, true, nil
}

func (c *RedisCatalogCache) SetPriceMatches(ctx context.Context, groupID string, price decimal.Decimal, subs []domain.SubGroup, ttl time.Duration) error {
	if subs == nil {
		subs = []domain.SubGroup{}
	}
	payload, err := json.Marshal(subs)
	if err != nil {
		return err
	}

	key := GroupPricesKey(groupID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, PriceField(price), payload)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, groupID string, subGroupIDs ...string) error {
	keys := make([]string, 0, len(subGroupIDs)+1)
	if groupID != "" {
		keys = append(keys, GroupPricesKey(groupID))
	}
	for _, id := range subGroupIDs {
		keys = append(keys, SubGroupKey(id))
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
