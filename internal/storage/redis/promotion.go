// Package redis caches the promotion catalog in Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/codec"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
)

// CatalogKey holds the cached active catalog.
const CatalogKey = "pos:promotions:active"

var _ promotion.Repository = (*PromotionCache)(nil)

// PromotionCache is a read-through cache in front of a promotion.Repository.
//
// The cached catalog is re-filtered by validity window on every read, so a
// promotion that expires is dropped immediately. One that starts inside the
// TTL becomes visible when the entry expires or is invalidated.
type PromotionCache struct {
	client *redis.Client
	next   promotion.Repository
	ttl    time.Duration
	lg     *zap.Logger
}

// NewPromotionCache wraps next.
func NewPromotionCache(client *redis.Client, next promotion.Repository, ttl time.Duration, lg *zap.Logger) *PromotionCache {
	return &PromotionCache{client: client, next: next, ttl: ttl, lg: lg}
}

// Active returns promotions valid at at. Redis failures fall back to the
// underlying repository.
func (c *PromotionCache) Active(ctx context.Context, at time.Time) ([]promotion.Promotion, error) {
	data, err := c.client.Get(ctx, CatalogKey).Bytes()
	switch {
	case err == nil:
		catalog, err := codec.DecodePromotions(jx.DecodeBytes(data))
		if err == nil {
			return activeAt(catalog, at), nil
		}
		c.lg.Warn("Discarding corrupt promotion cache", zap.Error(err))
	case errors.Is(err, redis.Nil):
	default:
		c.lg.Warn("Promotion cache unavailable", zap.Error(err))
	}

	catalog, err := c.next.Active(ctx, at)
	if err != nil {
		return nil, err
	}

	payload := codec.Marshal(func(e *jx.Encoder) { codec.Promotions(e, catalog) })
	if err := c.client.Set(ctx, CatalogKey, payload, c.ttl).Err(); err != nil {
		c.lg.Warn("Store promotion cache", zap.Error(err))
	}
	return catalog, nil
}

// Invalidate drops the cached catalog.
func (c *PromotionCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, CatalogKey).Err(); err != nil {
		return errors.Wrap(err, "invalidate promotion cache")
	}
	return nil
}

func activeAt(catalog []promotion.Promotion, at time.Time) []promotion.Promotion {
	out := make([]promotion.Promotion, 0, len(catalog))
	for _, p := range catalog {
		if p.ActiveAt(at) {
			out = append(out, p)
		}
	}
	return out
}
