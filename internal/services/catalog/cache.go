package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"extranet-system/internal/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	CATALOG_CACHE_PREFIX = "extranet:catalog:"
	CACHE_TTL_DEFAULT    = 5 * time.Minute
)

// CachedSource keeps each client's product list in redis. A redis failure
// falls through to the wrapped source.
type CachedSource struct {
	next  Source
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedSource(next Source, redisClient *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = CACHE_TTL_DEFAULT
	}
	return &CachedSource{next: next, redis: redisClient, ttl: ttl}
}

func cacheKey(ref ClientRef) string {
	return CATALOG_CACHE_PREFIX + ref.Code
}

func (c *CachedSource) Products(ctx context.Context, ref ClientRef) ([]Product, error) {
	if !ref.Valid() {
		return nil, nil
	}

	raw, err := c.redis.Get(ctx, cacheKey(ref)).Bytes()
	switch {
	case err == nil:
		var products []Product
		if jsonErr := json.Unmarshal(raw, &products); jsonErr == nil {
			metrics.CatalogCacheLookups.WithLabelValues("hit").Inc()
			return products, nil
		}
		log.Warn().Str("client", ref.Code).Msg("corrupt catalog cache entry, reloading")
	case errors.Is(err, redis.Nil):
		log.Debug().Str("client", ref.Code).Msg("catalog cache miss")
	default:
		log.Warn().Err(err).Str("client", ref.Code).Msg("catalog cache unavailable")
	}
	metrics.CatalogCacheLookups.WithLabelValues("miss").Inc()

	products, err := c.next.Products(ctx, ref)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(products); err == nil {
		if err := c.redis.Set(ctx, cacheKey(ref), payload, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("client", ref.Code).Msg("failed to cache catalog")
		}
	}
	return products, nil
}

func (c *CachedSource) Product(ctx context.Context, ref ClientRef, code string) (*Product, error) {
	products, err := c.Products(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].Code == code {
			p := products[i]
			return &p, nil
		}
	}
	return nil, nil
}

// Invalidate drops the cached list of a client. A failure only means the
// entry lives until its TTL.
func (c *CachedSource) Invalidate(ctx context.Context, ref ClientRef) {
	if err := c.redis.Del(ctx, cacheKey(ref)).Err(); err != nil {
		log.Warn().Err(err).Str("client", ref.Code).Msg("failed to invalidate catalog cache")
	}
}
