// Package cart keeps each user's shopping cart in a redis hash keyed by
// product reference. Concurrent writes from the same user are last write
// wins.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	CART_KEY_PREFIX = "extranet:cart:"
	CART_TTL        = 7 * 24 * time.Hour
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

type Item struct {
	ProductRef string          `json:"product_ref"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = CART_TTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

func key(userID int64) string {
	return CART_KEY_PREFIX + strconv.FormatInt(userID, 10)
}

// Add increases the quantity of ref and returns the new quantity.
func (s *Store) Add(ctx context.Context, userID int64, ref string, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}

	current := decimal.Zero
	raw, err := s.redis.HGet(ctx, key(userID), ref).Result()
	switch {
	case err == nil:
		if current, err = decimal.NewFromString(raw); err != nil {
			current = decimal.Zero
		}
	case !errors.Is(err, redis.Nil):
		return decimal.Zero, fmt.Errorf("cart: read %s: %w", ref, err)
	}

	total := current.Add(qty)
	if err := s.write(ctx, userID, ref, total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// Set replaces the quantity of ref. A quantity of zero or less removes it.
func (s *Store) Set(ctx context.Context, userID int64, ref string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return s.Remove(ctx, userID, ref)
	}
	return s.write(ctx, userID, ref, qty)
}

func (s *Store) write(ctx context.Context, userID int64, ref string, qty decimal.Decimal) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key(userID), ref, qty.String())
		pipe.Expire(ctx, key(userID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cart: write %s: %w", ref, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, userID int64, ref string) error {
	if err := s.redis.HDel(ctx, key(userID), ref).Err(); err != nil {
		return fmt.Errorf("cart: remove %s: %w", ref, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.redis.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("cart: clear: %w", err)
	}
	return nil
}

// Items returns the cart content sorted by product reference.
func (s *Store) Items(ctx context.Context, userID int64) ([]Item, error) {
	raw, err := s.redis.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cart: load: %w", err)
	}

	items := make([]Item, 0, len(raw))
	for ref, v := range raw {
		qty, err := decimal.NewFromString(v)
		if err != nil || !qty.IsPositive() {
			continue
		}
		items = append(items, Item{ProductRef: ref, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductRef < items[j].ProductRef })
	return items, nil
}
