package redis

import (
	"context"
	"fmt"
	"strconv"

	"StableLedger/internal/domain"
	"StableLedger/internal/price"

	"github.com/redis/go-redis/v9"
)

// PriceCache holds the latest collateral price published by an oracle
// feeder. It is stored as a hash with fields "value" (base units) and
// "observed_us" (epoch micros).
type PriceCache struct {
	client *Client
	asset  string
}

// NewPriceCache returns a cache for one collateral asset.
func NewPriceCache(c *Client, asset string) *PriceCache {
	return &PriceCache{client: c, asset: asset}
}

func (pc *PriceCache) priceKey() string {
	return pc.client.key("price", pc.asset)
}

// SetPrice stores raw as the latest price.
func (pc *PriceCache) SetPrice(ctx context.Context, raw price.RawPrice) error {
	fields := map[string]interface{}{
		"value":       strconv.FormatUint(raw.Value, 10),
		"observed_us": strconv.FormatInt(raw.ObservedAt, 10),
	}
	if err := pc.client.rdb.HSet(ctx, pc.priceKey(), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pc.asset, err)
	}
	return nil
}

// Price returns the latest stored price, or domain.ErrNotFound.
func (pc *PriceCache) Price(ctx context.Context) (price.RawPrice, error) {
	vals, err := pc.client.rdb.HGetAll(ctx, pc.priceKey()).Result()
	if err != nil && err != redis.Nil {
		return price.RawPrice{}, fmt.Errorf("redis: get price %s: %w", pc.asset, err)
	}
	valueStr, ok := vals["value"]
	if !ok {
		return price.RawPrice{}, domain.ErrNotFound
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return price.RawPrice{}, fmt.Errorf("redis: parse price %s: %w", pc.asset, err)
	}
	var observed int64
	if s, ok := vals["observed_us"]; ok {
		if observed, err = strconv.ParseInt(s, 10, 64); err != nil {
			return price.RawPrice{}, fmt.Errorf("redis: parse observed_us %s: %w", pc.asset, err)
		}
	}
	return price.RawPrice{Value: value, ObservedAt: observed}, nil
}

var _ price.Source = (*PriceCache)(nil)
