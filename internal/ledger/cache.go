package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const summaryVersionKey = "ledger:summary:version"

// Cache keeps the dashboard summary in Redis behind a version counter.
// Mutations bump the version instead of deleting keys; stale entries expire
// through their TTL. All methods are safe on a nil receiver so the cache can
// simply be absent.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// FetchSummary returns the cached summary or populates it using the loader.
// The versioned key is fixed before the loader runs: a load still in flight
// when a mutation bumps the version lands on the old key and is never served
// again.
func (c *Cache) FetchSummary(ctx context.Context, loader func(context.Context) (StockSummary, error)) (StockSummary, error) {
	if loader == nil {
		return StockSummary{}, errors.New("ledger: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.summaryKey(ctx)
	if err != nil {
		return StockSummary{}, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var sum StockSummary
		if err := json.Unmarshal(payload, &sum); err != nil {
			return StockSummary{}, err
		}
		return sum, nil
	}
	if err != redis.Nil {
		return StockSummary{}, err
	}
	sum, err := loader(ctx)
	if err != nil {
		return StockSummary{}, err
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return StockSummary{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return StockSummary{}, err
	}
	return sum, nil
}

// Invalidate bumps the version so every cached summary goes stale at once.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, summaryVersionKey).Err()
}

func (c *Cache) summaryKey(ctx context.Context) (string, error) {
	ver, err := c.client.Get(ctx, summaryVersionKey).Int64()
	if err == redis.Nil {
		ver = 1
		if err := c.client.Set(ctx, summaryVersionKey, ver, 0).Err(); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("ledger:summary:v%d", ver), nil
}
