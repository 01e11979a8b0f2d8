package clientcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
)

// SeriesCache is the Redis-backed hot-read tier for raw series. It enforces
// the monotonic-merge rule: a cached series is only ever overwritten by one
// covering strictly more observations, so a slow or stale producer can
// never shrink what a reader sees.
type SeriesCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSeriesCache(addr string, ttl time.Duration) *SeriesCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &SeriesCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (c *SeriesCache) Close() error { return c.client.Close() }

func seriesKey(displaySymbol string) string {
	return fmt.Sprintf("raw_series:%s", displaySymbol)
}

// Get returns the cached series for a symbol, or nil if absent.
func (c *SeriesCache) Get(ctx context.Context, displaySymbol string) (*domain.RawSeries, error) {
	raw, err := c.client.Get(ctx, seriesKey(displaySymbol)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached series for %s: %w", displaySymbol, err)
	}

	var series domain.RawSeries
	if err := msgpack.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode cached series for %s: %w", displaySymbol, err)
	}
	return &series, nil
}

// MergeStore writes incoming over the cached series only if incoming has
// strictly more observations than whatever is already cached — it never lets
// a shorter or equal-length series replace the cached one.
func (c *SeriesCache) MergeStore(ctx context.Context, incoming domain.RawSeries) error {
	existing, err := c.Get(ctx, incoming.DisplaySymbol)
	if err != nil {
		return err
	}
	if existing != nil && len(existing.Observations) >= len(incoming.Observations) {
		return nil
	}

	blob, err := msgpack.Marshal(incoming)
	if err != nil {
		return fmt.Errorf("encode series for %s: %w", incoming.DisplaySymbol, err)
	}
	if err := c.client.Set(ctx, seriesKey(incoming.DisplaySymbol), blob, c.ttl).Err(); err != nil {
		return fmt.Errorf("store cached series for %s: %w", incoming.DisplaySymbol, err)
	}
	return nil
}
