// Package navcache mirrors each market's last validated NAV into Redis so
// off-path readers (dashboards, pricing services) can poll it without
// touching the engine.
package navcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a market has no cached NAV.
var ErrNotFound = errors.New("navcache: not found")

// Config holds connection parameters for the Redis client.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TTL        time.Duration
}

// Cache stores each market's NAV as a hash at key "nav:{marketID}" with
// fields "nav" and "ts" (unix seconds of the validated print).
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates the cache, pinging Redis to verify connectivity.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("navcache: ping: %w", err)
	}

	return &Cache{rdb: rdb, ttl: cfg.TTL}, nil
}

func navKey(marketID string) string {
	return "nav:" + marketID
}

// Set stores the latest validated NAV for a market.
func (c *Cache) Set(ctx context.Context, marketID string, nav uint64, ts int64) error {
	key := navKey(marketID)
	fields := map[string]interface{}{
		"nav": strconv.FormatUint(nav, 10),
		"ts":  strconv.FormatInt(ts, 10),
	}
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("navcache: set %s: %w", marketID, err)
	}
	return nil
}

// Get retrieves the cached NAV and its timestamp for a market. Returns
// ErrNotFound when the market has no cached print (or it expired).
func (c *Cache) Get(ctx context.Context, marketID string) (uint64, int64, error) {
	vals, err := c.rdb.HGetAll(ctx, navKey(marketID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("navcache: get %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return 0, 0, ErrNotFound
	}

	navStr, ok := vals["nav"]
	if !ok {
		return 0, 0, ErrNotFound
	}
	nav, err := strconv.ParseUint(navStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("navcache: parse nav %s: %w", marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, 0, ErrNotFound
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("navcache: parse ts %s: %w", marketID, err)
	}

	return nav, ts, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
