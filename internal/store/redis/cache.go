// Package redis implements the shared volume cache on Redis, with a small
// circuit breaker so a flapping server degrades to dropped writes instead
// of a stalled pipeline.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// CacheConfig configures the Redis cache.
type CacheConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// BreakerFailures trips the breaker after this many consecutive
	// failures. Defaults to 5.
	BreakerFailures int
	// BreakerReset is the open-state cooldown before a probe. Defaults to 10s.
	BreakerReset time.Duration
}

func (c *CacheConfig) defaults() {
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset == 0 {
		c.BreakerReset = 10 * time.Second
	}
}

// Cache implements model.VolumeCache on Redis.
type Cache struct {
	client  *goredis.Client
	breaker *breaker
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// BreakerState reports the circuit breaker's current state.
func (c *Cache) BreakerState() BreakerState { return c.breaker.currentState() }

// New creates a Cache and pings the server.
func New(cfg CacheConfig) (*Cache, error) {
	cfg.defaults()
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	b := newBreaker(cfg.BreakerFailures, cfg.BreakerReset)
	b.onStateChange = func(from, to BreakerState) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Cache{client: client, breaker: b}, nil
}

// IncrementAndExpire adds delta to key and resets its TTL in one pipelined
// roundtrip. INCRBYFLOAT is atomic server-side, so concurrent writers never
// lose an increment.
func (c *Cache) IncrementAndExpire(ctx context.Context, key string, delta float64, ttl time.Duration) error {
	return c.breaker.execute(func() error {
		pipe := c.client.Pipeline()
		pipe.IncrByFloat(ctx, key, delta)
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis incr %s: %w", key, err)
		}
		return nil
	})
}

// Get returns the accumulated value for key, reporting absence separately
// from errors.
func (c *Cache) Get(ctx context.Context, key string) (float64, bool, error) {
	var val float64
	var found bool
	err := c.breaker.execute(func() error {
		v, err := c.client.Get(ctx, key).Float64()
		if err == goredis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		val, found = v, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return val, found, nil
}

// Keys lists keys under prefix using SCAN, never KEYS.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := c.breaker.execute(func() error {
		iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			out = append(out, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		return nil
	})
	return out, err
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
