// Package volume accumulates streamed trade volume into fixed-width time
// buckets held in the shared cache.
package volume

import (
	"context"
	"fmt"
	"log"
	"time"

	"coinwatch/internal/model"
)

// KeyPrefix is the cache namespace for volume buckets.
const KeyPrefix = "trade_volume:"

// BucketStart floors a millisecond timestamp to its bucket's opening edge.
func BucketStart(tsMs, widthMs int64) int64 {
	return tsMs - tsMs%widthMs
}

// Key builds the cache key for one market's bucket.
func Key(market string, bucketStartMs int64) string {
	return fmt.Sprintf("%s%s:%d", KeyPrefix, market, bucketStartMs)
}

// Config holds configuration for the Aggregator.
type Config struct {
	// BucketWidth is the fixed bucket size. Defaults to 1 minute if zero.
	BucketWidth time.Duration

	// TTL is the bucket key lifetime, reset on every write so active buckets
	// stay warm. Defaults to 3x the bucket width.
	TTL time.Duration
}

func (c *Config) defaults() {
	if c.BucketWidth == 0 {
		c.BucketWidth = time.Minute
	}
	if c.TTL == 0 {
		c.TTL = 3 * c.BucketWidth
	}
}

// Aggregator folds trade events into per-market, per-bucket volume sums in
// the cache. Each write is an atomic increment plus a TTL reset, so readers
// always see a consistent running total and idle buckets age out on their
// own.
type Aggregator struct {
	cache model.VolumeCache
	cfg   Config

	// OnWriteError is called when a cache write fails. The event is dropped
	// either way. Optional.
	OnWriteError func(model.TradeEvent, error)
}

// New creates an Aggregator over the given cache.
func New(cache model.VolumeCache, cfg Config) *Aggregator {
	cfg.defaults()
	return &Aggregator{cache: cache, cfg: cfg}
}

// Add folds one trade event into its bucket.
func (a *Aggregator) Add(ctx context.Context, ev model.TradeEvent) error {
	bucket := BucketStart(ev.TradeTS, a.cfg.BucketWidth.Milliseconds())
	key := Key(ev.Market, bucket)
	if err := a.cache.IncrementAndExpire(ctx, key, ev.Volume, a.cfg.TTL); err != nil {
		return fmt.Errorf("volume: %s: %w", key, err)
	}
	return nil
}

// Run consumes events from in until it closes or ctx is cancelled. A failed
// write is logged and dropped; the stream keeps flowing.
func (a *Aggregator) Run(ctx context.Context, in <-chan model.TradeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := a.Add(ctx, ev); err != nil {
				log.Printf("[volume] dropping trade: %v", err)
				if a.OnWriteError != nil {
					a.OnWriteError(ev, err)
				}
			}
		}
	}
}

// Bucket reads one market's accumulated volume for the bucket containing
// tsMs. Absent or expired buckets read as zero.
func (a *Aggregator) Bucket(ctx context.Context, market string, tsMs int64) (float64, error) {
	key := Key(market, BucketStart(tsMs, a.cfg.BucketWidth.Milliseconds()))
	v, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("volume: %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	return v, nil
}
