package volume

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"coinwatch/internal/model"
)

// memCache is an in-memory VolumeCache that records TTL resets.
type memCache struct {
	mu     sync.Mutex
	vals   map[string]float64
	ttls   map[string][]time.Duration
	failOn string
}

func newMemCache() *memCache {
	return &memCache{vals: make(map[string]float64), ttls: make(map[string][]time.Duration)}
}

func (c *memCache) IncrementAndExpire(_ context.Context, key string, delta float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn != "" && strings.Contains(key, c.failOn) {
		return errors.New("cache down")
	}
	c.vals[key] += delta
	c.ttls[key] = append(c.ttls[key], ttl)
	return nil
}

func (c *memCache) Get(_ context.Context, key string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[key]
	return v, ok, nil
}

func (c *memCache) Keys(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k := range c.vals {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *memCache) Close() error { return nil }

func TestBucketStart(t *testing.T) {
	cases := []struct {
		ts, width, want int64
	}{
		{0, 60000, 0},
		{59999, 60000, 0},
		{60000, 60000, 60000},
		{60001, 60000, 60000},
		{1717243234567, 60000, 1717243200000},
	}
	for _, c := range cases {
		if got := BucketStart(c.ts, c.width); got != c.want {
			t.Errorf("BucketStart(%d, %d) = %d, want %d", c.ts, c.width, got, c.want)
		}
	}
}

func TestAddSplitsAcrossBucketBoundary(t *testing.T) {
	cache := newMemCache()
	agg := New(cache, Config{BucketWidth: 10 * time.Second})

	// 10001ms apart: the second trade lands in the next bucket.
	evs := []model.TradeEvent{
		{Market: "KRW-AAA", TradeTS: 5000, Volume: 1.5},
		{Market: "KRW-AAA", TradeTS: 15001, Volume: 2.5},
	}
	for _, ev := range evs {
		if err := agg.Add(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}

	if got := cache.vals[Key("KRW-AAA", 0)]; got != 1.5 {
		t.Errorf("bucket 0 = %v, want 1.5", got)
	}
	if got := cache.vals[Key("KRW-AAA", 10000)]; got != 2.5 {
		t.Errorf("bucket 10000 = %v, want 2.5", got)
	}
}

func TestAddSumsWithinBucket(t *testing.T) {
	cache := newMemCache()
	agg := New(cache, Config{BucketWidth: 10 * time.Second, TTL: time.Minute})

	// 500ms apart: same bucket, volumes accumulate and the TTL resets on
	// each write.
	evs := []model.TradeEvent{
		{Market: "KRW-AAA", TradeTS: 12000, Volume: 1},
		{Market: "KRW-AAA", TradeTS: 12500, Volume: 2},
	}
	for _, ev := range evs {
		if err := agg.Add(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}

	key := Key("KRW-AAA", 10000)
	if got := cache.vals[key]; got != 3 {
		t.Errorf("bucket sum = %v, want 3", got)
	}
	if got := len(cache.ttls[key]); got != 2 {
		t.Errorf("expected TTL reset on every write, got %d resets", got)
	}

	v, err := agg.Bucket(context.Background(), "KRW-AAA", 19999)
	if err != nil {
		t.Fatal(err)
	}
	if v != 3 {
		t.Errorf("Bucket read = %v, want 3", v)
	}
}

func TestAddKeepsMarketsSeparate(t *testing.T) {
	cache := newMemCache()
	agg := New(cache, Config{BucketWidth: 10 * time.Second})

	agg.Add(context.Background(), model.TradeEvent{Market: "KRW-AAA", TradeTS: 1000, Volume: 1})
	agg.Add(context.Background(), model.TradeEvent{Market: "KRW-BBB", TradeTS: 1000, Volume: 2})

	if got := cache.vals[Key("KRW-AAA", 0)]; got != 1 {
		t.Errorf("KRW-AAA bucket = %v, want 1", got)
	}
	if got := cache.vals[Key("KRW-BBB", 0)]; got != 2 {
		t.Errorf("KRW-BBB bucket = %v, want 2", got)
	}
}

func TestRunDropsFailedWrites(t *testing.T) {
	cache := newMemCache()
	cache.failOn = "KRW-BAD"
	agg := New(cache, Config{BucketWidth: 10 * time.Second})

	var failed []string
	var mu sync.Mutex
	agg.OnWriteError = func(ev model.TradeEvent, err error) {
		mu.Lock()
		failed = append(failed, ev.Market)
		mu.Unlock()
	}

	in := make(chan model.TradeEvent, 3)
	in <- model.TradeEvent{Market: "KRW-AAA", TradeTS: 1000, Volume: 1}
	in <- model.TradeEvent{Market: "KRW-BAD", TradeTS: 1000, Volume: 9}
	in <- model.TradeEvent{Market: "KRW-AAA", TradeTS: 2000, Volume: 1}
	close(in)

	agg.Run(context.Background(), in)

	if got := cache.vals[Key("KRW-AAA", 0)]; got != 2 {
		t.Errorf("good writes should survive a bad one, bucket = %v, want 2", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != "KRW-BAD" {
		t.Errorf("unexpected failure set: %v", failed)
	}
}
