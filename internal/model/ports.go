package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the collector and signal engine from concrete
// storage implementations (Postgres, SQLite, Redis). Each implementation
// satisfies one or more of these interfaces.

// Store is the relational persistence sink for candles and MA records.
type Store interface {
	// UpsertCandles inserts candles keyed by (market, ts); on conflict all
	// non-key columns are updated, so the in-progress candle may be rewritten
	// until it closes. Safe to retry.
	UpsertCandles(ctx context.Context, candles []Candle) error

	// MaxTimestamps returns, per market, the maximum persisted candle
	// timestamp. Markets with no rows are absent from the map.
	MaxTimestamps(ctx context.Context) (map[string]time.Time, error)

	// WindowAverages returns, per market, the mean close price over rows
	// with ts > since. Markets with no rows in the window are absent.
	WindowAverages(ctx context.Context, since time.Time) (map[string]float64, error)

	// RecentCloses returns up to limit closes for one market with ts > since,
	// ordered by ts ascending. Used for trend diagnostics.
	RecentCloses(ctx context.Context, market string, since time.Time, limit int) ([]float64, error)

	// UpsertMARecords inserts MA records keyed by (market, ts), updating on
	// conflict.
	UpsertMARecords(ctx context.Context, records []MARecord) error

	// MARecordsAt returns the MA records persisted for exactly ts, keyed by
	// market. Markets with no record at ts are absent.
	MARecordsAt(ctx context.Context, ts time.Time) (map[string]MARecord, error)

	// Close releases underlying resources.
	Close() error
}

// VolumeCache is the shared low-latency cache holding windowed trade volume.
type VolumeCache interface {
	// IncrementAndExpire atomically adds delta to key and resets the key's
	// TTL, measured from this write.
	IncrementAndExpire(ctx context.Context, key string, delta float64, ttl time.Duration) error

	// Get returns the accumulated value for key. The second return is false
	// when the key is absent or expired; readers treat that as zero.
	Get(ctx context.Context, key string) (float64, bool, error)

	// Keys lists keys matching the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
