// Package collector implements the batch side of the pipeline: the
// rate-limited concurrent candle fetcher and the watermark merger.
package collector

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"coinwatch/internal/model"
)

// CandleSource fetches candles for one market. Satisfied by exchange.Client.
type CandleSource interface {
	Candles(ctx context.Context, market string, g model.Granularity, count int, reference time.Time) ([]model.Candle, error)
}

// FetchResult is the explicit per-market outcome of one fetch. A failed
// market carries Err and an empty Candles slice; it never aborts the batch.
type FetchResult struct {
	Market  string
	Candles []model.Candle
	Err     error
}

// BatchReport summarizes one FetchAll run.
type BatchReport struct {
	Requested int
	OK        int
	Failed    int
	Failures  map[string]string // market → reason
	Elapsed   time.Duration
}

// Fetcher issues candle requests for many markets concurrently, capped at
// RatePerSec requests per second. Requests are grouped into chunks of
// RatePerSec; each chunk runs concurrently and joins before the next chunk
// starts, and the fetcher waits out the remainder of one second between
// chunks (elapsed request time counts against the budget).
type Fetcher struct {
	source     CandleSource
	ratePerSec int

	// sleep and now are swappable in tests.
	sleep func(time.Duration)
	now   func() time.Time

	// OnChunkWait is called with the inter-chunk wait duration. Optional.
	OnChunkWait func(d time.Duration)
}

// NewFetcher creates a Fetcher. ratePerSec must be positive.
func NewFetcher(source CandleSource, ratePerSec int) *Fetcher {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Fetcher{
		source:     source,
		ratePerSec: ratePerSec,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// FetchAll fetches count candles at granularity g for every market, ending
// at reference (floored to the granularity boundary by the caller). Results
// are returned in input order, one per market, failures included.
func (f *Fetcher) FetchAll(ctx context.Context, markets []string, count int, g model.Granularity, reference time.Time) ([]FetchResult, BatchReport) {
	started := f.now()
	results := make([]FetchResult, len(markets))

	for i := 0; i < len(markets); i += f.ratePerSec {
		end := i + f.ratePerSec
		if end > len(markets) {
			end = len(markets)
		}
		chunk := markets[i:end]
		chunkStart := f.now()

		eg, egCtx := errgroup.WithContext(ctx)
		for j, market := range chunk {
			idx, m := i+j, market
			eg.Go(func() error {
				candles, err := f.source.Candles(egCtx, m, g, count, reference)
				if err != nil {
					// Per-market failure only; not retried within the batch.
					results[idx] = FetchResult{Market: m, Err: err}
					return nil
				}
				results[idx] = FetchResult{Market: m, Candles: candles}
				return nil
			})
		}
		eg.Wait()

		// Wait out the remainder of the one-second budget before the next
		// chunk. Never waits after the last chunk or when the chunk already
		// consumed the full second.
		if end < len(markets) {
			if remaining := time.Second - f.now().Sub(chunkStart); remaining > 0 {
				if f.OnChunkWait != nil {
					f.OnChunkWait(remaining)
				}
				f.sleep(remaining)
			}
		}
	}

	report := BatchReport{
		Requested: len(markets),
		Failures:  make(map[string]string),
		Elapsed:   f.now().Sub(started),
	}
	for _, r := range results {
		if r.Err != nil {
			report.Failed++
			report.Failures[r.Market] = r.Err.Error()
			log.Printf("[fetcher] %s: fetch failed: %v", r.Market, r.Err)
			continue
		}
		report.OK++
	}
	return results, report
}

// Flatten collects the candles of all successful results into one slice.
func Flatten(results []FetchResult) []model.Candle {
	var out []model.Candle
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		out = append(out, r.Candles...)
	}
	return out
}
