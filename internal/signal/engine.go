// Package signal computes trailing moving averages over persisted candles
// and flags golden/dead crossovers between the short and reference windows.
package signal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"coinwatch/internal/model"
)

// Engine derives one MARecord per market per tick from the candle store.
// The market universe is whatever the short window reports; a market with
// no candles at all never produces a record, while a market missing only
// the longer windows gets zeroes for those.
type Engine struct {
	store       model.Store
	granularity model.Granularity

	now func() time.Time
}

// NewEngine creates an Engine over the given store and granularity.
func NewEngine(store model.Store, g model.Granularity) *Engine {
	return &Engine{store: store, granularity: g, now: time.Now}
}

// Compute evaluates every window for the current tick and flags crossovers
// against the previous tick's persisted records. Records come back sorted
// by market. Nothing is written; persist with the store's UpsertMARecords.
func (e *Engine) Compute(ctx context.Context) ([]model.MARecord, error) {
	ref := e.granularity.Floor(e.now())
	interval := e.granularity.Interval()

	perWindow := make(map[int]map[string]float64, len(model.MAWindows))
	for _, w := range model.MAWindows {
		since := ref.Add(-time.Duration(w) * interval)
		avgs, err := e.store.WindowAverages(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("signal: window %d: %w", w, err)
		}
		perWindow[w] = avgs
	}

	prev, err := e.store.MARecordsAt(ctx, ref.Add(-interval))
	if err != nil {
		return nil, fmt.Errorf("signal: previous tick: %w", err)
	}

	universe := perWindow[model.ShortWindow]
	records := make([]model.MARecord, 0, len(universe))
	for market := range universe {
		rec := model.MARecord{
			Market:     market,
			TS:         ref,
			Windows:    make(map[int]float64, len(model.MAWindows)),
			ComputedAt: e.now(),
		}
		for _, w := range model.MAWindows {
			// Absent markets read as zero, which zero-fills longer windows
			// a young market has not reached yet.
			rec.Windows[w] = perWindow[w][market]
		}

		// A market with no previous record compares both sides as zero,
		// which can never satisfy either strict precondition.
		p := prev[market]
		prevShort, prevRef := p.MA(model.ShortWindow), p.MA(model.ReferenceWindow)
		curShort, curRef := rec.MA(model.ShortWindow), rec.MA(model.ReferenceWindow)
		rec.GoldenCross = prevShort < prevRef && curShort >= curRef
		rec.DeadCross = prevShort > prevRef && curShort <= curRef

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Market < records[j].Market })
	return records, nil
}

// Crossed filters records down to those with either crossover flag set.
func Crossed(records []model.MARecord) []model.MARecord {
	var out []model.MARecord
	for _, r := range records {
		if r.GoldenCross || r.DeadCross {
			out = append(out, r)
		}
	}
	return out
}
