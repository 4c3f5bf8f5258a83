package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"coinwatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func candle(market string, ts time.Time, close float64) model.Candle {
	return model.Candle{
		Market: market, TS: ts, Granularity: model.Granularity1h,
		Open: close, High: close, Low: close, Close: close, Volume: 1, Amount: close,
	}
}

func TestUpsertCandlesReplacesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := s.UpsertCandles(ctx, []model.Candle{candle("KRW-AAA", ts, 100)}); err != nil {
		t.Fatal(err)
	}
	// Rewriting the still-open candle must update in place, not duplicate.
	if err := s.UpsertCandles(ctx, []model.Candle{candle("KRW-AAA", ts, 105)}); err != nil {
		t.Fatal(err)
	}

	closes, err := s.RecentCloses(ctx, "KRW-AAA", ts.Add(-time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(closes) != 1 || closes[0] != 105 {
		t.Fatalf("expected single updated close 105, got %v", closes)
	}
}

func TestMaxTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t11 := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	t12 := t11.Add(time.Hour)

	err := s.UpsertCandles(ctx, []model.Candle{
		candle("KRW-AAA", t11, 1),
		candle("KRW-AAA", t12, 2),
		candle("KRW-BBB", t11, 3),
	})
	if err != nil {
		t.Fatal(err)
	}

	wm, err := s.MaxTimestamps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(wm) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(wm))
	}
	if !wm["KRW-AAA"].Equal(t12) {
		t.Errorf("KRW-AAA watermark = %s, want %s", wm["KRW-AAA"], t12)
	}
	if !wm["KRW-BBB"].Equal(t11) {
		t.Errorf("KRW-BBB watermark = %s, want %s", wm["KRW-BBB"], t11)
	}
}

func TestWindowAveragesExcludesBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	err := s.UpsertCandles(ctx, []model.Candle{
		candle("KRW-AAA", base, 100),                // at the boundary, excluded
		candle("KRW-AAA", base.Add(time.Hour), 10),  // in window
		candle("KRW-AAA", base.Add(2*time.Hour), 20),
	})
	if err != nil {
		t.Fatal(err)
	}

	avgs, err := s.WindowAverages(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if got := avgs["KRW-AAA"]; got != 15 {
		t.Errorf("average = %v, want 15 (boundary row excluded)", got)
	}
}

func TestMARecordsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := model.MARecord{
		Market:      "KRW-AAA",
		TS:          ts,
		Windows:     map[int]float64{10: 105, 34: 100, 800: 0},
		GoldenCross: true,
		ComputedAt:  ts.Add(3 * time.Second),
	}
	if err := s.UpsertMARecords(ctx, []model.MARecord{rec}); err != nil {
		t.Fatal(err)
	}

	got, err := s.MARecordsAt(ctx, ts)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := got["KRW-AAA"]
	if !ok {
		t.Fatal("record missing after upsert")
	}
	if !r.GoldenCross || r.DeadCross {
		t.Errorf("flags lost: golden=%v dead=%v", r.GoldenCross, r.DeadCross)
	}
	if r.MA(10) != 105 || r.MA(34) != 100 || r.MA(800) != 0 {
		t.Errorf("windows lost: %+v", r.Windows)
	}

	// A different tick must come back empty.
	other, err := s.MARecordsAt(ctx, ts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("expected no records at the next tick, got %+v", other)
	}
}
