package signal

import (
	"context"
	"testing"
	"time"

	"coinwatch/internal/model"
)

// fakeStore serves canned window averages keyed by the `since` instant the
// engine queries with, and canned previous-tick records.
type fakeStore struct {
	avgs map[time.Time]map[string]float64
	prev map[string]model.MARecord
}

func (s *fakeStore) UpsertCandles(context.Context, []model.Candle) error { return nil }
func (s *fakeStore) MaxTimestamps(context.Context) (map[string]time.Time, error) {
	return nil, nil
}
func (s *fakeStore) WindowAverages(_ context.Context, since time.Time) (map[string]float64, error) {
	return s.avgs[since.UTC()], nil
}
func (s *fakeStore) RecentCloses(context.Context, string, time.Time, int) ([]float64, error) {
	return nil, nil
}
func (s *fakeStore) UpsertMARecords(context.Context, []model.MARecord) error { return nil }
func (s *fakeStore) MARecordsAt(context.Context, time.Time) (map[string]model.MARecord, error) {
	return s.prev, nil
}
func (s *fakeStore) Close() error { return nil }

func engineAt(t *testing.T, store *fakeStore, now time.Time) *Engine {
	t.Helper()
	e := NewEngine(store, model.Granularity1h)
	e.now = func() time.Time { return now }
	return e
}

// windowed builds the avgs map for a single set of per-market values applied
// to every window whose since instant the engine will ask for.
func windowed(ref time.Time, perMarket map[string]map[int]float64) map[time.Time]map[string]float64 {
	out := make(map[time.Time]map[string]float64)
	for _, w := range model.MAWindows {
		since := ref.Add(-time.Duration(w) * time.Hour).UTC()
		m := make(map[string]float64)
		for market, byWindow := range perMarket {
			if v, ok := byWindow[w]; ok {
				m[market] = v
			}
		}
		out[since] = m
	}
	return out
}

func prevRecord(market string, ts time.Time, short, ref float64) model.MARecord {
	return model.MARecord{
		Market:  market,
		TS:      ts,
		Windows: map[int]float64{model.ShortWindow: short, model.ReferenceWindow: ref},
	}
}

func TestComputeGoldenCross(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		avgs: windowed(now, map[string]map[int]float64{
			"KRW-AAA": {10: 105, 20: 103, 34: 100, 50: 99, 100: 98, 200: 97, 400: 96, 800: 95},
		}),
		prev: map[string]model.MARecord{
			"KRW-AAA": prevRecord("KRW-AAA", now.Add(-time.Hour), 95, 100),
		},
	}

	records, err := engineAt(t, store, now).Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if !r.GoldenCross || r.DeadCross {
		t.Errorf("expected golden cross only, got golden=%v dead=%v", r.GoldenCross, r.DeadCross)
	}
	if !r.TS.Equal(now) {
		t.Errorf("expected tick at %s, got %s", now, r.TS)
	}
}

func TestComputeDeadCross(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		avgs: windowed(now, map[string]map[int]float64{
			"KRW-AAA": {10: 95, 20: 97, 34: 100, 50: 101, 100: 102, 200: 103, 400: 104, 800: 105},
		}),
		prev: map[string]model.MARecord{
			"KRW-AAA": prevRecord("KRW-AAA", now.Add(-time.Hour), 105, 100),
		},
	}

	records, err := engineAt(t, store, now).Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r := records[0]
	if r.GoldenCross || !r.DeadCross {
		t.Errorf("expected dead cross only, got golden=%v dead=%v", r.GoldenCross, r.DeadCross)
	}
}

func TestComputeEqualAveragesCountAsCrossed(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		avgs: windowed(now, map[string]map[int]float64{
			"KRW-AAA": {10: 100, 20: 100, 34: 100, 50: 100, 100: 100, 200: 100, 400: 100, 800: 100},
		}),
		prev: map[string]model.MARecord{
			"KRW-AAA": prevRecord("KRW-AAA", now.Add(-time.Hour), 95, 100),
		},
	}

	records, err := engineAt(t, store, now).Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !records[0].GoldenCross {
		t.Errorf("short equal to reference should still complete a golden cross")
	}
}

func TestComputeNoPreviousRecordNoFlags(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		avgs: windowed(now, map[string]map[int]float64{
			"KRW-AAA": {10: 105, 20: 103, 34: 100, 50: 99, 100: 98, 200: 97, 400: 96, 800: 95},
		}),
		prev: map[string]model.MARecord{}, // first ever tick
	}

	records, err := engineAt(t, store, now).Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r := records[0]
	if r.GoldenCross || r.DeadCross {
		t.Errorf("first tick must not flag crossovers, got golden=%v dead=%v", r.GoldenCross, r.DeadCross)
	}
}

func TestComputeZeroFillsAndSkips(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	// KRW-NEW is only a few hours old: it shows up in the short windows, not
	// the long ones. KRW-GHOST has no candles at all and must not appear.
	store := &fakeStore{
		avgs: windowed(now, map[string]map[int]float64{
			"KRW-NEW": {10: 50, 20: 50, 34: 50},
		}),
		prev: map[string]model.MARecord{},
	}

	records, err := engineAt(t, store, now).Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Market != "KRW-NEW" {
		t.Fatalf("expected exactly KRW-NEW, got %+v", records)
	}
	if got := records[0].MA(800); got != 0 {
		t.Errorf("expected zero-filled 800 window, got %v", got)
	}
	if got := records[0].MA(model.ShortWindow); got != 50 {
		t.Errorf("expected short window 50, got %v", got)
	}
}

func TestCrossedFilters(t *testing.T) {
	in := []model.MARecord{
		{Market: "A", GoldenCross: true},
		{Market: "B"},
		{Market: "C", DeadCross: true},
	}
	out := Crossed(in)
	if len(out) != 2 || out[0].Market != "A" || out[1].Market != "C" {
		t.Fatalf("unexpected crossed set: %+v", out)
	}
}
