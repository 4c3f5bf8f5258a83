package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinwatch/internal/model"
)

type captureNotifier struct {
	sent []Alert
	fail bool
}

func (c *captureNotifier) Send(_ context.Context, a Alert) error {
	if c.fail {
		return errors.New("unreachable")
	}
	c.sent = append(c.sent, a)
	return nil
}

type fixedVolumes struct{ v float64 }

func (f fixedVolumes) Bucket(context.Context, string, int64) (float64, error) {
	return f.v, nil
}

func TestWatcherPublishesOnlyCrossedRecords(t *testing.T) {
	cap1 := &captureNotifier{}
	w := NewWatcher([]Notifier{cap1}, fixedVolumes{12.5}, func(context.Context, string) (float64, error) {
		return 0.8, nil
	})

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []model.MARecord{
		{Market: "KRW-AAA", TS: ts, Windows: map[int]float64{10: 105, 34: 100}, GoldenCross: true},
		{Market: "KRW-BBB", TS: ts, Windows: map[int]float64{10: 100, 34: 100}},
		{Market: "KRW-CCC", TS: ts, Windows: map[int]float64{10: 95, 34: 100}, DeadCross: true},
	}
	w.Publish(context.Background(), records)

	if len(cap1.sent) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(cap1.sent))
	}
	golden := cap1.sent[0]
	if golden.Market != "KRW-AAA" || golden.Kind != KindGolden || golden.Level != LevelInfo {
		t.Errorf("unexpected golden alert: %+v", golden)
	}
	if golden.ShortMA != 105 || golden.ReferenceMA != 100 {
		t.Errorf("averages not carried: %+v", golden)
	}
	if golden.BucketVolume != 12.5 || golden.TrendSlope != 0.8 {
		t.Errorf("enrichment missing: %+v", golden)
	}
	dead := cap1.sent[1]
	if dead.Kind != KindDead || dead.Level != LevelWarning {
		t.Errorf("unexpected dead alert: %+v", dead)
	}
}

func TestWatcherSurvivesNotifierFailure(t *testing.T) {
	bad := &captureNotifier{fail: true}
	good := &captureNotifier{}
	w := NewWatcher([]Notifier{bad, good}, nil, nil)

	records := []model.MARecord{
		{Market: "KRW-AAA", TS: time.Now(), Windows: map[int]float64{10: 1, 34: 0}, GoldenCross: true},
	}
	w.Publish(context.Background(), records)

	if len(good.sent) != 1 {
		t.Fatalf("second notifier should still receive the alert, got %d", len(good.sent))
	}
	if good.sent[0].BucketVolume != 0 || good.sent[0].TrendSlope != 0 {
		t.Errorf("missing enrichment should read as zero: %+v", good.sent[0])
	}
}
