package alert

import (
	"context"
	"fmt"
	"log"

	"coinwatch/internal/model"
)

// VolumeReader reads one market's accumulated volume for the bucket
// containing tsMs. Satisfied by volume.Aggregator.
type VolumeReader interface {
	Bucket(ctx context.Context, market string, tsMs int64) (float64, error)
}

// SlopeFunc reports a market's fitted trend slope. Optional enrichment.
type SlopeFunc func(ctx context.Context, market string) (float64, error)

// Watcher turns flagged MA records into alerts and fans them out to every
// notifier. Enrichment failures degrade to zeroes; delivery failures are
// logged per notifier and never stop the rest.
type Watcher struct {
	notifiers []Notifier
	volumes   VolumeReader
	slope     SlopeFunc
}

// NewWatcher creates a Watcher. volumes and slope may be nil.
func NewWatcher(notifiers []Notifier, volumes VolumeReader, slope SlopeFunc) *Watcher {
	return &Watcher{notifiers: notifiers, volumes: volumes, slope: slope}
}

// Publish sends one alert per crossed record. Records without a crossover
// flag are ignored.
func (w *Watcher) Publish(ctx context.Context, records []model.MARecord) {
	for _, r := range records {
		if !r.GoldenCross && !r.DeadCross {
			continue
		}
		a := w.build(ctx, r)
		for _, n := range w.notifiers {
			if err := n.Send(ctx, a); err != nil {
				log.Printf("[alert] %s: delivery failed: %v", r.Market, err)
			}
		}
	}
}

func (w *Watcher) build(ctx context.Context, r model.MARecord) Alert {
	a := Alert{
		Level:       LevelInfo,
		Kind:        KindGolden,
		Market:      r.Market,
		ShortMA:     r.MA(model.ShortWindow),
		ReferenceMA: r.MA(model.ReferenceWindow),
	}
	if r.DeadCross {
		a.Kind = KindDead
		a.Level = LevelWarning
	}

	if w.volumes != nil {
		v, err := w.volumes.Bucket(ctx, r.Market, r.TS.UnixMilli())
		if err != nil {
			log.Printf("[alert] %s: volume lookup failed: %v", r.Market, err)
		} else {
			a.BucketVolume = v
		}
	}
	if w.slope != nil {
		s, err := w.slope(ctx, r.Market)
		if err != nil {
			log.Printf("[alert] %s: trend lookup failed: %v", r.Market, err)
		} else {
			a.TrendSlope = s
		}
	}

	a.Title = fmt.Sprintf("%s %s cross", r.Market, a.Kind)
	a.Message = fmt.Sprintf("MA%d %.4f vs MA%d %.4f at %s (volume %.4f, slope %.4f)",
		model.ShortWindow, a.ShortMA, model.ReferenceWindow, a.ReferenceMA,
		r.TS.Format("2006-01-02 15:04"), a.BucketVolume, a.TrendSlope)
	return a
}
