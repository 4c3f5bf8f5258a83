package collector

import (
	"sort"
	"time"

	"coinwatch/internal/model"
)

// Merge prepares freshly fetched candles for persistence: duplicates on
// (market, ts) collapse to the last occurrence, candles at or before a
// market's stored watermark are dropped, and the survivors come back sorted
// by market then timestamp. A market with no watermark keeps everything.
//
// Watermark comparison is on time instants, so rows survive a change of
// timestamp formatting or zone between runs. Merging already-persisted
// candles again yields an empty result, which makes re-runs idempotent.
func Merge(candles []model.Candle, watermarks map[string]time.Time) []model.Candle {
	latest := make(map[string]model.Candle, len(candles))
	for _, c := range candles {
		latest[c.Key()] = c
	}

	out := make([]model.Candle, 0, len(latest))
	for _, c := range latest {
		if wm, ok := watermarks[c.Market]; ok && !c.TS.After(wm) {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Market != out[j].Market {
			return out[i].Market < out[j].Market
		}
		return out[i].TS.Before(out[j].TS)
	})
	return out
}
