package model

import (
	"encoding/json"
	"time"
)

// Granularity is the fixed interval one candle covers.
type Granularity string

const (
	Granularity1h Granularity = "1h"
	Granularity4h Granularity = "4h"
	Granularity1d Granularity = "1d"
)

// granularityIntervals is the explicit granularity-to-interval table.
var granularityIntervals = map[Granularity]time.Duration{
	Granularity1h: time.Hour,
	Granularity4h: 4 * time.Hour,
	Granularity1d: 24 * time.Hour,
}

// Interval returns the duration covered by one candle of this granularity.
// Unknown granularities fall back to the smallest supported interval (1h)
// rather than failing.
func (g Granularity) Interval() time.Duration {
	if d, ok := granularityIntervals[g]; ok {
		return d
	}
	return time.Hour
}

// Floor rounds t down to this granularity's boundary in UTC.
func (g Granularity) Floor(t time.Time) time.Time {
	return t.UTC().Truncate(g.Interval())
}

// Candle represents one OHLCV candle for a single market.
// TS is the candle's opening instant, UTC, floored to the granularity boundary.
type Candle struct {
	Market      string      `json:"market"`
	TS          time.Time   `json:"ts"`
	Granularity Granularity `json:"granularity"`
	Open        float64     `json:"open"`
	High        float64     `json:"high"`
	Low         float64     `json:"low"`
	Close       float64     `json:"close"`
	Volume      float64     `json:"volume"`
	Amount      float64     `json:"amount"` // accumulated quote-currency amount
}

// Key returns the candle's unique key: "market@ts".
func (c *Candle) Key() string {
	return c.Market + "@" + c.TS.UTC().Format(time.RFC3339)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
