package model

import (
	"encoding/json"
	"time"
)

// MAWindows is the fixed, ordered set of lookback windows, in ticks of the
// granularity. The first entry is the short window and 34 is the reference
// window for crossover detection.
var MAWindows = []int{10, 20, 34, 50, 100, 200, 400, 800}

const (
	// ShortWindow is the fast side of the crossover pair.
	ShortWindow = 10
	// ReferenceWindow is the slow side of the crossover pair.
	ReferenceWindow = 34
)

// MARecord holds one tick's trailing averages for a single market, plus the
// golden/dead-cross flags computed against the immediately preceding record.
// At most one of the two flags is set.
type MARecord struct {
	Market      string          `json:"market"`
	TS          time.Time       `json:"ts"`
	Windows     map[int]float64 `json:"windows"`
	GoldenCross bool            `json:"golden_cross"`
	DeadCross   bool            `json:"dead_cross"`
	ComputedAt  time.Time       `json:"computed_at"`
}

// MA returns the average for window w, or 0 when the window was empty.
func (r *MARecord) MA(w int) float64 {
	return r.Windows[w]
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *MARecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
